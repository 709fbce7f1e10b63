// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/relabs-tech/rehab_telemetry/internal/config"
	"github.com/relabs-tech/rehab_telemetry/internal/logger"
	"github.com/relabs-tech/rehab_telemetry/internal/orientation"
	"github.com/relabs-tech/rehab_telemetry/internal/telemetry"
)

// FormatFrame renders a frame as one console line.
func FormatFrame(f telemetry.Frame) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FLEX=%5.1f (max %5.1f)  EXT=%5.1f  TORQUE=%5.2f (max %5.2f)  EMG=%4.2fV %5.1f%%",
		f.FlexionAngle, f.MaxFlexion, f.ExtensionAngle, f.Torque, f.MaxTorque, f.MuscleVoltage, f.MuscleRelative)
	for _, seg := range orientation.Segments() {
		if o := f.IMU[seg]; o.Failed() {
			fmt.Fprintf(&b, "  [%s: %s]", seg, o.Error)
		}
	}
	return b.String()
}

func consoleSink(w io.Writer) telemetry.Sink {
	return telemetry.SinkFunc(func(_ context.Context, f telemetry.Frame) error {
		_, err := fmt.Fprintln(w, FormatFrame(f))
		return err
	})
}

// RunMockConsole runs the full pipeline on the mock IMU and EMG backends and
// prints every frame until interrupted.
func RunMockConsole() error {
	cfg := *config.Get()
	cfg.IMUBackend = "mock"
	cfg.MuscleADCBackend = "mock"
	cfg.MQTTBroker = ""

	if err := logger.Init(cfg.LogLevel); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := BuildPipeline(ctx, &cfg, logger.Get(), nil)
	if err != nil {
		return err
	}
	defer p.Close()

	err = p.Service.StartSession(ctx, consoleSink(os.Stdout)).Err()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
