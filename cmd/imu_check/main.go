// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/relabs-tech/rehab_telemetry/internal/app"
	"github.com/relabs-tech/rehab_telemetry/internal/imu"
)

// sensorFlags collects repeated --sensor label=0x68 values.
type sensorFlags []app.SensorAddr

func (s *sensorFlags) String() string {
	parts := make([]string, 0, len(*s))
	for _, a := range *s {
		parts = append(parts, a.Label)
	}
	return strings.Join(parts, ",")
}

func (s *sensorFlags) Set(v string) error {
	a, err := app.ParseSensorAddr(v)
	if err != nil {
		return err
	}
	*s = append(*s, a)
	return nil
}

func main() {
	var sensors sensorFlags
	bus := flag.String("bus", "2", "I2C bus name or number")
	interval := flag.Duration("interval", 500*time.Millisecond, "time between snapshots")
	count := flag.Int("count", 0, "stop after this many snapshots (0 = run until interrupted)")
	flag.Var(&sensors, "sensor", "sensor mapping label=0x68, repeatable (default thigh=0x68, shin=0x69)")
	flag.Parse()

	log.Println("starting MPU6050 check (standalone, raw I2C)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := app.RunIMUCheck(ctx, app.IMUCheckOptions{
		Bus:      *bus,
		Interval: *interval,
		Sensors:  sensors,
		Settings: imu.DefaultSettings(),
		Count:    *count,
	}, os.Stdout)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
