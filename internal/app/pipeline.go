// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/rehab_telemetry/internal/acquisition"
	"github.com/relabs-tech/rehab_telemetry/internal/biomech"
	"github.com/relabs-tech/rehab_telemetry/internal/calibration"
	"github.com/relabs-tech/rehab_telemetry/internal/config"
	"github.com/relabs-tech/rehab_telemetry/internal/logger"
	"github.com/relabs-tech/rehab_telemetry/internal/metrics"
	"github.com/relabs-tech/rehab_telemetry/internal/muscle"
	"github.com/relabs-tech/rehab_telemetry/internal/orientation"
	"github.com/relabs-tech/rehab_telemetry/internal/sensors"
	"github.com/relabs-tech/rehab_telemetry/internal/telemetry"
)

// Pipeline is the assembled sensor-to-frame chain.
type Pipeline struct {
	Service *telemetry.Service
	Manager *acquisition.Manager
	Muscle  *muscle.Reader
	Metrics *metrics.Manager

	mqtt mqtt.Client
}

// BuildPipeline selects the IMU backend, opens the EMG channel and wires the
// telemetry service. Either hardware failure is fatal. An unreachable MQTT
// broker only disables the mirror.
func BuildPipeline(ctx context.Context, cfg *config.Config, log logger.Logger, mm *metrics.Manager) (*Pipeline, error) {
	backends, err := sensors.IMUBackends(cfg, log.Named("imu"))
	if err != nil {
		return nil, err
	}
	set, err := sensors.SelectIMUBackend(ctx, log.Named("imu"), sensors.IMUSettings(cfg), backends...)
	if err != nil {
		return nil, err
	}
	params := orientation.FilterParams{Gain: cfg.FilterComplementaryGain, Alpha: cfg.FilterLowPassAlpha}
	mgr := acquisition.NewManager(set, params, log.Named("acquisition"), acquisition.WithMetrics(mm))

	ch, err := sensors.OpenAnalogChannel(cfg)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("emg: %w", err), mgr.Close())
	}
	log.Info(ctx, "emg: channel opened", logger.String("backend", cfg.MuscleADCBackend))
	reader := muscle.NewReader(ch, cfg.MyowareADCRefVoltage)

	proc := biomech.NewProcessor(biomech.Params{
		ShinMassKg:   cfg.BiomechShinMassKg,
		COMDistanceM: cfg.BiomechCOMDistanceM,
		DynamicScale: cfg.BiomechDynamicScale,
	})

	p := &Pipeline{Manager: mgr, Muscle: reader, Metrics: mm}
	opts := []telemetry.Option{
		telemetry.WithInterval(time.Duration(cfg.TelemetryInterval) * time.Millisecond),
		telemetry.WithLogger(log.Named("telemetry")),
		telemetry.WithMetrics(mm),
	}
	if cfg.MQTTBroker != "" {
		client, err := telemetry.ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDServer)
		if err != nil {
			log.Warn(ctx, "mqtt: mirror disabled", logger.Error(err))
		} else {
			log.Info(ctx, "mqtt: mirroring frames",
				logger.String("broker", cfg.MQTTBroker),
				logger.String("topic", cfg.TopicTelemetry))
			p.mqtt = client
			opts = append(opts, telemetry.WithMirror(telemetry.NewMQTTSink(client, cfg.TopicTelemetry)))
		}
	}

	p.Service = telemetry.NewService(mgr, calibration.NewOffsetStore(), reader, proc, opts...)
	return p, nil
}

// Close stops any session and releases the hardware.
func (p *Pipeline) Close() error {
	p.Service.StopSession()
	if p.mqtt != nil {
		p.mqtt.Disconnect(250)
	}
	return errors.Join(p.Muscle.Close(), p.Manager.Close())
}
