// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry runs the acquire, calibrate, process and emit cycle and
// exposes the session and calibration operations around it.
package telemetry

import (
	"context"
	"time"

	"github.com/relabs-tech/rehab_telemetry/internal/biomech"
	"github.com/relabs-tech/rehab_telemetry/internal/orientation"
)

// Frame is the per-cycle telemetry record. Every field is always present;
// the muscle references encode as null until captured.
type Frame struct {
	Timestamp         float64              `json:"timestamp"`
	RawIMU            orientation.Readings `json:"raw_imu"`
	IMU               orientation.Readings `json:"imu"`
	MuscleVoltage     float64              `json:"muscle_voltage"`
	MuscleRelative    float64              `json:"muscle_relative"`
	MuscleRestVoltage *float64             `json:"muscle_rest_voltage"`
	MusclePeakVoltage *float64             `json:"muscle_peak_voltage"`
	biomech.Metrics
}

// Time converts Timestamp back to a time.Time.
func (f Frame) Time() time.Time {
	sec := int64(f.Timestamp)
	nsec := int64((f.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Sink consumes frames. A Send error on the session sink ends the session.
type Sink interface {
	Send(ctx context.Context, f Frame) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, f Frame) error

func (fn SinkFunc) Send(ctx context.Context, f Frame) error { return fn(ctx, f) }
