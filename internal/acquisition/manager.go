// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package acquisition reads both segment IMUs and fuses each into an orientation.
package acquisition

import (
	"context"
	"sync"
	"time"

	"github.com/relabs-tech/rehab_telemetry/internal/logger"
	"github.com/relabs-tech/rehab_telemetry/internal/metrics"
	"github.com/relabs-tech/rehab_telemetry/internal/orientation"
	"github.com/relabs-tech/rehab_telemetry/internal/sensors"
)

// Manager owns one device and one estimator per segment.
type Manager struct {
	log     logger.Logger
	metrics *metrics.Manager
	now     func() time.Time

	mu         sync.Mutex
	set        *sensors.IMUSet
	backend    string
	devices    [orientation.SegmentCount]sensors.IMUDevice
	estimators [orientation.SegmentCount]*orientation.Estimator
	last       time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the monotonic clock used for frame_dt.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics counts segment read failures.
func WithMetrics(mm *metrics.Manager) Option {
	return func(m *Manager) { m.metrics = mm }
}

// NewManager wraps an already-selected device set.
func NewManager(set *sensors.IMUSet, params orientation.FilterParams, log logger.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	m := &Manager{log: log, now: time.Now, set: set, devices: set.Devices}
	if set.Backend != nil {
		m.backend = set.Backend.Name()
	}
	for _, seg := range orientation.Segments() {
		m.estimators[seg] = orientation.NewEstimator(params)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Backend names the IMU backend chosen at startup.
func (m *Manager) Backend() string {
	return m.backend
}

// ReadAll reads every segment once. frame_dt is the time since the previous
// call (0 on the first) and is shared by all segments. A failed segment gets
// a zeroed record with its error and last yaw; the others are unaffected.
func (m *Manager) ReadAll(ctx context.Context) orientation.Readings {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var dt float64
	if !m.last.IsZero() {
		dt = now.Sub(m.last).Seconds()
	}
	m.last = now

	var out orientation.Readings
	for _, seg := range orientation.Segments() {
		est := m.estimators[seg]
		dev := m.devices[seg]
		if dev == nil {
			out[seg] = est.Failed(errNoDevice)
			continue
		}
		sample, err := dev.ReadRaw()
		if err != nil {
			m.log.Warn(ctx, "acquisition: segment read failed", logger.String("segment", seg.String()), logger.Error(err))
			m.metrics.SegmentFailed(seg.String())
			out[seg] = est.Failed(err)
			continue
		}
		out[seg] = est.Update(sample, dt)
	}
	return out
}

// Device returns the IMU of seg, or nil.
func (m *Manager) Device(seg orientation.Segment) sensors.IMUDevice {
	if !seg.Valid() {
		return nil
	}
	return m.devices[seg]
}

// Close releases the devices and their backend.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set.Close()
}
