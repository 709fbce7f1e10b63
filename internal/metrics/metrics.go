// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package metrics exposes Prometheus counters for the telemetry pipeline.
// A nil *Manager is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns the pipeline metrics and the registry they live in.
type Manager struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry

	cycles          prometheus.Counter
	cycleDuration   prometheus.Histogram
	segmentFailures *prometheus.CounterVec
	framesEmitted   prometheus.Counter
	emitFailures    prometheus.Counter
	activeSessions  prometheus.Gauge
	calibrations    *prometheus.CounterVec
}

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace sets the metric namespace.
func WithNamespace(ns string) Option {
	return func(m *Manager) {
		if ns != "" {
			m.namespace = ns
		}
	}
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(m *Manager) {
		if reg != nil {
			m.registry = reg
		}
	}
}

// NewManager creates the metrics on a private registry, so Go runtime
// collectors are not exported unless the caller adds them.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "rehab",
		// cycle budget is ~33 ms, buckets are in seconds
		buckets:  []float64{0.001, 0.0025, 0.005, 0.01, 0.02, 0.033, 0.05, 0.1, 0.25},
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}

	auto := promauto.With(m.registry)
	m.cycles = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "telemetry",
		Name:      "cycles_total",
		Help:      "Telemetry cycles executed",
	})
	m.cycleDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "telemetry",
		Name:      "cycle_duration_seconds",
		Help:      "Time spent acquiring, processing and emitting one frame",
		Buckets:   m.buckets,
	})
	m.segmentFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "acquisition",
		Name:      "segment_read_failures_total",
		Help:      "IMU reads that failed, by segment",
	}, []string{"segment"})
	m.framesEmitted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "telemetry",
		Name:      "frames_emitted_total",
		Help:      "Frames delivered to the session consumer",
	})
	m.emitFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "telemetry",
		Name:      "emit_failures_total",
		Help:      "Frames the consumer or a mirror failed to accept",
	})
	m.activeSessions = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "telemetry",
		Name:      "active_sessions",
		Help:      "Sessions currently streaming",
	})
	m.calibrations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "calibration",
		Name:      "actions_total",
		Help:      "Calibration actions applied, by kind",
	}, []string{"kind"})
	return m
}

// ObserveCycle records one completed cycle.
func (m *Manager) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(d.Seconds())
}

// SegmentFailed counts a failed read of the named segment.
func (m *Manager) SegmentFailed(segment string) {
	if m == nil {
		return
	}
	m.segmentFailures.WithLabelValues(segment).Inc()
}

// FrameEmitted counts a delivered frame.
func (m *Manager) FrameEmitted() {
	if m == nil {
		return
	}
	m.framesEmitted.Inc()
}

// EmitFailed counts a frame that could not be delivered.
func (m *Manager) EmitFailed() {
	if m == nil {
		return
	}
	m.emitFailures.Inc()
}

// SessionStarted and SessionStopped track the active session gauge.
func (m *Manager) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Manager) SessionStopped() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// Calibrated counts a calibration action such as "imu_thigh" or "muscle_rest".
func (m *Manager) Calibrated(kind string) {
	if m == nil {
		return
	}
	m.calibrations.WithLabelValues(kind).Inc()
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
