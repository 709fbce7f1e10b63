// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package muscle converts a MyoWare EMG channel into volts and a
// rest/peak-normalized activation percentage.
package muscle

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/relabs-tech/rehab_telemetry/internal/sensors"
)

// ErrInvalidMode is returned by Calibrate for anything but "rest" or "max".
var ErrInvalidMode = errors.New("mode must be 'rest' or 'max'")

// Calibration modes.
const (
	ModeRest = "rest"
	ModeMax  = "max"
)

// minSpan keeps the peak strictly above rest and the percent finite.
const minSpan = 1e-3

// DefaultRefVoltage is the full-scale voltage of the PocketBeagle ADC.
const DefaultRefVoltage = 3.3

// Sample is one EMG reading. Rest and peak are nil until captured.
type Sample struct {
	Voltage     float64  `json:"voltage"`
	Relative    float64  `json:"relative"`
	RestVoltage *float64 `json:"rest_voltage"`
	PeakVoltage *float64 `json:"peak_voltage"`
}

// Reference is the captured rest/peak pair.
type Reference struct {
	RestVoltage *float64 `json:"rest_voltage"`
	PeakVoltage *float64 `json:"peak_voltage"`
}

// Reader owns the analog channel and the session's muscle calibration.
type Reader struct {
	ch         sensors.AnalogChannel
	refVoltage float64

	mu   sync.Mutex
	rest *float64
	peak *float64
}

// NewReader scales ch by refVoltage. A non-positive refVoltage falls back to 3.3 V.
func NewReader(ch sensors.AnalogChannel, refVoltage float64) *Reader {
	if refVoltage <= 0 {
		refVoltage = DefaultRefVoltage
	}
	return &Reader{ch: ch, refVoltage: refVoltage}
}

func (r *Reader) voltage() (float64, error) {
	n, err := r.ch.ReadNormalized()
	if err != nil {
		return 0, fmt.Errorf("emg read: %w", err)
	}
	return clamp(n, 0, 1) * r.refVoltage, nil
}

// Read samples the channel once.
func (r *Reader) Read() (Sample, error) {
	v, err := r.voltage()
	if err != nil {
		return Sample{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return Sample{
		Voltage:     v,
		Relative:    r.percent(v),
		RestVoltage: copyOf(r.rest),
		PeakVoltage: copyOf(r.peak),
	}, nil
}

// percent must be called with mu held.
func (r *Reader) percent(v float64) float64 {
	if r.rest == nil || r.peak == nil {
		return 0
	}
	span := math.Max(*r.peak-*r.rest, minSpan)
	return clamp((v-*r.rest)/span*100, 0, 100)
}

// Calibrate captures the current voltage as the rest or the peak reference.
// The peak is stored at least minSpan above rest (rest counts as 0 when unset).
// An invalid mode touches neither the hardware nor the stored references.
func (r *Reader) Calibrate(mode string) (Reference, error) {
	if mode != ModeRest && mode != ModeMax {
		return Reference{}, fmt.Errorf("%w: got %q", ErrInvalidMode, mode)
	}
	v, err := r.voltage()
	if err != nil {
		return Reference{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch mode {
	case ModeRest:
		r.rest = &v
	case ModeMax:
		var rest float64
		if r.rest != nil {
			rest = *r.rest
		}
		peak := math.Max(v, rest+minSpan)
		r.peak = &peak
	}
	return Reference{RestVoltage: copyOf(r.rest), PeakVoltage: copyOf(r.peak)}, nil
}

// Reference returns the captured rest/peak pair without touching the channel.
func (r *Reader) Reference() Reference {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Reference{RestVoltage: copyOf(r.rest), PeakVoltage: copyOf(r.peak)}
}

// ClearReference forgets both references; Relative reads 0 until recalibrated.
func (r *Reader) ClearReference() {
	r.mu.Lock()
	r.rest, r.peak = nil, nil
	r.mu.Unlock()
}

// Close releases the analog channel.
func (r *Reader) Close() error {
	return r.ch.Close()
}

func copyOf(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
