// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package biomech derives knee flexion, extension and torque from the
// calibrated thigh and shin orientation and tracks session maxima.
package biomech

import (
	"math"
	"sync"

	"github.com/relabs-tech/rehab_telemetry/internal/orientation"
)

const gravity = 9.8

// Params describe the lower-leg model.
type Params struct {
	ShinMassKg   float64
	COMDistanceM float64
	// DynamicScale is the torque in N·m attributed to 100% muscle activation.
	DynamicScale float64
}

// DefaultParams is a 4 kg shin with its centre of mass 0.2 m below the knee.
func DefaultParams() Params {
	return Params{ShinMassKg: 4.0, COMDistanceM: 0.2, DynamicScale: 2.0}
}

// Metrics is the processed output of one cycle.
type Metrics struct {
	FlexionAngle     float64 `json:"flexion_angle"`
	ExtensionAngle   float64 `json:"extension_angle"`
	MaxFlexion       float64 `json:"max_flexion"`
	MaxExtension     float64 `json:"max_extension"`
	Torque           float64 `json:"torque"`
	MaxTorque        float64 `json:"max_torque"`
	MuscleActivation float64 `json:"muscle_activation"`
}

// Processor computes Metrics and owns the session maxima.
type Processor struct {
	params Params

	mu           sync.Mutex
	maxFlexion   float64
	maxExtension float64
	maxTorque    float64
}

// NewProcessor returns a processor with zeroed maxima.
func NewProcessor(p Params) *Processor {
	return &Processor{params: p}
}

// Compute derives the knee metrics for one cycle.
// Flexion is the wrapped roll difference between shin and thigh, clamped to
// [0, 180]. Torque is the gravitational moment of the shin plus a term
// proportional to muscle activation.
func (p *Processor) Compute(thigh, shin orientation.SegmentOrientation, musclePercent float64) Metrics {
	flexion := clamp(orientation.Delta(shin.Roll, thigh.Roll), 0, 180)
	extension := 180 - flexion
	// extension is reported against the rounded flexion so the pair sums to 180
	flexionOut := round(flexion, 1)

	shinRad := math.Abs(orientation.Normalize(shin.Roll)) * math.Pi / 180
	gravityTorque := p.params.ShinMassKg * gravity * p.params.COMDistanceM * math.Sin(shinRad)
	dynamicTorque := musclePercent / 100 * p.params.DynamicScale
	torque := math.Abs(gravityTorque) + dynamicTorque

	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxFlexion = math.Max(p.maxFlexion, flexion)
	p.maxExtension = math.Max(p.maxExtension, extension)
	p.maxTorque = math.Max(p.maxTorque, torque)

	return Metrics{
		FlexionAngle:     flexionOut,
		ExtensionAngle:   round(180-flexionOut, 1),
		MaxFlexion:       round(p.maxFlexion, 1),
		MaxExtension:     round(p.maxExtension, 1),
		Torque:           round(torque, 2),
		MaxTorque:        round(p.maxTorque, 2),
		MuscleActivation: round(musclePercent, 1),
	}
}

// Reset zeroes the maxima. Called at session start and on explicit reset.
func (p *Processor) Reset() {
	p.mu.Lock()
	p.maxFlexion, p.maxExtension, p.maxTorque = 0, 0, 0
	p.mu.Unlock()
}

// round rounds half to even, so exact halves like 0.25 become 0.2.
func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.RoundToEven(v*scale) / scale
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
