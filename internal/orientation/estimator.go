// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import "github.com/relabs-tech/rehab_telemetry/internal/imu"

// Filter defaults.
const (
	DefaultComplementaryGain = 0.98
	DefaultLowPassAlpha      = 0.85
)

// FilterParams tunes the two filter stages.
type FilterParams struct {
	// Gain weights the gyro-integrated angle against the accelerometer tilt.
	Gain float64
	// Alpha weights the previous low-pass output against the new complementary value.
	Alpha float64
}

// DefaultFilterParams returns gain 0.98 and alpha 0.85.
func DefaultFilterParams() FilterParams {
	return FilterParams{Gain: DefaultComplementaryGain, Alpha: DefaultLowPassAlpha}
}

// Estimator turns raw accel/gyro samples of one segment into filtered
// pitch/roll and an integrated yaw. It is not safe for concurrent use;
// the acquisition manager owns one per segment.
type Estimator struct {
	params FilterParams

	compPitch, compRoll float64
	lpPitch, lpRoll     float64
	yaw                 float64
	initialized         bool
}

// NewEstimator creates an estimator with fresh state.
func NewEstimator(p FilterParams) *Estimator {
	return &Estimator{params: p}
}

// Update feeds one sample taken dt seconds after the previous one.
// dt <= 0 disables gyro integration for this step.
func (e *Estimator) Update(s imu.Sample, dt float64) SegmentOrientation {
	tilt := TiltFromAccel(s.Accel)

	// gyro Y rotates about the pitch axis, gyro X about the roll axis
	gyroPitch := s.Gyro.Y
	gyroRoll := s.Gyro.X

	if dt > 0 {
		e.yaw = wrapYaw(e.yaw + s.Gyro.Z*dt)
	}

	if !e.initialized {
		e.compPitch, e.compRoll = tilt.Pitch, tilt.Roll
		e.lpPitch, e.lpRoll = tilt.Pitch, tilt.Roll
		e.initialized = true
	}

	g := e.params.Gain
	if dt > 0 {
		e.compPitch = g*(e.compPitch+gyroPitch*dt) + (1-g)*tilt.Pitch
		e.compRoll = g*(e.compRoll+gyroRoll*dt) + (1-g)*tilt.Roll
	} else {
		e.compPitch = tilt.Pitch
		e.compRoll = tilt.Roll
	}

	a := e.params.Alpha
	e.lpPitch = a*e.lpPitch + (1-a)*e.compPitch
	e.lpRoll = a*e.lpRoll + (1-a)*e.compRoll

	return SegmentOrientation{
		Pitch:     e.lpPitch,
		Roll:      e.lpRoll,
		RawPitch:  tilt.Pitch,
		RawRoll:   tilt.Roll,
		GyroPitch: gyroPitch,
		GyroRoll:  gyroRoll,
		Yaw:       e.yaw,
		AccelG:    s.Accel,
		GyroDPS:   s.Gyro,
	}
}

// Yaw returns the integrated heading. It drifts; there is no magnetometer correction.
func (e *Estimator) Yaw() float64 {
	return e.yaw
}

// Failed builds the record reported for a cycle whose read failed.
// Filter state is left untouched so the next good sample continues from it.
func (e *Estimator) Failed(err error) SegmentOrientation {
	o := SegmentOrientation{Yaw: e.yaw}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

func wrapYaw(y float64) float64 {
	for y > 180 {
		y -= 360
	}
	for y < -180 {
		y += 360
	}
	return y
}
