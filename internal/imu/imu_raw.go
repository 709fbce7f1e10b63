// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

// Vec3 is a three-axis reading in physical units.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Sample is one accel+gyro reading already scaled to physical units.
type Sample struct {
	Accel Vec3 // g
	Gyro  Vec3 // degrees per second
}

// Counts is a raw register sample before scaling.
type Counts struct {
	Ax, Ay, Az int16
	Gx, Gy, Gz int16
}

// Settings is the per-device sensor configuration applied at startup.
type Settings struct {
	SampleRateDiv byte // output rate = internal rate / (1 + div)
	DLPF          byte // digital low pass filter, 0-7
	GyroRange     byte // 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	AccelRange    byte // 0=±2g, 1=±4g, 2=±8g, 3=±16g
}

// DefaultSettings matches the sensor setup used on the knee brace.
func DefaultSettings() Settings {
	return Settings{SampleRateDiv: 7, DLPF: 3, GyroRange: 0, AccelRange: 0}
}

var (
	accelLSBPerG  = [4]float64{16384.0, 8192.0, 4096.0, 2048.0}
	gyroLSBPerDPS = [4]float64{131.0, 65.5, 32.8, 16.4}
	accelRangeG   = [4]int{2, 4, 8, 16}
	gyroRangeDPS  = [4]int{250, 500, 1000, 2000}
)

// AccelScale returns LSB per g for the given range bits (out-of-range values clamp to ±16g).
func AccelScale(rangeBits byte) float64 {
	return accelLSBPerG[min(int(rangeBits), 3)]
}

// GyroScale returns LSB per °/s for the given range bits.
func GyroScale(rangeBits byte) float64 {
	return gyroLSBPerDPS[min(int(rangeBits), 3)]
}

// AccelRangeG is the full scale in g, for logging.
func AccelRangeG(rangeBits byte) int { return accelRangeG[min(int(rangeBits), 3)] }

// GyroRangeDPS is the full scale in °/s, for logging.
func GyroRangeDPS(rangeBits byte) int { return gyroRangeDPS[min(int(rangeBits), 3)] }

// Scale converts register counts into physical units using s's ranges.
func (c Counts) Scale(s Settings) Sample {
	a := AccelScale(s.AccelRange)
	g := GyroScale(s.GyroRange)
	return Sample{
		Accel: Vec3{X: float64(c.Ax) / a, Y: float64(c.Ay) / a, Z: float64(c.Az) / a},
		Gyro:  Vec3{X: float64(c.Gx) / g, Y: float64(c.Gy) / g, Z: float64(c.Gz) / g},
	}
}
