package orientation

import (
	"math"

	"github.com/relabs-tech/rehab_telemetry/internal/imu"
)

// SegmentOrientation is the fused orientation of one body segment.
// Pitch and Roll are the filtered angles; RawPitch/RawRoll are the
// accelerometer-only tilt. All angles are in degrees.
type SegmentOrientation struct {
	Pitch     float64  `json:"pitch"`
	Roll      float64  `json:"roll"`
	RawPitch  float64  `json:"raw_pitch"`
	RawRoll   float64  `json:"raw_roll"`
	GyroPitch float64  `json:"gyro_pitch"`
	GyroRoll  float64  `json:"gyro_roll"`
	Yaw       float64  `json:"yaw"`
	AccelG    imu.Vec3 `json:"accel_g"`
	GyroDPS   imu.Vec3 `json:"gyro_dps"`
	Error     string   `json:"error,omitempty"`
}

// Failed reports whether the reading carries a read error.
func (o SegmentOrientation) Failed() bool {
	return o.Error != ""
}

// Tilt is an accelerometer-only attitude estimate.
type Tilt struct {
	Pitch float64
	Roll  float64
}

// TiltFromAccel computes roll and pitch from accelerometer data only.
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
//
// Units of the input do not matter, only their ratios.
func TiltFromAccel(a imu.Vec3) Tilt {
	rollRad := math.Atan2(a.Y, a.Z)
	pitchRad := math.Atan2(-a.X, math.Sqrt(a.Y*a.Y+a.Z*a.Z))

	return Tilt{
		Pitch: pitchRad * 180.0 / math.Pi,
		Roll:  rollRad * 180.0 / math.Pi,
	}
}

// Normalize wraps an angle in degrees into (-180, 180].
func Normalize(deg float64) float64 {
	m := math.Mod(deg+180, 360)
	if m < 0 {
		m += 360
	}
	out := m - 180
	if out == -180 {
		return 180
	}
	return out
}

// Delta is the absolute shortest angular distance between a and b, in [0, 180].
func Delta(a, b float64) float64 {
	return math.Abs(Normalize(a - b))
}
