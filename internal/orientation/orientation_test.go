package orientation

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/relabs-tech/rehab_telemetry/internal/imu"
)

func TestNormalize(t *testing.T) {
	Convey("Given angles across several turns", t, func() {
		inputs := []float64{-1080, -540, -360, -181, -180, -179.5, -90, 0, 45, 179.9, 180, 181, 359, 360, 540, 725.25}

		Convey("Then every result lies in (-180, 180]", func() {
			for _, in := range inputs {
				out := Normalize(in)
				So(out, ShouldBeGreaterThan, -180)
				So(out, ShouldBeLessThanOrEqualTo, 180)
			}
		})

		Convey("Then normalizing twice changes nothing", func() {
			for _, in := range inputs {
				So(Normalize(Normalize(in)), ShouldAlmostEqual, Normalize(in), 1e-9)
			}
		})

		Convey("Then known values map as expected", func() {
			So(Normalize(190), ShouldAlmostEqual, -170)
			So(Normalize(-190), ShouldAlmostEqual, 170)
			So(Normalize(-180), ShouldEqual, 180)
			So(Normalize(540), ShouldEqual, 180)
			So(Normalize(725.25), ShouldAlmostEqual, 5.25)
		})
	})
}

func TestDelta(t *testing.T) {
	Convey("Delta is symmetric and bounded", t, func() {
		pairs := [][2]float64{{10, 100}, {170, -170}, {-45, 45}, {0, 180}, {359, 1}, {-720, 30}}
		for _, p := range pairs {
			d := Delta(p[0], p[1])
			So(d, ShouldBeGreaterThanOrEqualTo, 0)
			So(d, ShouldBeLessThanOrEqualTo, 180)
			So(d, ShouldAlmostEqual, Delta(p[1], p[0]))
		}
	})

	Convey("Delta takes the short way around", t, func() {
		So(Delta(170, -170), ShouldAlmostEqual, 20)
		So(Delta(359, 1), ShouldAlmostEqual, 2)
		So(Delta(100, 10), ShouldAlmostEqual, 90)
	})
}

func TestTiltFromAccel(t *testing.T) {
	Convey("Given a sensor lying flat", t, func() {
		tilt := TiltFromAccel(imu.Vec3{Z: 1})
		So(tilt.Pitch, ShouldAlmostEqual, 0)
		So(tilt.Roll, ShouldAlmostEqual, 0)
	})

	Convey("Given gravity along +Y", t, func() {
		tilt := TiltFromAccel(imu.Vec3{Y: 1})
		So(tilt.Roll, ShouldAlmostEqual, 90)
	})

	Convey("Given gravity along -X", t, func() {
		tilt := TiltFromAccel(imu.Vec3{X: -1})
		So(tilt.Pitch, ShouldAlmostEqual, 90)
	})
}

func TestEstimator(t *testing.T) {
	Convey("Given a fresh estimator", t, func() {
		e := NewEstimator(DefaultFilterParams())
		tilted := imu.Sample{Accel: imu.Vec3{Y: math.Sin(math.Pi / 6), Z: math.Cos(math.Pi / 6)}}

		Convey("When the first sample arrives", func() {
			o := e.Update(tilted, 0)

			Convey("Then both filter stages are seeded with the raw tilt", func() {
				So(o.Roll, ShouldAlmostEqual, 30, 1e-9)
				So(o.RawRoll, ShouldAlmostEqual, 30, 1e-9)
				So(o.Pitch, ShouldAlmostEqual, 0, 1e-9)
			})
		})

		Convey("When dt is zero after seeding", func() {
			e.Update(imu.Sample{Accel: imu.Vec3{Z: 1}}, 0)
			o := e.Update(tilted, 0)

			Convey("Then the complementary stage takes the raw tilt and the low-pass smooths it", func() {
				So(o.Roll, ShouldAlmostEqual, 0.15*30, 1e-9)
			})
		})

		Convey("When the sensor is steady and dt is positive", func() {
			e.Update(tilted, 0)
			var o SegmentOrientation
			for i := 0; i < 50; i++ {
				o = e.Update(tilted, 0.033)
			}

			Convey("Then the filtered roll stays on the raw tilt", func() {
				So(o.Roll, ShouldAlmostEqual, 30, 1e-6)
			})
		})

		Convey("When the gyro reports rotation", func() {
			o := e.Update(imu.Sample{Accel: imu.Vec3{Z: 1}, Gyro: imu.Vec3{X: 4, Y: -2, Z: 1}}, 0.1)

			Convey("Then gyro pitch comes from Y and gyro roll from X", func() {
				So(o.GyroPitch, ShouldEqual, -2)
				So(o.GyroRoll, ShouldEqual, 4)
				So(o.GyroDPS.Z, ShouldEqual, 1)
			})
		})

		Convey("When the yaw rate is 10 deg/s for ten 0.1 s steps", func() {
			spin := imu.Sample{Accel: imu.Vec3{Z: 1}, Gyro: imu.Vec3{Z: 10}}
			var o SegmentOrientation
			for i := 0; i < 10; i++ {
				o = e.Update(spin, 0.1)
			}

			Convey("Then yaw has advanced by about 10 degrees", func() {
				So(o.Yaw, ShouldAlmostEqual, 10, 1e-9)
				So(e.Yaw(), ShouldAlmostEqual, 10, 1e-9)
			})
		})

		Convey("When dt is not positive", func() {
			e.Update(imu.Sample{Accel: imu.Vec3{Z: 1}, Gyro: imu.Vec3{Z: 500}}, 0)
			o := e.Update(imu.Sample{Accel: imu.Vec3{Z: 1}, Gyro: imu.Vec3{Z: 500}}, -1)

			Convey("Then yaw is unchanged", func() {
				So(o.Yaw, ShouldEqual, 0)
			})
		})

		Convey("When yaw integrates past 180", func() {
			o := e.Update(imu.Sample{Accel: imu.Vec3{Z: 1}, Gyro: imu.Vec3{Z: 200}}, 1)

			Convey("Then it wraps into range", func() {
				So(o.Yaw, ShouldAlmostEqual, -160)
			})
		})

		Convey("When a read fails", func() {
			e.Update(imu.Sample{Accel: imu.Vec3{Z: 1}, Gyro: imu.Vec3{Z: 10}}, 1)
			o := e.Failed(errors.New("bus fault"))

			Convey("Then a zeroed record carries the last yaw and the error", func() {
				So(o.Yaw, ShouldAlmostEqual, 10)
				So(o.Pitch, ShouldEqual, 0)
				So(o.Roll, ShouldEqual, 0)
				So(o.Error, ShouldEqual, "bus fault")
				So(o.Failed(), ShouldBeTrue)
			})
		})
	})
}

func TestSegments(t *testing.T) {
	Convey("ParseSegment accepts known names", t, func() {
		s, err := ParseSegment(" Shin ")
		So(err, ShouldBeNil)
		So(s, ShouldEqual, Shin)
		So(Thigh.String(), ShouldEqual, "thigh")
	})

	Convey("ParseSegment rejects anything else", t, func() {
		_, err := ParseSegment("hip")
		So(errors.Is(err, ErrUnknownSegment), ShouldBeTrue)
	})

	Convey("Readings marshal keyed by segment name and always carry both", t, func() {
		var r Readings
		r[Thigh] = SegmentOrientation{Roll: 12.5}
		r[Shin] = SegmentOrientation{Error: "timeout"}

		data, err := json.Marshal(r)
		So(err, ShouldBeNil)

		var m map[string]map[string]any
		So(json.Unmarshal(data, &m), ShouldBeNil)
		So(m, ShouldContainKey, "thigh")
		So(m, ShouldContainKey, "shin")
		So(m["thigh"]["roll"], ShouldEqual, 12.5)
		So(m["thigh"], ShouldNotContainKey, "error")
		So(m["shin"]["error"], ShouldEqual, "timeout")

		var back Readings
		So(json.Unmarshal(data, &back), ShouldBeNil)
		So(back.Get(Thigh).Roll, ShouldEqual, 12.5)
		So(back.Get(Segment(7)), ShouldResemble, SegmentOrientation{})
	})
}
