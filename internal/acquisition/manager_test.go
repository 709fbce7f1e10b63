package acquisition

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/relabs-tech/rehab_telemetry/internal/imu"
	"github.com/relabs-tech/rehab_telemetry/internal/orientation"
	"github.com/relabs-tech/rehab_telemetry/internal/sensors"
)

type stubDevice struct {
	sample imu.Sample
	err    error
	reads  int
	closed bool
}

func (d *stubDevice) Configure(imu.Settings) error { return nil }
func (d *stubDevice) Close() error                 { d.closed = true; return nil }
func (d *stubDevice) ReadRaw() (imu.Sample, error) {
	d.reads++
	return d.sample, d.err
}

type stubBackend struct{ closed bool }

func (b *stubBackend) Name() string                                       { return "stub" }
func (b *stubBackend) Open(orientation.Segment) (sensors.IMUDevice, error) { return nil, nil }
func (b *stubBackend) Close() error                                       { b.closed = true; return nil }

type stepClock struct {
	t    time.Time
	step time.Duration
}

func (c *stepClock) now() time.Time {
	t := c.t
	c.t = c.t.Add(c.step)
	return t
}

func level() imu.Sample {
	return imu.Sample{Accel: imu.Vec3{Z: 1}}
}

func TestReadAll(t *testing.T) {
	ctx := context.Background()

	Convey("Given a manager over a thigh and a shin IMU", t, func() {
		thigh := &stubDevice{sample: level()}
		shin := &stubDevice{sample: level()}
		backend := &stubBackend{}
		set := &sensors.IMUSet{Backend: backend}
		set.Devices[orientation.Thigh] = thigh
		set.Devices[orientation.Shin] = shin

		clock := &stepClock{t: time.Unix(1000, 0), step: 100 * time.Millisecond}
		m := NewManager(set, orientation.DefaultFilterParams(), nil, WithClock(clock.now))

		So(m.Backend(), ShouldEqual, "stub")
		So(m.Device(orientation.Shin), ShouldEqual, shin)
		So(m.Device(orientation.Segment(7)), ShouldBeNil)

		Convey("When both segments read", func() {
			r := m.ReadAll(ctx)

			Convey("Then each segment gets a record", func() {
				So(r.Get(orientation.Thigh).Failed(), ShouldBeFalse)
				So(r.Get(orientation.Shin).Failed(), ShouldBeFalse)
				So(thigh.reads, ShouldEqual, 1)
				So(shin.reads, ShouldEqual, 1)
			})
		})

		Convey("When the yaw rate is shared across cycles", func() {
			thigh.sample.Gyro.Z = 10
			shin.sample.Gyro.Z = 10
			var r orientation.Readings
			for i := 0; i < 11; i++ {
				r = m.ReadAll(ctx)
			}

			Convey("Then both segments integrate the same frame_dt", func() {
				So(r.Get(orientation.Thigh).Yaw, ShouldAlmostEqual, 10, 1e-6)
				So(r.Get(orientation.Shin).Yaw, ShouldAlmostEqual, 10, 1e-6)
			})
		})

		Convey("When the shin fails", func() {
			shin.sample.Gyro.Z = 20
			m.ReadAll(ctx)
			m.ReadAll(ctx)
			shin.err = errors.New("bus fault")
			r := m.ReadAll(ctx)

			Convey("Then the thigh is unaffected and the shin keeps its key and yaw", func() {
				So(r.Get(orientation.Thigh).Failed(), ShouldBeFalse)
				s := r.Get(orientation.Shin)
				So(s.Failed(), ShouldBeTrue)
				So(s.Error, ShouldContainSubstring, "bus fault")
				So(s.Pitch, ShouldEqual, 0)
				So(s.Roll, ShouldEqual, 0)
				So(s.Yaw, ShouldAlmostEqual, 2, 1e-6)
			})

			Convey("Then the next successful read resumes from the kept filter state", func() {
				shin.err = nil
				r := m.ReadAll(ctx)
				So(r.Get(orientation.Shin).Failed(), ShouldBeFalse)
			})
		})

		Convey("When closed", func() {
			So(m.Close(), ShouldBeNil)

			Convey("Then devices and backend are released", func() {
				So(thigh.closed, ShouldBeTrue)
				So(shin.closed, ShouldBeTrue)
				So(backend.closed, ShouldBeTrue)
			})
		})
	})

	Convey("A missing device yields a failed record", t, func() {
		set := &sensors.IMUSet{}
		set.Devices[orientation.Thigh] = &stubDevice{sample: level()}
		m := NewManager(set, orientation.DefaultFilterParams(), nil)

		r := m.ReadAll(ctx)
		So(r.Get(orientation.Thigh).Failed(), ShouldBeFalse)
		So(r.Get(orientation.Shin).Error, ShouldEqual, errNoDevice.Error())
	})
}
