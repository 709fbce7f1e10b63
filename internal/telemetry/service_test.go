package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/relabs-tech/rehab_telemetry/internal/biomech"
	"github.com/relabs-tech/rehab_telemetry/internal/calibration"
	"github.com/relabs-tech/rehab_telemetry/internal/muscle"
	"github.com/relabs-tech/rehab_telemetry/internal/orientation"
	"github.com/relabs-tech/rehab_telemetry/internal/sensors"
)

// fakeMQTT records the last publish. Unused client methods panic via the nil embedded interface.
type fakeMQTT struct {
	mqtt.Client
	topic   string
	payload []byte
	err     error
}

func (c *fakeMQTT) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.topic = topic
	c.payload, _ = payload.([]byte)
	return &doneToken{err: c.err}
}

type doneToken struct {
	mqtt.Token
	err error
}

func (t *doneToken) Wait() bool   { return true }
func (t *doneToken) Error() error { return t.err }

type fakeAcquirer struct {
	mu    sync.Mutex
	r     orientation.Readings
	reads int
}

func (f *fakeAcquirer) ReadAll(context.Context) orientation.Readings {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.r
}

func (f *fakeAcquirer) Backend() string { return "fake" }

func (f *fakeAcquirer) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeAcquirer) set(seg orientation.Segment, o orientation.SegmentOrientation) {
	f.mu.Lock()
	f.r[seg] = o
	f.mu.Unlock()
}

type failingChannel struct{}

func (failingChannel) ReadNormalized() (float64, error) { return 0, errors.New("adc offline") }
func (failingChannel) Close() error                     { return nil }

// collector keeps frames and fails once limit frames have been received.
type collector struct {
	mu     sync.Mutex
	frames []Frame
	limit  int
}

func (c *collector) Send(_ context.Context, f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limit > 0 && len(c.frames) >= c.limit {
		return errors.New("client gone")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func newTestService(acq Acquirer, ch sensors.AnalogChannel, opts ...Option) *Service {
	opts = append([]Option{WithInterval(time.Millisecond)}, opts...)
	return NewService(acq, calibration.NewOffsetStore(), muscle.NewReader(ch, 3.3),
		biomech.NewProcessor(biomech.DefaultParams()), opts...)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestSession(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service over a bent knee", t, func() {
		acq := &fakeAcquirer{}
		acq.set(orientation.Thigh, orientation.SegmentOrientation{Pitch: 1, Roll: 10})
		acq.set(orientation.Shin, orientation.SegmentOrientation{Pitch: 2, Roll: 100})
		now := time.Unix(1700000000, 500000000)
		svc := newTestService(acq, sensors.ConstantChannel{Level: 0.5}, WithClock(func() time.Time { return now }))

		Convey("When a session runs until its sink fails", func() {
			sink := &collector{limit: 3}
			sess := svc.StartSession(ctx, sink)
			err := sess.Err()

			Convey("Then the loop ends with the sink error after the frames it accepted", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "client gone")
				So(sink.count(), ShouldEqual, 3)
				So(svc.Current(), ShouldBeNil)
				So(sess.ID, ShouldNotBeEmpty)
			})

			Convey("Then every frame carries the processed metrics", func() {
				f := sink.frames[0]
				So(f.FlexionAngle, ShouldAlmostEqual, 90)
				So(f.ExtensionAngle, ShouldAlmostEqual, 90)
				So(f.MuscleVoltage, ShouldAlmostEqual, 1.65)
				So(f.MuscleRelative, ShouldEqual, 0)
				So(f.MuscleRestVoltage, ShouldBeNil)
				So(f.Timestamp, ShouldAlmostEqual, 1700000000.5, 1e-3)
				So(f.Time().Unix(), ShouldEqual, 1700000000)
			})

			Convey("Then the frame encodes every telemetry key", func() {
				b, err := json.Marshal(sink.frames[0])
				So(err, ShouldBeNil)
				var m map[string]any
				So(json.Unmarshal(b, &m), ShouldBeNil)
				for _, k := range []string{
					"timestamp", "raw_imu", "imu", "muscle_voltage", "muscle_relative",
					"muscle_rest_voltage", "muscle_peak_voltage", "flexion_angle",
					"extension_angle", "max_flexion", "max_extension", "torque",
					"max_torque", "muscle_activation",
				} {
					So(m, ShouldContainKey, k)
				}
				So(m["muscle_rest_voltage"], ShouldBeNil)
				So(m["imu"], ShouldContainKey, "thigh")
				So(m["imu"], ShouldContainKey, "shin")
			})
		})

		Convey("When offsets are captured before a session", func() {
			got, err := svc.CalibrateIMU(ctx)
			So(err, ShouldBeNil)
			So(got, ShouldResemble, orientation.Segments())

			acq.set(orientation.Shin, orientation.SegmentOrientation{Pitch: 2, Roll: 130})
			sink := &collector{limit: 1}
			_ = svc.StartSession(ctx, sink).Err()

			Convey("Then imu is offset while raw_imu is not", func() {
				f := sink.frames[0]
				So(f.RawIMU[orientation.Shin].Roll, ShouldEqual, 130)
				So(f.IMU[orientation.Shin].Roll, ShouldEqual, 30)
				So(f.IMU[orientation.Thigh].Roll, ShouldEqual, 0)
				So(f.FlexionAngle, ShouldAlmostEqual, 30)
			})
		})

		Convey("When a session starts after earlier activity", func() {
			acq.set(orientation.Shin, orientation.SegmentOrientation{Roll: 170})
			svc.NextFrame(ctx)
			_, err := svc.CalibrateMuscle(ctx, muscle.ModeRest)
			So(err, ShouldBeNil)
			acq.set(orientation.Shin, orientation.SegmentOrientation{Roll: 40})

			sink := &collector{limit: 1}
			_ = svc.StartSession(ctx, sink).Err()

			Convey("Then maxima and muscle references start over", func() {
				f := sink.frames[0]
				So(f.MaxFlexion, ShouldAlmostEqual, 30)
				So(f.MuscleRestVoltage, ShouldBeNil)
			})
		})

		Convey("When a second session starts", func() {
			first := svc.StartSession(ctx, &collector{})
			So(waitFor(func() bool { return acq.readCount() > 0 }), ShouldBeTrue)
			second := svc.StartSession(ctx, &collector{})

			Convey("Then the first one is replaced", func() {
				So(errors.Is(first.Err(), ErrSessionReplaced), ShouldBeTrue)
				So(svc.Current(), ShouldEqual, second)
				So(svc.Status().SessionID, ShouldEqual, second.ID)
			})

			Convey("Then StopSession ends the second one", func() {
				svc.StopSession()
				So(errors.Is(second.Err(), ErrSessionStopped), ShouldBeTrue)
				So(svc.Current(), ShouldBeNil)
				So(svc.Status().SessionID, ShouldBeEmpty)
			})

			Reset(func() { svc.StopSession() })
		})

		Convey("When the caller's context ends", func() {
			cctx, cancel := context.WithCancel(ctx)
			sess := svc.StartSession(cctx, &collector{})
			cancel()

			Convey("Then the loop stops", func() {
				So(errors.Is(sess.Err(), context.Canceled), ShouldBeTrue)
			})
		})

		Convey("Mirrors get every frame and their failures are ignored", func() {
			mirror := &collector{}
			broken := SinkFunc(func(context.Context, Frame) error { return errors.New("broker down") })
			svc := newTestService(acq, sensors.ConstantChannel{Level: 0.5}, WithMirror(broken), WithMirror(mirror))
			sink := &collector{limit: 2}

			err := svc.StartSession(ctx, sink).Err()
			So(err.Error(), ShouldContainSubstring, "client gone")
			So(mirror.count(), ShouldEqual, 2)
		})
	})

	Convey("An EMG failure still produces a frame", t, func() {
		acq := &fakeAcquirer{}
		svc := newTestService(acq, failingChannel{})
		f := svc.NextFrame(context.Background())
		So(f.MuscleVoltage, ShouldEqual, 0)
		So(f.MuscleRelative, ShouldEqual, 0)
		So(f.MuscleActivation, ShouldEqual, 0)
	})
}

func TestCalibration(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service whose shin read fails", t, func() {
		acq := &fakeAcquirer{}
		acq.set(orientation.Thigh, orientation.SegmentOrientation{Pitch: 4, Roll: 8})
		acq.set(orientation.Shin, orientation.SegmentOrientation{Error: "bus fault"})
		svc := newTestService(acq, sensors.ConstantChannel{Level: 0.2})

		Convey("Calibrating all segments captures the thigh and reports the shin", func() {
			got, err := svc.CalibrateIMU(ctx)
			So(got, ShouldResemble, []orientation.Segment{orientation.Thigh})
			So(errors.Is(err, ErrSegmentUnavailable), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "shin")

			st := svc.Status()
			So(st.Offsets["thigh"], ShouldResemble, calibration.Offset{Pitch: 4, Roll: 8})
			So(st.Offsets["shin"], ShouldResemble, calibration.Offset{})
			So(st.IMUBackend, ShouldEqual, "fake")
			So(st.IntervalMS, ShouldEqual, 1)
		})

		Convey("Calibrating only the thigh succeeds", func() {
			got, err := svc.CalibrateIMU(ctx, orientation.Thigh)
			So(err, ShouldBeNil)
			So(got, ShouldResemble, []orientation.Segment{orientation.Thigh})

			o, err := svc.SegmentReading(ctx, orientation.Thigh)
			So(err, ShouldBeNil)
			So(o.Pitch, ShouldEqual, 0)
			So(o.Roll, ShouldEqual, 0)
		})

		Convey("A failed segment is read back with its error", func() {
			o, err := svc.SegmentReading(ctx, orientation.Shin)
			So(err, ShouldBeNil)
			So(o.Error, ShouldEqual, "bus fault")
		})

		Convey("Unknown segments are rejected", func() {
			_, err := svc.CalibrateIMU(ctx, orientation.Segment(5))
			So(errors.Is(err, orientation.ErrUnknownSegment), ShouldBeTrue)
			_, err = svc.SegmentReading(ctx, orientation.Segment(5))
			So(errors.Is(err, orientation.ErrUnknownSegment), ShouldBeTrue)
		})

		Convey("Muscle calibration validates the mode", func() {
			_, err := svc.CalibrateMuscle(ctx, "peak")
			So(errors.Is(err, muscle.ErrInvalidMode), ShouldBeTrue)

			ref, err := svc.CalibrateMuscle(ctx, muscle.ModeMax)
			So(err, ShouldBeNil)
			So(*ref.PeakVoltage, ShouldAlmostEqual, 0.66)
		})

		Convey("ResetSession clears the muscle references", func() {
			_, err := svc.CalibrateMuscle(ctx, muscle.ModeRest)
			So(err, ShouldBeNil)
			svc.ResetSession(ctx)
			So(svc.Status().Muscle.RestVoltage, ShouldBeNil)
		})
	})
}

func TestMQTTSink(t *testing.T) {
	Convey("Frames are published as JSON on the configured topic", t, func() {
		client := &fakeMQTT{}
		sink := NewMQTTSink(client, "rehab/telemetry")
		err := sink.Send(context.Background(), Frame{Timestamp: 12.5})
		So(err, ShouldBeNil)
		So(client.topic, ShouldEqual, "rehab/telemetry")

		var f Frame
		So(json.Unmarshal(client.payload, &f), ShouldBeNil)
		So(f.Timestamp, ShouldEqual, 12.5)

		client.err = errors.New("not connected")
		err = sink.Send(context.Background(), Frame{})
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "not connected")
	})
}
