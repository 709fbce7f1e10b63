package muscle

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

// scriptedChannel returns levels in order and counts reads.
type scriptedChannel struct {
	levels []float64
	err    error
	reads  int
}

func (c *scriptedChannel) ReadNormalized() (float64, error) {
	c.reads++
	if c.err != nil {
		return 0, c.err
	}
	v := c.levels[0]
	if len(c.levels) > 1 {
		c.levels = c.levels[1:]
	}
	return v, nil
}

func (c *scriptedChannel) Close() error { return nil }

func TestRead(t *testing.T) {
	Convey("Given a reader with a 3.3 V reference", t, func() {
		ch := &scriptedChannel{levels: []float64{0.5}}
		r := NewReader(ch, 3.3)

		Convey("Without calibration the relative activation is 0", func() {
			s, err := r.Read()
			So(err, ShouldBeNil)
			So(s.Voltage, ShouldAlmostEqual, 1.65)
			So(s.Relative, ShouldEqual, 0)
			So(s.RestVoltage, ShouldBeNil)
			So(s.PeakVoltage, ShouldBeNil)
		})

		Convey("Out of range levels are clamped to the reference", func() {
			ch.levels = []float64{1.7}
			s, _ := r.Read()
			So(s.Voltage, ShouldAlmostEqual, 3.3)

			ch.levels = []float64{-0.2}
			s, _ = r.Read()
			So(s.Voltage, ShouldEqual, 0)
		})

		Convey("A channel error is returned", func() {
			ch.err = errors.New("adc gone")
			_, err := r.Read()
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "adc gone")
		})
	})

	Convey("A non-positive reference voltage falls back to the default", t, func() {
		r := NewReader(&scriptedChannel{levels: []float64{1}}, 0)
		s, err := r.Read()
		So(err, ShouldBeNil)
		So(s.Voltage, ShouldAlmostEqual, DefaultRefVoltage)
	})
}

func TestCalibrate(t *testing.T) {
	Convey("Given rest at 1.0 V and max at 2.0 V", t, func() {
		ch := &scriptedChannel{levels: []float64{0.1, 0.2, 0.15}}
		r := NewReader(ch, 10)

		ref, err := r.Calibrate(ModeRest)
		So(err, ShouldBeNil)
		So(*ref.RestVoltage, ShouldAlmostEqual, 1.0)
		So(ref.PeakVoltage, ShouldBeNil)

		ref, err = r.Calibrate(ModeMax)
		So(err, ShouldBeNil)
		So(*ref.PeakVoltage, ShouldAlmostEqual, 2.0)

		Convey("When the live voltage is 1.5 V", func() {
			s, err := r.Read()

			Convey("Then the activation is 50%", func() {
				So(err, ShouldBeNil)
				So(s.Relative, ShouldAlmostEqual, 50, 1e-9)
				So(*s.RestVoltage, ShouldAlmostEqual, 1.0)
				So(*s.PeakVoltage, ShouldAlmostEqual, 2.0)
			})
		})

		Convey("The span endpoints map to exactly 0 and 100", func() {
			ch.levels = []float64{0.1}
			s, err := r.Read()
			So(err, ShouldBeNil)
			So(s.Voltage, ShouldEqual, 1.0)
			So(s.Relative, ShouldEqual, 0.0)

			ch.levels = []float64{0.2}
			s, err = r.Read()
			So(err, ShouldBeNil)
			So(s.Voltage, ShouldEqual, 2.0)
			So(s.Relative, ShouldEqual, 100.0)
		})

		Convey("Readings outside the span are clamped", func() {
			ch.levels = []float64{0.05}
			s, _ := r.Read()
			So(s.Relative, ShouldEqual, 0)

			ch.levels = []float64{0.3}
			s, _ = r.Read()
			So(s.Relative, ShouldEqual, 100)
		})

		Convey("Returned references are copies", func() {
			s, _ := r.Read()
			*s.RestVoltage = 99
			s2, _ := r.Read()
			So(*s2.RestVoltage, ShouldAlmostEqual, 1.0)
		})

		Convey("ClearReference drops both values", func() {
			r.ClearReference()
			s, _ := r.Read()
			So(s.Relative, ShouldEqual, 0)
			So(s.RestVoltage, ShouldBeNil)
			So(s.PeakVoltage, ShouldBeNil)
			So(r.Reference(), ShouldResemble, Reference{})
		})

		Convey("Reference reports the pair without reading", func() {
			reads := ch.reads
			ref := r.Reference()
			So(ch.reads, ShouldEqual, reads)
			So(*ref.RestVoltage, ShouldAlmostEqual, 1.0)
			So(*ref.PeakVoltage, ShouldAlmostEqual, 2.0)
		})
	})

	Convey("A max captured below rest is raised strictly above it", t, func() {
		ch := &scriptedChannel{levels: []float64{0.5, 0.2}}
		r := NewReader(ch, 2)

		_, err := r.Calibrate(ModeRest)
		So(err, ShouldBeNil)
		ref, err := r.Calibrate(ModeMax)
		So(err, ShouldBeNil)
		So(*ref.PeakVoltage, ShouldBeGreaterThan, *ref.RestVoltage)
		So(*ref.PeakVoltage, ShouldAlmostEqual, 1.0+minSpan, 1e-12)
	})

	Convey("A max without rest is kept above zero", t, func() {
		r := NewReader(&scriptedChannel{levels: []float64{0}}, 3.3)
		ref, err := r.Calibrate(ModeMax)
		So(err, ShouldBeNil)
		So(ref.RestVoltage, ShouldBeNil)
		So(*ref.PeakVoltage, ShouldAlmostEqual, minSpan, 1e-12)
	})

	Convey("An invalid mode neither reads nor mutates", t, func() {
		ch := &scriptedChannel{levels: []float64{0.4}}
		r := NewReader(ch, 3.3)
		_, err := r.Calibrate(ModeRest)
		So(err, ShouldBeNil)
		reads := ch.reads

		_, err = r.Calibrate("flex")
		So(errors.Is(err, ErrInvalidMode), ShouldBeTrue)
		So(ch.reads, ShouldEqual, reads)

		s, _ := r.Read()
		So(*s.RestVoltage, ShouldAlmostEqual, 0.4*3.3)
		So(s.PeakVoltage, ShouldBeNil)
	})
}
