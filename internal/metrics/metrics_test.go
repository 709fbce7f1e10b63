package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManager(t *testing.T) {
	Convey("Given a metrics manager", t, func() {
		m := NewManager(WithNamespace("test"))

		Convey("When the pipeline records activity", func() {
			m.ObserveCycle(12 * time.Millisecond)
			m.ObserveCycle(40 * time.Millisecond)
			m.SegmentFailed("shin")
			m.SegmentFailed("shin")
			m.FrameEmitted()
			m.SessionStarted()
			m.Calibrated("muscle_rest")

			Convey("Then the counters reflect it", func() {
				So(testutil.ToFloat64(m.cycles), ShouldEqual, 2)
				So(testutil.ToFloat64(m.segmentFailures.WithLabelValues("shin")), ShouldEqual, 2)
				So(testutil.ToFloat64(m.framesEmitted), ShouldEqual, 1)
				So(testutil.ToFloat64(m.activeSessions), ShouldEqual, 1)
				So(testutil.ToFloat64(m.calibrations.WithLabelValues("muscle_rest")), ShouldEqual, 1)
			})

			Convey("Then the handler exports them", func() {
				rec := httptest.NewRecorder()
				m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
				So(rec.Code, ShouldEqual, 200)
				So(rec.Body.String(), ShouldContainSubstring, "test_telemetry_cycles_total 2")
				So(rec.Body.String(), ShouldContainSubstring, `test_acquisition_segment_read_failures_total{segment="shin"} 2`)
			})
		})

		Convey("When a session stops", func() {
			m.SessionStarted()
			m.SessionStopped()
			So(testutil.ToFloat64(m.activeSessions), ShouldEqual, 0)
		})
	})

	Convey("A nil manager is a no-op", t, func() {
		var m *Manager
		So(func() {
			m.ObserveCycle(time.Millisecond)
			m.SegmentFailed("thigh")
			m.FrameEmitted()
			m.EmitFailed()
			m.SessionStarted()
			m.SessionStopped()
			m.Calibrated("imu")
		}, ShouldNotPanic)
		So(m.Registry(), ShouldBeNil)
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		So(rec.Code, ShouldEqual, 404)
	})
}
