// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/rehab_telemetry/internal/biomech"
	"github.com/relabs-tech/rehab_telemetry/internal/calibration"
	"github.com/relabs-tech/rehab_telemetry/internal/logger"
	"github.com/relabs-tech/rehab_telemetry/internal/metrics"
	"github.com/relabs-tech/rehab_telemetry/internal/muscle"
	"github.com/relabs-tech/rehab_telemetry/internal/orientation"
)

// DefaultInterval is the pause between cycles, roughly 30 frames per second.
const DefaultInterval = 33 * time.Millisecond

var (
	// ErrSessionReplaced ends a session when a newer one starts.
	ErrSessionReplaced = errors.New("session replaced by a newer one")
	// ErrSessionStopped ends a session on an explicit stop.
	ErrSessionStopped = errors.New("session stopped")
	// ErrSegmentUnavailable is returned when a calibration or reading needs a segment whose read failed.
	ErrSegmentUnavailable = errors.New("segment reading unavailable")
)

// Acquirer produces one raw orientation snapshot per call.
type Acquirer interface {
	ReadAll(ctx context.Context) orientation.Readings
	Backend() string
}

// Service wires acquisition, calibration, EMG and biomechanics into sessions.
// At most one session runs at a time.
type Service struct {
	acq      Acquirer
	offsets  *calibration.OffsetStore
	muscle   *muscle.Reader
	proc     *biomech.Processor
	interval time.Duration
	mirrors  []Sink
	log      logger.Logger
	metrics  *metrics.Manager
	now      func() time.Time

	mu      sync.Mutex
	session *Session
}

// Option configures a Service.
type Option func(*Service)

// WithInterval sets the pause after each cycle.
func WithInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithMirror adds a sink that receives every frame of every session.
// Mirror failures are logged and never end the session.
func WithMirror(sink Sink) Option {
	return func(s *Service) { s.mirrors = append(s.mirrors, sink) }
}

func WithLogger(log logger.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithMetrics(m *metrics.Manager) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces the wall clock used for frame timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a service around already opened collaborators.
func NewService(acq Acquirer, offsets *calibration.OffsetStore, mr *muscle.Reader, proc *biomech.Processor, opts ...Option) *Service {
	s := &Service{
		acq:      acq,
		offsets:  offsets,
		muscle:   mr,
		proc:     proc,
		interval: DefaultInterval,
		log:      logger.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Session is one running telemetry loop.
type Session struct {
	ID      string
	Started time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
	err    error
}

// Done is closed once the loop has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err blocks until the loop has returned and reports why it ended.
func (s *Session) Err() error {
	<-s.done
	return s.err
}

// Stop ends this session and waits for its loop. Stopping a finished session is a no-op.
func (s *Session) Stop() { s.stop(ErrSessionStopped) }

func (s *Session) stop(cause error) {
	s.cancel(cause)
	<-s.done
}

// StartSession stops any running session, resets the maxima, clears the
// muscle references and starts a loop that sends every frame to sink.
// The loop ends when ctx is done, on StopSession, when another session
// starts, or when sink fails.
func (s *Service) StartSession(ctx context.Context, sink Sink) *Session {
	sctx, cancel := context.WithCancelCause(ctx)
	sess := &Session{
		ID:      uuid.NewString(),
		Started: s.now(),
		ctx:     sctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	prev := s.session
	s.session = sess
	s.mu.Unlock()

	if prev != nil {
		prev.stop(ErrSessionReplaced)
	}

	s.proc.Reset()
	s.muscle.ClearReference()
	s.metrics.SessionStarted()
	s.log.Info(ctx, "telemetry: session started", logger.String("session", sess.ID))

	go s.run(sess, sink)
	return sess
}

// StopSession ends the running session, if any, and waits for its loop.
func (s *Service) StopSession() {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess != nil {
		sess.stop(ErrSessionStopped)
	}
}

// Current returns the running session or nil.
func (s *Service) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Service) run(sess *Session, sink Sink) {
	defer func() {
		s.mu.Lock()
		if s.session == sess {
			s.session = nil
		}
		s.mu.Unlock()
		s.metrics.SessionStopped()
		s.log.Info(sess.ctx, "telemetry: session ended", logger.String("session", sess.ID), logger.Error(sess.err))
		close(sess.done)
	}()
	sess.err = s.loop(sess.ctx, sink)
}

func (s *Service) loop(ctx context.Context, sink Sink) error {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	for {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if err := s.cycle(ctx, sink); err != nil {
			return err
		}
		timer.Reset(s.interval)
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-timer.C:
		}
	}
}

// cycle runs acquire, calibrate, EMG, process and emit once.
func (s *Service) cycle(ctx context.Context, sink Sink) error {
	start := time.Now()
	f := s.NextFrame(ctx)
	err := sink.Send(ctx, f)
	s.metrics.ObserveCycle(time.Since(start))
	if err != nil {
		s.metrics.EmitFailed()
		return fmt.Errorf("emit frame: %w", err)
	}
	s.metrics.FrameEmitted()

	for _, m := range s.mirrors {
		if err := m.Send(ctx, f); err != nil {
			s.metrics.EmitFailed()
			s.log.Warn(ctx, "telemetry: mirror send failed", logger.Error(err))
		}
	}
	return nil
}

// NextFrame builds one frame from fresh readings. It updates the session maxima.
func (s *Service) NextFrame(ctx context.Context) Frame {
	raw := s.acq.ReadAll(ctx)
	cal := s.offsets.ApplyAll(raw)

	ms, err := s.muscle.Read()
	if err != nil {
		s.log.Warn(ctx, "telemetry: emg read failed", logger.Error(err))
		ref := s.muscle.Reference()
		ms = muscle.Sample{RestVoltage: ref.RestVoltage, PeakVoltage: ref.PeakVoltage}
	}

	m := s.proc.Compute(cal[orientation.Thigh], cal[orientation.Shin], ms.Relative)

	return Frame{
		Timestamp:         unixSeconds(s.now()),
		RawIMU:            raw,
		IMU:               cal,
		MuscleVoltage:     ms.Voltage,
		MuscleRelative:    ms.Relative,
		MuscleRestVoltage: ms.RestVoltage,
		MusclePeakVoltage: ms.PeakVoltage,
		Metrics:           m,
	}
}

// ResetSession zeroes the maxima and clears the muscle references without
// interrupting a running loop.
func (s *Service) ResetSession(ctx context.Context) {
	s.proc.Reset()
	s.muscle.ClearReference()
	s.log.Info(ctx, "telemetry: session reset")
}

// CalibrateIMU takes a fresh reading and stores the filtered pitch/roll of
// each requested segment as its zero reference. No segments means all.
// Segments whose read failed keep their previous offsets and are reported
// in the error; the others are still captured.
func (s *Service) CalibrateIMU(ctx context.Context, segs ...orientation.Segment) ([]orientation.Segment, error) {
	if len(segs) == 0 {
		segs = orientation.Segments()
	}
	for _, seg := range segs {
		if !seg.Valid() {
			return nil, fmt.Errorf("%w: %s", orientation.ErrUnknownSegment, seg)
		}
	}

	r := s.acq.ReadAll(ctx)
	var (
		captured []orientation.Segment
		errs     []error
	)
	if len(segs) == int(orientation.SegmentCount) {
		captured = s.offsets.CaptureAll(r)
		for _, seg := range segs {
			if r[seg].Failed() {
				errs = append(errs, fmt.Errorf("%w: %s: %s", ErrSegmentUnavailable, seg, r[seg].Error))
			}
		}
	} else {
		for _, seg := range segs {
			o := r[seg]
			if o.Failed() {
				errs = append(errs, fmt.Errorf("%w: %s: %s", ErrSegmentUnavailable, seg, o.Error))
				continue
			}
			s.offsets.SetReference(seg, o.Pitch, o.Roll)
			captured = append(captured, seg)
		}
	}

	for _, seg := range captured {
		off := s.offsets.Offset(seg)
		s.log.Info(ctx, "telemetry: imu reference captured",
			logger.String("segment", seg.String()),
			logger.Float64("pitch", off.Pitch),
			logger.Float64("roll", off.Roll))
	}
	if len(captured) > 0 {
		s.metrics.Calibrated("imu")
	}
	return captured, errors.Join(errs...)
}

// CalibrateMuscle captures the rest or max EMG reference.
func (s *Service) CalibrateMuscle(ctx context.Context, mode string) (muscle.Reference, error) {
	ref, err := s.muscle.Calibrate(mode)
	if err != nil {
		return ref, err
	}
	s.metrics.Calibrated("muscle_" + mode)
	s.log.Info(ctx, "telemetry: muscle reference captured", logger.String("mode", mode))
	return ref, nil
}

// SegmentReading takes a fresh reading and returns seg with its offsets applied.
// A failed read is returned as a record with Error set, not as an error.
func (s *Service) SegmentReading(ctx context.Context, seg orientation.Segment) (orientation.SegmentOrientation, error) {
	if !seg.Valid() {
		return orientation.SegmentOrientation{}, fmt.Errorf("%w: %s", orientation.ErrUnknownSegment, seg)
	}
	r := s.acq.ReadAll(ctx)
	return s.offsets.Apply(seg, r[seg]), nil
}

// Status summarises the service for the status endpoint.
type Status struct {
	IMUBackend     string                        `json:"imu_backend"`
	SessionID      string                        `json:"session_id,omitempty"`
	SessionStarted *time.Time                    `json:"session_started,omitempty"`
	IntervalMS     int64                         `json:"interval_ms"`
	Offsets        map[string]calibration.Offset `json:"offsets"`
	Muscle         muscle.Reference              `json:"muscle"`
}

func (s *Service) Status() Status {
	st := Status{
		IMUBackend: s.acq.Backend(),
		IntervalMS: s.interval.Milliseconds(),
		Offsets:    make(map[string]calibration.Offset, orientation.SegmentCount),
		Muscle:     s.muscle.Reference(),
	}
	for _, seg := range orientation.Segments() {
		st.Offsets[seg.String()] = s.offsets.Offset(seg)
	}
	if sess := s.Current(); sess != nil {
		started := sess.Started
		st.SessionID = sess.ID
		st.SessionStarted = &started
	}
	return st
}
