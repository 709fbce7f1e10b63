// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration keeps the per-segment zero reference subtracted from live orientation.
package calibration

import (
	"sync"

	"github.com/relabs-tech/rehab_telemetry/internal/orientation"
)

// Offset is the pitch/roll captured when the patient held the reference pose.
type Offset struct {
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// OffsetStore holds one Offset per segment. Offsets live in memory only.
type OffsetStore struct {
	mu      sync.RWMutex
	offsets [orientation.SegmentCount]Offset
}

// NewOffsetStore returns a store with all offsets at zero.
func NewOffsetStore() *OffsetStore {
	return &OffsetStore{}
}

// SetReference stores the pair for seg. Unknown segments are ignored.
func (s *OffsetStore) SetReference(seg orientation.Segment, pitch, roll float64) {
	if !seg.Valid() {
		return
	}
	s.mu.Lock()
	s.offsets[seg] = Offset{Pitch: pitch, Roll: roll}
	s.mu.Unlock()
}

// CaptureAll uses the filtered pitch/roll of every readable segment as its
// new reference. Failed segments keep their previous offsets.
func (s *OffsetStore) CaptureAll(r orientation.Readings) []orientation.Segment {
	var captured []orientation.Segment
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range orientation.Segments() {
		o := r[seg]
		if o.Failed() {
			continue
		}
		s.offsets[seg] = Offset{Pitch: o.Pitch, Roll: o.Roll}
		captured = append(captured, seg)
	}
	return captured
}

// Offset returns the stored pair for seg.
func (s *OffsetStore) Offset(seg orientation.Segment) Offset {
	if !seg.Valid() {
		return Offset{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offsets[seg]
}

// Apply subtracts the stored offset from pitch and roll. Every other field
// passes through. An unknown segment yields a zeroed record.
func (s *OffsetStore) Apply(seg orientation.Segment, o orientation.SegmentOrientation) orientation.SegmentOrientation {
	if !seg.Valid() {
		return orientation.SegmentOrientation{}
	}
	off := s.Offset(seg)
	o.Pitch -= off.Pitch
	o.Roll -= off.Roll
	return o
}

// ApplyAll calibrates a whole snapshot under a single read lock so both
// segments see the same offsets.
func (s *OffsetStore) ApplyAll(r orientation.Readings) orientation.Readings {
	s.mu.RLock()
	offsets := s.offsets
	s.mu.RUnlock()

	for _, seg := range orientation.Segments() {
		r[seg].Pitch -= offsets[seg].Pitch
		r[seg].Roll -= offsets[seg].Roll
	}
	return r
}
