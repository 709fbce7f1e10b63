// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownSegment is returned when a segment name is not thigh or shin.
var ErrUnknownSegment = errors.New("unknown segment")

// Segment identifies a body segment carrying an IMU.
type Segment int

const (
	Thigh Segment = iota
	Shin

	SegmentCount
)

var segmentNames = [SegmentCount]string{"thigh", "shin"}

// Segments lists every segment in acquisition order.
func Segments() []Segment {
	return []Segment{Thigh, Shin}
}

func (s Segment) String() string {
	if !s.Valid() {
		return fmt.Sprintf("segment(%d)", int(s))
	}
	return segmentNames[s]
}

// Valid reports whether s names a known segment.
func (s Segment) Valid() bool {
	return s >= 0 && s < SegmentCount
}

// ParseSegment maps "thigh"/"shin" (case-insensitive) to a Segment.
func ParseSegment(name string) (Segment, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, candidate := range segmentNames {
		if n == candidate {
			return Segment(i), nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrUnknownSegment, name)
}

// Readings holds one orientation per segment. It always carries both segments;
// a segment that failed to read holds a zeroed record with Error set.
type Readings [SegmentCount]SegmentOrientation

// Get returns the reading for s, or a zeroed record when s is not a known segment.
func (r *Readings) Get(s Segment) SegmentOrientation {
	if !s.Valid() {
		return SegmentOrientation{}
	}
	return r[s]
}

// MarshalJSON encodes readings as an object keyed by segment name.
func (r Readings) MarshalJSON() ([]byte, error) {
	m := make(map[string]SegmentOrientation, SegmentCount)
	for _, s := range Segments() {
		m[s.String()] = r[s]
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes an object keyed by segment name. Unknown keys are ignored.
func (r *Readings) UnmarshalJSON(data []byte) error {
	var m map[string]SegmentOrientation
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*r = Readings{}
	for name, o := range m {
		s, err := ParseSegment(name)
		if err != nil {
			continue
		}
		r[s] = o
	}
	return nil
}
