// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package series holds the capacity-bounded time series behind each chart.
package series

import (
	"encoding/json"

	"github.com/relabs-tech/optical_telemetry/internal/env"
)

// Point is one (time, value) sample. Time is in seconds.
type Point struct {
	T float64 `csv:"time_s"`
	V float64 `csv:"value"`
}

// MarshalJSON encodes a point as [t, v], with NaN as null.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]*float64{env.Nullable(p.T), env.Nullable(p.V)})
}

// Series keeps at most Cap points. Appending past capacity drops the oldest
// points. Not safe for concurrent use.
type Series struct {
	points   []Point
	capacity int
}

// New returns an empty series holding at most capacity points.
func New(capacity int) *Series {
	if capacity < 1 {
		panic("series: capacity must be positive")
	}
	return &Series{capacity: capacity}
}

// Append adds points in order and truncates the oldest excess.
func (s *Series) Append(points ...Point) {
	s.points = append(s.points, points...)
	if excess := len(s.points) - s.capacity; excess > 0 {
		// copy down so the backing array does not grow without bound
		n := copy(s.points, s.points[excess:])
		s.points = s.points[:n]
	}
}

// Points returns a copy of the stored points, oldest first.
func (s *Series) Points() []Point {
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

// Len returns the number of stored points.
func (s *Series) Len() int { return len(s.points) }

// Cap returns the configured capacity.
func (s *Series) Cap() int { return s.capacity }

// Last returns the newest point.
func (s *Series) Last() (Point, bool) {
	if len(s.points) == 0 {
		return Point{}, false
	}
	return s.points[len(s.points)-1], true
}

// Reset drops all points.
func (s *Series) Reset() { s.points = s.points[:0] }
