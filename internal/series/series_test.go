// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package series

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func pts(ts ...float64) []Point {
	out := make([]Point, len(ts))
	for i, t := range ts {
		out[i] = Point{T: t, V: t * 10}
	}
	return out
}

func TestAppend_UnderCapacity(t *testing.T) {
	t.Parallel()

	s := New(5)
	s.Append(pts(1, 2)...)
	s.Append(pts(3)...)

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 5, s.Cap())
	assert.Equal(t, pts(1, 2, 3), s.Points())
}

func TestAppend_TruncatesOldest(t *testing.T) {
	t.Parallel()

	s := New(3)
	for i := 1; i <= 5; i++ {
		s.Append(pts(float64(i))...)
	}
	assert.Equal(t, pts(3, 4, 5), s.Points())

	s.Append(pts(6, 7, 8, 9)...)
	assert.Equal(t, pts(7, 8, 9), s.Points())

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, Point{T: 9, V: 90}, last)
}

func TestPoints_IsCopy(t *testing.T) {
	t.Parallel()

	s := New(2)
	s.Append(pts(1)...)
	got := s.Points()
	got[0].V = -1

	assert.Equal(t, pts(1), s.Points())
}

func TestNoDedupNoRejection(t *testing.T) {
	t.Parallel()

	s := New(4)
	s.Append(Point{T: 1, V: 1}, Point{T: 1, V: 1}, Point{T: 0, V: math.NaN()})
	assert.Equal(t, 3, s.Len())
}

func TestReset(t *testing.T) {
	t.Parallel()

	s := New(2)
	s.Append(pts(1, 2)...)
	s.Reset()
	assert.Equal(t, 0, s.Len())
	_, ok := s.Last()
	assert.False(t, ok)
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { New(0) })
}

func TestPointJSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal([]Point{{T: 1.5, V: 2}, {T: 2, V: math.NaN()}, {T: math.Inf(1), V: 3}})
	require.NoError(t, err)
	assert.JSONEq(t, `[[1.5,2],[2,null],[null,3]]`, string(b))
}

func TestPropertyKeepsLastN(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 50).Draw(t, "capacity")
		batches := rapid.SliceOfN(rapid.IntRange(0, 20), 0, 30).Draw(t, "batches")

		s := New(capacity)
		var all []Point
		next := 0.0
		for _, n := range batches {
			batch := make([]Point, n)
			for i := range batch {
				batch[i] = Point{T: next, V: -next}
				next++
			}
			all = append(all, batch...)
			s.Append(batch...)
			require.LessOrEqual(t, s.Len(), capacity)
		}

		want := all
		if len(want) > capacity {
			want = want[len(want)-capacity:]
		}
		if len(want) == 0 {
			require.Equal(t, 0, s.Len())
			return
		}
		require.Equal(t, want, s.Points())
	})
}
