// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package instrument

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/relabs-tech/optical_telemetry/internal/env"
	"github.com/relabs-tech/optical_telemetry/internal/optical"
	"github.com/relabs-tech/optical_telemetry/internal/orientation"
)

// mockRecordTicks is the spacing between synthetic optical records (1 ms).
const mockRecordTicks = 10

// MockPort emulates the instrument: one telemetry line followed by
// readingsPerCycle optical records, repeated forever.
type MockPort struct {
	clock    clockwork.Clock
	start    time.Time
	pose     orientation.Source
	perCycle int

	mu          sync.Mutex
	pending     []byte
	recordsLeft int
	recordIdx   int
	closed      bool
}

// NewMockPort returns a synthetic instrument.
func NewMockPort(clock clockwork.Clock, readingsPerCycle int) *MockPort {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MockPort{
		clock:    clock,
		start:    clock.Now(),
		pose:     orientation.NewMockSource(clock),
		perCycle: readingsPerCycle,
	}
}

func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errors.New("port closed")
	}
	if len(m.pending) == 0 {
		m.fill(len(p))
	}
	n := copy(p, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

func (m *MockPort) fill(room int) {
	if m.recordsLeft == 0 {
		m.pending = append(m.pending[:0], m.line()...)
		m.pending = append(m.pending, '\n')
		m.recordsLeft = m.perCycle
		return
	}

	n := room / optical.RecordSize
	if n < 1 {
		n = 1
	}
	if n > m.recordsLeft {
		n = m.recordsLeft
	}
	m.pending = m.pending[:0]
	for range n {
		// 10-bit sine around mid scale
		code := uint16(512 + 400*math.Sin(float64(m.recordIdx)/50))
		m.pending = append(m.pending, optical.Encode(mockRecordTicks, code)...)
		m.recordIdx++
	}
	m.recordsLeft -= n
}

func (m *MockPort) line() string {
	elapsed := m.clock.Since(m.start)
	sec := elapsed.Seconds()
	pose, _ := m.pose.Next()

	return env.FormatLine(env.Sample{
		Time:           float64(elapsed.Milliseconds()),
		Humidity:       round2(45 + 5*math.Sin(sec/30)),
		Temperature:    round2(21.5 + math.Sin(sec/60)),
		Pressure:       round2(101325 + 50*math.Cos(sec/45)),
		Altitude:       round2(12 - 4*math.Cos(sec/45)),
		TemperatureBMP: round2(22 + math.Sin(sec/60)),
		Light:          round2(300 + 100*math.Sin(sec/10)),
		Orientation: orientation.Pose{
			Roll:  round2(pose.Roll),
			Pitch: round2(pose.Pitch),
			Yaw:   round2(pose.Yaw),
		},
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Write discards commands; the firmware takes none.
func (m *MockPort) Write(p []byte) (int, error) {
	return len(p), nil
}

// ResetInputBuffer drops bytes that were generated but not yet read.
func (m *MockPort) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = m.pending[:0]
	return nil
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
