// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package instrument

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/optical_telemetry/internal/env"
	"github.com/relabs-tech/optical_telemetry/internal/optical"
)

const validLine = "Time: 1000, Humidity: 40.5%, Temp: 21C, Pressure: 101000Pa, Altitude: 10m, " +
	"Temp (BMP): 22C, Light: 300lx, (Roll: 1, Pitch: 2, Yaw: 3) deg"

// scriptPort returns one chunk per Read. An empty chunk, or running off the
// end of the script, behaves like a read timeout.
type scriptPort struct {
	mu       sync.Mutex
	chunks   [][]byte
	reads    int
	resets   int
	readErr  error
	closed   bool
	closeErr error
}

func newScriptPort(chunks ...[]byte) *scriptPort {
	return &scriptPort{chunks: chunks}
}

func (p *scriptPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.chunks) == 0 {
		return 0, nil
	}
	c := p.chunks[0]
	n := copy(b, c)
	if n < len(c) {
		p.chunks[0] = c[n:]
	} else {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *scriptPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *scriptPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.closeErr
}

func (p *scriptPort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	return nil
}

func testSettings() Settings {
	return Settings{
		Driver:           "script",
		Path:             "/dev/ttyTEST0",
		BaudRate:         57600,
		ReadTimeout:      time.Second,
		MaxAttempts:      20,
		ReconnectInitial: 500 * time.Millisecond,
		ReconnectMax:     2 * time.Second,
	}
}

func connected(t *testing.T, port Port) *Link {
	t.Helper()
	l := NewLink(testSettings(), func(Settings) (Port, error) { return port, nil }, clockwork.NewFakeClock())
	require.NoError(t, l.Connect())
	require.Equal(t, StateConnected, l.State())
	return l
}

func garbage() []byte {
	return []byte{0xff, 0xfe, 0x81, 0x00, '\n'}
}

func TestDecodeLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		raw    []byte
		want   string
		wantOK bool
	}{
		{name: "ascii", raw: []byte("hello\r\n"), want: "hello", wantOK: true},
		{name: "empty", raw: nil, wantOK: false},
		{name: "only newline", raw: []byte("\n"), wantOK: false},
		{name: "binary prefix with anchor", raw: append([]byte{0xf0, 0x9f}, "Time: 1\n"...), want: "Time: 1", wantOK: true},
		{name: "binary without anchor", raw: []byte{0xf0, 0x9f, 'a'}, wantOK: false},
		{name: "binary after anchor", raw: append([]byte("Time: 1"), 0xff), wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := DecodeLine(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadTelemetry_Valid(t *testing.T) {
	t.Parallel()

	l := connected(t, newScriptPort([]byte(validLine+"\r\n")))
	s, err := l.ReadTelemetry()
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, s.Time, 1e-12)
	assert.InDelta(t, 3.0, s.Orientation.Yaw, 1e-12)
}

func TestReadTelemetry_RecoversAfterAnchor(t *testing.T) {
	t.Parallel()

	raw := append([]byte{0x03, 0xc4, 0x9a, 0xff}, validLine+"\n"...)
	l := connected(t, newScriptPort(raw))
	s, err := l.ReadTelemetry()
	require.NoError(t, err)
	assert.InDelta(t, 40.5, s.Humidity, 1e-12)
}

func TestReadTelemetry_TooManyAttempts(t *testing.T) {
	t.Parallel()

	chunks := make([][]byte, 0, 21)
	for i := range 20 {
		if i%4 == 0 {
			chunks = append(chunks, []byte{0x9a, 0x00, '\n'})
		} else {
			chunks = append(chunks, garbage())
		}
	}
	chunks = append(chunks, []byte(validLine+"\n"))
	port := newScriptPort(chunks...)
	l := connected(t, port)

	_, err := l.ReadTelemetry()
	require.ErrorIs(t, err, ErrTooManyAttempts)
	assert.Equal(t, 20, port.reads, "no read after the last allowed attempt")
	assert.Len(t, port.chunks, 1, "valid line left unread")
	assert.Equal(t, StateConnected, l.State())
}

func TestReadTelemetry_CounterResetsPerCall(t *testing.T) {
	t.Parallel()

	var chunks [][]byte
	for range 2 {
		for range 19 {
			chunks = append(chunks, garbage())
		}
		chunks = append(chunks, []byte(validLine+"\n"))
	}
	l := connected(t, newScriptPort(chunks...))

	_, err := l.ReadTelemetry()
	require.NoError(t, err)
	_, err = l.ReadTelemetry()
	require.NoError(t, err)
}

func TestReadTelemetry_NoMatchIsReported(t *testing.T) {
	t.Parallel()

	port := newScriptPort([]byte("BMP280 ready\n"), []byte(validLine+"\n"))
	l := connected(t, port)

	_, err := l.ReadTelemetry()
	require.ErrorIs(t, err, env.ErrNoMatch)
	assert.Equal(t, 1, port.reads)
}

func TestReadTelemetry_SilentInstrumentDropsLink(t *testing.T) {
	t.Parallel()

	// one timed-out read, then a line that must not be reached
	port := newScriptPort(nil, []byte(validLine+"\n"))
	l := connected(t, port)

	_, err := l.ReadTelemetry()
	require.ErrorIs(t, err, ErrLinkLost)
	require.NotErrorIs(t, err, ErrTooManyAttempts)
	assert.Equal(t, 1, port.reads)
	assert.True(t, port.closed)
	assert.Equal(t, StateWaiting, l.State())
}

func TestReadTelemetry_TransportErrorDropsLink(t *testing.T) {
	t.Parallel()

	port := newScriptPort()
	port.readErr = errors.New("input/output error")

	clock := clockwork.NewFakeClock()
	opens := 0
	l := NewLink(testSettings(), func(Settings) (Port, error) {
		opens++
		return port, nil
	}, clock)
	require.NoError(t, l.Connect())

	_, err := l.ReadTelemetry()
	require.ErrorIs(t, err, ErrLinkLost)
	assert.True(t, port.closed)
	assert.Equal(t, StateWaiting, l.State())

	err = l.Connect()
	require.ErrorIs(t, err, ErrBackoff)
	assert.Equal(t, 1, opens)

	clock.Advance(500 * time.Millisecond)
	port.readErr = nil
	require.NoError(t, l.Connect())
	assert.Equal(t, 2, opens)
	assert.Equal(t, 1, l.Status().Reconnects)
}

func TestConnect_BackoffGrows(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	opens := 0
	l := NewLink(testSettings(), func(Settings) (Port, error) {
		opens++
		return nil, errors.New("no such file or directory")
	}, clock)

	start := clock.Now()
	require.Error(t, l.Connect())
	assert.Equal(t, start.Add(500*time.Millisecond), l.retryAt)

	clock.Advance(500 * time.Millisecond)
	require.Error(t, l.Connect())
	assert.Equal(t, clock.Now().Add(time.Second), l.retryAt)

	clock.Advance(time.Second)
	require.Error(t, l.Connect())
	assert.Equal(t, clock.Now().Add(2*time.Second), l.retryAt)

	clock.Advance(2 * time.Second)
	require.Error(t, l.Connect())
	assert.Equal(t, clock.Now().Add(2*time.Second), l.retryAt, "capped at ReconnectMax")

	assert.Equal(t, 4, opens)
	st := l.Status()
	assert.Equal(t, "waiting", st.State)
	assert.Contains(t, st.LastError, "no such file")
}

func TestReadBurst(t *testing.T) {
	t.Parallel()

	var burst []byte
	for i := range 5 {
		burst = append(burst, optical.Encode(uint16(i+1), 1024)...)
	}
	// split a record across reads
	port := newScriptPort(burst[:7], burst[7:])
	l := connected(t, port)

	got, err := l.ReadBurst(5, optical.NewDecoder(5, 1024))
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.InDelta(t, 5e-4, got[4].Elapsed, 1e-12)
	assert.InDelta(t, 5.0, got[4].Voltage, 1e-12)
}

func TestReadBurst_Short(t *testing.T) {
	t.Parallel()

	burst := append(optical.Encode(1, 1), optical.Encode(2, 2)[:3]...)
	l := connected(t, newScriptPort(burst))

	got, err := l.ReadBurst(3, optical.NewDecoder(5, 1024))
	require.ErrorIs(t, err, optical.ErrShortBurst)
	assert.Len(t, got, 1)
	assert.Contains(t, err.Error(), "1 of 3 records")
	assert.Equal(t, StateConnected, l.State(), "a short burst is not a transport failure")
}

func TestResetInput_DropsBufferedBytes(t *testing.T) {
	t.Parallel()

	chunk := append([]byte(validLine+"\n"), 0xaa, 0xbb)
	port := newScriptPort(chunk, optical.Encode(10, 512))
	l := connected(t, port)

	_, err := l.ReadTelemetry()
	require.NoError(t, err)
	require.NoError(t, l.ResetInput())
	assert.Equal(t, 1, port.resets)

	got, err := l.ReadBurst(1, optical.NewDecoder(5, 1024))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 2.5, got[0].Voltage, 1e-12)
}

func TestNotConnected(t *testing.T) {
	t.Parallel()

	l := NewLink(testSettings(), nil, nil)
	_, err := l.ReadTelemetry()
	require.ErrorIs(t, err, ErrLinkLost)
	_, err = l.ReadBurst(1, optical.NewDecoder(5, 1024))
	require.ErrorIs(t, err, ErrLinkLost)
	require.ErrorIs(t, l.ResetInput(), ErrLinkLost)
}

func TestMockPortThroughLink(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	open, err := OpenerFor("mock", clock)
	require.NoError(t, err)

	s := testSettings()
	s.ReadingsPerCycle = 100
	l := NewLink(s, open, clock)
	require.NoError(t, l.Connect())

	for range 3 {
		clock.Advance(time.Second)
		sample, err := l.ReadTelemetry()
		require.NoError(t, err)
		assert.Greater(t, sample.Pressure, 100000.0)

		require.NoError(t, l.ResetInput())
		burst, err := l.ReadBurst(100, optical.NewDecoder(5, 1024))
		require.NoError(t, err)
		require.Len(t, burst, 100)
		assert.InDelta(t, 1e-3, burst[0].Elapsed, 1e-12)
	}
	require.NoError(t, l.Close())
	assert.Equal(t, StateDisconnected, l.State())
}

func TestOpenerFor_Unknown(t *testing.T) {
	t.Parallel()

	_, err := OpenerFor("usb", nil)
	require.Error(t, err)
}
