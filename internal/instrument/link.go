// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package instrument

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/relabs-tech/optical_telemetry/internal/env"
	"github.com/relabs-tech/optical_telemetry/internal/logging"
	"github.com/relabs-tech/optical_telemetry/internal/optical"
)

var (
	// ErrTooManyAttempts is terminal: the instrument keeps sending bytes that
	// cannot be decoded and needs an operator.
	ErrTooManyAttempts = errors.New("too many attempts")
	// ErrLinkLost wraps transport failures. The port has been closed and will
	// be reopened after the backoff delay.
	ErrLinkLost = errors.New("serial link lost")
	// ErrBackoff is returned by Connect while waiting out a reconnect delay.
	ErrBackoff = errors.New("serial link waiting to reconnect")
)

// State of the link.
type State int

const (
	// StateDisconnected: no port has been opened yet, or it was closed.
	StateDisconnected State = iota
	// StateConnected: the port is open and readable.
	StateConnected
	// StateWaiting: the port was dropped and a reopen is scheduled.
	StateWaiting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateWaiting:
		return "waiting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is a point-in-time view of the link.
type Status struct {
	State      string    `json:"state"`
	Path       string    `json:"path"`
	Driver     string    `json:"driver"`
	Reconnects int       `json:"reconnects"`
	RetryAt    time.Time `json:"retry_at,omitzero"`
	LastError  string    `json:"last_error,omitempty"`
}

// Link is the single owned connection to the instrument. It is not safe for
// concurrent use; the poller is its only user.
type Link struct {
	settings Settings
	open     Opener
	clock    clockwork.Clock
	backoff  *backoff.ExponentialBackOff
	log      zerolog.Logger

	port  Port
	br    *bufio.Reader
	state State

	retryAt    time.Time
	lastErr    error
	reconnects int
}

// NewLink creates a disconnected link. Nothing is opened until Connect.
func NewLink(s Settings, open Opener, clock clockwork.Clock) *Link {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if s.MaxAttempts < 1 {
		s.MaxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.ReconnectInitial
	b.MaxInterval = s.ReconnectMax
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	b.Reset()

	return &Link{
		settings: s,
		open:     open,
		clock:    clock,
		backoff:  b,
		log:      logging.Component("instrument"),
	}
}

// State returns the current link state.
func (l *Link) State() State { return l.state }

// Status summarizes the link for the dashboard.
func (l *Link) Status() Status {
	st := Status{
		State:      l.state.String(),
		Path:       l.settings.Path,
		Driver:     l.settings.Driver,
		Reconnects: l.reconnects,
	}
	if l.state == StateWaiting {
		st.RetryAt = l.retryAt
	}
	if l.lastErr != nil {
		st.LastError = l.lastErr.Error()
	}
	return st
}

// Connect opens the port unless it is already open. While a reconnect delay
// is pending it returns ErrBackoff without touching the device.
func (l *Link) Connect() error {
	switch l.state {
	case StateConnected:
		return nil
	case StateWaiting:
		if now := l.clock.Now(); now.Before(l.retryAt) {
			return fmt.Errorf("%w for %s", ErrBackoff, l.retryAt.Sub(now).Round(time.Millisecond))
		}
	case StateDisconnected:
	}

	port, err := l.open(l.settings)
	if err != nil {
		l.wait(err)
		return fmt.Errorf("open %s: %w", l.settings.Path, err)
	}

	if l.lastErr != nil {
		l.reconnects++
	}
	l.port = port
	l.br = bufio.NewReader(timeoutReader{r: port})
	l.state = StateConnected
	l.backoff.Reset()
	l.log.Info().
		Str("path", l.settings.Path).
		Int("baud", l.settings.BaudRate).
		Str("driver", l.settings.Driver).
		Msg("serial port opened")
	return nil
}

func (l *Link) wait(err error) {
	l.lastErr = err
	delay := l.backoff.NextBackOff()
	l.retryAt = l.clock.Now().Add(delay)
	l.state = StateWaiting
	l.log.Warn().Err(err).Dur("retry_in", delay).Msg("serial link unavailable")
}

// Drop closes the port after a transport failure and schedules a reconnect.
func (l *Link) Drop(cause error) {
	l.closePort()
	l.wait(cause)
}

func (l *Link) fail(err error) error {
	l.Drop(err)
	return fmt.Errorf("%w: %w", ErrLinkLost, err)
}

func (l *Link) closePort() {
	if l.port != nil {
		if err := l.port.Close(); err != nil {
			l.log.Warn().Err(err).Msg("failed to close serial port")
		}
	}
	l.port = nil
	l.br = nil
}

// Close releases the port. The link can be reconnected afterwards.
func (l *Link) Close() error {
	var err error
	if l.port != nil {
		err = l.port.Close()
	}
	l.port = nil
	l.br = nil
	l.state = StateDisconnected
	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

// DecodeLine turns raw line bytes into text. Pure ASCII is used as is;
// otherwise everything from the first Anchor on is used if that part is
// ASCII. ok is false when nothing usable is left.
func DecodeLine(raw []byte) (line string, ok bool) {
	raw = bytes.TrimRight(raw, "\r\n")
	if len(raw) == 0 {
		return "", false
	}
	if isASCII(raw) {
		return string(raw), true
	}
	if i := bytes.Index(raw, []byte(env.Anchor)); i >= 0 && isASCII(raw[i:]) {
		return string(raw[i:]), true
	}
	return "", false
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c > 0x7f {
			return false
		}
	}
	return true
}

// ReadTelemetry reads lines until one decodes, then parses it. Each call
// allows MaxAttempts undecodable reads (binary garbage or a partial line)
// before failing with ErrTooManyAttempts. A read that times out with no
// bytes at all means the instrument went silent: the link is dropped and
// ErrLinkLost returned. A decoded line that does not match the template is
// returned as env.ErrNoMatch.
func (l *Link) ReadTelemetry() (env.Sample, error) {
	if l.state != StateConnected {
		return env.Sample{}, fmt.Errorf("%w: not connected", ErrLinkLost)
	}

	attempts := 0
	for {
		raw, err := l.br.ReadBytes('\n')
		if err != nil && !errors.Is(err, errReadTimeout) {
			return env.Sample{}, l.fail(err)
		}
		if len(raw) == 0 {
			return env.Sample{}, l.fail(fmt.Errorf("no telemetry line within %s: %w", l.settings.ReadTimeout, errReadTimeout))
		}

		if line, ok := DecodeLine(raw); ok {
			return env.ParseLine(line)
		}

		attempts++
		l.log.Debug().Int("attempt", attempts).Int("bytes", len(raw)).Msg("undecodable telemetry line")
		if attempts >= l.settings.MaxAttempts {
			return env.Sample{}, fmt.Errorf("%w: %d undecodable reads", ErrTooManyAttempts, attempts)
		}
	}
}

// ResetInput discards input received so far, both locally buffered bytes
// and, where the driver supports it, the OS buffer.
func (l *Link) ResetInput() error {
	if l.state != StateConnected {
		return fmt.Errorf("%w: not connected", ErrLinkLost)
	}
	if r, ok := l.port.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return l.fail(fmt.Errorf("reset input buffer: %w", err))
		}
	}
	l.br.Reset(timeoutReader{r: l.port})
	return nil
}

// ReadBurst reads n optical records. If the instrument stops sending midway
// the complete records read so far are returned with optical.ErrShortBurst.
func (l *Link) ReadBurst(n int, dec optical.Decoder) ([]optical.Reading, error) {
	if l.state != StateConnected {
		return nil, fmt.Errorf("%w: not connected", ErrLinkLost)
	}
	if n <= 0 {
		return nil, nil
	}

	buf := make([]byte, n*optical.RecordSize)
	got, err := io.ReadFull(l.br, buf)
	readings, _ := dec.DecodeBurst(buf[:got-got%optical.RecordSize])

	switch {
	case err == nil:
		return readings, nil
	case errors.Is(err, errReadTimeout), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return readings, fmt.Errorf("%w: %d of %d records", optical.ErrShortBurst, len(readings), n)
	default:
		return nil, l.fail(err)
	}
}
