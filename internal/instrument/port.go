// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package instrument owns the serial link to the microcontroller and the
// read side of its wire protocol.
package instrument

import (
	"errors"
	"fmt"
	"io"
	"time"

	jserial "github.com/jacobsa/go-serial/serial"
	"github.com/jonboulle/clockwork"
	bugst "go.bug.st/serial"

	"github.com/relabs-tech/optical_telemetry/internal/config"
)

// Port is the byte stream to the instrument. Reads must return within the
// configured read timeout, with n == 0 when nothing arrived.
type Port interface {
	io.ReadWriteCloser
}

// inputResetter is implemented by ports that can flush pending input.
type inputResetter interface {
	ResetInputBuffer() error
}

// Settings are the connection parameters of the link.
type Settings struct {
	Driver      string
	Path        string
	BaudRate    int
	ReadTimeout time.Duration

	// MaxAttempts bounds undecodable reads per telemetry line.
	MaxAttempts int

	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	// ReadingsPerCycle is only used by the mock driver to shape its bursts.
	ReadingsPerCycle int
}

// SettingsFromConfig maps the application config onto link settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Driver:           cfg.SerialDriver,
		Path:             cfg.SerialPort,
		BaudRate:         cfg.SerialBaudRate,
		ReadTimeout:      cfg.ReadTimeout(),
		MaxAttempts:      cfg.DecodeMaxAttempts,
		ReconnectInitial: time.Duration(cfg.ReconnectInitialMs) * time.Millisecond,
		ReconnectMax:     time.Duration(cfg.ReconnectMaxMs) * time.Millisecond,
		ReadingsPerCycle: cfg.OpticalReadingsPerCycle,
	}
}

// Opener opens a port for the given settings.
type Opener func(s Settings) (Port, error)

// OpenerFor returns the opener of a configured driver. The clock only
// matters for the mock driver.
func OpenerFor(driver string, clock clockwork.Clock) (Opener, error) {
	switch driver {
	case config.DriverBugst, "":
		return OpenBugst, nil
	case config.DriverJacobsa:
		return OpenJacobsa, nil
	case config.DriverMock:
		return func(s Settings) (Port, error) {
			return NewMockPort(clock, s.ReadingsPerCycle), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown serial driver %q", driver)
	}
}

// OpenBugst opens the port with go.bug.st/serial, which supports input
// buffer resets between the telemetry line and the optical burst.
func OpenBugst(s Settings) (Port, error) {
	port, err := bugst.Open(s.Path, &bugst.Mode{
		BaudRate: s.BaudRate,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	if err := port.SetReadTimeout(s.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on serial port: %w", err)
	}
	return port, nil
}

// OpenJacobsa opens the port with github.com/jacobsa/go-serial. It cannot
// flush the kernel input buffer; only locally buffered bytes are dropped.
func OpenJacobsa(s Settings) (Port, error) {
	port, err := jserial.Open(jserial.OpenOptions{
		PortName:              s.Path,
		BaudRate:              uint(s.BaudRate),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            jserial.PARITY_NONE,
		InterCharacterTimeout: uint(s.ReadTimeout.Milliseconds()),
		MinimumReadSize:       0,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return port, nil
}

// ListPorts returns the serial ports the OS reports.
func ListPorts() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports list: %w", err)
	}
	return ports, nil
}

// errReadTimeout marks a read that returned no bytes.
var errReadTimeout = errors.New("serial read timed out")

// timeoutReader turns empty reads into errReadTimeout so bufio and
// io.ReadFull stop instead of spinning.
type timeoutReader struct {
	r io.Reader
}

func (t timeoutReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n == 0 && (err == nil || errors.Is(err, io.EOF)) {
		return 0, errReadTimeout
	}
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}
