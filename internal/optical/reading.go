// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package optical

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// RecordSize is the wire size of one photodiode record.
const RecordSize = 4

// TickSeconds is the duration of one elapsed-time tick (100 µs).
const TickSeconds = 1e-4

var (
	// ErrShortRecord is returned when fewer than RecordSize bytes are given.
	ErrShortRecord = errors.New("optical record too short")
	// ErrShortBurst is returned when a burst could not be read in full.
	ErrShortBurst = errors.New("optical burst incomplete")
)

// Reading is one decoded photodiode record.
type Reading struct {
	Elapsed float64 `json:"elapsed_s"` // seconds since the previous record
	Voltage float64 `json:"voltage_v"`
}

// Decoder converts raw ADC records into readings.
type Decoder struct {
	ReferenceVoltage float64
	MaxCode          int
}

// NewDecoder returns a Decoder for an ADC with the given reference and
// full-scale code (1024 for a 10-bit converter).
func NewDecoder(referenceVoltage float64, maxCode int) Decoder {
	return Decoder{ReferenceVoltage: referenceVoltage, MaxCode: maxCode}
}

// Decode reads one record: uint16 LE tick count, then uint16 LE ADC code.
// Bytes past RecordSize are ignored.
func (d Decoder) Decode(rec []byte) (Reading, error) {
	if len(rec) < RecordSize {
		return Reading{}, fmt.Errorf("%w: got %d bytes", ErrShortRecord, len(rec))
	}
	ticks := binary.LittleEndian.Uint16(rec[0:2])
	code := binary.LittleEndian.Uint16(rec[2:4])

	return Reading{
		Elapsed: float64(ticks) * TickSeconds,
		Voltage: float64(code) * d.ReferenceVoltage / float64(d.MaxCode),
	}, nil
}

// DecodeBurst decodes consecutive records from buf. A trailing partial record
// is reported with ErrShortBurst after the complete ones.
func (d Decoder) DecodeBurst(buf []byte) ([]Reading, error) {
	out := make([]Reading, 0, len(buf)/RecordSize)
	for off := 0; off+RecordSize <= len(buf); off += RecordSize {
		r, err := d.Decode(buf[off : off+RecordSize])
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	if rem := len(buf) % RecordSize; rem != 0 {
		return out, fmt.Errorf("%w: %d trailing bytes", ErrShortBurst, rem)
	}
	return out, nil
}

// Encode is the inverse of Decode for a raw tick count and ADC code.
func Encode(ticks, code uint16) []byte {
	b := make([]byte, RecordSize)
	binary.LittleEndian.PutUint16(b[0:2], ticks)
	binary.LittleEndian.PutUint16(b[2:4], code)
	return b
}
