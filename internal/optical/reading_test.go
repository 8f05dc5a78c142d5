// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package optical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	d := NewDecoder(5, 1024)

	tests := []struct {
		name    string
		rec     []byte
		elapsed float64
		voltage float64
	}{
		{name: "zero", rec: []byte{0x00, 0x00, 0x00, 0x00}, elapsed: 0, voltage: 0},
		{name: "full scale", rec: []byte{0x10, 0x00, 0x00, 0x04}, elapsed: 16e-4, voltage: 5.0},
		{name: "half scale", rec: []byte{0x01, 0x00, 0x00, 0x02}, elapsed: 1e-4, voltage: 2.5},
		{name: "max ticks", rec: []byte{0xff, 0xff, 0xff, 0x03}, elapsed: 65535e-4, voltage: 1023 * 5.0 / 1024},
		{name: "extra bytes ignored", rec: []byte{0x02, 0x00, 0x00, 0x01, 0xaa}, elapsed: 2e-4, voltage: 1.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := d.Decode(tt.rec)
			require.NoError(t, err)
			assert.InDelta(t, tt.elapsed, r.Elapsed, 1e-12)
			assert.InDelta(t, tt.voltage, r.Voltage, 1e-12)
		})
	}
}

func TestDecode_FullScaleExact(t *testing.T) {
	t.Parallel()

	r, err := NewDecoder(5, 1024).Decode([]byte{0x10, 0x00, 0x00, 0x04})
	require.NoError(t, err)
	assert.Equal(t, 5.0, r.Voltage)
}

func TestDecode_ShortRecord(t *testing.T) {
	t.Parallel()

	_, err := NewDecoder(5, 1024).Decode([]byte{0x01, 0x02, 0x03})
	require.ErrorIs(t, err, ErrShortRecord)

	_, err = NewDecoder(5, 1024).Decode(nil)
	require.ErrorIs(t, err, ErrShortRecord)
}

func TestDecodeBurst(t *testing.T) {
	t.Parallel()

	d := NewDecoder(5, 1024)
	var buf []byte
	for i := range 10 {
		buf = append(buf, Encode(uint16(i), uint16(i*100))...)
	}

	got, err := d.DecodeBurst(buf)
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.InDelta(t, 9e-4, got[9].Elapsed, 1e-12)
	assert.InDelta(t, 900*5.0/1024, got[9].Voltage, 1e-12)

	got, err = d.DecodeBurst(buf[:len(buf)-1])
	require.ErrorIs(t, err, ErrShortBurst)
	assert.Len(t, got, 9, "complete records before the partial one are kept")
}
