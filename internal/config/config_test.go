// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"io/fs"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "cfg.txt", []byte(body), 0o644))
	return fsys
}

func TestLoadFs_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFs(writeConfig(t, "# nothing set\n\n"), "cfg.txt")
	require.NoError(t, err)

	assert.Equal(t, Defaults(), cfg)
	assert.Equal(t, "/dev/ttyACM0", cfg.SerialPort)
	assert.Equal(t, 57600, cfg.SerialBaudRate)
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout())
	assert.Equal(t, time.Second, cfg.PollInterval())
	assert.Equal(t, 30000, cfg.OpticalCapacity())
	assert.Equal(t, 1024, cfg.ADCMaxCode)
	assert.Equal(t, 20, cfg.DecodeMaxAttempts)
}

func TestLoadFs_Overrides(t *testing.T) {
	t.Parallel()

	body := `
SERIAL_PORT = /dev/ttyUSB3
SERIAL_BAUD_RATE=115200
SERIAL_DRIVER=jacobsa
POLL_INTERVAL_MS=250
OPTICAL_READINGS_PER_CYCLE=10
MAX_READINGS=5
ADC_REFERENCE_VOLTAGE=3.3
ADC_MAX_CODE=4096
MQTT_BROKER=tcp://localhost:1883
LOG_LEVEL=DEBUG
`
	cfg, err := LoadFs(writeConfig(t, body), "cfg.txt")
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB3", cfg.SerialPort)
	assert.Equal(t, 115200, cfg.SerialBaudRate)
	assert.Equal(t, DriverJacobsa, cfg.SerialDriver)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, 50, cfg.OpticalCapacity())
	assert.InDelta(t, 3.3, cfg.ADCReferenceVoltage, 1e-12)
	assert.Equal(t, 4096, cfg.ADCMaxCode)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadFs_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "missing equals", body: "SERIAL_PORT\n", wantErr: "invalid config line 1"},
		{name: "unknown key", body: "COLOR=red\n", wantErr: "unknown config key"},
		{name: "bad int", body: "MAX_READINGS=lots\n", wantErr: "invalid MAX_READINGS"},
		{name: "out of range", body: "DECODE_MAX_ATTEMPTS=0\n", wantErr: "DECODE_MAX_ATTEMPTS must be 1-1000"},
		{name: "bad driver", body: "SERIAL_DRIVER=usb\n", wantErr: "SERIAL_DRIVER must be"},
		{name: "negative vref", body: "ADC_REFERENCE_VOLTAGE=-1\n", wantErr: "must be positive"},
		{name: "empty port", body: "SERIAL_PORT=\n", wantErr: "SERIAL_PORT is required"},
		{name: "backoff order", body: "RECONNECT_INITIAL_MS=900\nRECONNECT_MAX_MS=100\n", wantErr: "RECONNECT_MAX_MS"},
		{name: "mirror topics", body: "MQTT_BROKER=tcp://x:1883\nTOPIC_OPTICAL=\n", wantErr: "TOPIC_OPTICAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadFs(writeConfig(t, tt.body), "cfg.txt")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFs_MockDriverNeedsNoPort(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFs(writeConfig(t, "SERIAL_DRIVER=mock\nSERIAL_PORT=\n"), "cfg.txt")
	require.NoError(t, err)
	assert.Equal(t, DriverMock, cfg.SerialDriver)
}

func TestLoadFs_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadFs(afero.NewMemMapFs(), "nope.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
