// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// DefaultPath is the config file the binaries look for when no -config flag is given.
const DefaultPath = "telemetry_config.txt"

// Serial drivers accepted by SERIAL_DRIVER.
const (
	DriverBugst   = "bugst"
	DriverJacobsa = "jacobsa"
	DriverMock    = "mock"
)

// Config holds all application configuration values.
type Config struct {
	// Serial link
	SerialPort          string
	SerialBaudRate      int
	SerialReadTimeoutMs int
	SerialDriver        string

	// Poll cycle
	PollIntervalMs          int
	OpticalReadingsPerCycle int
	MaxReadings             int // points kept per text chart; optical keeps MaxReadings*OpticalReadingsPerCycle
	DecodeMaxAttempts       int

	// ADC conversion
	ADCReferenceVoltage float64
	ADCMaxCode          int

	// Reconnect backoff
	ReconnectInitialMs int
	ReconnectMaxMs     int

	// Web Server
	WebServerPort int
	WebRoot       string

	// MQTT mirror (disabled when MQTTBroker is empty)
	MQTTBroker          string
	MQTTClientIDMonitor string
	MQTTClientIDConsole string
	TopicTelemetry      string
	TopicOptical        string

	// Logging
	LogLevel string
	LogFile  string
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Defaults returns the instrument constants the monitor was built around.
func Defaults() *Config {
	return &Config{
		SerialPort:              "/dev/ttyACM0",
		SerialBaudRate:          57600,
		SerialReadTimeoutMs:     3000,
		SerialDriver:            DriverBugst,
		PollIntervalMs:          1000,
		OpticalReadingsPerCycle: 1000,
		MaxReadings:             30,
		DecodeMaxAttempts:       20,
		ADCReferenceVoltage:     5,
		ADCMaxCode:              1 << 10,
		ReconnectInitialMs:      500,
		ReconnectMaxMs:          10000,
		WebServerPort:           8080,
		WebRoot:                 "web",
		MQTTClientIDMonitor:     "telemetry-monitor",
		MQTTClientIDConsole:     "telemetry-console-subscriber",
		TopicTelemetry:          "telemetry/env",
		TopicOptical:            "telemetry/optical",
		LogLevel:                "info",
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	return LoadFs(afero.NewOsFs(), configPath)
}

// LoadFs reads configPath from fsys on top of Defaults.
func LoadFs(fsys afero.Fs, configPath string) (*Config, error) {
	file, err := fsys.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefaults behaves like Load, except that a missing file at
// DefaultPath yields Defaults instead of an error. An explicitly named file
// must exist.
func LoadOrDefaults(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil && configPath == DefaultPath && errors.Is(err, fs.ErrNotExist) {
		return Defaults(), nil
	}
	return cfg, err
}

func atoiRange(key, value string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, lo, hi, v)
	}
	return v, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Serial link
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		c.SerialBaudRate, err = atoiRange(key, value, 50, 4000000)
	case "SERIAL_READ_TIMEOUT_MS":
		// jacobsa rounds the inter-character timeout to 100ms steps, 25.5s max
		c.SerialReadTimeoutMs, err = atoiRange(key, value, 100, 25500)
	case "SERIAL_DRIVER":
		switch value {
		case DriverBugst, DriverJacobsa, DriverMock:
			c.SerialDriver = value
		default:
			return fmt.Errorf("SERIAL_DRIVER must be %s, %s or %s, got %q", DriverBugst, DriverJacobsa, DriverMock, value)
		}

	// Poll cycle
	case "POLL_INTERVAL_MS":
		c.PollIntervalMs, err = atoiRange(key, value, 10, 3600000)
	case "OPTICAL_READINGS_PER_CYCLE":
		c.OpticalReadingsPerCycle, err = atoiRange(key, value, 0, 100000)
	case "MAX_READINGS":
		c.MaxReadings, err = atoiRange(key, value, 1, 100000)
	case "DECODE_MAX_ATTEMPTS":
		c.DecodeMaxAttempts, err = atoiRange(key, value, 1, 1000)

	// ADC conversion
	case "ADC_REFERENCE_VOLTAGE":
		v, perr := strconv.ParseFloat(value, 64)
		if perr != nil {
			return fmt.Errorf("invalid ADC_REFERENCE_VOLTAGE %q: %w", value, perr)
		}
		if v <= 0 {
			return fmt.Errorf("ADC_REFERENCE_VOLTAGE must be positive, got %v", v)
		}
		c.ADCReferenceVoltage = v
	case "ADC_MAX_CODE":
		c.ADCMaxCode, err = atoiRange(key, value, 1, 1<<16)

	// Reconnect backoff
	case "RECONNECT_INITIAL_MS":
		c.ReconnectInitialMs, err = atoiRange(key, value, 1, 600000)
	case "RECONNECT_MAX_MS":
		c.ReconnectMaxMs, err = atoiRange(key, value, 1, 3600000)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = atoiRange(key, value, 0, 65535)
	case "WEB_ROOT":
		c.WebRoot = value

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_MONITOR":
		c.MQTTClientIDMonitor = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "TOPIC_TELEMETRY":
		c.TopicTelemetry = value
	case "TOPIC_OPTICAL":
		c.TopicOptical = value

	// Logging
	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)
	case "LOG_FILE":
		c.LogFile = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks cross-field constraints.
func (c *Config) validate() error {
	if c.SerialDriver != DriverMock && c.SerialPort == "" {
		return fmt.Errorf("SERIAL_PORT is required")
	}
	if c.ReconnectMaxMs < c.ReconnectInitialMs {
		return fmt.Errorf("RECONNECT_MAX_MS (%d) must not be below RECONNECT_INITIAL_MS (%d)",
			c.ReconnectMaxMs, c.ReconnectInitialMs)
	}
	if c.MQTTBroker != "" && (c.TopicTelemetry == "" || c.TopicOptical == "") {
		return fmt.Errorf("TOPIC_TELEMETRY and TOPIC_OPTICAL are required when MQTT_BROKER is set")
	}
	return nil
}

// PollInterval returns the tick period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// ReadTimeout returns the serial read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.SerialReadTimeoutMs) * time.Millisecond
}

// OpticalCapacity is the number of optical points kept on the voltage chart.
func (c *Config) OpticalCapacity() int {
	n := c.MaxReadings * c.OpticalReadingsPerCycle
	if n < 1 {
		return 1
	}
	return n
}

// InitGlobal initializes the global configuration from file.
// Only the first call has any effect.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = LoadOrDefaults(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
