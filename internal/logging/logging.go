// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup points the global logger at a human readable console writer on
// stderr, plus a rotating file when logFile is set. Extra writers are
// appended as-is (tests use this to capture output).
func Setup(level, logFile string, writers ...io.Writer) error {
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	logWriters := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}}
	if logFile != "" {
		logWriters = append(logWriters, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    1,
			MaxBackups: 2,
		})
	}
	logWriters = append(logWriters, writers...)

	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(io.MultiWriter(logWriters...)).
		With().Timestamp().Logger()

	return nil
}

// Component returns a child of the global logger tagged with name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
