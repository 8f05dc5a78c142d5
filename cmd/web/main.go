// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/optical_telemetry/internal/app"
	"github.com/relabs-tech/optical_telemetry/internal/config"
	"github.com/relabs-tech/optical_telemetry/internal/logging"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the KEY=VALUE config file")
	flag.Parse()

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg := config.Get()

	if err := logging.Setup(cfg.LogLevel, cfg.LogFile); err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}
	log.Info().
		Str("port", cfg.SerialPort).
		Str("driver", cfg.SerialDriver).
		Msg("starting optical-telemetry monitor (web dashboard)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunWeb(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
