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

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg := config.Get()

	if err := logging.Setup(cfg.LogLevel, cfg.LogFile); err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}
	log.Info().Msg("starting optical-telemetry console (MQTT subscriber)")

	// Wait for Ctrl+C
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunConsoleMQTT(ctx, cfg, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
