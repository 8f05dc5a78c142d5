// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/optical_telemetry/internal/app"
	"github.com/relabs-tech/optical_telemetry/internal/config"
	"github.com/relabs-tech/optical_telemetry/internal/instrument"
	"github.com/relabs-tech/optical_telemetry/internal/logging"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the KEY=VALUE config file")
	listPorts := flag.Bool("list-ports", false, "print the serial ports the OS reports and exit")
	mock := flag.Bool("mock", false, "use the synthetic instrument instead of a serial port")
	flag.Parse()

	if *listPorts {
		ports, err := instrument.ListPorts()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to list serial ports")
		}
		if len(ports) == 0 {
			fmt.Println("no serial ports found")
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg := config.Get()
	if *mock {
		cfg.SerialDriver = config.DriverMock
	}

	if err := logging.Setup(cfg.LogLevel, cfg.LogFile); err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}
	log.Info().Str("driver", cfg.SerialDriver).Msg("starting optical-telemetry console")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunConsole(ctx, cfg, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
