// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/optical_telemetry/internal/charts"
	"github.com/relabs-tech/optical_telemetry/internal/config"
	"github.com/relabs-tech/optical_telemetry/internal/instrument"
	"github.com/relabs-tech/optical_telemetry/internal/optical"
	"github.com/relabs-tech/optical_telemetry/internal/poller"
)

const shutdownTimeout = 5 * time.Second

// Monitor is the serial link, the chart board and the poller built from
// one config.
type Monitor struct {
	Link   *instrument.Link
	Board  *charts.Board
	Poller *poller.Poller
}

// NewMonitor builds a monitor. Nothing is opened until the poller runs.
func NewMonitor(cfg *config.Config, clock clockwork.Clock) (*Monitor, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	open, err := instrument.OpenerFor(cfg.SerialDriver, clock)
	if err != nil {
		return nil, err
	}

	link := instrument.NewLink(instrument.SettingsFromConfig(cfg), open, clock)
	board := charts.NewBoard(cfg.MaxReadings, cfg.OpticalCapacity())
	p := poller.New(link, board, poller.Options{
		Interval:         cfg.PollInterval(),
		ReadingsPerCycle: cfg.OpticalReadingsPerCycle,
		Decoder:          optical.NewDecoder(cfg.ADCReferenceVoltage, cfg.ADCMaxCode),
		Clock:            clock,
	})
	return &Monitor{Link: link, Board: board, Poller: p}, nil
}

// Close releases the serial port.
func (m *Monitor) Close() {
	if err := m.Link.Close(); err != nil {
		log.Warn().Err(err).Msg("serial close error")
	}
}

// RunWeb runs the poller, the dashboard and, when a broker is configured,
// the MQTT mirror until ctx is done or the poller fails.
func RunWeb(ctx context.Context, cfg *config.Config) error {
	mon, err := NewMonitor(cfg, nil)
	if err != nil {
		return err
	}
	defer mon.Close()

	hub := NewHub(mon.Board)
	mon.Poller.OnTick(hub.PublishTick)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MQTTBroker != "" {
		mirror, client, err := ConnectMirror(cfg)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		log.Info().Str("broker", cfg.MQTTBroker).Msg("connected to MQTT, mirroring telemetry")
		mon.Poller.OnTick(mirror.PublishTick)
		g.Go(func() error { return mirror.Run(gctx) })
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           NewServer(mon.Board, mon.Poller, hub, cfg.WebRoot, nil).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		return mon.Poller.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("web_root", cfg.WebRoot).Msg("web server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hub.Close()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}

// RunConsole runs the poller without a dashboard and prints one line per
// tick to out.
func RunConsole(ctx context.Context, cfg *config.Config, out io.Writer) error {
	mon, err := NewMonitor(cfg, nil)
	if err != nil {
		return err
	}
	defer mon.Close()

	mon.Poller.OnTick(func(t poller.Tick) {
		fmt.Fprintln(out, FormatTick(t))
	})
	return mon.Poller.Run(ctx)
}

// FormatTick renders a tick as one console line.
func FormatTick(t poller.Tick) string {
	if t.Skipped {
		return fmt.Sprintf("[TICK %4d] skipped: %s", t.Seq, t.Error)
	}

	env := "no telemetry"
	if s := t.Sample; s != nil {
		env = fmt.Sprintf(
			"t=%8.3fs HUM=%5.1f%% T=%5.2fC P=%9.1fPa ALT=%6.1fm TBMP=%5.2fC LUX=%6.1f ROLL=%6.2f PITCH=%6.2f YAW=%6.2f",
			s.Seconds(), s.Humidity, s.Temperature, s.Pressure, s.Altitude,
			s.TemperatureBMP, s.Light, s.Orientation.Roll, s.Orientation.Pitch, s.Orientation.Yaw,
		)
	}
	line := fmt.Sprintf("[TICK %4d] %s | PD n=%d avg_t=%.4fs avg_v=%.3fV",
		t.Seq, env, t.Readings, t.MeanTime, t.MeanVoltage)
	if t.ShortBurst {
		line += " (short burst)"
	}
	return line
}
