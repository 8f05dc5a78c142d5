// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package poller drives the fixed-interval read cycle: one telemetry line,
// an input reset, one optical burst, then the chart update.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/relabs-tech/optical_telemetry/internal/charts"
	"github.com/relabs-tech/optical_telemetry/internal/env"
	"github.com/relabs-tech/optical_telemetry/internal/instrument"
	"github.com/relabs-tech/optical_telemetry/internal/logging"
	"github.com/relabs-tech/optical_telemetry/internal/optical"
	"github.com/relabs-tech/optical_telemetry/internal/series"
)

// Instrument is the read side of the serial link. *instrument.Link
// implements it.
type Instrument interface {
	Connect() error
	ReadTelemetry() (env.Sample, error)
	ResetInput() error
	ReadBurst(n int, dec optical.Decoder) ([]optical.Reading, error)
	Status() instrument.Status
}

// Options configure a Poller.
type Options struct {
	Interval         time.Duration
	ReadingsPerCycle int
	Decoder          optical.Decoder
	Clock            clockwork.Clock
}

// Tick describes one finished cycle.
type Tick struct {
	Seq         uint64      `json:"seq"`
	At          time.Time   `json:"at"`
	Skipped     bool        `json:"skipped"`
	Parsed      bool        `json:"parsed"`
	Sample      *env.Sample `json:"sample,omitempty"`
	Readings    int         `json:"readings"`
	ShortBurst  bool        `json:"short_burst"`
	OpticalTime float64     `json:"optical_time_s"`
	MeanTime    float64     `json:"mean_time_s"`
	MeanVoltage float64     `json:"mean_voltage_v"`
	Error       string      `json:"error,omitempty"`
}

// Stats are running counters since start.
type Stats struct {
	Cycles        uint64            `json:"cycles"`
	Samples       uint64            `json:"samples"`
	ParseFailures uint64            `json:"parse_failures"`
	ShortBursts   uint64            `json:"short_bursts"`
	Skipped       uint64            `json:"skipped"`
	Readings      uint64            `json:"readings"`
	OpticalTime   float64           `json:"optical_time_s"`
	LastTick      time.Time         `json:"last_tick,omitzero"`
	Link          instrument.Status `json:"link"`
}

// Poller owns the cycle. Cycle and Run must not be called concurrently;
// Stats is safe from any goroutine.
type Poller struct {
	link  Instrument
	board *charts.Board
	opts  Options
	log   zerolog.Logger

	listeners []func(Tick)

	mu    sync.Mutex
	stats Stats
}

// New creates a poller writing into board.
func New(link Instrument, board *charts.Board, opts Options) *Poller {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	return &Poller{
		link:  link,
		board: board,
		opts:  opts,
		log:   logging.Component("poller"),
	}
}

// OnTick registers fn to be called after every cycle, on the poll
// goroutine. fn must not block. Register before Run.
func (p *Poller) OnTick(fn func(Tick)) {
	p.listeners = append(p.listeners, fn)
}

// Stats returns a copy of the counters.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Run polls every Interval until ctx is done. It returns nil on
// cancellation and instrument.ErrTooManyAttempts if the instrument stops
// producing decodable lines.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.opts.Clock.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.log.Info().
		Dur("interval", p.opts.Interval).
		Int("readings_per_cycle", p.opts.ReadingsPerCycle).
		Msg("poll loop started")

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("poll loop stopped")
			return nil
		case <-ticker.Chan():
			if _, err := p.Cycle(); err != nil {
				return err
			}
		}
	}
}

// Cycle runs one read cycle. Only instrument.ErrTooManyAttempts is returned
// as an error; every other failure is logged, counted and reported in the
// Tick.
func (p *Poller) Cycle() (Tick, error) {
	tick := Tick{At: p.opts.Clock.Now()}

	if err := p.link.Connect(); err != nil {
		tick.Skipped = true
		tick.Error = err.Error()
		p.log.Debug().Err(err).Msg("cycle skipped, link unavailable")
		return p.finish(tick), nil
	}

	sample, err := p.link.ReadTelemetry()
	switch {
	case err == nil:
		tick.Parsed = true
		tick.Sample = &sample
		p.board.AppendTelemetry(sample.Seconds(), sample)
	case errors.Is(err, env.ErrNoMatch):
		tick.Error = err.Error()
		p.mu.Lock()
		p.stats.ParseFailures++
		p.mu.Unlock()
		p.log.Warn().Err(err).Msg("telemetry line did not match")
	case errors.Is(err, instrument.ErrTooManyAttempts):
		tick.Error = err.Error()
		tick = p.finish(tick)
		p.log.Error().Err(err).Msg("instrument is not producing readable telemetry")
		return tick, fmt.Errorf("telemetry read failed: %w", err)
	default:
		return p.lost(tick, err), nil
	}

	if err := p.link.ResetInput(); err != nil {
		return p.lost(tick, err), nil
	}

	readings, err := p.link.ReadBurst(p.opts.ReadingsPerCycle, p.opts.Decoder)
	switch {
	case err == nil:
	case errors.Is(err, optical.ErrShortBurst):
		tick.ShortBurst = true
		tick.Error = err.Error()
		p.log.Warn().Err(err).Msg("optical burst incomplete, keeping complete records")
	default:
		return p.lost(tick, err), nil
	}

	p.appendOptical(&tick, readings)
	p.board.MarkTick()
	tick = p.finish(tick)

	ev := p.log.Info().
		Uint64("tick", tick.Seq).
		Int("readings", tick.Readings).
		Float64("mean_time_s", tick.MeanTime).
		Float64("mean_voltage_v", tick.MeanVoltage)
	if tick.Sample != nil {
		ev = ev.Object("sample", tick.Sample)
	}
	ev.Msg("poll cycle")
	return tick, nil
}

// appendOptical places the burst on the optical timeline. Each record carries
// the delta since the previous one, so time keeps accumulating across cycles.
func (p *Poller) appendOptical(tick *Tick, readings []optical.Reading) {
	p.mu.Lock()
	t := p.stats.OpticalTime
	p.mu.Unlock()

	points := make([]series.Point, len(readings))
	var sumT, sumV float64
	for i, r := range readings {
		t += r.Elapsed
		points[i] = series.Point{T: t, V: r.Voltage}
		sumT += t
		sumV += r.Voltage
	}
	p.board.AppendOptical(points)

	tick.Readings = len(readings)
	tick.OpticalTime = t
	if n := float64(len(readings)); n > 0 {
		tick.MeanTime = sumT / n
		tick.MeanVoltage = sumV / n
	}
}

func (p *Poller) lost(tick Tick, err error) Tick {
	tick.Skipped = true
	tick.Error = err.Error()
	p.log.Warn().Err(err).Msg("cycle aborted, serial link lost")
	return p.finish(tick)
}

func (p *Poller) finish(tick Tick) Tick {
	status := p.link.Status()

	p.mu.Lock()
	p.stats.Cycles++
	tick.Seq = p.stats.Cycles
	if tick.Parsed {
		p.stats.Samples++
	}
	if tick.Skipped {
		p.stats.Skipped++
	}
	if tick.ShortBurst {
		p.stats.ShortBursts++
	}
	if tick.Readings > 0 {
		p.stats.Readings += uint64(tick.Readings)
		p.stats.OpticalTime = tick.OpticalTime
	}
	p.stats.LastTick = tick.At
	p.stats.Link = status
	p.mu.Unlock()

	for _, fn := range p.listeners {
		fn(tick)
	}
	return tick
}
