// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package charts holds the rolling series behind every chart window and the
// per-window visibility state, keyed by chart ID.
package charts

import (
	"errors"
	"fmt"
	"image/color"
	"sync"

	"github.com/relabs-tech/optical_telemetry/internal/env"
	"github.com/relabs-tech/optical_telemetry/internal/series"
)

// ID identifies a chart window.
type ID string

const (
	Temperature ID = "temperature"
	Optical     ID = "optical"
	Orientation ID = "orientation"
	Humidity    ID = "humidity"
	Pressure    ID = "pressure"
	Altitude    ID = "altitude"
	Light       ID = "light"
)

// ErrUnknownChart is returned for IDs that are not on the board.
var ErrUnknownChart = errors.New("unknown chart")

// LineSpec describes one plotted line.
type LineSpec struct {
	Name  string
	Color color.RGBA
}

// Spec describes one chart window.
type Spec struct {
	ID     ID
	Button string // toggle label
	Title  string
	YLabel string
	XLabel string
	Lines  []LineSpec
}

var (
	red    = color.RGBA{R: 255, A: 255}
	blue   = color.RGBA{B: 255, A: 255}
	green  = color.RGBA{G: 255, A: 255}
	yellow = color.RGBA{R: 255, G: 255, A: 255}
)

func single(id ID, button, name, unit string) Spec {
	return Spec{
		ID:     id,
		Button: button,
		Title:  name + " vs Time",
		YLabel: fmt.Sprintf("%s (%s)", name, unit),
		XLabel: "Time (sec)",
		Lines:  []LineSpec{{Name: name, Color: red}},
	}
}

// DefaultSpecs returns the chart windows in toggle order.
func DefaultSpecs() []Spec {
	return []Spec{
		{
			ID:     Temperature,
			Button: "Temperature vs. Time",
			Title:  "Temperature vs Time",
			YLabel: "Temperature (°C)",
			XLabel: "Time (sec)",
			Lines: []LineSpec{
				{Name: "Temperature Sensor", Color: red},
				{Name: "Temperature Sensor (BMP)", Color: blue},
			},
		},
		{
			ID:     Optical,
			Button: "Voltage vs. Time",
			Title:  "Voltage from photodiode vs Time",
			YLabel: "Voltage (V)",
			XLabel: "Time (s)",
			Lines:  []LineSpec{{Name: "Optical Power Reading", Color: yellow}},
		},
		{
			ID:     Orientation,
			Button: "Orientation vs time",
			Title:  "Rotation vs Time",
			YLabel: "Rotation (º)",
			XLabel: "Time (sec)",
			Lines: []LineSpec{
				{Name: "roll", Color: red},
				{Name: "pitch", Color: blue},
				{Name: "yaw", Color: green},
			},
		},
		single(Humidity, "Humidity vs. Time", "humidity", "%"),
		single(Pressure, "Pressure vs. Time", "pressure", "Pa"),
		single(Altitude, "Altitude vs. Time", "altitude", "m"),
		single(Light, "Light vs. Time", "light", "lx"),
	}
}

// window is the state of one chart window.
type window struct {
	spec    Spec
	lines   []*series.Series
	visible bool
}

// Board owns every chart window. Writers are the poll loop, readers are the
// dashboard handlers; all access goes through the board's lock.
type Board struct {
	mu      sync.RWMutex
	order   []ID
	windows map[ID]*window
	ticks   uint64
}

// NewBoard builds the default windows. Text charts keep textCapacity points
// per line, the optical chart keeps opticalCapacity. All windows start hidden.
func NewBoard(textCapacity, opticalCapacity int) *Board {
	b := &Board{windows: make(map[ID]*window)}
	for _, spec := range DefaultSpecs() {
		capacity := textCapacity
		if spec.ID == Optical {
			capacity = opticalCapacity
		}
		w := &window{spec: spec}
		for range spec.Lines {
			w.lines = append(w.lines, series.New(capacity))
		}
		b.order = append(b.order, spec.ID)
		b.windows[spec.ID] = w
	}
	return b
}

// AppendTelemetry adds one sample at time t (seconds) to every text chart.
func (b *Board) AppendTelemetry(t float64, s env.Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	add := func(id ID, values ...float64) {
		w := b.windows[id]
		for i, v := range values {
			w.lines[i].Append(series.Point{T: t, V: v})
		}
	}
	add(Temperature, s.Temperature, s.TemperatureBMP)
	add(Orientation, s.Orientation.Roll, s.Orientation.Pitch, s.Orientation.Yaw)
	add(Humidity, s.Humidity)
	add(Pressure, s.Pressure)
	add(Altitude, s.Altitude)
	add(Light, s.Light)
}

// AppendOptical adds one burst worth of points to the optical chart.
func (b *Board) AppendOptical(points []series.Point) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.windows[Optical].lines[0].Append(points...)
}

// MarkTick records that a poll cycle finished and returns its number.
func (b *Board) MarkTick() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ticks++
	return b.ticks
}

// Ticks returns the number of finished poll cycles.
func (b *Board) Ticks() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ticks
}

// IDs returns the chart IDs in toggle order.
func (b *Board) IDs() []ID {
	return append([]ID(nil), b.order...)
}

// Toggle flips a window's visibility and returns the new state.
func (b *Board) Toggle(id ID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.windows[id]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownChart, id)
	}
	w.visible = !w.visible
	return w.visible, nil
}

// SetVisible shows or hides a window.
func (b *Board) SetVisible(id ID, visible bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.windows[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChart, id)
	}
	w.visible = visible
	return nil
}

// Summary is the light view of a window used by the toggle panel.
type Summary struct {
	ID      ID     `json:"id"`
	Button  string `json:"button"`
	Title   string `json:"title"`
	Visible bool   `json:"visible"`
	Points  int    `json:"points"`
}

// List returns summaries in toggle order.
func (b *Board) List() []Summary {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Summary, 0, len(b.order))
	for _, id := range b.order {
		w := b.windows[id]
		out = append(out, Summary{
			ID:      id,
			Button:  w.spec.Button,
			Title:   w.spec.Title,
			Visible: w.visible,
			Points:  w.lines[0].Len(),
		})
	}
	return out
}

// LineSnapshot is a copy of one line's points.
type LineSnapshot struct {
	Name   string         `json:"name"`
	Color  string         `json:"color"`
	Points []series.Point `json:"points"`

	rgba color.RGBA
}

// Snapshot is a copy of one window, safe to use without the board lock.
type Snapshot struct {
	ID       ID             `json:"id"`
	Title    string         `json:"title"`
	YLabel   string         `json:"y_label"`
	XLabel   string         `json:"x_label"`
	Visible  bool           `json:"visible"`
	Capacity int            `json:"capacity"`
	Lines    []LineSnapshot `json:"lines"`
}

// Snapshot copies the window with the given ID.
func (b *Board) Snapshot(id ID) (Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	w, ok := b.windows[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownChart, id)
	}

	snap := Snapshot{
		ID:       id,
		Title:    w.spec.Title,
		YLabel:   w.spec.YLabel,
		XLabel:   w.spec.XLabel,
		Visible:  w.visible,
		Capacity: w.lines[0].Cap(),
	}
	for i, ls := range w.spec.Lines {
		snap.Lines = append(snap.Lines, LineSnapshot{
			Name:   ls.Name,
			Color:  fmt.Sprintf("#%02x%02x%02x", ls.Color.R, ls.Color.G, ls.Color.B),
			Points: w.lines[i].Points(),
			rgba:   ls.Color,
		})
	}
	return snap, nil
}
