// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package env

import (
	"encoding/json"
	"math"

	"github.com/rs/zerolog"

	"github.com/relabs-tech/optical_telemetry/internal/orientation"
)

// Sample represents one environmental telemetry line from the instrument.
// Fields keep the units the firmware prints; any of them may be NaN.
type Sample struct {
	Time           float64 // ms since board start
	Humidity       float64 // %
	Temperature    float64 // °C
	Pressure       float64 // Pa
	Altitude       float64 // m
	TemperatureBMP float64 // °C
	Light          float64 // lx

	Orientation orientation.Pose // deg
}

// Seconds returns the board time in seconds.
func (s Sample) Seconds() float64 {
	return s.Time * 1e-3
}

// Fields returns the ten values in wire order.
func (s Sample) Fields() [10]float64 {
	return [10]float64{
		s.Time, s.Humidity, s.Temperature, s.Pressure, s.Altitude,
		s.TemperatureBMP, s.Light,
		s.Orientation.Roll, s.Orientation.Pitch, s.Orientation.Yaw,
	}
}

// FromFields builds a Sample from values in wire order.
func FromFields(f [10]float64) Sample {
	return Sample{
		Time:           f[0],
		Humidity:       f[1],
		Temperature:    f[2],
		Pressure:       f[3],
		Altitude:       f[4],
		TemperatureBMP: f[5],
		Light:          f[6],
		Orientation:    orientation.Pose{Roll: f[7], Pitch: f[8], Yaw: f[9]},
	}
}

// MarshalZerologObject logs every field under its wire name.
func (s Sample) MarshalZerologObject(e *zerolog.Event) {
	for i, v := range s.Fields() {
		e.Float64(fieldNames[i], v)
	}
}

type sampleJSON struct {
	Time           *float64 `json:"time_ms"`
	Humidity       *float64 `json:"humidity_pct"`
	Temperature    *float64 `json:"temp_c"`
	Pressure       *float64 `json:"pressure_pa"`
	Altitude       *float64 `json:"altitude_m"`
	TemperatureBMP *float64 `json:"temp_bmp_c"`
	Light          *float64 `json:"light_lx"`
	Roll           *float64 `json:"roll"`
	Pitch          *float64 `json:"pitch"`
	Yaw            *float64 `json:"yaw"`
}

// Nullable maps NaN to nil so a value can go through encoding/json.
func Nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func orNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// MarshalJSON writes NaN fields as null.
func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal(sampleJSON{
		Time:           Nullable(s.Time),
		Humidity:       Nullable(s.Humidity),
		Temperature:    Nullable(s.Temperature),
		Pressure:       Nullable(s.Pressure),
		Altitude:       Nullable(s.Altitude),
		TemperatureBMP: Nullable(s.TemperatureBMP),
		Light:          Nullable(s.Light),
		Roll:           Nullable(s.Orientation.Roll),
		Pitch:          Nullable(s.Orientation.Pitch),
		Yaw:            Nullable(s.Orientation.Yaw),
	})
}

// UnmarshalJSON reads null or missing fields back as NaN.
func (s *Sample) UnmarshalJSON(b []byte) error {
	var raw sampleJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = Sample{
		Time:           orNaN(raw.Time),
		Humidity:       orNaN(raw.Humidity),
		Temperature:    orNaN(raw.Temperature),
		Pressure:       orNaN(raw.Pressure),
		Altitude:       orNaN(raw.Altitude),
		TemperatureBMP: orNaN(raw.TemperatureBMP),
		Light:          orNaN(raw.Light),
		Orientation: orientation.Pose{
			Roll:  orNaN(raw.Roll),
			Pitch: orNaN(raw.Pitch),
			Yaw:   orNaN(raw.Yaw),
		},
	}
	return nil
}
