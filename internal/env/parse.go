// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package env

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Anchor is the prefix every telemetry line starts with.
const Anchor = "Time: "

// ErrNoMatch is returned when a line does not contain the telemetry template.
var ErrNoMatch = errors.New("telemetry line does not match template")

const num = `([+-]?(?:\d+(?:\.\d*)?|\.\d+)(?:[eE][+-]?\d+)?|[+-]?(?i:nan))`

var lineRE = regexp.MustCompile(
	`Time: ` + num +
		`, Humidity: ` + num + `%` +
		`, Temp: ` + num + `C` +
		`, Pressure: ` + num + `Pa` +
		`, Altitude: ` + num + `m` +
		`, Temp \(BMP\): ` + num + `C` +
		`, Light: ` + num + `lx` +
		`, \(Roll: ` + num +
		`, Pitch: ` + num +
		`, Yaw: ` + num + `\) deg`)

var fieldNames = [10]string{
	"time", "humidity", "temperature", "pressure", "altitude",
	"temp_bmp", "light", "roll", "pitch", "yaw",
}

// ParseLine extracts the ten telemetry fields from line. The template may sit
// anywhere in the line. Either all ten fields are returned or ErrNoMatch.
func ParseLine(line string) (Sample, error) {
	m := lineRE.FindStringSubmatch(line)
	if m == nil {
		return Sample{}, fmt.Errorf("%w: %q", ErrNoMatch, clip(line))
	}

	var f [10]float64
	for i, g := range m[1:] {
		v, err := parseValue(g)
		if err != nil {
			return Sample{}, fmt.Errorf("%w: field %s: %v", ErrNoMatch, fieldNames[i], err)
		}
		f[i] = v
	}
	return FromFields(f), nil
}

func parseValue(s string) (float64, error) {
	if strings.EqualFold(strings.TrimLeft(s, "+-"), "nan") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// FormatLine renders s the way the firmware prints it.
func FormatLine(s Sample) string {
	f := s.Fields()
	v := func(i int) string { return strconv.FormatFloat(f[i], 'g', -1, 64) }
	return fmt.Sprintf(
		"Time: %s, Humidity: %s%%, Temp: %sC, Pressure: %sPa, Altitude: %sm, Temp (BMP): %sC, Light: %slx, (Roll: %s, Pitch: %s, Yaw: %s) deg",
		v(0), v(1), v(2), v(3), v(4), v(5), v(6), v(7), v(8), v(9))
}

func clip(s string) string {
	const max = 64
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
