// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package charts

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"strconv"

	"github.com/gocarina/gocsv"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/relabs-tech/optical_telemetry/internal/series"
)

const (
	marginLeft   = 64
	marginRight  = 12
	marginTop    = 28
	marginBottom = 36
	gridLines    = 5
	// markers are drawn when a line is sparse enough to read them
	maxMarkers = 200
)

var (
	background = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	axisColor  = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	gridColor  = color.RGBA{R: 220, G: 220, B: 220, A: 255}
)

// Render draws a snapshot as a line chart. NaN values are not drawn and
// break the line they fall on.
func Render(snap Snapshot, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{background}, image.Point{}, draw.Src)

	plot := image.Rect(marginLeft, marginTop, width-marginRight, height-marginBottom)
	if plot.Dx() < 10 || plot.Dy() < 10 {
		return img
	}

	xr, yr := bounds(snap)
	toPx := func(p series.Point) image.Point {
		x := plot.Min.X + int(math.Round((p.T-xr.lo)/(xr.hi-xr.lo)*float64(plot.Dx()-1)))
		y := plot.Max.Y - 1 - int(math.Round((p.V-yr.lo)/(yr.hi-yr.lo)*float64(plot.Dy()-1)))
		return image.Pt(x, y)
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{axisColor},
		Face: basicfont.Face7x13,
	}

	// grid and tick labels
	for i := 0; i <= gridLines; i++ {
		f := float64(i) / gridLines
		y := plot.Max.Y - 1 - int(math.Round(f*float64(plot.Dy()-1)))
		hline(img, plot.Min.X, plot.Max.X-1, y, gridColor)
		label := tickLabel(yr.lo + f*(yr.hi-yr.lo))
		drawer.Dot = fixed.P(plot.Min.X-4-drawer.MeasureString(label).Round(), y+4)
		drawer.DrawString(label)

		x := plot.Min.X + int(math.Round(f*float64(plot.Dx()-1)))
		vline(img, x, plot.Min.Y, plot.Max.Y-1, gridColor)
		label = tickLabel(xr.lo + f*(xr.hi-xr.lo))
		drawer.Dot = fixed.P(x-drawer.MeasureString(label).Round()/2, plot.Max.Y+14)
		drawer.DrawString(label)
	}
	hline(img, plot.Min.X, plot.Max.X-1, plot.Max.Y-1, axisColor)
	vline(img, plot.Min.X, plot.Min.Y, plot.Max.Y-1, axisColor)

	drawer.Dot = fixed.P((width-drawer.MeasureString(snap.Title).Round())/2, 18)
	drawer.DrawString(snap.Title)
	drawer.Dot = fixed.P((width-drawer.MeasureString(snap.XLabel).Round())/2, height-6)
	drawer.DrawString(snap.XLabel)
	drawer.Dot = fixed.P(4, marginTop-6)
	drawer.DrawString(snap.YLabel)

	for _, line := range snap.Lines {
		c := line.rgba
		var prev image.Point
		havePrev := false
		markers := len(line.Points) <= maxMarkers
		for _, p := range line.Points {
			if !finite(p.T) || !finite(p.V) {
				havePrev = false
				continue
			}
			pt := toPx(p)
			if havePrev {
				segment(img, prev, pt, c)
			}
			if markers {
				marker(img, pt, c)
			}
			prev, havePrev = pt, true
		}
	}

	// legend
	y := marginTop + 14
	for _, line := range snap.Lines {
		x := plot.Max.X - 8 - drawer.MeasureString(line.Name).Round()
		hline(img, x-18, x-4, y-4, line.rgba)
		drawer.Dot = fixed.P(x, y)
		drawer.DrawString(line.Name)
		y += 14
	}
	return img
}

// WritePNG renders a snapshot and encodes it as PNG.
func WritePNG(w io.Writer, snap Snapshot, width, height int) error {
	if err := png.Encode(w, Render(snap, width, height)); err != nil {
		return fmt.Errorf("failed to encode chart %s: %w", snap.ID, err)
	}
	return nil
}

type csvRow struct {
	Line  string  `csv:"line"`
	Time  float64 `csv:"time_s"`
	Value float64 `csv:"value"`
}

// WriteCSV exports every line of a snapshot, one row per point.
func WriteCSV(w io.Writer, snap Snapshot) error {
	rows := make([]csvRow, 0)
	for _, line := range snap.Lines {
		for _, p := range line.Points {
			rows = append(rows, csvRow{Line: line.Name, Time: p.T, Value: p.V})
		}
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("failed to export chart %s: %w", snap.ID, err)
	}
	return nil
}

type span struct{ lo, hi float64 }

// bounds returns the data range of all finite points, widened when empty or flat.
func bounds(snap Snapshot) (x, y span) {
	x = span{math.Inf(1), math.Inf(-1)}
	y = x
	for _, line := range snap.Lines {
		for _, p := range line.Points {
			if !finite(p.T) || !finite(p.V) {
				continue
			}
			x.lo, x.hi = math.Min(x.lo, p.T), math.Max(x.hi, p.T)
			y.lo, y.hi = math.Min(y.lo, p.V), math.Max(y.hi, p.V)
		}
	}
	return widen(x), widen(y)
}

func widen(s span) span {
	switch {
	case s.lo > s.hi:
		return span{0, 1}
	case s.lo == s.hi:
		return span{s.lo - 1, s.hi + 1}
	default:
		return s
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func tickLabel(v float64) string {
	return strconv.FormatFloat(v, 'g', 4, 64)
}

func hline(img *image.RGBA, x0, x1, y int, c color.RGBA) {
	for x := x0; x <= x1; x++ {
		img.SetRGBA(x, y, c)
	}
}

func vline(img *image.RGBA, x, y0, y1 int, c color.RGBA) {
	for y := y0; y <= y1; y++ {
		img.SetRGBA(x, y, c)
	}
}

func marker(img *image.RGBA, p image.Point, c color.RGBA) {
	for dy := -2; dy <= 2; dy++ {
		for dx := -2; dx <= 2; dx++ {
			if dx*dx+dy*dy <= 5 {
				img.SetRGBA(p.X+dx, p.Y+dy, c)
			}
		}
	}
}

// segment draws a line with Bresenham's algorithm.
func segment(img *image.RGBA, a, b image.Point, c color.RGBA) {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	e := dx + dy
	for {
		img.SetRGBA(a.X, a.Y, c)
		if a == b {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			a.X += sx
		}
		if e2 <= dx {
			e += dx
			a.Y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
