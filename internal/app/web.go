// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/relabs-tech/optical_telemetry/internal/charts"
	"github.com/relabs-tech/optical_telemetry/internal/logging"
	"github.com/relabs-tech/optical_telemetry/internal/poller"
)

const (
	defaultPNGWidth  = 800
	defaultPNGHeight = 450
	maxPNGSide       = 2000
	minPNGSide       = 100
)

// StatsSource reports poll counters. *poller.Poller implements it.
type StatsSource interface {
	Stats() poller.Stats
}

// Server is the dashboard: chart data, rendered charts, toggles and live
// updates over a websocket.
type Server struct {
	board   *charts.Board
	stats   StatsSource
	hub     *Hub
	webRoot string
	clock   clockwork.Clock
	started time.Time
	log     zerolog.Logger
}

// NewServer wires the dashboard handlers. webRoot may be empty to disable
// static files.
func NewServer(board *charts.Board, stats StatsSource, hub *Hub, webRoot string, clock clockwork.Clock) *Server {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Server{
		board:   board,
		stats:   stats,
		hub:     hub,
		webRoot: webRoot,
		clock:   clock,
		started: clock.Now(),
		log:     logging.Component("web"),
	}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NoCache)
		r.Get("/status", s.handleStatus)
		r.Get("/charts", s.handleCharts)
		r.Get("/charts/{id}", s.handleChart)
		r.Post("/charts/{id}/toggle", s.handleToggle)
	})

	r.Get("/ws", s.hub.ServeWS)

	if s.webRoot != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.webRoot)))
	}
	return r
}

type statusResponse struct {
	Uptime    float64      `json:"uptime_s"`
	Ticks     uint64       `json:"ticks"`
	WSClients int          `json:"ws_clients"`
	Poller    poller.Stats `json:"poller"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, statusResponse{
		Uptime:    s.clock.Since(s.started).Seconds(),
		Ticks:     s.board.Ticks(),
		WSClients: s.hub.Clients(),
		Poller:    s.stats.Stats(),
	})
}

func (s *Server) handleCharts(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.board.List())
}

// handleChart serves /api/charts/{id}, {id}.png and {id}.csv.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "id")
	ext := path.Ext(name)
	id := charts.ID(strings.TrimSuffix(name, ext))

	snap, err := s.board.Snapshot(id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	switch ext {
	case "", ".json":
		s.writeJSON(w, http.StatusOK, snap)
	case ".png":
		width := sizeParam(r, "w", defaultPNGWidth)
		height := sizeParam(r, "h", defaultPNGHeight)
		w.Header().Set("Content-Type", "image/png")
		if err := charts.WritePNG(w, snap, width, height); err != nil {
			s.log.Warn().Err(err).Msg("png write error")
		}
	case ".csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", string(id)+".csv"))
		if err := charts.WriteCSV(w, snap); err != nil {
			s.log.Warn().Err(err).Msg("csv write error")
		}
	default:
		http.Error(w, "unsupported format "+ext, http.StatusNotFound)
	}
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	id := charts.ID(chi.URLParam(r, "id"))
	visible, err := s.board.Toggle(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.hub.BroadcastState()
	s.writeJSON(w, http.StatusOK, map[string]any{"id": id, "visible": visible})
}

func sizeParam(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return min(max(v, minPNGSide), maxPNGSide)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("json encode error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, charts.ErrUnknownChart) {
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
