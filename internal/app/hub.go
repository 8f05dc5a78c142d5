// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/relabs-tech/optical_telemetry/internal/charts"
	"github.com/relabs-tech/optical_telemetry/internal/logging"
	"github.com/relabs-tech/optical_telemetry/internal/poller"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsSendBuffer   = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard is served on the local network
	},
}

// WSMessage is sent by the browser.
type WSMessage struct {
	Action string    `json:"action"` // toggle, show, hide
	Chart  charts.ID `json:"chart"`
}

// WSEvent is pushed to the browser.
type WSEvent struct {
	Type    string           `json:"type"` // tick, state, error
	Tick    *poller.Tick     `json:"tick,omitempty"`
	Charts  []charts.Summary `json:"charts,omitempty"`
	Message string           `json:"message,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan WSEvent
}

// Hub fans poll ticks and window state out to websocket clients and applies
// their toggle requests to the board.
type Hub struct {
	board *charts.Board
	log   zerolog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewHub creates a hub for board.
func NewHub(board *charts.Board) *Hub {
	return &Hub{
		board:   board,
		log:     logging.Component("ws"),
		clients: make(map[*wsClient]struct{}),
	}
}

// PublishTick is a poller listener.
func (h *Hub) PublishTick(t poller.Tick) {
	h.Broadcast(WSEvent{Type: "tick", Tick: &t})
}

// Broadcast queues ev for every client. Slow clients miss events rather than
// stall the caller.
func (h *Hub) Broadcast(ev WSEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.log.Debug().Str("remote", c.conn.RemoteAddr().String()).Msg("client too slow, event dropped")
		}
	}
}

// sendTo queues ev for c alone. It reports false once c has been
// unregistered, since its queue is closed by then.
func (h *Hub) sendTo(c *wsClient, ev WSEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// BroadcastState pushes the current window list.
func (h *Hub) BroadcastState() {
	h.Broadcast(WSEvent{Type: "state", Charts: h.board.List()})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and runs the client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade error")
		return
	}

	c := &wsClient{conn: conn, send: make(chan WSEvent, wsSendBuffer)}
	c.send <- WSEvent{Type: "state", Charts: h.board.List()}
	if !h.register(c) {
		conn.Close()
		return
	}
	h.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("websocket client connected")

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.writeLoop(c)
	}()

	h.readLoop(c)
	h.unregister(c)
	h.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("websocket client disconnected")
}

func (h *Hub) readLoop(c *wsClient) {
	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				h.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		if err := h.apply(msg); err != nil {
			h.sendTo(c, WSEvent{Type: "error", Message: err.Error()})
			continue
		}
		h.BroadcastState()
	}
}

func (h *Hub) apply(msg WSMessage) error {
	switch msg.Action {
	case "toggle":
		_, err := h.board.Toggle(msg.Chart)
		return err
	case "show":
		return h.board.SetVisible(msg.Chart, true)
	case "hide":
		return h.board.SetVisible(msg.Chart, false)
	default:
		return errors.New("unknown action " + msg.Action)
	}
}

// writeLoop drains the client's queue until it is closed, then closes the
// connection, which also ends readLoop.
func (h *Hub) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteJSON(ev); err != nil {
			h.log.Debug().Err(err).Msg("websocket write error")
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(time.Second))
}

func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every client and waits for their writers to finish.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.wg.Wait()
}
