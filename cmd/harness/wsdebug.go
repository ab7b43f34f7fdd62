package main

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"rejourney-engine/internal/telemetry"
)

// debugEventHub fans out serialized telemetry records to connected /debug/events
// websocket clients, purely for manual observation of a running harness session —
// it is never on the path between a recorder and the dispatcher.
type debugEventHub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*debugEventClient]struct{}
}

type debugEventClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newDebugEventHub(logger *slog.Logger) *debugEventHub {
	return &debugEventHub{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   logger,
		clients:  make(map[*debugEventClient]struct{}),
	}
}

// attach subscribes the hub to pipeline and returns an unsubscribe func the
// caller should run at shutdown.
func (h *debugEventHub) attach(pipeline *telemetry.Pipeline) func() {
	return pipeline.Subscribe(h.broadcast)
}

func (h *debugEventHub) broadcast(record []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- record:
		default:
			// slow debug viewer; drop rather than block recording.
		}
	}
}

func (h *debugEventHub) register(c *debugEventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *debugEventHub) unregister(c *debugEventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP upgrades the request to a websocket and streams every telemetry
// record enqueued from this point on as a text frame, until the client
// disconnects. There is no inbound protocol; the read pump exists only to
// detect disconnects.
func (h *debugEventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("harness: debug websocket upgrade failed", "error", err)
		return
	}

	c := &debugEventClient{conn: conn, send: make(chan []byte, 32)}
	h.register(c)
	h.logger.Info("harness: debug event viewer connected", "remote", r.RemoteAddr)

	go func() {
		defer h.unregister(c)
		defer conn.Close()
		for msg := range c.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.unregister(c)
			return
		}
	}
}
