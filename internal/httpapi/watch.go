package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/invigilo/invigilo/internal/violation"
)

// watchEvent is one message on the live alert stream.
type watchEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Alert     violation.Alert `json:"alert"`
}

type watchClient struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func newWatchClient(conn *websocket.Conn) *watchClient {
	c := &watchClient{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *watchClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// trySend reports false when the client's buffer is full and it should be
// dropped. Sending to an already-closed client is a no-op.
func (c *watchClient) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *watchClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// watchHub fans emitted alerts out to the proctors watching each session.
type watchHub struct {
	mu       sync.RWMutex
	watchers map[string]map[*watchClient]bool
}

func newWatchHub() *watchHub {
	return &watchHub{watchers: make(map[string]map[*watchClient]bool)}
}

func (h *watchHub) add(sessionID string, c *watchClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.watchers[sessionID]
	if !ok {
		set = make(map[*watchClient]bool)
		h.watchers[sessionID] = set
	}
	set[c] = true
}

func (h *watchHub) remove(sessionID string, c *watchClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.watchers[sessionID]
	if !ok || !set[c] {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.watchers, sessionID)
	}
	c.close()
}

// closeSession disconnects every watcher of a stopped session.
func (h *watchHub) closeSession(sessionID string) {
	h.mu.Lock()
	set := h.watchers[sessionID]
	delete(h.watchers, sessionID)
	h.mu.Unlock()

	for c := range set {
		c.close()
	}
}

func (h *watchHub) publish(sessionID string, alerts []violation.Alert) {
	if len(alerts) == 0 {
		return
	}

	h.mu.RLock()
	clients := make([]*watchClient, 0, len(h.watchers[sessionID]))
	for c := range h.watchers[sessionID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	if len(clients) == 0 {
		return
	}

	for _, a := range alerts {
		data, err := json.Marshal(watchEvent{Type: "alert", SessionID: sessionID, Alert: a})
		if err != nil {
			log.Printf("httpapi: marshal watch event: %v", err)
			continue
		}
		for _, c := range clients {
			if !c.trySend(data) {
				// Client can't keep up, disconnect it.
				h.remove(sessionID, c)
			}
		}
	}
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if strings.TrimSpace(sessionID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	if _, err := s.sessions.Get(sessionID); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := newWatchClient(conn)
	s.watchers.add(sessionID, client)
	s.metrics.WatcherClients.Inc()
	defer func() {
		s.watchers.remove(sessionID, client)
		s.metrics.WatcherClients.Dec()
	}()

	// Watchers only listen; the read loop just detects disconnects.
	conn.SetReadLimit(4096)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
