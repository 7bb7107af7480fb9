package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ayusman/scanview/internal/decode"
	"github.com/ayusman/scanview/internal/session"
	"github.com/gorilla/websocket"
)

const (
	// clientBuffer is the number of results queued per client before new
	// ones are dropped for it.
	clientBuffer = 16
	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

type resultMessage struct {
	Session string         `json:"session"`
	Result  *decode.Result `json:"result"`
}

// ResultsHandler broadcasts scan results via WebSocket.
type ResultsHandler struct {
	sessionID   string
	unsubscribe func()

	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

// NewResultsHandler creates a ResultsHandler subscribed to s.
func NewResultsHandler(s *session.Session) *ResultsHandler {
	h := &ResultsHandler{
		sessionID: s.ID().String(),
		clients:   make(map[*websocket.Conn]chan []byte),
	}
	h.unsubscribe = s.Subscribe(h.broadcast)
	return h
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *ResultsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("server: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	send := make(chan []byte, clientBuffer)
	h.mu.Lock()
	h.clients[conn] = send
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Keep connection alive by reading messages
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Debug("server: websocket write failed", "error", err)
				return
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *ResultsHandler) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops receiving results from the session.
func (h *ResultsHandler) Close() {
	h.unsubscribe()
}

// broadcast queues res for every client. It runs on the decode goroutine
// and never blocks on a slow client.
func (h *ResultsHandler) broadcast(res *decode.Result) {
	msg, err := json.Marshal(resultMessage{Session: h.sessionID, Result: res})
	if err != nil {
		slog.Warn("server: could not encode result", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn, send := range h.clients {
		select {
		case send <- msg:
		default:
			slog.Debug("server: result dropped for slow client", "remote", conn.RemoteAddr())
		}
	}
}
