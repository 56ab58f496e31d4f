package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/chartfeed/chartfeed/pkg/realtime"
)

const (
	wsWriteDeadline = 10 * time.Second
	wsBufferSize    = 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
}

// invalidationHub fans cache-invalidation hints out to connected clients.
type invalidationHub struct {
	clients map[*websocket.Conn]bool
	mu      sync.Mutex
	log     *logrus.Entry
}

func newInvalidationHub(log *logrus.Logger) *invalidationHub {
	return &invalidationHub{
		clients: make(map[*websocket.Conn]bool),
		log:     log.WithField("component", "invalidation-hub"),
	}
}

// handleWS upgrades the connection and parks it until the client goes away.
func (h *invalidationHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.log.WithField("clients", count).Info("invalidation client connected")

	// Drain reads so pings/closes are processed; clients never send data.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *invalidationHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if h.clients[conn] {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mu.Unlock()
}

// broadcast pushes one invalidation to every connected client.
func (h *invalidationHub) broadcast(inv realtime.Invalidation) {
	msg, err := json.Marshal(inv)
	if err != nil {
		h.log.WithError(err).Error("failed to encode invalidation")
		return
	}

	h.mu.Lock()
	var failed []*websocket.Conn
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			failed = append(failed, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range failed {
		h.drop(conn)
	}
}

// closeAll terminates every client connection on shutdown.
func (h *invalidationHub) closeAll(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
