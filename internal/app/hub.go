// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/posture_monitor/internal/alert"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the monitor is served on the local network only
	},
}

// HUDMessage tells clients to show or hide the posture overlay.
type HUDMessage struct {
	Type    string `json:"type"`
	Visible bool   `json:"visible"`
}

// AlertMessage is the in-app notification for a fired alert.
type AlertMessage struct {
	Type            string `json:"type"`
	ID              string `json:"id"`
	Title           string `json:"title"`
	Body            string `json:"body"`
	DurationSeconds int64  `json:"durationSeconds"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans JSON messages out to every connected live-view client.
type Hub struct {
	broadcast chan []byte

	mu      sync.RWMutex
	clients map[*client]bool
	stopped bool
}

func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan []byte, 64),
		clients:   make(map[*client]bool),
	}
}

// Run dispatches messages until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.stopped = true
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*client
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range slow {
				log.Printf("ws: send buffer full for %s, dropping client", c.id)
				h.remove(c)
			}
		}
	}
}

// add registers c and reports false once the hub has stopped.
func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("ws: client %s connected (%d total)", c.id, n)
	return true
}

func (h *Hub) isStopped() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stopped
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		log.Printf("ws: client %s disconnected (%d left)", c.id, len(h.clients))
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast marshals v and queues it for every client. Messages are
// dropped when the hub is backed up.
func (h *Hub) Broadcast(v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		log.Printf("ws: marshal broadcast: %v", err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		log.Printf("ws: broadcast queue full, message dropped")
	}
}

// SetHUD broadcasts an overlay change. It is used as the alert
// monitor's OnHUD callback.
func (h *Hub) SetHUD(visible bool) {
	h.Broadcast(HUDMessage{Type: "hud", Visible: visible})
}

// Notify implements alert.Notifier as an in-app notification.
func (h *Hub) Notify(_ context.Context, a alert.Alert) error {
	h.Broadcast(AlertMessage{
		Type:            "alert",
		ID:              a.ID,
		Title:           "Bad posture",
		Body:            "Keep your head and neck in a neutral position.",
		DurationSeconds: int64(a.Duration.Round(time.Second) / time.Second),
	})
	return nil
}

// ServeWS upgrades the request and registers the connection. Clients
// are refused with 503 after the hub has stopped.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.isStopped() {
		http.Error(w, "live view stopped", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade error: %v", err)
		return
	}
	c := &client{
		id:   uuid.NewString()[:8],
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
	}
	if !h.add(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "live view stopped"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump only handles control frames; live clients never send data.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: read error for %s: %v", c.id, err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
