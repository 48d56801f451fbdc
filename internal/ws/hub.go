// Package ws is the parent dashboard channel: a websocket hub that pushes
// approval requests and lock events to connected dashboards and routes
// their responses back into the approval workflow.
package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard may be served from a different origin on the LAN.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// envelope is the wire format for outbound messages.
type envelope struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

// ErrNoClients is returned by Broadcast when no dashboard is connected.
var ErrNoClients = errors.New("no dashboard clients connected")

// Hub manages dashboard connections.
type Hub struct {
	mu      sync.RWMutex
	conns   map[*conn]bool
	handler *CommandHandler
	log     *zap.Logger
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
	hub  *Hub
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		conns: make(map[*conn]bool),
		log:   log,
	}
}

// SetCommandHandler wires inbound dashboard commands to the workflow.
func (h *Hub) SetCommandHandler(handler *CommandHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// ClientCount returns the number of connected dashboards.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast sends a typed message to every connected dashboard. Returns
// ErrNoClients when nobody is listening so the caller can take its
// fallback dispatch path.
func (h *Hub) Broadcast(msgType string, data map[string]any) error {
	msg, err := json.Marshal(envelope{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.conns) == 0 {
		return ErrNoClients
	}
	for c := range h.conns {
		select {
		case c.send <- msg:
		default:
			// Slow client; drop the message rather than block the
			// workflow.
			h.log.Warn("dropping message to slow dashboard client",
				zap.String("type", msgType))
		}
	}
	return nil
}

// ServeHTTP upgrades a dashboard connection and runs its pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &conn{ws: wsConn, send: make(chan []byte, sendBuffer), hub: h}

	h.mu.Lock()
	h.conns[c] = true
	n := len(h.conns)
	h.mu.Unlock()
	h.log.Info("dashboard connected", zap.Int("clients", n))

	go c.writePump()
	go c.readPump()
}

func (h *Hub) drop(c *conn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		close(c.send)
	}
	n := len(h.conns)
	h.mu.Unlock()
	h.log.Info("dashboard disconnected", zap.Int("clients", n))
}

func (c *conn) readPump() {
	defer func() {
		c.hub.drop(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(64 * 1024)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var cmd map[string]any
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.hub.log.Warn("bad dashboard command", zap.Error(err))
			continue
		}

		c.hub.mu.RLock()
		handler := c.hub.handler
		c.hub.mu.RUnlock()
		if handler != nil {
			handler.Handle(c, cmd)
		}
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply sends a direct response to one connection.
func (c *conn) reply(v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}
