package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Telemetry WebSocket: hub + per-client pumps
// ============================================================================
// Diagnostics clients connect to /ws and receive:
//   - "status" with a StatusReport right after connecting
//   - one envelope per input event and per emitted command (events.go)
//
// Each client has its own bounded send queue. A client whose queue is full
// is disconnected so it never slows the input pump.
// ============================================================================

const (
	telemetryWriteWait  = 5 * time.Second
	telemetryPongWait   = 30 * time.Second
	telemetryPingPeriod = 20 * time.Second
)

// Hub tracks connected telemetry clients and fans out frames to them.
type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

// HubConfig sizes the hub queues. Zero values use defaults.
type HubConfig struct {
	SendBuf      int // per-client queue
	BroadcastBuf int // hub inbound queue
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = 64
	}
	if cfg.BroadcastBuf <= 0 {
		cfg.BroadcastBuf = 256
	}
	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, cfg.BroadcastBuf),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		clients:    make(map[*Client]struct{}),
		sendBuf:    cfg.SendBuf,
	}
}

// Run processes registrations and broadcasts until ctx is canceled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("telemetry client connected", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.remove(c, "closed")

		case msg := <-h.broadcast:
			var slow []*Client
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.remove(c, "slow client")
			}
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

func (h *Hub) remove(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
		h.logger.Info("telemetry client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

// Broadcast queues a frame for every client. It never blocks; frames are
// dropped when the hub queue is full.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Debug("telemetry queue full, dropping frame", "bytes", len(msg))
	}
}

// OnInputEvent makes the hub an InputObserver: every event is broadcast as
// an envelope.
func (h *Hub) OnInputEvent(ev InputEvent) {
	msg, err := MarshalInputEvent(ev, time.Now())
	if err != nil {
		h.logger.Warn("telemetry marshal failed", "error", err)
		return
	}
	h.Broadcast(msg)
}

// Client is one telemetry websocket connection.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	logger     *slog.Logger
	closeOnce  sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, hub.sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

// close shuts the connection and the send queue once.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(telemetryPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(telemetryWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("write", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(telemetryWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("ping", err)
				return
			}
		}
	}
}

// readPump discards client frames; it exists to process control frames and
// notice disconnects.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(telemetryPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(telemetryPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("read", err)
			c.hub.unregister <- c
			return
		}
	}
}

func (c *Client) logExit(op string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.logger.Debug("telemetry client closed", "remote_addr", c.remoteAddr, "code", ce.Code, "reason", ce.Text)
		return
	}
	c.logger.Debug("telemetry pump exiting", "remote_addr", c.remoteAddr, "op", op, "error", err)
}

var telemetryUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveTelemetry upgrades the request, sends the initial status and registers
// the client with the hub.
func serveTelemetry(hub *Hub, status func() StatusReport, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := telemetryUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("telemetry upgrade failed", "error", err)
			return
		}

		client := newClient(hub, conn, r.RemoteAddr, logger)
		if status != nil {
			if msg, err := marshalStatusEnvelope(status(), time.Now()); err == nil {
				client.send <- msg
			}
		}
		hub.register <- client

		// The pumps outlive the handler; the hub and connection errors end them.
		go client.writePump()
		go client.readPump()
	}
}

func marshalStatusEnvelope(report StatusReport, at time.Time) ([]byte, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}
	return json.Marshal(EventEnvelope{Type: "status", Ts: at.UTC(), Data: data})
}
