package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned when a sink is asked to emit while its link is down.
var ErrNotConnected = errors.New("not connected")

// CommandSink delivers synthesized commands to a machine.
type CommandSink interface {
	Emit(ctx context.Context, cmd Command) error
	Connected() bool
	Close() error
}

// CNCjsOptions configures a CNCjsClient.
type CNCjsOptions struct {
	Address        string // host:port
	Token          string
	Port           string // machine serial port on the CNCjs host
	Baudrate       int
	ControllerType string
	ReconnectDelay time.Duration
	WriteTimeout   time.Duration
}

// CNCjsClient is a Socket.IO client for a CNCjs server. Run keeps a session
// open, reconnecting forever; Emit forwards commands over the live session.
type CNCjsClient struct {
	opts   CNCjsOptions
	url    string
	logger *slog.Logger
	dialer websocket.Dialer

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn

	connected atomic.Bool
	closed    atomic.Bool

	// onEvent, if set, is called for every server event (debug listener, tests).
	onEvent func(event string, args []json.RawMessage)
}

// NewCNCjsClient creates a client. No connection is made until Run.
func NewCNCjsClient(opts CNCjsOptions, logger *slog.Logger) *CNCjsClient {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &CNCjsClient{
		opts:   opts,
		url:    SocketIOURL(opts.Address, opts.Token),
		logger: logger,
		dialer: websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout},
	}
}

// Run connects and serves sessions until ctx is canceled. Connection failures
// and dropped sessions are retried after ReconnectDelay.
func (c *CNCjsClient) Run(ctx context.Context) error {
	c.logger.Info("connecting to CNCjs", "address", c.opts.Address, "port", c.opts.Port)
	for {
		if c.closed.Load() {
			return nil
		}
		err := c.session(ctx)
		if ctx.Err() != nil || c.closed.Load() {
			return nil
		}
		c.logger.Warn("CNCjs session ended; retrying", "error", err, "delay", c.opts.ReconnectDelay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

// session runs one websocket connection until it fails or ctx is canceled.
func (c *CNCjsClient) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	sessCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.connected.Store(false)
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()

	// Closing the connection unblocks ReadMessage on shutdown.
	go func() {
		<-sessCtx.Done()
		_ = conn.Close()
	}()

	pingStarted := false
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		p, err := DecodePacket(frame)
		if err != nil {
			c.logger.Debug("ignoring CNCjs frame", "error", err)
			continue
		}

		switch p.Kind {
		case PacketOpen:
			if !pingStarted {
				pingStarted = true
				go c.pingLoop(sessCtx, conn, p.Handshake.PingEvery())
			}

		case PacketPing:
			if err := c.write(conn, EncodePong(p.Data)); err != nil {
				return err
			}

		case PacketConnect:
			if p.Namespace != "" && p.Namespace != "/" {
				continue
			}
			c.connected.Store(true)
			c.logger.Info("CNCjs reported connection")
			if err := c.openPort(conn); err != nil {
				return err
			}

		case PacketDisconnect:
			c.logger.Info("CNCjs reported disconnection")
			return errors.New("server disconnected")

		case PacketClose:
			return errors.New("server closed the session")

		case PacketError:
			return fmt.Errorf("server error: %s", p.Data)

		case PacketEvent:
			c.handleEvent(p)
		}
	}
}

// openPort asks CNCjs to open the machine serial port for this session.
func (c *CNCjsClient) openPort(conn *websocket.Conn) error {
	frame, err := EncodeEvent("open", c.opts.Port, map[string]any{
		"baudrate":       c.opts.Baudrate,
		"controllerType": c.opts.ControllerType,
	})
	if err != nil {
		return err
	}
	return c.write(conn, frame)
}

func (c *CNCjsClient) handleEvent(p Packet) {
	switch p.Event {
	case "serialport:read", "serialport:write":
		if len(p.Args) > 0 {
			var line string
			if json.Unmarshal(p.Args[0], &line) == nil {
				c.logger.Debug(p.Event, "data", line)
			}
		}
	case "serialport:error":
		c.logger.Warn("CNCjs serial port error", "args", rawArgs(p.Args))
	default:
		c.logger.Log(context.Background(), LevelTrace, "CNCjs event", "event", p.Event)
	}
	if c.onEvent != nil {
		c.onEvent(p.Event, p.Args)
	}
}

func (c *CNCjsClient) pingLoop(ctx context.Context, conn *websocket.Conn, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(conn, framePing); err != nil {
				c.logger.Debug("CNCjs ping failed", "error", err)
				return
			}
		}
	}
}

// write sends one text frame on conn.
func (c *CNCjsClient) write(conn *websocket.Conn, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Emit sends cmd as a "command" event for the configured port.
func (c *CNCjsClient) Emit(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.connected.Load() {
		return ErrNotConnected
	}

	args := make([]any, 0, cmd.Len()+1)
	args = append(args, c.opts.Port)
	for _, a := range cmd.Arguments() {
		args = append(args, a)
	}
	frame, err := EncodeEvent("command", args...)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := c.write(conn, frame); err != nil {
		// The read loop notices the broken connection and reconnects.
		_ = conn.Close()
		return err
	}
	return nil
}

// Connected reports whether the Socket.IO namespace is connected.
func (c *CNCjsClient) Connected() bool {
	return c.connected.Load()
}

// Close ends the current session and stops Run from reconnecting.
func (c *CNCjsClient) Close() error {
	c.closed.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.TextMessage, []byte{eioClose})
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func rawArgs(args []json.RawMessage) string {
	b, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(b)
}
