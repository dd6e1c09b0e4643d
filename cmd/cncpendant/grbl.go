package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
)

// ErrUnsupportedCommand is returned when a sink cannot express a command.
var ErrUnsupportedCommand = errors.New("unsupported command")

// grblSoftReset is GRBL's realtime reset byte (ctrl-x).
const grblSoftReset = 0x18

const grblReadTimeout = 100 * time.Millisecond

// grblHangupReads is how many consecutive empty reads returning well before
// grblReadTimeout mean the line was hung up.
const grblHangupReads = 5

var errGrblHangup = errors.New("serial line hung up")

// GrblLine translates a command into the bytes GRBL expects on its serial line.
func GrblLine(cmd Command) ([]byte, error) {
	args := cmd.Arguments()
	switch cmd.Kind() {
	case CommandGCode:
		if len(args) != 2 || strings.TrimSpace(args[1]) == "" {
			return nil, fmt.Errorf("%w: gcode needs one line, got %s", ErrUnsupportedCommand, cmd)
		}
		return []byte(strings.TrimRight(args[1], "\r\n") + "\n"), nil
	case CommandHoming:
		return []byte("$H\n"), nil
	case CommandUnlock:
		return []byte("$X\n"), nil
	case CommandReset:
		return []byte{grblSoftReset}, nil
	case "":
		return nil, ErrEmptyCommand
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCommand, cmd)
	}
}

// portOpener opens the controller's serial device.
type portOpener func(device string, baud int) (io.ReadWriteCloser, error)

func openSerialPort(device string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: grblReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", device, err)
	}
	return port, nil
}

// GrblOptions configures a GrblSink.
type GrblOptions struct {
	Device         string
	Baud           int
	ReconnectDelay time.Duration
}

// GrblSink writes commands straight to a GRBL controller over USB serial.
type GrblSink struct {
	opts   GrblOptions
	logger *slog.Logger
	open   portOpener

	mu   sync.Mutex // guards port and serializes writes
	port io.ReadWriteCloser

	connected atomic.Bool
	closed    atomic.Bool
}

// NewGrblSink creates a sink. The port is opened by Run.
func NewGrblSink(opts GrblOptions, logger *slog.Logger) *GrblSink {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	return &GrblSink{opts: opts, logger: logger, open: openSerialPort}
}

// Run keeps the serial port open until ctx is canceled, reopening it after
// ReconnectDelay whenever it fails.
func (g *GrblSink) Run(ctx context.Context) error {
	g.logger.Info("opening GRBL serial port", "device", g.opts.Device, "baud", g.opts.Baud)
	for {
		if g.closed.Load() {
			return nil
		}
		err := g.session(ctx)
		if ctx.Err() != nil || g.closed.Load() {
			return nil
		}
		g.logger.Warn("GRBL serial port lost; retrying", "error", err, "delay", g.opts.ReconnectDelay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(g.opts.ReconnectDelay):
		}
	}
}

func (g *GrblSink) session(ctx context.Context) error {
	port, err := g.open(g.opts.Device, g.opts.Baud)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.port = port
	g.mu.Unlock()

	sessCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		g.connected.Store(false)
		g.mu.Lock()
		if g.port == port {
			g.port = nil
		}
		g.mu.Unlock()
		_ = port.Close()
	}()
	go func() {
		<-sessCtx.Done()
		_ = port.Close()
	}()

	// Wake the controller; it answers with its banner.
	if _, err := port.Write([]byte("\r\n\r\n")); err != nil {
		return fmt.Errorf("wake controller: %w", err)
	}
	g.connected.Store(true)
	g.logger.Info("GRBL serial port open", "device", g.opts.Device)

	return g.readResponses(sessCtx, port)
}

// readResponses logs controller output line by line. A read timeout shows up
// as io.EOF and is not an error. A hung-up line also returns io.EOF, but
// immediately; a run of those ends the session.
func (g *GrblSink) readResponses(ctx context.Context, port io.Reader) error {
	buf := make([]byte, 256)
	var pending []byte
	fastEOFs := 0
	for {
		start := time.Now()
		n, err := port.Read(buf)
		if n == 0 && errors.Is(err, io.EOF) && time.Since(start) < grblReadTimeout/2 {
			fastEOFs++
			if fastEOFs >= grblHangupReads {
				return errGrblHangup
			}
		} else {
			fastEOFs = 0
		}
		pending = append(pending, buf[:n]...)
		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			g.logResponse(strings.TrimSpace(string(pending[:i])))
			pending = pending[i+1:]
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read: %w", err)
		}
	}
}

func (g *GrblSink) logResponse(line string) {
	switch {
	case line == "":
	case line == "ok":
		g.logger.Log(context.Background(), LevelTrace, "GRBL ok")
	case strings.HasPrefix(line, "error:"), strings.HasPrefix(line, "ALARM:"):
		g.logger.Warn("GRBL reported a problem", "response", line)
	default:
		g.logger.Debug("GRBL", "response", line)
	}
}

// Emit writes cmd to the controller.
func (g *GrblSink) Emit(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := GrblLine(cmd)
	if err != nil {
		return err
	}
	if !g.connected.Load() {
		return ErrNotConnected
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.port == nil {
		return ErrNotConnected
	}
	if _, err := g.port.Write(line); err != nil {
		_ = g.port.Close()
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Connected reports whether the serial port is open.
func (g *GrblSink) Connected() bool {
	return g.connected.Load()
}

// Close closes the port and stops Run from reopening it.
func (g *GrblSink) Close() error {
	g.closed.Store(true)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.port != nil {
		err := g.port.Close()
		g.port = nil
		return err
	}
	return nil
}
