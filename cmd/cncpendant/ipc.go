package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Protocol: line-delimited JSON.
//   - {"type":"status"}
//       -> {"status":"ok","data":StatusReport}
//   - {"type":"command","data":{"arguments":["gcode","G0 X0"]}}
//       -> {"status":"ok"}; the command is emitted on the next tick.
//          Rejected while no gamepad is attached.
//   - errors -> {"status":"error","error":"msg"}
// ============================================================================

// errNotAttached rejects commands that no control loop would emit.
var errNotAttached = errors.New("no gamepad attached")

// IPC request types
const (
	ipcStatus  = "status"
	ipcCommand = "command"
)

// IPCRequest is one client request line.
type IPCRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ipcCommandData is the payload of a command request.
type ipcCommandData struct {
	Arguments []string `json:"arguments"`
}

// IPCResponse is sent back for every request line.
type IPCResponse struct {
	Status string          `json:"status"`          // "ok" or "error"
	Error  string          `json:"error,omitempty"` // set when status is "error"
	Data   json.RawMessage `json:"data,omitempty"`
}

// runIPCServer serves the socket until ctx is canceled. Commands are queued on
// injected without blocking.
func runIPCServer(ctx context.Context, socketPath string, injected chan<- Command, status func() StatusReport, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	// Only the owning user may drive the machine.
	if err := os.Chmod(socketPath, 0o600); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}
		go handleIPCConnection(conn, injected, status, logger)
	}
}

func handleIPCConnection(conn net.Conn, injected chan<- Command, status func() StatusReport, logger *slog.Logger) {
	defer conn.Close()
	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		resp := handleIPCRequest([]byte(line), injected, status)
		if resp.Status != "ok" {
			logger.Debug("IPC request failed", "line", line, "error", resp.Error)
		}
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}
}

func handleIPCRequest(line []byte, injected chan<- Command, status func() StatusReport) IPCResponse {
	fail := func(format string, args ...any) IPCResponse {
		return IPCResponse{Status: "error", Error: fmt.Sprintf(format, args...)}
	}

	var req IPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return fail("parse request: %v", err)
	}

	switch req.Type {
	case ipcStatus:
		data, err := json.Marshal(status())
		if err != nil {
			return fail("encode status: %v", err)
		}
		return IPCResponse{Status: "ok", Data: data}

	case ipcCommand:
		var cd ipcCommandData
		if err := json.Unmarshal(req.Data, &cd); err != nil {
			return fail("parse command: %v", err)
		}
		if len(cd.Arguments) == 0 {
			return fail("%v", ErrEmptyCommand)
		}
		if !status().Attached {
			return fail("%v", errNotAttached)
		}
		select {
		case injected <- NewCommand(cd.Arguments...):
			return IPCResponse{Status: "ok"}
		default:
			return fail("command queue full")
		}

	default:
		return fail("unknown request type %q", req.Type)
	}
}
