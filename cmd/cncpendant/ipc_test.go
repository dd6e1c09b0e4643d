package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStatus() StatusReport {
	return StatusReport{Device: "/dev/input/js0", Gamepad: "PS3", Machine: "Shapeoko", Sink: "cncjs", SinkConnected: true, Attached: true}
}

func TestHandleIPCRequest(t *testing.T) {
	injected := make(chan Command, 1)

	resp := handleIPCRequest([]byte(`{"type":"status"}`), injected, testStatus)
	require.Equal(t, "ok", resp.Status)
	var report StatusReport
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	assert.Equal(t, testStatus(), report)

	resp = handleIPCRequest([]byte(`{"type":"command","data":{"arguments":["gcode","G0 X0"]}}`), injected, testStatus)
	require.Equal(t, "ok", resp.Status, resp.Error)
	got := <-injected
	assert.Equal(t, []string{"gcode", "G0 X0"}, got.Arguments())

	tests := []struct {
		name string
		line string
		want string
	}{
		{name: "bad json", line: `{`, want: "parse request"},
		{name: "unknown type", line: `{"type":"jog"}`, want: "unknown request type"},
		{name: "empty command", line: `{"type":"command","data":{"arguments":[]}}`, want: "no arguments"},
		{name: "bad command data", line: `{"type":"command","data":[1]}`, want: "parse command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := handleIPCRequest([]byte(tt.line), injected, testStatus)
			assert.Equal(t, "error", resp.Status)
			assert.Contains(t, resp.Error, tt.want)
		})
	}
}

func TestHandleIPCRequest_QueueFull(t *testing.T) {
	injected := make(chan Command, 1)
	injected <- Homing()
	resp := handleIPCRequest([]byte(`{"type":"command","data":{"arguments":["homing"]}}`), injected, testStatus)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "command queue full", resp.Error)
}

func TestHandleIPCRequest_RejectsCommandWhileDetached(t *testing.T) {
	injected := make(chan Command, 1)
	detached := func() StatusReport {
		r := testStatus()
		r.Attached = false
		return r
	}

	resp := handleIPCRequest([]byte(`{"type":"command","data":{"arguments":["homing"]}}`), injected, detached)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "no gamepad attached", resp.Error)
	assert.Empty(t, injected)

	resp = handleIPCRequest([]byte(`{"type":"status"}`), injected, detached)
	assert.Equal(t, "ok", resp.Status)
}

func TestIPCServer(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "p.sock")
	injected := make(chan Command, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runIPCServer(ctx, socket, injected, testStatus, discardLogger()) }()

	var conn net.Conn
	require.Eventually(t, func() bool {
		c, err := net.Dial("unix", socket)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, time.Second, 10*time.Millisecond)
	defer conn.Close()

	reader := bufio.NewReader(conn)
	roundTrip := func(line string) IPCResponse {
		t.Helper()
		_, err := conn.Write([]byte(line + "\n"))
		require.NoError(t, err)
		b, err := reader.ReadBytes('\n')
		require.NoError(t, err)
		var resp IPCResponse
		require.NoError(t, json.Unmarshal(b, &resp))
		return resp
	}

	assert.Equal(t, "ok", roundTrip(`{"type":"status"}`).Status)
	assert.Equal(t, "ok", roundTrip(`{"type":"command","data":{"arguments":["unlock"]}}`).Status)
	assert.Equal(t, "error", roundTrip(`nope`).Status)

	select {
	case cmd := <-injected:
		assert.Equal(t, []string{"unlock"}, cmd.Arguments())
	default:
		t.Fatal("command was not queued")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("IPC server did not stop")
	}
}
