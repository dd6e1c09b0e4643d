package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"
)

// ============================================================================
// pendant-ctl - Command-line IPC Client
// ============================================================================
// Talks to a running cncpendant over its Unix socket.
//
// Usage:
//   pendant-ctl status
//   pendant-ctl send gcode "G0 X0 Y0"
//   pendant-ctl home
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/cncpendant.sock)
// ============================================================================

// Request/response types (duplicated from the daemon for a standalone binary)
type request struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type commandData struct {
	Arguments []string `json:"arguments"`
}

type response struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

const ioTimeout = 3 * time.Second

func main() {
	socketPath := "/tmp/cncpendant.sock"

	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "-socket" || args[0] == "--socket") {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var req request
	switch args[0] {
	case "status":
		req = request{Type: "status"}

	case "send":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: send requires command arguments\n")
			os.Exit(1)
		}
		req = request{Type: "command", Data: commandData{Arguments: args[1:]}}

	case "home":
		req = request{Type: "command", Data: commandData{Arguments: []string{"homing"}}}

	case "unlock":
		req = request{Type: "command", Data: commandData{Arguments: []string{"unlock"}}}

	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	resp, err := roundTrip(socketPath, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if len(resp.Data) == 0 {
		fmt.Println("ok")
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, resp.Data, "", "  "); err != nil {
		fmt.Println(string(resp.Data))
		return
	}
	fmt.Println(pretty.String())
}

func roundTrip(socketPath string, req request) (response, error) {
	conn, err := net.DialTimeout("unix", socketPath, ioTimeout)
	if err != nil {
		return response{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ioTimeout))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return response{}, fmt.Errorf("send request: %w", err)
	}

	var resp response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return response{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return response{}, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `pendant-ctl - Control a running cncpendant via IPC

Usage:
  pendant-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/cncpendant.sock)

Commands:
  status              Print device, sink and control loop status
  send ARGS...        Queue a raw command, e.g. send gcode "G0 X0"
  home                Queue a homing cycle
  unlock              Queue an alarm unlock
  help, -h, --help    Show this help message

Examples:
  pendant-ctl status
  pendant-ctl send gcode "G91 Z5"
  pendant-ctl -socket /run/cncpendant.sock home
`)
}
