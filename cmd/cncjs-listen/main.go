package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

// cncjs-listen connects to a CNCjs server the way cncpendant does and prints
// the serial traffic it reports. Useful to check the token and port settings.

func main() {
	var (
		addr     = flag.String("addr", "localhost:8000", "CNCjs server address (host:port)")
		cncrc    = flag.String("cncrc", "~/.cncrc", "CNCjs rc file holding the token secret")
		port     = flag.String("port", "", "Serial port to open on the CNCjs host (empty: listen only)")
		baudrate = flag.Int("baudrate", 115200, "Serial baud rate")
		ctrl     = flag.String("controller", "Grbl", "CNCjs controller type")
		all      = flag.Bool("all", false, "Print every event, not only serial traffic")
	)
	flag.Parse()

	token, err := accessToken(*cncrc)
	if err != nil {
		log.Fatalf("access token: %v", err)
	}

	q := url.Values{}
	q.Set("EIO", "3")
	q.Set("transport", "websocket")
	q.Set("token", token)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/socket.io/", RawQuery: q.Encode()}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	log.Printf("connecting to %s...", *addr)
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(frame string) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			log.Printf("write failed: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			handleFrame(string(msg), write, *port, *baudrate, *ctrl, *all)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		write("1")
	case <-done:
		log.Printf("connection closed")
	}
}

// handleFrame prints one Engine.IO frame and answers protocol housekeeping.
func handleFrame(frame string, write func(string), port string, baudrate int, ctrl string, all bool) {
	switch {
	case strings.HasPrefix(frame, "0"):
		var hs struct {
			PingInterval int `json:"pingInterval"`
		}
		_ = json.Unmarshal([]byte(frame[1:]), &hs)
		if hs.PingInterval <= 0 {
			hs.PingInterval = 25000
		}
		go func() {
			for range time.Tick(time.Duration(hs.PingInterval) * time.Millisecond) {
				write("2")
			}
		}()

	case frame == "2":
		write("3")

	case frame == "3":
		// pong

	case frame == "40":
		log.Printf("connected! (press Ctrl+C to exit)")
		if port != "" {
			open, _ := json.Marshal([]any{"open", port, map[string]any{"baudrate": baudrate, "controllerType": ctrl}})
			write("42" + string(open))
		}

	case strings.HasPrefix(frame, "42"):
		var payload []json.RawMessage
		if err := json.Unmarshal([]byte(frame[2:]), &payload); err != nil || len(payload) == 0 {
			fmt.Printf("[TEXT] %s\n", frame)
			return
		}
		var event string
		_ = json.Unmarshal(payload[0], &event)
		printEvent(event, payload[1:], all)

	case strings.HasPrefix(frame, "44"):
		fmt.Printf("[ERROR] %s\n", frame[2:])

	default:
		if all {
			fmt.Printf("[FRAME] %s\n", frame)
		}
	}
}

func printEvent(event string, args []json.RawMessage, all bool) {
	switch event {
	case "serialport:read", "serialport:write":
		var line string
		if len(args) > 0 && json.Unmarshal(args[0], &line) == nil {
			dir := "<"
			if event == "serialport:write" {
				dir = ">"
			}
			fmt.Printf("%s %s\n", dir, strings.TrimRight(line, "\r\n"))
		}
	case "serialport:open", "serialport:close", "serialport:error":
		b, _ := json.Marshal(args)
		fmt.Printf("[%s] %s\n", strings.ToUpper(strings.TrimPrefix(event, "serialport:")), b)
	default:
		if all {
			b, _ := json.Marshal(args)
			fmt.Printf("[%s] %s\n", event, b)
		}
	}
}

// accessToken signs a short-lived CNCjs token with the secret from the rc file.
func accessToken(cncrc string) (string, error) {
	if strings.HasPrefix(cncrc, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		cncrc = filepath.Join(home, cncrc[2:])
	}
	b, err := os.ReadFile(cncrc)
	if err != nil {
		return "", err
	}
	var rc struct {
		Secret string `json:"secret"`
	}
	if err := json.Unmarshal(b, &rc); err != nil {
		return "", fmt.Errorf("decode %s: %w", cncrc, err)
	}
	if rc.Secret == "" {
		return "", fmt.Errorf("%s has no secret", cncrc)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"id":   "",
		"name": "cncjs-listen",
		"iat":  now.Unix(),
		"exp":  now.Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(rc.Secret))
}
