package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// ============================================================================
// Socket.IO v2 framing over Engine.IO v3 (websocket transport only)
// ============================================================================
// Each websocket text frame is one Engine.IO packet: a type digit followed by
// its payload. Engine.IO "message" packets (4) carry a Socket.IO packet, again
// a type digit followed by an optional namespace, ack id and JSON array.
//
//   0{"sid":..,"pingInterval":..}   open handshake
//   2 / 3                           ping / pong
//   40                              namespace connect
//   42["event",arg1,...]            event
// ============================================================================

// Engine.IO packet types
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
	eioUpgrade = '5'
	eioNoop    = '6'
)

// Socket.IO packet types
const (
	sioConnect    = '0'
	sioDisconnect = '1'
	sioEvent      = '2'
	sioAck        = '3'
	sioError      = '4'
)

var errMalformedPacket = errors.New("malformed socket.io packet")

// PacketKind classifies a decoded frame.
type PacketKind int

const (
	PacketOpen PacketKind = iota
	PacketClose
	PacketPing
	PacketPong
	PacketNoop
	PacketConnect
	PacketDisconnect
	PacketEvent
	PacketAck
	PacketError
)

func (k PacketKind) String() string {
	switch k {
	case PacketOpen:
		return "open"
	case PacketClose:
		return "close"
	case PacketPing:
		return "ping"
	case PacketPong:
		return "pong"
	case PacketNoop:
		return "noop"
	case PacketConnect:
		return "connect"
	case PacketDisconnect:
		return "disconnect"
	case PacketEvent:
		return "event"
	case PacketAck:
		return "ack"
	case PacketError:
		return "error"
	default:
		return "unknown"
	}
}

// Handshake is the payload of the Engine.IO open packet.
type Handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"` // ms
	PingTimeout  int      `json:"pingTimeout"`  // ms
}

// PingEvery returns the client ping period, falling back to 25s.
func (h Handshake) PingEvery() time.Duration {
	if h.PingInterval <= 0 {
		return 25 * time.Second
	}
	return time.Duration(h.PingInterval) * time.Millisecond
}

// Packet is one decoded websocket frame.
type Packet struct {
	Kind      PacketKind
	Namespace string
	Event     string
	Args      []json.RawMessage
	Handshake *Handshake
	Data      []byte // raw payload for ping/pong/error
}

// DecodePacket parses one websocket text frame.
func DecodePacket(frame []byte) (Packet, error) {
	if len(frame) == 0 {
		return Packet{}, fmt.Errorf("%w: empty frame", errMalformedPacket)
	}

	body := frame[1:]
	switch frame[0] {
	case eioOpen:
		var h Handshake
		if err := json.Unmarshal(body, &h); err != nil {
			return Packet{}, fmt.Errorf("%w: open: %v", errMalformedPacket, err)
		}
		return Packet{Kind: PacketOpen, Handshake: &h}, nil
	case eioClose:
		return Packet{Kind: PacketClose}, nil
	case eioPing:
		return Packet{Kind: PacketPing, Data: body}, nil
	case eioPong:
		return Packet{Kind: PacketPong, Data: body}, nil
	case eioNoop, eioUpgrade:
		return Packet{Kind: PacketNoop}, nil
	case eioMessage:
		return decodeSocketPacket(body)
	default:
		return Packet{}, fmt.Errorf("%w: engine.io type %q", errMalformedPacket, frame[0])
	}
}

func decodeSocketPacket(b []byte) (Packet, error) {
	if len(b) == 0 {
		return Packet{}, fmt.Errorf("%w: empty message", errMalformedPacket)
	}
	typ := b[0]
	b = b[1:]

	var p Packet
	if len(b) > 0 && b[0] == '/' {
		end := bytes.IndexByte(b, ',')
		if end < 0 {
			p.Namespace = string(b)
			b = nil
		} else {
			p.Namespace = string(b[:end])
			b = b[end+1:]
		}
	}
	// Skip the ack id, if any.
	for len(b) > 0 && b[0] >= '0' && b[0] <= '9' {
		b = b[1:]
	}

	switch typ {
	case sioConnect:
		p.Kind = PacketConnect
		return p, nil
	case sioDisconnect:
		p.Kind = PacketDisconnect
		return p, nil
	case sioError:
		p.Kind = PacketError
		p.Data = b
		return p, nil
	case sioEvent, sioAck:
		var raw []json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return Packet{}, fmt.Errorf("%w: event payload: %v", errMalformedPacket, err)
		}
		if typ == sioAck {
			p.Kind = PacketAck
			p.Args = raw
			return p, nil
		}
		if len(raw) == 0 {
			return Packet{}, fmt.Errorf("%w: event without name", errMalformedPacket)
		}
		if err := json.Unmarshal(raw[0], &p.Event); err != nil {
			return Packet{}, fmt.Errorf("%w: event name: %v", errMalformedPacket, err)
		}
		p.Kind = PacketEvent
		p.Args = raw[1:]
		return p, nil
	default:
		return Packet{}, fmt.Errorf("%w: socket.io type %q", errMalformedPacket, typ)
	}
}

// EncodeEvent builds the frame for an event on the default namespace.
func EncodeEvent(event string, args ...any) ([]byte, error) {
	payload := make([]any, 0, len(args)+1)
	payload = append(payload, event)
	payload = append(payload, args...)
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", event, err)
	}
	return append([]byte{eioMessage, sioEvent}, b...), nil
}

var framePing = []byte{eioPing}

// EncodePong answers a ping, echoing its payload.
func EncodePong(data []byte) []byte {
	return append([]byte{eioPong}, data...)
}

// SocketIOURL returns the websocket endpoint of a Socket.IO server at addr
// (host:port), authenticated with token.
func SocketIOURL(addr, token string) string {
	q := url.Values{}
	q.Set("EIO", strconv.Itoa(3))
	q.Set("transport", "websocket")
	if token != "" {
		q.Set("token", token)
	}
	u := url.URL{Scheme: "ws", Host: addr, Path: "/socket.io/", RawQuery: q.Encode()}
	return u.String()
}
