package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Joystick API record layout (from <linux/joystick.h>)
// struct js_event { __u32 time; __s16 value; __u8 type; __u8 number; };
type jsEvent struct {
	Time   uint32
	Value  int16
	Type   uint8
	Number uint8
}

// Joystick event type codes
const (
	jsEventButton = 0x01
	jsEventAxis   = 0x02
	jsEventInit   = 0x80
)

// jsEventSize is the size in bytes of one record on the device stream.
const jsEventSize = 8

// ErrDeviceDisconnected is returned once the device stream ends, errors or yields
// a partial record. The protocol has no resync marker so it is always terminal.
var ErrDeviceDisconnected = errors.New("device disconnected")

// EventKind is the entity a RawEvent refers to.
type EventKind uint8

const (
	ButtonEvent EventKind = jsEventButton
	AxisEvent   EventKind = jsEventAxis
)

func (k EventKind) String() string {
	switch k {
	case ButtonEvent:
		return "button"
	case AxisEvent:
		return "axis"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(k))
	}
}

// RawEvent is one decoded joystick record.
type RawEvent struct {
	Timestamp uint32
	Value     int16
	Kind      EventKind
	IsInit    bool
	Index     uint8
}

// Known reports whether the record is a button or axis event. Anything else is
// ignorable and should be skipped by the caller.
func (e RawEvent) Known() bool {
	return e.Kind == ButtonEvent || e.Kind == AxisEvent
}

// decodeRawEvent converts the wire record into a RawEvent.
func decodeRawEvent(ev jsEvent) RawEvent {
	return RawEvent{
		Timestamp: ev.Time,
		Value:     ev.Value,
		Kind:      EventKind(ev.Type &^ jsEventInit),
		IsInit:    ev.Type&jsEventInit != 0,
		Index:     ev.Number,
	}
}

// Decoder reads fixed-size joystick records from a device stream.
// It is not safe for concurrent use; the background pump owns it.
type Decoder struct {
	r      io.Reader
	buf    []byte
	reader *bytes.Reader // Reusable reader, reset on each record
}

// NewDecoder returns a decoder reading from r, which must be positioned at a
// record boundary.
func NewDecoder(r io.Reader) *Decoder {
	buf := make([]byte, jsEventSize)
	return &Decoder{
		r:      r,
		buf:    buf,
		reader: bytes.NewReader(buf),
	}
}

// DecodeNext blocks until one full record is available and returns it.
// Short reads and read errors are reported as ErrDeviceDisconnected.
func (d *Decoder) DecodeNext() (RawEvent, error) {
	if _, err := io.ReadFull(d.r, d.buf); err != nil {
		return RawEvent{}, fmt.Errorf("%w: %v", ErrDeviceDisconnected, err)
	}

	d.reader.Reset(d.buf)
	var ev jsEvent
	if err := binary.Read(d.reader, binary.LittleEndian, &ev); err != nil {
		return RawEvent{}, fmt.Errorf("%w: decode record: %v", ErrDeviceDisconnected, err)
	}

	return decodeRawEvent(ev), nil
}
