package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Input Events
// ============================================================================
// Input events are emitted by the tracker while it applies device records.
// They exist for telemetry and debug logging only; the synthesizer never
// depends on them.
// ============================================================================

// InputEvent is a marker interface for tracker notifications.
type InputEvent interface {
	inputEventMarker()
}

// ButtonPressed is emitted for every live record with a nonzero value, even
// when the button was already down.
type ButtonPressed struct {
	Index uint8  `json:"index"`
	Name  string `json:"name"`
}

func (ButtonPressed) inputEventMarker() {}

// ButtonReleased is emitted for every live record with a zero value.
type ButtonReleased struct {
	Index uint8  `json:"index"`
	Name  string `json:"name"`
}

func (ButtonReleased) inputEventMarker() {}

// ButtonChanged is emitted for every live button record, after pressed/released.
type ButtonChanged struct {
	Index   uint8  `json:"index"`
	Name    string `json:"name"`
	Pressed bool   `json:"pressed"`
}

func (ButtonChanged) inputEventMarker() {}

// AxisMoved is emitted for every live axis record.
type AxisMoved struct {
	Index uint8   `json:"index"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func (AxisMoved) inputEventMarker() {}

// CommandEmitted is emitted by the control loop after a command was handed to the sink.
type CommandEmitted struct {
	Arguments []string `json:"arguments"`
	Err       string   `json:"error,omitempty"`
}

func (CommandEmitted) inputEventMarker() {}

// InputObserver is notified synchronously from the pump goroutine.
// Implementations must not block.
type InputObserver interface {
	OnInputEvent(ev InputEvent)
}

// ObserverFunc adapts a function to InputObserver.
type ObserverFunc func(ev InputEvent)

func (f ObserverFunc) OnInputEvent(ev InputEvent) { f(ev) }

// observerList fans an event out to every observer in order.
type observerList []InputObserver

func (l observerList) OnInputEvent(ev InputEvent) {
	for _, o := range l {
		o.OnInputEvent(ev)
	}
}

// ============================================================================
// JSON Encoding Support
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for the telemetry stream.
type EventEnvelope struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data,omitempty"`
}

// eventTypeName returns the wire discriminator for an input event.
func eventTypeName(ev InputEvent) (string, error) {
	switch ev.(type) {
	case ButtonPressed:
		return "button_pressed", nil
	case ButtonReleased:
		return "button_released", nil
	case ButtonChanged:
		return "button_changed", nil
	case AxisMoved:
		return "axis_moved", nil
	case CommandEmitted:
		return "command_emitted", nil
	default:
		return "", fmt.Errorf("unknown input event type: %T", ev)
	}
}

// MarshalInputEvent serializes an event into a JSON envelope.
func MarshalInputEvent(ev InputEvent, at time.Time) ([]byte, error) {
	typ, err := eventTypeName(ev)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", typ, err)
	}
	return json.Marshal(EventEnvelope{Type: typ, Ts: at.UTC(), Data: data})
}
