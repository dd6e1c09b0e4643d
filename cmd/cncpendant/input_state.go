package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ErrUnknownControl is returned for a name or index absent from the device tables.
var ErrUnknownControl = errors.New("unknown control")

// ErrPumpRunning is returned when the background pump is started twice.
var ErrPumpRunning = errors.New("background pump already running")

// axisScale is the magnitude of the raw signed 16 bit axis range.
const axisScale = 32767.0

// readyPollInterval is how often WaitReady re-checks the initialized control count.
const readyPollInterval = 50 * time.Millisecond

// Tracker owns the live button/axis state of one attached device.
//
// The background pump is the only writer. Queries may come from any goroutine;
// every read-and-clear of an edge flag happens under mu so a press posted by the
// pump while a reader is checking is never lost or reported twice.
type Tracker struct {
	dec *Decoder

	mu          sync.Mutex
	pressed     map[uint8]bool
	wasPressed  map[uint8]bool
	wasReleased map[uint8]bool
	axis        map[uint8]float64

	buttonNames map[uint8]string
	buttonIndex map[string]uint8
	axisNames   map[uint8]string
	axisIndex   map[string]uint8

	observers []InputObserver

	connected atomic.Bool
	lastStamp atomic.Uint32

	// Background pump lifecycle
	runMu    sync.Mutex
	running  bool
	stopCh   chan struct{}
	stopOnce *sync.Once
	done     chan struct{}
	pumpErr  error
}

// NewTracker creates a tracker reading records from r.
// Observers are notified synchronously from PumpOnce.
func NewTracker(r io.Reader, names ControlNames, observers ...InputObserver) *Tracker {
	t := &Tracker{
		dec:         NewDecoder(r),
		pressed:     make(map[uint8]bool),
		wasPressed:  make(map[uint8]bool),
		wasReleased: make(map[uint8]bool),
		axis:        make(map[uint8]float64),
		buttonNames: make(map[uint8]string, len(names.Buttons)),
		buttonIndex: make(map[string]uint8, len(names.Buttons)),
		axisNames:   make(map[uint8]string, len(names.Axes)),
		axisIndex:   make(map[string]uint8, len(names.Axes)),
		observers:   observers,
	}
	for i, n := range names.Buttons {
		t.buttonNames[i] = n
		t.buttonIndex[n] = i
	}
	for i, n := range names.Axes {
		t.axisNames[i] = n
		t.axisIndex[n] = i
	}

	done := make(chan struct{})
	close(done)
	t.done = done

	t.connected.Store(true)
	return t
}

// ============================================================================
// Pump
// ============================================================================

// PumpOnce decodes records until one button or axis record has been applied.
// Records with unrecognized type codes are skipped. It blocks on device I/O and
// returns ErrDeviceDisconnected (wrapped) once the stream is gone.
func (t *Tracker) PumpOnce() error {
	if !t.connected.Load() {
		return ErrDeviceDisconnected
	}
	for {
		ev, err := t.dec.DecodeNext()
		if err != nil {
			t.connected.Store(false)
			return err
		}
		t.lastStamp.Store(ev.Timestamp)

		if !ev.Known() {
			continue
		}
		t.apply(ev)
		return nil
	}
}

// apply updates state for one record and then notifies observers outside the lock.
func (t *Tracker) apply(ev RawEvent) {
	var notify []InputEvent

	t.mu.Lock()
	switch ev.Kind {
	case ButtonEvent:
		value := ev.Value != 0
		if ev.IsInit {
			// First sighting of this control
			t.pressed[ev.Index] = value
			t.wasPressed[ev.Index] = false
			t.wasReleased[ev.Index] = false
			break
		}
		if _, ok := t.pressed[ev.Index]; !ok {
			// Live record for a control the device never announced.
			break
		}
		name := t.buttonLabel(ev.Index)
		if value {
			t.wasPressed[ev.Index] = true
			notify = append(notify, ButtonPressed{Index: ev.Index, Name: name})
		} else {
			t.wasReleased[ev.Index] = true
			notify = append(notify, ButtonReleased{Index: ev.Index, Name: name})
		}
		t.pressed[ev.Index] = value
		notify = append(notify, ButtonChanged{Index: ev.Index, Name: name, Pressed: value})

	case AxisEvent:
		value := float64(ev.Value) / axisScale
		if value < -1 {
			value = -1
		}
		if ev.IsInit {
			t.axis[ev.Index] = value
			break
		}
		if _, ok := t.axis[ev.Index]; !ok {
			break
		}
		t.axis[ev.Index] = value
		notify = append(notify, AxisMoved{Index: ev.Index, Name: t.axisLabel(ev.Index), Value: value})
	}
	t.mu.Unlock()

	for _, n := range notify {
		for _, o := range t.observers {
			o.OnInputEvent(n)
		}
	}
}

// StartBackgroundPump runs PumpOnce in a dedicated goroutine until Stop is
// called or the device disconnects.
func (t *Tracker) StartBackgroundPump() error {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if t.running {
		return ErrPumpRunning
	}
	if !t.connected.Load() {
		return ErrDeviceDisconnected
	}

	t.running = true
	t.pumpErr = nil
	t.stopCh = make(chan struct{})
	t.stopOnce = &sync.Once{}
	t.done = make(chan struct{})

	go t.pumpLoop(t.stopCh, t.done)
	return nil
}

func (t *Tracker) pumpLoop(stop <-chan struct{}, done chan<- struct{}) {
	var err error
	defer func() {
		t.runMu.Lock()
		t.running = false
		t.pumpErr = err
		t.runMu.Unlock()
		close(done)
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}
		if err = t.PumpOnce(); err != nil {
			return
		}
	}
}

// Stop asks the background pump to exit. The pump notices on its next record
// (or when the device stream is closed). Calling Stop when the pump is not
// running is a no-op.
func (t *Tracker) Stop() {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if !t.running {
		return
	}
	t.stopOnce.Do(func() { close(t.stopCh) })
}

// Done is closed when the background pump has exited.
func (t *Tracker) Done() <-chan struct{} {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	return t.done
}

// Err returns the error that ended the last background pump run, if any.
func (t *Tracker) Err() error {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	return t.pumpErr
}

// IsConnected returns true until reading from the device fails.
func (t *Tracker) IsConnected() bool {
	return t.connected.Load()
}

// Ready reports whether the device has announced at least two controls.
func (t *Tracker) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pressed)+len(t.axis) > 1
}

// WaitReady blocks until Ready, the device disconnects or ctx is canceled.
// The background pump must be running.
func (t *Tracker) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		if t.Ready() {
			return nil
		}
		if !t.IsConnected() {
			return ErrDeviceDisconnected
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ============================================================================
// Queries
// ============================================================================

// IsPressed returns the current level of a button given by name or index.
func (t *Tracker) IsPressed(control string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, err := t.resolveButton(control)
	if err != nil {
		return false, err
	}
	return t.pressed[idx], nil
}

// WasPressed reports whether the button was pressed since the last call.
// The edge flag is cleared by the read.
func (t *Tracker) WasPressed(control string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, err := t.resolveButton(control)
	if err != nil {
		return false, err
	}
	v := t.wasPressed[idx]
	t.wasPressed[idx] = false
	return v, nil
}

// WasReleased reports whether the button was released since the last call.
// The edge flag is cleared by the read.
func (t *Tracker) WasReleased(control string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, err := t.resolveButton(control)
	if err != nil {
		return false, err
	}
	v := t.wasReleased[idx]
	t.wasReleased[idx] = false
	return v, nil
}

// AxisValue returns the last normalized value of an axis in [-1, 1].
func (t *Tracker) AxisValue(control string) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, err := t.resolveAxis(control)
	if err != nil {
		return 0, err
	}
	return t.axis[idx], nil
}

// AvailableButtonNames returns the button labels of the device model.
// An empty list means only numeric indices are available.
func (t *Tracker) AvailableButtonNames() []string {
	return sortedLabels(t.buttonNames)
}

// AvailableAxisNames returns the axis labels of the device model.
func (t *Tracker) AvailableAxisNames() []string {
	return sortedLabels(t.axisNames)
}

// resolveButton must be called with mu held.
func (t *Tracker) resolveButton(control string) (uint8, error) {
	idx, ok := t.buttonIndex[control]
	if !ok {
		n, err := strconv.ParseUint(control, 10, 8)
		if err != nil {
			return 0, fmt.Errorf("%w: button %q", ErrUnknownControl, control)
		}
		idx = uint8(n)
	}
	if _, ok := t.pressed[idx]; !ok {
		return 0, fmt.Errorf("%w: button %q (index %d) not initialized", ErrUnknownControl, control, idx)
	}
	return idx, nil
}

// resolveAxis must be called with mu held.
func (t *Tracker) resolveAxis(control string) (uint8, error) {
	idx, ok := t.axisIndex[control]
	if !ok {
		n, err := strconv.ParseUint(control, 10, 8)
		if err != nil {
			return 0, fmt.Errorf("%w: axis %q", ErrUnknownControl, control)
		}
		idx = uint8(n)
	}
	if _, ok := t.axis[idx]; !ok {
		return 0, fmt.Errorf("%w: axis %q (index %d) not initialized", ErrUnknownControl, control, idx)
	}
	return idx, nil
}

func (t *Tracker) buttonLabel(idx uint8) string {
	if n, ok := t.buttonNames[idx]; ok {
		return n
	}
	return strconv.Itoa(int(idx))
}

func (t *Tracker) axisLabel(idx uint8) string {
	if n, ok := t.axisNames[idx]; ok {
		return n
	}
	return strconv.Itoa(int(idx))
}

// ============================================================================
// Snapshot
// ============================================================================

// TrackerSnapshot is a point-in-time copy of the tracker for diagnostics.
// Taking a snapshot does not consume edge flags.
type TrackerSnapshot struct {
	Connected     bool               `json:"connected"`
	Ready         bool               `json:"ready"`
	LastTimestamp uint32             `json:"last_timestamp_ms"`
	Buttons       map[string]bool    `json:"buttons"`
	Axes          map[string]float64 `json:"axes"`
	ButtonNames   []string           `json:"button_names"`
	AxisNames     []string           `json:"axis_names"`
}

// Snapshot copies the current state.
func (t *Tracker) Snapshot() TrackerSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := TrackerSnapshot{
		Connected:     t.connected.Load(),
		Ready:         len(t.pressed)+len(t.axis) > 1,
		LastTimestamp: t.lastStamp.Load(),
		Buttons:       make(map[string]bool, len(t.pressed)),
		Axes:          make(map[string]float64, len(t.axis)),
		ButtonNames:   sortedLabels(t.buttonNames),
		AxisNames:     sortedLabels(t.axisNames),
	}
	for i, v := range t.pressed {
		snap.Buttons[t.buttonLabel(i)] = v
	}
	for i, v := range t.axis {
		snap.Axes[t.axisLabel(i)] = v
	}
	return snap
}
