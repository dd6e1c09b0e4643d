package main

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ps3Names(t *testing.T) ControlNames {
	t.Helper()
	names, err := NameTables(GamepadPS3)
	require.NoError(t, err)
	return names
}

func initButton(idx uint8, value int16) RawEvent {
	return RawEvent{Kind: ButtonEvent, IsInit: true, Index: idx, Value: value}
}

func initAxis(idx uint8, value int16) RawEvent {
	return RawEvent{Kind: AxisEvent, IsInit: true, Index: idx, Value: value}
}

func button(idx uint8, value int16) RawEvent {
	return RawEvent{Kind: ButtonEvent, Index: idx, Value: value}
}

func axisEvent(idx uint8, value int16) RawEvent {
	return RawEvent{Kind: AxisEvent, Index: idx, Value: value}
}

// pumpAll applies every record of a finite stream.
func pumpAll(t *testing.T, tr *Tracker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, tr.PumpOnce())
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	events []InputEvent
}

func (r *recordingObserver) OnInputEvent(ev InputEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingObserver) snapshot() []InputEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]InputEvent(nil), r.events...)
}

func TestTracker_ConsumeOnRead(t *testing.T) {
	stream := deviceStream(t,
		initButton(0, 0),
		initAxis(0, 0),
		button(0, 1),
		button(0, 0),
	)
	tr := NewTracker(stream, ps3Names(t))
	pumpAll(t, tr, 4)

	pressed, err := tr.WasPressed("CROSS")
	require.NoError(t, err)
	assert.True(t, pressed, "first read reports the press")

	pressed, err = tr.WasPressed("CROSS")
	require.NoError(t, err)
	assert.False(t, pressed, "second read is consumed")

	released, err := tr.WasReleased("0")
	require.NoError(t, err)
	assert.True(t, released)

	released, err = tr.WasReleased("CROSS")
	require.NoError(t, err)
	assert.False(t, released)

	held, err := tr.IsPressed("CROSS")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestTracker_IsPressedIsNotConsumed(t *testing.T) {
	tr := NewTracker(deviceStream(t, initButton(13, 0), initButton(14, 0), button(13, 1)), ps3Names(t))
	pumpAll(t, tr, 3)

	for i := 0; i < 3; i++ {
		held, err := tr.IsPressed("DPAD-UP")
		require.NoError(t, err)
		assert.True(t, held)
	}
}

func TestTracker_InitClearsEdges(t *testing.T) {
	tr := NewTracker(deviceStream(t, initButton(0, 1), initButton(1, 0)), ps3Names(t))
	pumpAll(t, tr, 2)

	held, err := tr.IsPressed("CROSS")
	require.NoError(t, err)
	assert.True(t, held, "init carries the current level")

	pressed, err := tr.WasPressed("CROSS")
	require.NoError(t, err)
	assert.False(t, pressed, "init is not an edge")
}

func TestTracker_AxisNormalization(t *testing.T) {
	tests := []struct {
		name string
		raw  int16
		want float64
	}{
		{name: "full positive", raw: 32767, want: 1},
		{name: "full negative clamps", raw: -32768, want: -1},
		{name: "center", raw: 0, want: 0},
		{name: "half", raw: 16384, want: 16384.0 / 32767.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(deviceStream(t, initAxis(0, 0), axisEvent(0, tt.raw)), ps3Names(t))
			pumpAll(t, tr, 2)

			v, err := tr.AxisValue("LEFT-X")
			require.NoError(t, err)
			assert.InDelta(t, tt.want, v, 1e-9)
		})
	}
}

func TestTracker_UnknownControl(t *testing.T) {
	tr := NewTracker(deviceStream(t, initButton(0, 0), initAxis(0, 0)), ps3Names(t))
	pumpAll(t, tr, 2)

	tests := []struct {
		name string
		call func() error
	}{
		{name: "unknown button name", call: func() error { _, err := tr.IsPressed("NOPE"); return err }},
		{name: "uninitialized button index", call: func() error { _, err := tr.WasPressed("7"); return err }},
		{name: "uninitialized named button", call: func() error { _, err := tr.WasReleased("CIRCLE"); return err }},
		{name: "unknown axis", call: func() error { _, err := tr.AxisValue("THROTTLE"); return err }},
		{name: "axis name used as button", call: func() error { _, err := tr.IsPressed("LEFT-X"); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), ErrUnknownControl)
		})
	}
}

func TestTracker_SkipsUnknownTypeCodes(t *testing.T) {
	stream := deviceStream(t,
		RawEvent{Kind: EventKind(0x04), Index: 0, Value: 1},
		initButton(0, 1),
	)
	tr := NewTracker(stream, ps3Names(t))

	require.NoError(t, tr.PumpOnce(), "unknown record is skipped within one pump")
	held, err := tr.IsPressed("CROSS")
	require.NoError(t, err)
	assert.True(t, held)
}

func TestTracker_IgnoresLiveEventsBeforeInit(t *testing.T) {
	tr := NewTracker(deviceStream(t, button(3, 1), axisEvent(2, 100)), ps3Names(t))
	pumpAll(t, tr, 2)

	_, err := tr.IsPressed("SQUARE")
	assert.ErrorIs(t, err, ErrUnknownControl)
	_, err = tr.AxisValue("L2")
	assert.ErrorIs(t, err, ErrUnknownControl)
	assert.False(t, tr.Ready())
}

func TestTracker_Ready(t *testing.T) {
	tr := NewTracker(deviceStream(t, initButton(0, 0), initAxis(0, 0)), ps3Names(t))
	assert.False(t, tr.Ready())

	require.NoError(t, tr.PumpOnce())
	assert.False(t, tr.Ready(), "one control is not enough")

	require.NoError(t, tr.PumpOnce())
	assert.True(t, tr.Ready())
}

func TestTracker_Disconnect(t *testing.T) {
	tr := NewTracker(deviceStream(t, initButton(0, 0)), ps3Names(t))
	require.NoError(t, tr.PumpOnce())
	assert.True(t, tr.IsConnected())

	err := tr.PumpOnce()
	assert.ErrorIs(t, err, ErrDeviceDisconnected)
	assert.False(t, tr.IsConnected())

	assert.ErrorIs(t, tr.PumpOnce(), ErrDeviceDisconnected, "disconnect is terminal")
	assert.ErrorIs(t, tr.StartBackgroundPump(), ErrDeviceDisconnected)
	assert.ErrorIs(t, tr.WaitReady(context.Background()), ErrDeviceDisconnected)
}

func TestTracker_Observers(t *testing.T) {
	obs := &recordingObserver{}
	stream := deviceStream(t,
		initButton(9, 0),
		initAxis(1, 0),
		button(9, 1),
		axisEvent(1, -32767),
		button(9, 0),
	)
	tr := NewTracker(stream, ps3Names(t), obs)
	pumpAll(t, tr, 5)

	assert.Equal(t, []InputEvent{
		ButtonPressed{Index: 9, Name: "START"},
		ButtonChanged{Index: 9, Name: "START", Pressed: true},
		AxisMoved{Index: 1, Name: "LEFT-Y", Value: -1},
		ButtonReleased{Index: 9, Name: "START"},
		ButtonChanged{Index: 9, Name: "START", Pressed: false},
	}, obs.snapshot())
}

func TestTracker_RepeatedPressRecordsEachNotify(t *testing.T) {
	obs := &recordingObserver{}
	stream := deviceStream(t,
		initButton(9, 0),
		initAxis(1, 0),
		button(9, 1),
		button(9, 1),
	)
	tr := NewTracker(stream, ps3Names(t), obs)
	pumpAll(t, tr, 4)

	assert.Equal(t, []InputEvent{
		ButtonPressed{Index: 9, Name: "START"},
		ButtonChanged{Index: 9, Name: "START", Pressed: true},
		ButtonPressed{Index: 9, Name: "START"},
		ButtonChanged{Index: 9, Name: "START", Pressed: true},
	}, obs.snapshot())

	pressed, err := tr.WasPressed("START")
	require.NoError(t, err)
	assert.True(t, pressed)
}

func TestTracker_GenericNamesUseIndices(t *testing.T) {
	names, err := NameTables(GamepadGeneric)
	require.NoError(t, err)

	obs := &recordingObserver{}
	tr := NewTracker(deviceStream(t, initButton(4, 0), button(4, 1)), names, obs)
	pumpAll(t, tr, 2)

	assert.Empty(t, tr.AvailableButtonNames())
	assert.Empty(t, tr.AvailableAxisNames())
	assert.Equal(t, ButtonPressed{Index: 4, Name: "4"}, obs.snapshot()[0])

	held, err := tr.IsPressed("4")
	require.NoError(t, err)
	assert.True(t, held)
}

func TestTracker_AvailableNames(t *testing.T) {
	tr := NewTracker(deviceStream(t), ps3Names(t))
	assert.Equal(t, []string{"LEFT-X", "LEFT-Y", "L2", "RIGHT-X", "RIGHT-Y", "R2"}, tr.AvailableAxisNames())
	assert.Len(t, tr.AvailableButtonNames(), 17)
	assert.Equal(t, "CROSS", tr.AvailableButtonNames()[0])
}

func TestTracker_Snapshot(t *testing.T) {
	stream := deviceStream(t,
		RawEvent{Timestamp: 40, Kind: ButtonEvent, IsInit: true, Index: 0, Value: 0},
		RawEvent{Timestamp: 41, Kind: AxisEvent, IsInit: true, Index: 3, Value: 32767},
		RawEvent{Timestamp: 50, Kind: ButtonEvent, Index: 0, Value: 1},
	)
	tr := NewTracker(stream, ps3Names(t))
	pumpAll(t, tr, 3)

	snap := tr.Snapshot()
	assert.True(t, snap.Connected)
	assert.True(t, snap.Ready)
	assert.Equal(t, uint32(50), snap.LastTimestamp)
	assert.Equal(t, map[string]bool{"CROSS": true}, snap.Buttons)
	assert.Equal(t, map[string]float64{"RIGHT-X": 1}, snap.Axes)

	pressed, err := tr.WasPressed("CROSS")
	require.NoError(t, err)
	assert.True(t, pressed, "snapshot does not consume edges")
}

func TestTracker_BackgroundPump(t *testing.T) {
	pr, pw := io.Pipe()
	defer pr.Close()

	tr := NewTracker(pr, ps3Names(t))
	require.NoError(t, tr.StartBackgroundPump())
	assert.ErrorIs(t, tr.StartBackgroundPump(), ErrPumpRunning)

	go func() {
		encodeRawEvent(t, pw, initButton(0, 0))
		encodeRawEvent(t, pw, initAxis(0, 0))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.WaitReady(ctx))

	go encodeRawEvent(t, pw, button(0, 1))
	assert.Eventually(t, func() bool {
		held, err := tr.IsPressed("CROSS")
		return err == nil && held
	}, 2*time.Second, 10*time.Millisecond)

	// Stop takes effect after the next record.
	tr.Stop()
	tr.Stop()
	go encodeRawEvent(t, pw, button(0, 0))

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("background pump did not stop")
	}
	assert.NoError(t, tr.Err())
	assert.True(t, tr.IsConnected())

	pressed, err := tr.WasPressed("CROSS")
	require.NoError(t, err)
	assert.True(t, pressed)
}

func TestTracker_BackgroundPumpDisconnect(t *testing.T) {
	pr, pw := io.Pipe()
	tr := NewTracker(pr, ps3Names(t))
	require.NoError(t, tr.StartBackgroundPump())

	require.NoError(t, pw.Close())

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("background pump did not exit on disconnect")
	}
	assert.ErrorIs(t, tr.Err(), ErrDeviceDisconnected)
	assert.False(t, tr.IsConnected())
}

func TestTracker_StopWhenNotRunning(t *testing.T) {
	tr := NewTracker(deviceStream(t), ps3Names(t))
	tr.Stop()
	tr.Stop()

	select {
	case <-tr.Done():
	default:
		t.Fatal("Done must be closed before the pump ever ran")
	}
}

func TestTracker_WaitReadyCanceled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	tr := NewTracker(pr, ps3Names(t))
	require.NoError(t, tr.StartBackgroundPump())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.WaitReady(ctx), context.DeadlineExceeded)
}
