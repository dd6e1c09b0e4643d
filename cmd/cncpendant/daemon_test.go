package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink records emitted commands.
type fakeSink struct {
	mu        sync.Mutex
	emitted   []Command
	connected bool
	failWith  error
}

func newFakeSink() *fakeSink { return &fakeSink{connected: true} }

func (s *fakeSink) Emit(ctx context.Context, cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	if s.failWith != nil {
		return s.failWith
	}
	s.emitted = append(s.emitted, cmd)
	return nil
}

func (s *fakeSink) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *fakeSink) Emitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.emitted))
	for i, c := range s.emitted {
		out[i] = c.String()
	}
	return out
}

// fakePendant is a goroutine-safe fakeInput with a connection flag.
type fakePendant struct {
	mu        sync.Mutex
	in        *fakeInput
	connected bool
	done      chan struct{}
}

func newFakePendant() *fakePendant {
	return &fakePendant{in: newFakeInput(), connected: true, done: make(chan struct{})}
}

func (p *fakePendant) with(fn func(in *fakeInput)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.in)
}

func (p *fakePendant) IsPressed(c string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.in.IsPressed(c)
}

func (p *fakePendant) WasPressed(c string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.in.WasPressed(c)
}

func (p *fakePendant) AxisValue(c string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.in.AxisValue(c)
}

func (p *fakePendant) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePendant) Done() <-chan struct{} { return p.done }

func (p *fakePendant) disconnect() {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	close(p.done)
}

type daemonRun struct {
	cancel context.CancelFunc
	done   chan error
	stats  *DaemonStats
	events *recordingObserver
}

func startDaemon(t *testing.T, input pendantInput, mapping []MappedCommand, sink CommandSink, injected <-chan Command) *daemonRun {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := &daemonRun{cancel: cancel, done: make(chan error, 1), stats: NewDaemonStats(), events: &recordingObserver{}}
	go func() {
		r.done <- runDaemon(ctx, input, mapping, sink, 100, injected, r.stats, r.events, discardLogger())
	}()
	t.Cleanup(cancel)
	return r
}

func homingMapping() []MappedCommand {
	return []MappedCommand{HomingButton("PS"), AxisMove(leftXStick(), MoveX, false)}
}

func TestDaemon_EmitsSynthesizedCommands(t *testing.T) {
	pendant := newFakePendant()
	pendant.with(func(in *fakeInput) {
		in.held["PS"] = false
		in.axes["LEFT-X"] = 0
	})
	sink := newFakeSink()
	run := startDaemon(t, pendant, homingMapping(), sink, nil)

	pendant.with(func(in *fakeInput) { in.press("PS") })
	require.Eventually(t, func() bool { return len(sink.Emitted()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, `("homing")`, sink.Emitted()[0])

	// Consumed edge: held button does not home again.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sink.Emitted(), 1)

	pendant.with(func(in *fakeInput) { in.held["PS"] = false })
	pendant.with(func(in *fakeInput) { in.axes["LEFT-X"] = 0.5 })
	require.Eventually(t, func() bool { return len(sink.Emitted()) >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, `("gcode", "G91 X1")`, sink.Emitted()[1])
	assert.Equal(t, `("gcode", "G90")`, sink.Emitted()[2])

	snap := run.stats.Snapshot()
	assert.GreaterOrEqual(t, snap.Emitted, uint64(3))
	assert.Positive(t, snap.Ticks)
	assert.NotEmpty(t, snap.LastCommand)

	run.cancel()
	assert.NoError(t, <-run.done)
}

func TestDaemon_DisconnectedInputEmitsNothing(t *testing.T) {
	pendant := newFakePendant()
	pendant.with(func(in *fakeInput) {
		in.held["PS"] = false
		in.axes["LEFT-X"] = 1
	})
	pendant.mu.Lock()
	pendant.connected = false
	pendant.mu.Unlock()

	sink := newFakeSink()
	run := startDaemon(t, pendant, homingMapping(), sink, nil)

	require.Eventually(t, func() bool { return run.stats.Snapshot().Ticks >= 3 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, sink.Emitted())
}

func TestDaemon_StopsWhenDeviceGoes(t *testing.T) {
	pendant := newFakePendant()
	run := startDaemon(t, pendant, nil, newFakeSink(), nil)

	pendant.disconnect()
	select {
	case err := <-run.done:
		assert.ErrorIs(t, err, ErrDeviceDisconnected)
	case <-time.After(time.Second):
		t.Fatal("daemon did not stop after disconnect")
	}
}

func TestDaemon_DropsWhileSinkDown(t *testing.T) {
	pendant := newFakePendant()
	pendant.with(func(in *fakeInput) { in.held["PS"] = false })
	sink := newFakeSink()
	sink.setConnected(false)
	run := startDaemon(t, pendant, []MappedCommand{HomingButton("PS")}, sink, nil)

	pendant.with(func(in *fakeInput) { in.press("PS") })
	require.Eventually(t, func() bool { return run.stats.Snapshot().Dropped == 1 }, time.Second, 5*time.Millisecond)

	// The press was consumed while the sink was down; it is not replayed.
	sink.setConnected(true)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sink.Emitted())

	events := run.events.snapshot()
	require.NotEmpty(t, events)
	emitted, ok := events[0].(CommandEmitted)
	require.True(t, ok)
	assert.Equal(t, []string{"homing"}, emitted.Arguments)
	assert.Equal(t, ErrNotConnected.Error(), emitted.Err)
}

func TestDaemon_InjectedCommands(t *testing.T) {
	pendant := newFakePendant()
	pendant.mu.Lock()
	pendant.connected = false
	pendant.mu.Unlock()

	injected := make(chan Command, 4)
	injected <- GCode("G0 X5")
	injected <- NewCommand(CommandUnlock)

	sink := newFakeSink()
	run := startDaemon(t, pendant, nil, sink, injected)

	require.Eventually(t, func() bool { return len(sink.Emitted()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{`("gcode", "G0 X5")`, `("unlock")`}, sink.Emitted())
	assert.Equal(t, uint64(2), run.stats.Snapshot().Injected)
}

func TestDaemon_SynthesisErrorSkipsTick(t *testing.T) {
	pendant := newFakePendant()
	sink := newFakeSink()
	run := startDaemon(t, pendant, []MappedCommand{HomingButton("MISSING")}, sink, nil)

	require.Eventually(t, func() bool { return run.stats.Snapshot().SynthesisErrors >= 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, sink.Emitted())
	assert.Contains(t, run.stats.Snapshot().LastError, "MISSING")
}

func TestEmitCommands_Failures(t *testing.T) {
	sink := newFakeSink()
	sink.failWith = errors.New("socket closed")
	stats := NewDaemonStats()
	obs := &recordingObserver{}

	emitCommands(context.Background(), sink, []Command{GCode("G90")}, stats, obs, discardLogger())
	snap := stats.Snapshot()
	assert.Equal(t, uint64(1), snap.Failed)
	assert.Equal(t, "socket closed", snap.LastError)
	require.Len(t, obs.snapshot(), 1)
	assert.Equal(t, "socket closed", obs.snapshot()[0].(CommandEmitted).Err)

	// No sink at all counts as dropped.
	emitCommands(context.Background(), nil, []Command{GCode("G90")}, stats, nil, discardLogger())
	assert.Equal(t, uint64(1), stats.Snapshot().Dropped)
}

func TestDrainInjected(t *testing.T) {
	assert.Nil(t, drainInjected(nil))

	ch := make(chan Command, 2)
	ch <- Homing()
	close(ch)
	got := drainInjected(ch)
	require.Len(t, got, 1)
	assert.True(t, got[0].Equal(Homing()))
}

func TestDiscardInjected_LeftoversNeverReachNextSession(t *testing.T) {
	injected := make(chan Command, 4)
	injected <- Homing()
	injected <- GCode("G0 X0")
	stats := NewDaemonStats()

	discardInjected(injected, stats, discardLogger())
	assert.Empty(t, injected)
	assert.Equal(t, uint64(2), stats.Snapshot().Dropped)

	// The next session starts with an empty queue.
	pendant := newFakePendant()
	sink := newFakeSink()
	sink.setConnected(true)
	run := startDaemon(t, pendant, nil, sink, injected)
	require.Eventually(t, func() bool { return run.stats.Snapshot().Ticks >= 3 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, sink.Emitted())
}
