package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Control loop
// ============================================================================
// A fixed ticker drives the pendant. Each tick:
//   - drains commands injected over IPC
//   - when the device is connected, runs Synthesize over the mapping table
//   - forwards every command to the sink (effects.go)
//
// Synthesize is pure; all machine I/O happens in emitCommands.
// ============================================================================

// pendantInput is the tracker surface the loop needs.
type pendantInput interface {
	InputReader
	IsConnected() bool
	Done() <-chan struct{}
}

// runDaemon runs the control loop for one attached device. It returns nil when
// ctx is canceled and ErrDeviceDisconnected once the input's pump stops. The
// input's background pump must already be running.
func runDaemon(
	ctx context.Context,
	input pendantInput,
	mapping []MappedCommand,
	sink CommandSink,
	updateHz int,
	injected <-chan Command,
	stats *DaemonStats,
	observer InputObserver,
	logger *slog.Logger,
) error {
	if updateHz <= 0 {
		updateHz = defaultUpdateHz
	}
	ticker := time.NewTicker(time.Second / time.Duration(updateHz))
	defer ticker.Stop()

	logger.Debug("control loop started", "update_hz", updateHz, "mapping_entries", len(mapping))

	for {
		select {
		case <-ctx.Done():
			logger.Debug("control loop stopping (context canceled)")
			return nil

		case <-input.Done():
			logger.Info("control loop stopping (device disconnected)")
			return ErrDeviceDisconnected

		case <-ticker.C:
			stats.recordTick()
			cmds := drainInjected(injected)
			stats.recordInjected(len(cmds))

			if input.IsConnected() {
				synthesized, err := Synthesize(input, mapping)
				if err != nil {
					// The mapping was validated against the name tables at
					// startup, so this is a configuration-integrity bug.
					stats.recordSynthesisError(err)
					logger.Error("synthesis failed; skipping tick", "error", err)
				} else {
					cmds = append(cmds, synthesized...)
				}
			}

			emitCommands(ctx, sink, cmds, stats, observer, logger)
		}
	}
}

// drainInjected takes every queued command without blocking.
func drainInjected(injected <-chan Command) []Command {
	var out []Command
	for {
		select {
		case cmd, ok := <-injected:
			if !ok {
				return out
			}
			out = append(out, cmd)
		default:
			return out
		}
	}
}

// discardInjected empties the queue when a session ends. Commands left over
// from a detached gamepad must not run on the next attach.
func discardInjected(injected <-chan Command, stats *DaemonStats, logger *slog.Logger) {
	stale := drainInjected(injected)
	if len(stale) == 0 {
		return
	}
	for range stale {
		stats.recordDropped()
	}
	logger.Warn("discarding queued commands after detach", "count", len(stale))
}
