package main

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// emitCommands forwards one tick's commands to the sink in order and reports
// every outcome to observer. This is the only place the daemon performs
// machine I/O.
//
// Commands that cannot be delivered because the sink is down are dropped.
// They are never replayed later: a jog or a homing cycle must not start
// seconds after the operator let go of the button.
func emitCommands(ctx context.Context, sink CommandSink, cmds []Command, stats *DaemonStats, observer InputObserver, logger *slog.Logger) {
	if len(cmds) == 0 {
		return
	}

	warned := false
	for _, cmd := range cmds {
		var err error
		if sink == nil {
			err = ErrNotConnected
		} else {
			err = sink.Emit(ctx, cmd)
		}

		switch {
		case err == nil:
			stats.recordEmitted(cmd, time.Now())
			logger.Debug("command emitted", "command", cmd.String())

		case errors.Is(err, ErrNotConnected):
			stats.recordDropped()
			if !warned {
				logger.Warn("machine not connected; dropping commands", "count", len(cmds))
				warned = true
			}

		default:
			stats.recordFailed(err)
			logger.Error("command failed", "command", cmd.String(), "error", err)
		}

		if observer != nil {
			ev := CommandEmitted{Arguments: cmd.Arguments()}
			if err != nil {
				ev.Err = err.Error()
			}
			observer.OnInputEvent(ev)
		}
	}
}
