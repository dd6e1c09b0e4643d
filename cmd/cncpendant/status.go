package main

import (
	"sync/atomic"
)

// StatusReport is what the status endpoints (IPC and HTTP) return.
type StatusReport struct {
	Device        string           `json:"device"`
	Gamepad       string           `json:"gamepad"`
	Machine       string           `json:"machine"`
	Sink          string           `json:"sink"`
	SinkConnected bool             `json:"sink_connected"`
	Attached      bool             `json:"attached"`
	Input         *TrackerSnapshot `json:"input,omitempty"`
	Daemon        StatsSnapshot    `json:"daemon"`
}

// pendantStatus assembles StatusReports from the live components. The
// tracker changes on every attach.
type pendantStatus struct {
	device   string
	gamepad  string
	machine  string
	sinkType string
	sink     CommandSink
	stats    *DaemonStats

	tracker atomic.Pointer[Tracker]
}

func newPendantStatus(cfg Config, sink CommandSink, stats *DaemonStats) *pendantStatus {
	return &pendantStatus{
		device:   cfg.Gamepad.Device,
		gamepad:  cfg.Gamepad.Model,
		machine:  cfg.Machine.Profile,
		sinkType: cfg.Sink.Type,
		sink:     sink,
		stats:    stats,
	}
}

// setTracker publishes the tracker of the current session; nil when detached.
func (s *pendantStatus) setTracker(t *Tracker) {
	s.tracker.Store(t)
}

// Report builds a fresh StatusReport.
func (s *pendantStatus) Report() StatusReport {
	r := StatusReport{
		Device:  s.device,
		Gamepad: s.gamepad,
		Machine: s.machine,
		Sink:    s.sinkType,
	}
	if s.sink != nil {
		r.SinkConnected = s.sink.Connected()
	}
	if s.stats != nil {
		r.Daemon = s.stats.Snapshot()
	}
	if t := s.tracker.Load(); t != nil {
		snap := t.Snapshot()
		r.Attached = snap.Connected
		r.Input = &snap
	}
	return r
}
