package main

import (
	"sync"
	"time"
)

// DaemonStats counts what the control loop did. It is written by the daemon
// goroutine and read by the IPC and HTTP status handlers.
type DaemonStats struct {
	mu sync.Mutex

	startedAt       time.Time
	ticks           uint64
	emitted         uint64
	dropped         uint64
	failed          uint64
	synthesisErrors uint64
	injected        uint64

	lastCommand   []string
	lastCommandAt time.Time
	lastError     string
}

// StatsSnapshot is a point-in-time copy of DaemonStats.
type StatsSnapshot struct {
	Uptime          string    `json:"uptime"`
	Ticks           uint64    `json:"ticks"`
	Emitted         uint64    `json:"emitted"`
	Dropped         uint64    `json:"dropped"`
	Failed          uint64    `json:"failed"`
	SynthesisErrors uint64    `json:"synthesis_errors"`
	Injected        uint64    `json:"injected"`
	LastCommand     []string  `json:"last_command,omitempty"`
	LastCommandAt   time.Time `json:"last_command_at,omitzero"`
	LastError       string    `json:"last_error,omitempty"`
}

// NewDaemonStats returns zeroed stats starting now.
func NewDaemonStats() *DaemonStats {
	return &DaemonStats{startedAt: time.Now()}
}

func (s *DaemonStats) recordTick() {
	s.mu.Lock()
	s.ticks++
	s.mu.Unlock()
}

func (s *DaemonStats) recordInjected(n int) {
	s.mu.Lock()
	s.injected += uint64(n)
	s.mu.Unlock()
}

func (s *DaemonStats) recordEmitted(cmd Command, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitted++
	s.lastCommand = cmd.Arguments()
	s.lastCommandAt = at
}

func (s *DaemonStats) recordDropped() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

func (s *DaemonStats) recordFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
	s.lastError = err.Error()
}

func (s *DaemonStats) recordSynthesisError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synthesisErrors++
	s.lastError = err.Error()
}

// Snapshot copies the counters.
func (s *DaemonStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Uptime:          time.Since(s.startedAt).Round(time.Second).String(),
		Ticks:           s.ticks,
		Emitted:         s.emitted,
		Dropped:         s.dropped,
		Failed:          s.failed,
		SynthesisErrors: s.synthesisErrors,
		Injected:        s.injected,
		LastCommand:     append([]string(nil), s.lastCommand...),
		LastCommandAt:   s.lastCommandAt,
		LastError:       s.lastError,
	}
}
