package daemon

import (
	"sync"
	"time"

	"github.com/nettrail/fwmon/internal/domain"
)

// StatsSnapshot is a point-in-time copy of the monitor counters.
type StatsSnapshot struct {
	State            domain.MonitorState `json:"state"`
	Ticks            uint64              `json:"ticks"`
	FailedTicks      uint64              `json:"failed_ticks"`
	RecordsScanned   uint64              `json:"records_scanned"`
	RecordsDisplayed uint64              `json:"records_displayed"`
	SinkErrors       uint64              `json:"sink_errors"`
	LastWatermark    int64               `json:"last_watermark"`
	StartedAt        time.Time           `json:"started_at"`
}

// Stats accumulates monitor counters for the status surfaces.
// The poller writes at the end of each tick; readers always get copies,
// so the watermark itself stays owned by the poll cycle.
type Stats struct {
	mu   sync.Mutex
	snap StatsSnapshot
}

// NewStats creates an empty counter set in the idle state.
func NewStats() *Stats {
	return &Stats{
		snap: StatsSnapshot{
			State:     domain.StateIdle,
			StartedAt: time.Now(),
		},
	}
}

// SetState publishes a lifecycle state change.
func (s *Stats) SetState(state domain.MonitorState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.State = state
}

// TickCompleted records a successful poll cycle.
func (s *Stats) TickCompleted(watermark int64, scanned, displayed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Ticks++
	s.snap.RecordsScanned += uint64(scanned)
	s.snap.RecordsDisplayed += uint64(displayed)
	s.snap.LastWatermark = watermark
}

// TickFailed records a poll cycle that ended in a recoverable query error.
func (s *Stats) TickFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Ticks++
	s.snap.FailedTicks++
}

// SinkError records a failed emit.
func (s *Stats) SinkError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.SinkErrors++
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}
