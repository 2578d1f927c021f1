// Package daemon implements the polling scheduler and the monitor
// lifecycle around it.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nettrail/fwmon/internal/domain"
)

// stopTimeout bounds the session stop call during teardown.
const stopTimeout = 5 * time.Second

// ErrNotRestartable is returned by Run on a monitor that has already been
// used. Construct a new monitor to watch again.
var ErrNotRestartable = errors.New("monitor is not restartable")

// Scheduler drives the periodic poll loop. Implemented by Poller;
// replaced by a fake in tests.
type Scheduler interface {
	// Run blocks until ctx is canceled or the scheduler hits a fatal
	// error of its own.
	Run(ctx context.Context) error
}

// Monitor is the composition root: it starts the capture session, arms
// the scheduler, and blocks until interrupted.
//
// Lifecycle: idle -> starting -> running -> stopping -> stopped, forward
// only. Teardown (disarm the scheduler, then stop the session, in that
// order) runs exactly once on every exit path, including startup and
// scheduler failures. The session is never removed here; removal is a
// separate explicit operation.
type Monitor struct {
	sessions  domain.SessionController
	scheduler Scheduler
	stats     *Stats
	logger    *zap.Logger

	mu           sync.Mutex
	state        domain.MonitorState
	teardownOnce sync.Once
}

// NewMonitor creates a monitor in the idle state.
func NewMonitor(
	sessions domain.SessionController,
	scheduler Scheduler,
	stats *Stats,
	logger *zap.Logger,
) *Monitor {
	return &Monitor{
		sessions:  sessions,
		scheduler: scheduler,
		stats:     stats,
		logger:    logger,
		state:     domain.StateIdle,
	}
}

// State returns the current lifecycle state.
func (m *Monitor) State() domain.MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) setState(state domain.MonitorState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
	m.stats.SetState(state)
}

// Run executes the monitor until ctx is canceled (the interrupt signal)
// or a fatal error occurs. A fatal startup or scheduler error is returned
// after teardown has run; interrupt returns nil.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.state != domain.StateIdle {
		m.mu.Unlock()
		return ErrNotRestartable
	}
	m.state = domain.StateStarting
	m.mu.Unlock()
	m.stats.SetState(domain.StateStarting)

	m.logger.Info("monitor starting")

	// The scheduler gets its own context so teardown controls the order:
	// disarm first, stop the session second. Deriving it from ctx would
	// cancel both at once on interrupt.
	pollCtx, disarm := context.WithCancel(context.Background())
	schedDone := make(chan error, 1)
	schedRunning := false

	defer func() {
		m.teardownOnce.Do(func() {
			m.setState(domain.StateStopping)
			m.logger.Info("monitor stopping")

			disarm()
			if schedRunning {
				if err := <-schedDone; err != nil && !errors.Is(err, context.Canceled) {
					m.logger.Warn("scheduler exited with error", zap.Error(err))
				}
			}

			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := m.sessions.Stop(stopCtx); err != nil {
				// Best effort: log and finish teardown anyway.
				m.logger.Warn("failed to stop session during teardown", zap.Error(err))
			}

			m.setState(domain.StateStopped)
			m.logger.Info("monitor stopped")
		})
	}()

	if err := m.sessions.EnsureStarted(ctx); err != nil {
		return fmt.Errorf("failed to start capture session: %w", err)
	}

	m.setState(domain.StateRunning)
	m.logger.Info("monitor running")

	schedRunning = true
	go func() {
		schedDone <- m.scheduler.Run(pollCtx)
	}()

	select {
	case <-ctx.Done():
		m.logger.Info("interrupt received")
		return nil

	case err := <-schedDone:
		// Already drained; teardown must not wait on the channel again.
		schedRunning = false
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("scheduler failed: %w", err)
		}
		return nil
	}
}
