// ABOUTME: Health monitor driving periodic reconciliation of the agent manager.
// ABOUTME: A plain ticker loop; all actual state transitions live in the reconciler.

package monitor

import (
	"context"
	"log/slog"
	"time"
)

// Reconciler folds elapsed time and asynchronous signals into authoritative
// orchestrator state. Implemented by the agent manager.
type Reconciler interface {
	Reconcile(ctx context.Context, now time.Time)
}

// Monitor runs the reconciler on a fixed interval until its context is
// cancelled.
type Monitor struct {
	reconciler Reconciler
	interval   time.Duration
	logger     *slog.Logger
}

// New creates a monitor. Intervals at or below zero fall back to 3 seconds.
func New(r Reconciler, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		reconciler: r,
		interval:   interval,
		logger:     logger.With("component", "monitor"),
	}
}

// Run blocks until ctx is cancelled. One reconciliation pass runs immediately
// so restarts converge without waiting out a full tick.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("health monitor started", "interval", m.interval)

	m.reconciler.Reconcile(ctx, time.Now().UTC())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return
		case <-ticker.C:
			m.reconciler.Reconcile(ctx, time.Now().UTC())
		}
	}
}
