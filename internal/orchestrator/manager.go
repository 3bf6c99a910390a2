// ABOUTME: Orchestration state machine for the single supervised interviewer agent.
// ABOUTME: Serializes assignment, termination, crash recovery, and status behind one lock.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxhire/orchestrator/internal/channel"
	"github.com/voxhire/orchestrator/internal/registry"
	"github.com/voxhire/orchestrator/internal/store"
)

// ErrAgentBusy indicates the session slot is already occupied.
var ErrAgentBusy = errors.New("agent is busy with another session")

// ErrAgentUnavailable indicates the restart budget is exhausted and the agent
// requires administrative intervention.
var ErrAgentUnavailable = errors.New("agent unavailable")

// ErrStaleAssignment indicates an assignment was not acknowledged before its
// acknowledgment deadline and the session was force-ended.
var ErrStaleAssignment = errors.New("assignment not acknowledged before deadline")

// Lifecycle is the agent process lifecycle as tracked by the manager.
type Lifecycle string

const (
	LifecycleStopped  Lifecycle = "stopped"
	LifecycleStarting Lifecycle = "starting"
	LifecycleIdle     Lifecycle = "idle"
	LifecycleBusy     Lifecycle = "busy"
	LifecycleStopping Lifecycle = "stopping"
	LifecycleCrashed  Lifecycle = "crashed"
	LifecycleFatal    Lifecycle = "fatal"
)

// AgentProcess is a handle to one running interviewer process.
type AgentProcess interface {
	PID() int
	StartedAt() time.Time
	Alive() bool
	Done() <-chan struct{}
	Stop(ctx context.Context, graceful bool) error
}

// Launcher spawns agent processes.
type Launcher interface {
	Launch(ctx context.Context) (AgentProcess, error)
}

// CommandChannel is the manager-side surface of the durable mailbox.
type CommandChannel interface {
	Send(ctx context.Context, cmd channel.Command) (int64, error)
	Drain(ctx context.Context) ([]channel.StatusReport, error)
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// SessionStore supplies session context for assignments and receives final
// outcomes for persistence.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*store.Session, error)
	MarkAssigned(ctx context.Context, id string) error
	MarkInProgress(ctx context.Context, id string) error
	SaveOutcome(ctx context.Context, id string, status store.SessionStatus, detail string) error
}

// Config holds the manager's timing budgets and restart policy.
type Config struct {
	AckTimeout        time.Duration // assignment must see a Started report within this
	GracePeriod       time.Duration // slot reclaim budget after an end request
	RestartBackoff    time.Duration // base delay between restart attempts
	RestartBackoffMax time.Duration
	MaxRestarts       int
	Retention         time.Duration // archived channel entries older than this are purged
}

// detailReclaimed is the outcome detail for sessions whose process was killed
// or reclaimed mid-interview. Partial transcripts are discarded, not salvaged.
const detailReclaimed = "terminated before completion"

// Params bundles the manager's collaborators.
type Params struct {
	Launcher Launcher
	Channel  CommandChannel
	Sessions SessionStore
	Config   Config
	Logger   *slog.Logger
}

// Manager owns all mutations to the agent lifecycle and the session slot.
// External requests and the health monitor's reconciliation all serialize
// through one mutex, so cross-field invariants (slot bound ⇒ lifecycle busy)
// hold atomically. Blocking process launches and stops run on worker
// goroutines and report back through the same lock.
type Manager struct {
	launcher Launcher
	channel  CommandChannel
	sessions SessionStore
	registry *registry.Registry
	cfg      Config
	logger   *slog.Logger

	mu              sync.Mutex
	lifecycle       Lifecycle
	proc            AgentProcess
	startGen        int // invalidates stale async launch completions
	restarts        int
	lastHeartbeatAt time.Time
}

// Binding is the externally visible view of the session slot.
type Binding struct {
	SessionID  string
	State      registry.BindingState
	AssignedAt time.Time
	DeadlineAt time.Time
}

// Status is a non-blocking snapshot of the orchestrator state.
type Status struct {
	Lifecycle       Lifecycle
	PID             int
	StartedAt       time.Time
	Uptime          time.Duration
	Restarts        int
	LastHeartbeatAt time.Time
	Binding         *Binding
}

// NewManager creates a manager in the Stopped state.
func NewManager(p Params) *Manager {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		launcher:  p.Launcher,
		channel:   p.Channel,
		sessions:  p.Sessions,
		registry:  registry.New(),
		cfg:       p.Config,
		logger:    logger.With("component", "orchestrator"),
		lifecycle: LifecycleStopped,
	}
}

// StartAgent launches the agent process if it is not already running.
// Safe to call repeatedly; clears the restart budget.
func (m *Manager) StartAgent(ctx context.Context) error {
	m.mu.Lock()
	switch m.lifecycle {
	case LifecycleStarting, LifecycleIdle, LifecycleBusy, LifecycleStopping:
		m.mu.Unlock()
		return nil
	}
	m.restarts = 0
	gen := m.beginStartLocked()
	m.mu.Unlock()

	return m.launchAndFinish(ctx, gen)
}

// RestartAgent stops the agent (releasing any bound session) and starts it again.
func (m *Manager) RestartAgent(ctx context.Context) error {
	if err := m.ForceStop(ctx); err != nil {
		return err
	}
	return m.StartAgent(ctx)
}

// RequestAssignment binds a session to the agent and issues an AssignSession
// command. The call returns immediately: the assignment is confirmed
// asynchronously by the agent's Started report (visible via Status).
// Fails fast with ErrAgentBusy when the slot is occupied and with
// ErrAgentUnavailable when the restart budget is exhausted.
func (m *Manager) RequestAssignment(ctx context.Context, sessionID string, deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lifecycle == LifecycleFatal {
		return fmt.Errorf("%w: restart budget exhausted, administrative restart required", ErrAgentUnavailable)
	}

	sess, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("loading session %s: %w", sessionID, err)
	}

	now := time.Now().UTC()
	if !m.registry.TryAcquire(sessionID, now, deadline, now.Add(m.cfg.AckTimeout)) {
		return ErrAgentBusy
	}

	// The channel is durable, so the command can be issued even while the
	// process is still coming up; the agent consumes it once running.
	if m.lifecycle == LifecycleStopped || m.lifecycle == LifecycleCrashed {
		gen := m.beginStartLocked()
		go func() {
			if err := m.launchAndFinish(context.Background(), gen); err != nil {
				m.logger.Error("agent launch for assignment failed", "session_id", sessionID, "error", err)
			}
		}()
	}

	cmd := channel.Command{
		Kind:      channel.KindAssignSession,
		SessionID: sessionID,
		Payload: &channel.AssignmentPayload{
			RoomName:       sess.RoomName,
			CandidateName:  sess.CandidateName,
			CandidateEmail: sess.CandidateEmail,
			Plan:           sess.Plan,
		},
	}
	if _, err := m.channel.Send(ctx, cmd); err != nil {
		m.registry.Release(sessionID)
		return fmt.Errorf("issuing assignment: %w", err)
	}

	if err := m.sessions.MarkAssigned(ctx, sessionID); err != nil {
		m.logger.Warn("marking session assigned failed", "session_id", sessionID, "error", err)
	}

	if m.lifecycle == LifecycleIdle {
		m.lifecycle = LifecycleBusy
	}

	m.logger.Info("session assigned", "session_id", sessionID, "room", sess.RoomName, "deadline", deadline)
	return nil
}

// RequestEnd asks the agent to end the given session. A session that is not
// currently bound is a no-op, not an error, so duplicate end requests are
// tolerated. The slot is reclaimed within the grace period even if the agent
// never acknowledges.
func (m *Manager) RequestEnd(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.registry.Current()
	if !ok || slot.SessionID != sessionID {
		return nil
	}

	if _, err := m.channel.Send(ctx, channel.Command{Kind: channel.KindEndSession, SessionID: sessionID}); err != nil {
		return fmt.Errorf("issuing end command: %w", err)
	}

	m.registry.BeginRelease(sessionID, time.Now().UTC().Add(m.cfg.GracePeriod))
	m.logger.Info("session end requested", "session_id", sessionID)
	return nil
}

// ForceStop is the administrative override: it sends Shutdown, releases the
// slot unconditionally (failing any in-flight session), stops the process,
// and leaves the lifecycle Stopped. Idempotent.
func (m *Manager) ForceStop(ctx context.Context) error {
	m.mu.Lock()
	if m.lifecycle == LifecycleStopped {
		m.mu.Unlock()
		return nil
	}

	if _, err := m.channel.Send(ctx, channel.Command{Kind: channel.KindShutdown}); err != nil {
		m.logger.Warn("shutdown command not delivered", "error", err)
	}

	if slot, ok := m.registry.Current(); ok {
		m.finalizeLocked(ctx, slot.SessionID, store.StatusFailed, detailReclaimed)
		m.registry.ForceRelease()
	}

	p := m.proc
	m.proc = nil
	m.startGen++ // discard any launch still in flight
	m.lifecycle = LifecycleStopping
	m.mu.Unlock()

	if p != nil {
		if err := p.Stop(ctx, true); err != nil {
			m.logger.Warn("stopping agent process", "pid", p.PID(), "error", err)
		}
	}

	m.mu.Lock()
	m.lifecycle = LifecycleStopped
	m.restarts = 0
	m.mu.Unlock()

	m.logger.Info("agent stopped")
	return nil
}

// Status returns a read-only snapshot. It never blocks on process operations.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Lifecycle:       m.lifecycle,
		Restarts:        m.restarts,
		LastHeartbeatAt: m.lastHeartbeatAt,
	}
	if m.proc != nil {
		st.PID = m.proc.PID()
		st.StartedAt = m.proc.StartedAt()
		st.Uptime = time.Since(m.proc.StartedAt())
	}
	if slot, ok := m.registry.Current(); ok {
		st.Binding = &Binding{
			SessionID:  slot.SessionID,
			State:      slot.State,
			AssignedAt: slot.AssignedAt,
			DeadlineAt: slot.DeadlineAt,
		}
	}
	return st
}

// Reconcile is the health monitor's entrypoint: it folds asynchronous signals
// (process liveness, drained reports, elapsed deadlines) into authoritative
// state. All transitions happen under the manager lock, so reconciliation can
// never race an admission decision.
func (m *Manager) Reconcile(ctx context.Context, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Process liveness cross-check. The exit watcher normally reports crashes
	// first; this catches anything it missed.
	switch m.lifecycle {
	case LifecycleStarting, LifecycleIdle, LifecycleBusy:
		if m.proc != nil && !m.proc.Alive() {
			m.handleCrashLocked(ctx, "dead process detected during reconciliation")
		}
	}

	// Drain reports before enforcing deadlines so an outcome that already
	// arrived wins over a reclaim racing it.
	reports, err := m.channel.Drain(ctx)
	if err != nil {
		m.logger.Warn("draining status reports failed, will retry", "error", err)
	} else {
		for _, rep := range reports {
			m.applyReportLocked(ctx, rep)
		}
	}

	if slot, ok := m.registry.Current(); ok {
		switch {
		case slot.State == registry.Assigning && now.After(slot.AckDeadline):
			m.logger.Warn("reclaiming unacknowledged assignment",
				"session_id", slot.SessionID, "error", ErrStaleAssignment)
			m.reclaimLocked(ctx, slot.SessionID, ErrStaleAssignment.Error())

		case now.After(slot.DeadlineAt):
			m.logger.Warn("session deadline elapsed, force-ending",
				"session_id", slot.SessionID, "deadline", slot.DeadlineAt)
			m.reclaimLocked(ctx, slot.SessionID, detailReclaimed)

		case slot.State == registry.Releasing && now.After(slot.ReclaimAt):
			m.logger.Warn("agent never confirmed session end, reclaiming slot",
				"session_id", slot.SessionID)
			m.reclaimLocked(ctx, slot.SessionID, detailReclaimed)
		}
	}

	if _, err := m.channel.Purge(ctx, m.cfg.Retention); err != nil {
		m.logger.Debug("purging archived channel entries failed", "error", err)
	}
}

// applyReportLocked folds one status report into registry and lifecycle state.
func (m *Manager) applyReportLocked(ctx context.Context, rep channel.StatusReport) {
	m.lastHeartbeatAt = rep.ReportedAt

	slot, ok := m.registry.Current()
	if !ok || slot.SessionID != rep.SessionID {
		// Reports for sessions no longer holding the slot (already reclaimed
		// or force-ended) are archived but change nothing.
		m.logger.Debug("report for unbound session ignored",
			"session_id", rep.SessionID, "state", rep.State)
		return
	}

	switch rep.State {
	case channel.ReportStarted:
		if m.registry.ConfirmBound(rep.SessionID) {
			if err := m.sessions.MarkInProgress(ctx, rep.SessionID); err != nil {
				m.logger.Warn("marking session in progress failed", "session_id", rep.SessionID, "error", err)
			}
			m.logger.Info("assignment acknowledged", "session_id", rep.SessionID)
		}

	case channel.ReportInProgress:
		// Heartbeat only.

	case channel.ReportCompleted:
		m.finalizeLocked(ctx, rep.SessionID, store.StatusCompleted, rep.Detail)
		m.registry.Release(rep.SessionID)
		if m.lifecycle == LifecycleBusy {
			m.lifecycle = LifecycleIdle
		}
		m.logger.Info("session completed", "session_id", rep.SessionID)

	case channel.ReportFailed:
		m.finalizeLocked(ctx, rep.SessionID, store.StatusFailed, rep.Detail)
		m.registry.Release(rep.SessionID)
		if m.lifecycle == LifecycleBusy {
			m.lifecycle = LifecycleIdle
		}
		m.logger.Warn("session failed", "session_id", rep.SessionID, "detail", rep.Detail)
	}
}

// reclaimLocked force-ends a session: the agent is told to stop, the outcome
// is recorded as failed, and the slot is freed.
func (m *Manager) reclaimLocked(ctx context.Context, sessionID, detail string) {
	if _, err := m.channel.Send(ctx, channel.Command{Kind: channel.KindEndSession, SessionID: sessionID}); err != nil {
		m.logger.Warn("end command for reclaimed session not delivered", "session_id", sessionID, "error", err)
	}
	m.finalizeLocked(ctx, sessionID, store.StatusFailed, detail)
	m.registry.ForceRelease()
	if m.lifecycle == LifecycleBusy {
		m.lifecycle = LifecycleIdle
	}
}

// finalizeLocked persists a terminal outcome for a session.
func (m *Manager) finalizeLocked(ctx context.Context, sessionID string, status store.SessionStatus, detail string) {
	if detail == "" {
		detail = string(status)
	}
	if err := m.sessions.SaveOutcome(ctx, sessionID, status, detail); err != nil {
		m.logger.Error("persisting session outcome failed",
			"session_id", sessionID, "status", status, "error", err)
	}
}

// beginStartLocked transitions to Starting and returns a generation token that
// ties the eventual launch completion back to this attempt.
func (m *Manager) beginStartLocked() int {
	m.lifecycle = LifecycleStarting
	m.startGen++
	return m.startGen
}

// launchAndFinish performs the blocking process launch off the control path
// and folds the result back in under the lock.
func (m *Manager) launchAndFinish(ctx context.Context, gen int) error {
	p, err := m.launcher.Launch(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.startGen || m.lifecycle != LifecycleStarting {
		// Superseded by a force stop or a newer start attempt.
		if err == nil {
			go p.Stop(context.Background(), false)
		}
		return nil
	}

	if err != nil {
		m.logger.Error("agent launch failed", "error", err)
		m.handleCrashLocked(ctx, "launch failed")
		return err
	}

	m.proc = p
	if _, bound := m.registry.Current(); bound {
		m.lifecycle = LifecycleBusy
	} else {
		m.lifecycle = LifecycleIdle
	}

	go m.watchExit(p)

	m.logger.Info("agent process running", "pid", p.PID())
	return nil
}

// watchExit turns an unexpected process exit into a crash event.
func (m *Manager) watchExit(p AgentProcess) {
	<-p.Done()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.proc != p {
		return // superseded
	}
	if m.lifecycle == LifecycleStopping || m.lifecycle == LifecycleStopped {
		return // expected exit
	}

	m.handleCrashLocked(context.Background(), "agent process exited unexpectedly")
}

// handleCrashLocked records a crash, fails any bound session, and either
// schedules a backed-off restart or gives up with a Fatal lifecycle.
func (m *Manager) handleCrashLocked(ctx context.Context, reason string) {
	m.proc = nil

	if slot, ok := m.registry.Current(); ok {
		// Partial interviews are discarded; a restarted agent must not resume
		// them, so it is told to end the session if it ever picks it up.
		if _, err := m.channel.Send(ctx, channel.Command{Kind: channel.KindEndSession, SessionID: slot.SessionID}); err != nil {
			m.logger.Warn("end command after crash not delivered", "session_id", slot.SessionID, "error", err)
		}
		m.finalizeLocked(ctx, slot.SessionID, store.StatusFailed, detailReclaimed)
		m.registry.ForceRelease()
	}

	m.restarts++
	if m.restarts > m.cfg.MaxRestarts {
		m.lifecycle = LifecycleFatal
		m.logger.Error("restart budget exhausted, agent unavailable",
			"reason", reason, "attempts", m.restarts-1, "error", ErrAgentUnavailable)
		return
	}

	m.lifecycle = LifecycleCrashed
	backoff := m.restartBackoff(m.restarts)
	m.logger.Warn("agent crashed, restart scheduled",
		"reason", reason, "attempt", m.restarts, "max", m.cfg.MaxRestarts, "backoff", backoff)

	go func() {
		time.Sleep(backoff)

		m.mu.Lock()
		if m.lifecycle != LifecycleCrashed {
			m.mu.Unlock()
			return
		}
		gen := m.beginStartLocked()
		m.mu.Unlock()

		if err := m.launchAndFinish(context.Background(), gen); err != nil {
			m.logger.Error("restart attempt failed", "error", err)
		}
	}()
}

// restartBackoff returns the delay before the given attempt, doubling each
// time up to the configured ceiling.
func (m *Manager) restartBackoff(attempt int) time.Duration {
	backoff := m.cfg.RestartBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if m.cfg.RestartBackoffMax > 0 && backoff >= m.cfg.RestartBackoffMax {
			return m.cfg.RestartBackoffMax
		}
	}
	if m.cfg.RestartBackoffMax > 0 && backoff > m.cfg.RestartBackoffMax {
		backoff = m.cfg.RestartBackoffMax
	}
	return backoff
}
