// ABOUTME: Tests for the orchestration state machine.
// ABOUTME: Covers exclusivity, idempotent ends, crash recovery, deadlines, and the full scenario.

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxhire/orchestrator/internal/channel"
	"github.com/voxhire/orchestrator/internal/registry"
	"github.com/voxhire/orchestrator/internal/store"
	"github.com/voxhire/orchestrator/internal/supervisor"
)

// fakeProcess is a controllable stand-in for a supervised agent process.
type fakeProcess struct {
	pid       int
	startedAt time.Time
	done      chan struct{}

	mu        sync.Mutex
	alive     bool
	stopCalls int
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{
		pid:       pid,
		startedAt: time.Now().UTC(),
		done:      make(chan struct{}),
		alive:     true,
	}
}

func (p *fakeProcess) PID() int              { return p.pid }
func (p *fakeProcess) StartedAt() time.Time  { return p.startedAt }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *fakeProcess) Stop(ctx context.Context, graceful bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopCalls++
	if p.alive {
		p.alive = false
		close(p.done)
	}
	return nil
}

// kill simulates a crash: the process dies and its exit is observed.
func (p *fakeProcess) kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.alive {
		p.alive = false
		close(p.done)
	}
}

// vanish simulates a process that died without its exit being observed yet,
// leaving only the liveness probe to notice.
func (p *fakeProcess) vanish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive = false
}

// fakeLauncher hands out fake processes and can be told to fail.
type fakeLauncher struct {
	mu         sync.Mutex
	failures   int // fail this many launches before succeeding
	failAlways bool
	launched   []*fakeProcess
}

func (l *fakeLauncher) Launch(ctx context.Context) (AgentProcess, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failAlways || l.failures > 0 {
		if l.failures > 0 {
			l.failures--
		}
		return nil, fmt.Errorf("%w: fake launcher refusing to spawn", supervisor.ErrSpawn)
	}

	p := newFakeProcess(1000 + len(l.launched))
	l.launched = append(l.launched, p)
	return p, nil
}

func (l *fakeLauncher) last() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.launched) == 0 {
		return nil
	}
	return l.launched[len(l.launched)-1]
}

func (l *fakeLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

type testHarness struct {
	mgr      *Manager
	ch       *channel.Channel
	sessions *store.SQLiteStore
	launcher *fakeLauncher
}

func defaultTestConfig() Config {
	return Config{
		AckTimeout:        time.Minute,
		GracePeriod:       time.Minute,
		RestartBackoff:    time.Millisecond,
		RestartBackoffMax: 5 * time.Millisecond,
		MaxRestarts:       2,
		Retention:         time.Hour,
	}
}

func newTestHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()
	dir := t.TempDir()

	ch, err := channel.Open(filepath.Join(dir, "channel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })

	sessions, err := store.NewSQLiteStore(filepath.Join(dir, "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sessions.Close() })

	launcher := &fakeLauncher{}
	mgr := NewManager(Params{
		Launcher: launcher,
		Channel:  ch,
		Sessions: sessions,
		Config:   cfg,
		Logger:   slog.Default(),
	})

	return &testHarness{mgr: mgr, ch: ch, sessions: sessions, launcher: launcher}
}

func (h *testHarness) createSession(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, h.sessions.CreateSession(context.Background(), &store.Session{
		ID:            id,
		CandidateName: "Candidate " + id,
	}))
}

// report writes an agent status report and runs one reconciliation pass.
func (h *testHarness) report(t *testing.T, sessionID string, state channel.ReportState, detail string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.ch.Report(ctx, channel.StatusReport{SessionID: sessionID, State: state, Detail: detail})
	require.NoError(t, err)
	h.mgr.Reconcile(ctx, time.Now().UTC())
}

func waitForLifecycle(t *testing.T, mgr *Manager, want Lifecycle) {
	t.Helper()
	require.Eventually(t, func() bool {
		return mgr.Status().Lifecycle == want
	}, 2*time.Second, 5*time.Millisecond, "lifecycle never reached %s", want)
}

func TestManager_StartAgent(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())
	ctx := context.Background()

	st := h.mgr.Status()
	assert.Equal(t, LifecycleStopped, st.Lifecycle)

	require.NoError(t, h.mgr.StartAgent(ctx))

	st = h.mgr.Status()
	assert.Equal(t, LifecycleIdle, st.Lifecycle)
	assert.NotZero(t, st.PID)
	assert.Nil(t, st.Binding)

	// Starting a running agent is a no-op.
	require.NoError(t, h.mgr.StartAgent(ctx))
	assert.Equal(t, 1, h.launcher.launchCount())
}

func TestManager_AssignmentScenario(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())
	ctx := context.Background()
	h.createSession(t, "s1")

	require.NoError(t, h.mgr.StartAgent(ctx))
	require.NoError(t, h.mgr.RequestAssignment(ctx, "s1", time.Now().Add(30*time.Second)))

	st := h.mgr.Status()
	assert.Equal(t, LifecycleBusy, st.Lifecycle)
	require.NotNil(t, st.Binding)
	assert.Equal(t, "s1", st.Binding.SessionID)
	assert.Equal(t, registry.Assigning, st.Binding.State)

	// The assignment command is visible to the agent with its session context.
	cmds, err := h.ch.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, channel.KindAssignSession, cmds[0].Kind)
	require.NotNil(t, cmds[0].Payload)
	assert.Equal(t, "Candidate s1", cmds[0].Payload.CandidateName)
	assert.Contains(t, cmds[0].Payload.RoomName, "interview_s1_")

	// Agent acknowledges: binding confirms, session goes in-progress.
	h.report(t, "s1", channel.ReportStarted, "")
	st = h.mgr.Status()
	assert.Equal(t, LifecycleBusy, st.Lifecycle)
	assert.Equal(t, registry.Bound, st.Binding.State)

	sess, err := h.sessions.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusInProgress, sess.Status)

	// Agent finishes: slot empties, lifecycle returns to idle, outcome archived.
	h.report(t, "s1", channel.ReportCompleted, "all questions answered")
	st = h.mgr.Status()
	assert.Equal(t, LifecycleIdle, st.Lifecycle)
	assert.Nil(t, st.Binding)

	sess, err = h.sessions.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, sess.Status)
	assert.Equal(t, "all questions answered", sess.Detail)

	// Reports were consumed exactly once.
	reports, err := h.ch.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestManager_SecondAssignmentRejectedWhileBusy(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())
	ctx := context.Background()
	h.createSession(t, "s1")
	h.createSession(t, "s2")

	require.NoError(t, h.mgr.StartAgent(ctx))
	require.NoError(t, h.mgr.RequestAssignment(ctx, "s1", time.Now().Add(time.Minute)))

	err := h.mgr.RequestAssignment(ctx, "s2", time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, ErrAgentBusy)

	st := h.mgr.Status()
	require.NotNil(t, st.Binding)
	assert.Equal(t, "s1", st.Binding.SessionID)
}

func TestManager_ConcurrentAssignmentsSingleWinner(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())
	ctx := context.Background()

	const attempts = 16
	for i := 0; i < attempts; i++ {
		h.createSession(t, fmt.Sprintf("s%d", i))
	}
	require.NoError(t, h.mgr.StartAgent(ctx))

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.mgr.RequestAssignment(ctx, fmt.Sprintf("s%d", i), time.Now().Add(time.Minute))
		}(i)
	}
	wg.Wait()

	var wins, busy int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case assert.ErrorIs(t, err, ErrAgentBusy):
			busy++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, attempts-1, busy)
}

func TestManager_RequestEndIdempotent(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())
	ctx := context.Background()
	h.createSession(t, "s1")
	h.createSession(t, "s2")

	require.NoError(t, h.mgr.StartAgent(ctx))

	// Ending an unbound session is a no-op.
	require.NoError(t, h.mgr.RequestEnd(ctx, "s1"))

	require.NoError(t, h.mgr.RequestAssignment(ctx, "s1", time.Now().Add(time.Minute)))
	h.report(t, "s1", channel.ReportStarted, "")

	require.NoError(t, h.mgr.RequestEnd(ctx, "s1"))
	require.NoError(t, h.mgr.RequestEnd(ctx, "s1"))

	st := h.mgr.Status()
	require.NotNil(t, st.Binding)
	assert.Equal(t, registry.Releasing, st.Binding.State)

	h.report(t, "s1", channel.ReportCompleted, "")

	// Duplicate end after completion must not disturb a newer binding.
	require.NoError(t, h.mgr.RequestAssignment(ctx, "s2", time.Now().Add(time.Minute)))
	require.NoError(t, h.mgr.RequestEnd(ctx, "s1"))

	st = h.mgr.Status()
	require.NotNil(t, st.Binding)
	assert.Equal(t, "s2", st.Binding.SessionID)
}

func TestManager_CrashWhileBusyRecovers(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())
	ctx := context.Background()
	h.createSession(t, "s1")

	require.NoError(t, h.mgr.StartAgent(ctx))
	require.NoError(t, h.mgr.RequestAssignment(ctx, "s1", time.Now().Add(time.Minute)))
	h.report(t, "s1", channel.ReportStarted, "")

	h.launcher.last().kill()

	// The crash frees the slot and the restart policy brings the agent back.
	waitForLifecycle(t, h.mgr, LifecycleIdle)
	st := h.mgr.Status()
	assert.Nil(t, st.Binding)

	sess, err := h.sessions.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, sess.Status)
	assert.Equal(t, "terminated before completion", sess.Detail)
}

func TestManager_FatalAfterRestartBudget(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxRestarts = 1
	h := newTestHarness(t, cfg)
	h.launcher.failAlways = true
	ctx := context.Background()
	h.createSession(t, "s1")

	// First launch fails, one retry fails, budget exhausted.
	err := h.mgr.StartAgent(ctx)
	assert.ErrorIs(t, err, supervisor.ErrSpawn)

	waitForLifecycle(t, h.mgr, LifecycleFatal)

	err = h.mgr.RequestAssignment(ctx, "s1", time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, ErrAgentUnavailable)

	// An administrative start clears the budget once spawning works again.
	h.launcher.mu.Lock()
	h.launcher.failAlways = false
	h.launcher.mu.Unlock()
	require.NoError(t, h.mgr.StartAgent(ctx))
	assert.Equal(t, LifecycleIdle, h.mgr.Status().Lifecycle)
}

func TestManager_ReconcileDetectsDeadProcess(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())
	ctx := context.Background()

	require.NoError(t, h.mgr.StartAgent(ctx))
	h.launcher.last().vanish()

	h.mgr.Reconcile(ctx, time.Now().UTC())

	// Crash handling kicked in; recovery follows.
	waitForLifecycle(t, h.mgr, LifecycleIdle)
	assert.Equal(t, 2, h.launcher.launchCount())
}

func TestManager_DeadlineEnforcement(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())
	ctx := context.Background()
	h.createSession(t, "s1")

	require.NoError(t, h.mgr.StartAgent(ctx))
	require.NoError(t, h.mgr.RequestAssignment(ctx, "s1", time.Now().Add(50*time.Millisecond)))
	h.report(t, "s1", channel.ReportStarted, "")

	// One reconciliation tick after the deadline reclaims the slot and issues
	// a forced end command.
	h.mgr.Reconcile(ctx, time.Now().UTC().Add(time.Second))

	st := h.mgr.Status()
	assert.Equal(t, LifecycleIdle, st.Lifecycle)
	assert.Nil(t, st.Binding)

	sess, err := h.sessions.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, sess.Status)

	cmds, err := h.ch.Poll(ctx)
	require.NoError(t, err)
	var endSeen bool
	for _, cmd := range cmds {
		if cmd.Kind == channel.KindEndSession && cmd.SessionID == "s1" {
			endSeen = true
		}
	}
	assert.True(t, endSeen, "expected a forced end_session command")
}

func TestManager_StaleAssignmentReclaimed(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.AckTimeout = 10 * time.Millisecond
	h := newTestHarness(t, cfg)
	ctx := context.Background()
	h.createSession(t, "s1")

	require.NoError(t, h.mgr.StartAgent(ctx))
	require.NoError(t, h.mgr.RequestAssignment(ctx, "s1", time.Now().Add(time.Minute)))

	// No Started report arrives before the ack deadline.
	h.mgr.Reconcile(ctx, time.Now().UTC().Add(time.Second))

	st := h.mgr.Status()
	assert.Equal(t, LifecycleIdle, st.Lifecycle)
	assert.Nil(t, st.Binding)

	sess, err := h.sessions.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, sess.Status)
	assert.Equal(t, ErrStaleAssignment.Error(), sess.Detail)
}

func TestManager_LateReportForReclaimedSessionIgnored(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.AckTimeout = 10 * time.Millisecond
	h := newTestHarness(t, cfg)
	ctx := context.Background()
	h.createSession(t, "s1")
	h.createSession(t, "s2")

	require.NoError(t, h.mgr.StartAgent(ctx))
	require.NoError(t, h.mgr.RequestAssignment(ctx, "s1", time.Now().Add(time.Minute)))
	h.mgr.Reconcile(ctx, time.Now().UTC().Add(time.Second)) // reclaims s1

	beforeAssign := time.Now().UTC()
	require.NoError(t, h.mgr.RequestAssignment(ctx, "s2", time.Now().Add(time.Minute)))

	// A straggler report for the reclaimed session must not touch s2's binding.
	// Reconcile with a clock reading from before the new assignment so the
	// short ack timeout cannot fire on s2 here.
	_, err := h.ch.Report(ctx, channel.StatusReport{SessionID: "s1", State: channel.ReportCompleted, Detail: "late"})
	require.NoError(t, err)
	h.mgr.Reconcile(ctx, beforeAssign)

	st := h.mgr.Status()
	require.NotNil(t, st.Binding)
	assert.Equal(t, "s2", st.Binding.SessionID)

	sess, err := h.sessions.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, sess.Status)
}

func TestManager_EndGracePeriodReclaim(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.GracePeriod = 10 * time.Millisecond
	h := newTestHarness(t, cfg)
	ctx := context.Background()
	h.createSession(t, "s1")

	require.NoError(t, h.mgr.StartAgent(ctx))
	require.NoError(t, h.mgr.RequestAssignment(ctx, "s1", time.Now().Add(time.Minute)))
	h.report(t, "s1", channel.ReportStarted, "")
	require.NoError(t, h.mgr.RequestEnd(ctx, "s1"))

	// Agent never confirms the end; the slot is reclaimed after the grace period.
	h.mgr.Reconcile(ctx, time.Now().UTC().Add(time.Second))

	st := h.mgr.Status()
	assert.Equal(t, LifecycleIdle, st.Lifecycle)
	assert.Nil(t, st.Binding)
}

func TestManager_ForceStop(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())
	ctx := context.Background()
	h.createSession(t, "s1")

	require.NoError(t, h.mgr.StartAgent(ctx))
	require.NoError(t, h.mgr.RequestAssignment(ctx, "s1", time.Now().Add(time.Minute)))

	require.NoError(t, h.mgr.ForceStop(ctx))

	st := h.mgr.Status()
	assert.Equal(t, LifecycleStopped, st.Lifecycle)
	assert.Nil(t, st.Binding)
	assert.Zero(t, st.PID)
	assert.False(t, h.launcher.last().Alive())

	sess, err := h.sessions.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, sess.Status)

	cmds, err := h.ch.Poll(ctx)
	require.NoError(t, err)
	var shutdownSeen bool
	for _, cmd := range cmds {
		if cmd.Kind == channel.KindShutdown {
			shutdownSeen = true
		}
	}
	assert.True(t, shutdownSeen, "expected a shutdown command")

	// Stopping again is a no-op.
	require.NoError(t, h.mgr.ForceStop(ctx))
}

func TestManager_RestartAgent(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())
	ctx := context.Background()

	require.NoError(t, h.mgr.StartAgent(ctx))
	first := h.launcher.last()

	require.NoError(t, h.mgr.RestartAgent(ctx))

	st := h.mgr.Status()
	assert.Equal(t, LifecycleIdle, st.Lifecycle)
	assert.False(t, first.Alive())
	assert.Equal(t, 2, h.launcher.launchCount())
}

func TestManager_HeartbeatTracked(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())
	ctx := context.Background()
	h.createSession(t, "s1")

	require.NoError(t, h.mgr.StartAgent(ctx))
	require.NoError(t, h.mgr.RequestAssignment(ctx, "s1", time.Now().Add(time.Minute)))

	assert.True(t, h.mgr.Status().LastHeartbeatAt.IsZero())

	h.report(t, "s1", channel.ReportStarted, "")
	h.report(t, "s1", channel.ReportInProgress, "question 2 of 5")

	assert.False(t, h.mgr.Status().LastHeartbeatAt.IsZero())
}

func TestManager_AssignmentForUnknownSession(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())
	ctx := context.Background()

	require.NoError(t, h.mgr.StartAgent(ctx))
	err := h.mgr.RequestAssignment(ctx, "missing", time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The failed lookup must not leak a slot acquisition.
	assert.Nil(t, h.mgr.Status().Binding)
}
