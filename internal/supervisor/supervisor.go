// ABOUTME: Spawns and owns the OS process of the AI interviewer agent.
// ABOUTME: Provides liveness checks, bounded graceful stop, and exit observation.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"
)

// ErrSpawn is returned when the agent executable cannot be launched.
var ErrSpawn = errors.New("agent process could not be launched")

// DefaultGracePeriod bounds how long a graceful Stop waits for the process to
// exit after SIGTERM before escalating to SIGKILL.
const DefaultGracePeriod = 10 * time.Second

// Config describes how to launch the agent process.
type Config struct {
	Command     string            // Executable to run
	Args        []string          // Arguments
	WorkDir     string            // Working directory; defaults to the current directory
	Env         map[string]string // Extra environment (API keys, media URL) layered over os.Environ
	LogPath     string            // File receiving the agent's stdout/stderr
	GracePeriod time.Duration     // SIGTERM→SIGKILL budget; defaults to DefaultGracePeriod
}

// ExitStatus describes how a process ended.
type ExitStatus struct {
	Code int
	Err  error
}

// Process is a handle to one spawned agent process. It is owned exclusively by
// the supervisor that launched it; no other component signals it directly.
type Process struct {
	pid         int
	startedAt   time.Time
	gracePeriod time.Duration
	cmd         *exec.Cmd
	logFile     *os.File
	logger      *slog.Logger

	done chan struct{}

	mu   sync.Mutex
	exit ExitStatus
}

// Supervisor launches agent processes from a fixed spec.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a supervisor for the given launch spec.
func New(cfg Config, logger *slog.Logger) *Supervisor {
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:    cfg,
		logger: logger.With("component", "supervisor"),
	}
}

// Launch starts a new agent process. Failures to start wrap ErrSpawn.
func (s *Supervisor) Launch(ctx context.Context) (*Process, error) {
	if s.cfg.Command == "" {
		return nil, fmt.Errorf("%w: no agent command configured", ErrSpawn)
	}

	var logFile *os.File
	if s.cfg.LogPath != "" {
		if dir := filepath.Dir(s.cfg.LogPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("%w: creating log directory: %v", ErrSpawn, err)
			}
		}
		f, err := os.OpenFile(s.cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("%w: opening agent log: %v", ErrSpawn, err)
		}
		logFile = f
	}

	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = mergedEnv(s.cfg.Env)
	if logFile != nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	// Own process group so a graceful stop never signals the orchestrator itself.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	p := &Process{
		pid:         cmd.Process.Pid,
		startedAt:   time.Now().UTC(),
		gracePeriod: s.cfg.GracePeriod,
		cmd:         cmd,
		logFile:     logFile,
		logger:      s.logger,
		done:        make(chan struct{}),
	}

	go p.reap()

	s.logger.Info("agent process launched", "pid", p.pid, "command", s.cfg.Command)
	return p, nil
}

// mergedEnv layers extra variables over the inherited environment.
func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// reap waits for the process to exit and records its status.
func (p *Process) reap() {
	err := p.cmd.Wait()

	status := ExitStatus{}
	if p.cmd.ProcessState != nil {
		status.Code = p.cmd.ProcessState.ExitCode()
	}
	status.Err = err

	p.mu.Lock()
	p.exit = status
	p.mu.Unlock()

	if p.logFile != nil {
		p.logFile.Close()
	}
	close(p.done)
}

// PID returns the OS process ID.
func (p *Process) PID() int {
	return p.pid
}

// StartedAt returns when the process was launched.
func (p *Process) StartedAt() time.Time {
	return p.startedAt
}

// Alive reports whether the process is still running.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Done returns a channel closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitStatus returns how the process ended. Only meaningful once Done is closed.
func (p *Process) ExitStatus() ExitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

// Wait blocks until the process exits or the context is cancelled.
func (p *Process) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-p.done:
		return p.ExitStatus(), nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

// Stop terminates the process. Graceful stops send SIGTERM and wait up to the
// grace period before force-killing; non-graceful stops SIGKILL immediately.
// Stop returns once the process has exited.
func (p *Process) Stop(ctx context.Context, graceful bool) error {
	if !p.Alive() {
		return nil
	}

	if graceful {
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			// Process may have just exited; fall through to the wait below.
			p.logger.Debug("SIGTERM failed", "pid", p.pid, "error", err)
		}

		select {
		case <-p.done:
			return nil
		case <-time.After(p.gracePeriod):
			p.logger.Warn("agent ignored SIGTERM, escalating", "pid", p.pid, "grace_period", p.gracePeriod)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := p.cmd.Process.Kill(); err != nil && p.Alive() {
		return fmt.Errorf("killing agent process %d: %w", p.pid, err)
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
