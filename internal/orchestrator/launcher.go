// ABOUTME: Adapter exposing the process supervisor as the manager's Launcher.
// ABOUTME: Keeps the manager decoupled from concrete process types for testing.

package orchestrator

import (
	"context"

	"github.com/voxhire/orchestrator/internal/supervisor"
)

type supervisorLauncher struct {
	sup *supervisor.Supervisor
}

// NewSupervisorLauncher wraps a process supervisor as a Launcher.
func NewSupervisorLauncher(sup *supervisor.Supervisor) Launcher {
	return supervisorLauncher{sup: sup}
}

func (l supervisorLauncher) Launch(ctx context.Context) (AgentProcess, error) {
	p, err := l.sup.Launch(ctx)
	if err != nil {
		return nil, err
	}
	return p, nil
}
