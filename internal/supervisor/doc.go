// Package supervisor owns the operating-system process of the interviewer agent.
//
// A Supervisor is configured once with the launch spec (command, args,
// environment, log path) and produces Process handles. Each Process is reaped
// by a dedicated goroutine; Alive, Done, and ExitStatus never block.
//
// Stop semantics follow a terminate-then-kill ladder: SIGTERM, a bounded grace
// period, then SIGKILL. The agent runs in its own process group so signals
// never reach the orchestrator. No component outside this package may signal
// the process directly.
package supervisor
