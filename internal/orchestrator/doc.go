// Package orchestrator contains the agent manager: the state machine that
// binds interview sessions to the single supervised interviewer process.
//
// # Lifecycle
//
//	Stopped → Starting → Idle ⇄ Busy → Stopping → Stopped
//
// Crashed is reachable from any running state and recovers back to Starting
// through the restart policy (exponential backoff, bounded attempts). Fatal is
// entered when the budget is exhausted; only an administrative start clears it.
//
// # Concurrency
//
// One mutex owns every mutation of lifecycle and slot state. External
// operations (RequestAssignment, RequestEnd, ForceStop, Status) and the health
// monitor's Reconcile all serialize through it. Blocking process launches and
// stops run on worker goroutines; their completions re-enter under the lock
// and are matched against a generation counter so a stale launch can never
// clobber a newer state.
//
// # Assignment flow
//
// RequestAssignment acquires the slot (failing fast with ErrAgentBusy),
// ensures the process is running, and appends an AssignSession command to the
// durable channel. The call returns immediately; the agent's Started report,
// observed during reconciliation, confirms the binding. An assignment that is
// not acknowledged within the ack timeout is reclaimed and recorded as
// ErrStaleAssignment.
//
// # Partial failure policy
//
// A session interrupted by a crash, deadline expiry, or force stop is
// finalized as failed with detail "terminated before completion"; partial
// transcripts are discarded rather than salvaged.
package orchestrator
