// Package channel implements the durable mailbox between the orchestrator and
// the supervised interviewer process.
//
// # Model
//
// Two append-only logs live in one SQLite database:
//
//   - commands: orchestrator → agent (assign_session, end_session, shutdown)
//   - status_reports: agent → orchestrator (started, in_progress, completed, failed)
//
// Rows are keyed by a monotonically increasing sequence number and are never
// mutated after insertion except to set consumed_at. The database file is the
// only resource both processes touch; WAL mode makes concurrent append/read
// safe without a shared lock.
//
// # Delivery semantics
//
// Command delivery is at-least-once: Poll returns every unconsumed command, so
// a consumer that crashes after reading but before Acknowledge sees the command
// again on restart. Consumers must treat assign/end commands as idempotent by
// session ID. Acknowledged commands are never re-delivered.
//
// Report consumption is exactly-once: Drain selects and marks reports consumed
// in a single transaction.
//
// # Failure
//
// I/O faults surface as ErrChannelUnavailable. Both sides treat this as
// transient and retry on their next poll or reconciliation tick.
package channel
