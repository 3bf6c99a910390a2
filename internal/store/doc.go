// Package store provides persistent storage for interview sessions using SQLite.
//
// # Data Model
//
// A Session records the candidate, the media room the agent joins, the
// question plan, and the session's lifecycle status
// (pending → assigned → in_progress → completed/failed).
//
// The orchestrator reads session context from here when assigning work and
// writes the final outcome back after the agent reports completion, failure,
// or is reclaimed.
//
// # SQLite Configuration
//
// The store uses SQLite in WAL mode via modernc.org/sqlite. The schema is
// created automatically when the store is opened. Use a path under
// t.TempDir() for tests.
//
// # Error Handling
//
//   - ErrNotFound: requested session does not exist
//   - ErrDuplicateSession: session ID already taken
//
// All methods accept context.Context for cancellation support.
package store
