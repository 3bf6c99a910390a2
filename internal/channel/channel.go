// ABOUTME: Durable SQLite-backed command channel between the orchestrator and the agent process.
// ABOUTME: Append-only command/report logs with at-least-once delivery and explicit acknowledgment.

package channel

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrChannelUnavailable is returned when the channel medium cannot be read or
// written. Callers treat it as transient and retry with backoff.
var ErrChannelUnavailable = errors.New("command channel unavailable")

// Kind identifies the type of a command sent to the agent process.
type Kind string

const (
	KindAssignSession Kind = "assign_session"
	KindEndSession    Kind = "end_session"
	KindShutdown      Kind = "shutdown"
)

// ReportState is the progress state carried by a StatusReport.
type ReportState string

const (
	ReportStarted    ReportState = "started"
	ReportInProgress ReportState = "in_progress"
	ReportCompleted  ReportState = "completed"
	ReportFailed     ReportState = "failed"
)

// AssignmentPayload is the session context delivered with an AssignSession command.
// The agent joins the named media room and runs the interview from the plan.
type AssignmentPayload struct {
	RoomName       string          `json:"room_name"`
	CandidateName  string          `json:"candidate_name"`
	CandidateEmail string          `json:"candidate_email,omitempty"`
	Plan           json.RawMessage `json:"plan,omitempty"`
}

// Command is a single instruction written to the channel. Commands are
// append-only: they are never mutated after creation, only marked consumed.
type Command struct {
	Seq        int64
	ID         string
	Kind       Kind
	SessionID  string
	Payload    *AssignmentPayload
	IssuedAt   time.Time
	ConsumedAt *time.Time
}

// StatusReport is a progress or outcome message written back by the agent.
type StatusReport struct {
	Seq        int64
	ID         string
	SessionID  string
	State      ReportState
	Detail     string
	ReportedAt time.Time
}

// Channel is the shared mailbox. Both processes open the same database file;
// WAL mode allows concurrent append and read without a cross-process lock.
type Channel struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the channel database at the given path.
// Parent directories are created if needed.
func Open(path string) (*Channel, error) {
	logger := slog.Default().With("component", "channel")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating channel directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening channel database: %w", err)
	}

	// WAL mode so the orchestrator and the agent process can append and read
	// concurrently; busy_timeout covers the brief write-lock window.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	c := &Channel{db: db, logger: logger}
	if err := c.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating channel schema: %w", err)
	}

	return c, nil
}

// createSchema creates the command and report logs if they don't exist.
func (c *Channel) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS commands (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			session_id TEXT NOT NULL,
			payload TEXT,
			issued_at DATETIME NOT NULL,
			consumed_at DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_commands_unconsumed
			ON commands(seq) WHERE consumed_at IS NULL;

		CREATE TABLE IF NOT EXISTS status_reports (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			state TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			reported_at DATETIME NOT NULL,
			consumed_at DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_reports_unconsumed
			ON status_reports(seq) WHERE consumed_at IS NULL;
	`
	_, err := c.db.Exec(schema)
	return err
}

// Send appends a command to the channel and returns its sequence number.
// A missing ID is filled with a fresh UUID.
func (c *Channel) Send(ctx context.Context, cmd Command) (int64, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now().UTC()
	}

	var payload sql.NullString
	if cmd.Payload != nil {
		data, err := json.Marshal(cmd.Payload)
		if err != nil {
			return 0, fmt.Errorf("encoding command payload: %w", err)
		}
		payload = sql.NullString{String: string(data), Valid: true}
	}

	res, err := c.db.ExecContext(ctx,
		`INSERT INTO commands (id, kind, session_id, payload, issued_at) VALUES (?, ?, ?, ?, ?)`,
		cmd.ID, string(cmd.Kind), cmd.SessionID, payload, cmd.IssuedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: appending command: %v", ErrChannelUnavailable, err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: reading command seq: %v", ErrChannelUnavailable, err)
	}

	c.logger.Debug("command sent", "seq", seq, "kind", cmd.Kind, "session_id", cmd.SessionID)
	return seq, nil
}

// Poll returns all unconsumed commands in issuance order. The agent process
// calls this; a command stays visible until Acknowledge, so a consumer crash
// between Poll and Acknowledge re-delivers it (at-least-once).
func (c *Channel) Poll(ctx context.Context) ([]Command, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT seq, id, kind, session_id, payload, issued_at
		FROM commands WHERE consumed_at IS NULL ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: polling commands: %v", ErrChannelUnavailable, err)
	}
	defer rows.Close()

	var cmds []Command
	for rows.Next() {
		var cmd Command
		var kind string
		var payload sql.NullString
		if err := rows.Scan(&cmd.Seq, &cmd.ID, &kind, &cmd.SessionID, &payload, &cmd.IssuedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning command: %v", ErrChannelUnavailable, err)
		}
		cmd.Kind = Kind(kind)
		if payload.Valid {
			var p AssignmentPayload
			if err := json.Unmarshal([]byte(payload.String), &p); err != nil {
				return nil, fmt.Errorf("%w: decoding command payload: %v", ErrChannelUnavailable, err)
			}
			cmd.Payload = &p
		}
		cmds = append(cmds, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading commands: %v", ErrChannelUnavailable, err)
	}
	return cmds, nil
}

// Acknowledge marks a command consumed. Acknowledged commands are never
// re-delivered; acknowledging twice is harmless.
func (c *Channel) Acknowledge(ctx context.Context, commandID string) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE commands SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`,
		time.Now().UTC(), commandID,
	)
	if err != nil {
		return fmt.Errorf("%w: acknowledging command: %v", ErrChannelUnavailable, err)
	}
	return nil
}

// Report appends a status report. The agent process calls this.
func (c *Channel) Report(ctx context.Context, rep StatusReport) (int64, error) {
	if rep.ID == "" {
		rep.ID = uuid.New().String()
	}
	if rep.ReportedAt.IsZero() {
		rep.ReportedAt = time.Now().UTC()
	}

	res, err := c.db.ExecContext(ctx,
		`INSERT INTO status_reports (id, session_id, state, detail, reported_at) VALUES (?, ?, ?, ?, ?)`,
		rep.ID, rep.SessionID, string(rep.State), rep.Detail, rep.ReportedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: appending report: %v", ErrChannelUnavailable, err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: reading report seq: %v", ErrChannelUnavailable, err)
	}
	return seq, nil
}

// Drain returns all unconsumed status reports in order and marks them consumed
// in the same transaction, so each report is handed to the orchestrator exactly
// once.
func (c *Channel) Drain(ctx context.Context) ([]StatusReport, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: opening drain transaction: %v", ErrChannelUnavailable, err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT seq, id, session_id, state, detail, reported_at
		FROM status_reports WHERE consumed_at IS NULL ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: draining reports: %v", ErrChannelUnavailable, err)
	}

	var reports []StatusReport
	for rows.Next() {
		var rep StatusReport
		var state string
		if err := rows.Scan(&rep.Seq, &rep.ID, &rep.SessionID, &state, &rep.Detail, &rep.ReportedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: scanning report: %v", ErrChannelUnavailable, err)
		}
		rep.State = ReportState(state)
		reports = append(reports, rep)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("%w: reading reports: %v", ErrChannelUnavailable, err)
	}
	rows.Close()

	if len(reports) > 0 {
		now := time.Now().UTC()
		for _, rep := range reports {
			if _, err := tx.ExecContext(ctx,
				`UPDATE status_reports SET consumed_at = ? WHERE id = ?`, now, rep.ID); err != nil {
				return nil, fmt.Errorf("%w: consuming report: %v", ErrChannelUnavailable, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: committing drain: %v", ErrChannelUnavailable, err)
	}
	return reports, nil
}

// Purge deletes consumed commands and reports older than the retention window.
// Returns the number of rows removed.
func (c *Channel) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	var total int64
	for _, table := range []string{"commands", "status_reports"} {
		res, err := c.db.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE consumed_at IS NOT NULL AND consumed_at < ?`, cutoff)
		if err != nil {
			return total, fmt.Errorf("%w: purging %s: %v", ErrChannelUnavailable, table, err)
		}
		n, err := res.RowsAffected()
		if err == nil {
			total += n
		}
	}

	if total > 0 {
		c.logger.Debug("purged archived channel entries", "count", total)
	}
	return total, nil
}

// Close closes the channel database.
func (c *Channel) Close() error {
	return c.db.Close()
}
