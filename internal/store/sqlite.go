// ABOUTME: SQLite implementation of session persistence using modernc.org/sqlite.
// ABOUTME: Schema is created automatically; WAL mode enables concurrent reads.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists interview sessions.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return s, nil
}

// createSchema creates the sessions table if it doesn't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			candidate_name TEXT NOT NULL,
			candidate_email TEXT NOT NULL DEFAULT '',
			room_name TEXT NOT NULL,
			plan TEXT,
			status TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			completed_at DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateSession persists a new session. A missing room name gets a generated
// one and a missing plan falls back to the default question plan.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	if sess.RoomName == "" {
		sess.RoomName = NewRoomName(sess.ID)
	}
	if len(sess.Plan) == 0 {
		sess.Plan = DefaultPlan()
	}
	if sess.Status == "" {
		sess.Status = StatusPending
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, candidate_name, candidate_email, room_name, plan, status, detail, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.CandidateName, sess.CandidateEmail, sess.RoomName,
		string(sess.Plan), string(sess.Status), sess.Detail, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Info("session created", "session_id", sess.ID, "room", sess.RoomName)
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, candidate_name, candidate_email, room_name, plan, status, detail, created_at, updated_at, completed_at
		FROM sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return sess, nil
}

// MarkAssigned records that an assignment command was issued for the session.
func (s *SQLiteStore) MarkAssigned(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, StatusAssigned, "", false)
}

// MarkInProgress records that the agent confirmed the interview started.
func (s *SQLiteStore) MarkInProgress(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, StatusInProgress, "", false)
}

// SaveOutcome records the final state of a session. Only Completed and Failed
// are terminal outcomes.
func (s *SQLiteStore) SaveOutcome(ctx context.Context, id string, status SessionStatus, detail string) error {
	if status != StatusCompleted && status != StatusFailed {
		return fmt.Errorf("status %q is not a terminal outcome", status)
	}
	return s.setStatus(ctx, id, status, detail, true)
}

func (s *SQLiteStore) setStatus(ctx context.Context, id string, status SessionStatus, detail string, terminal bool) error {
	now := time.Now().UTC()

	var res sql.Result
	var err error
	if terminal {
		res, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET status = ?, detail = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
			string(status), detail, now, now, id)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), now, id)
	}
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking session update: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessions returns sessions newest-first, up to limit (default 50).
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, candidate_name, candidate_email, room_name, plan, status, detail, created_at, updated_at, completed_at
		FROM sessions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for scanSession.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*Session, error) {
	var sess Session
	var plan sql.NullString
	var status string
	var completedAt sql.NullTime

	err := sc.Scan(&sess.ID, &sess.CandidateName, &sess.CandidateEmail, &sess.RoomName,
		&plan, &status, &sess.Detail, &sess.CreatedAt, &sess.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	sess.Status = SessionStatus(status)
	if plan.Valid {
		sess.Plan = []byte(plan.String)
	}
	if completedAt.Valid {
		t := completedAt.Time
		sess.CompletedAt = &t
	}
	return &sess, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
