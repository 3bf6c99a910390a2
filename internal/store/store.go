// ABOUTME: Data types and errors for interview session persistence.
// ABOUTME: Defines Session, status constants, and the default question plan.

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested session does not exist.
var ErrNotFound = errors.New("session not found")

// ErrDuplicateSession is returned when creating a session whose ID already exists.
var ErrDuplicateSession = errors.New("session already exists")

// SessionStatus tracks a session through its interview lifecycle.
type SessionStatus string

const (
	StatusPending    SessionStatus = "pending"     // created, not yet assigned
	StatusAssigned   SessionStatus = "assigned"    // assignment command issued
	StatusInProgress SessionStatus = "in_progress" // agent confirmed the interview started
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
)

// Session is one interview session: the candidate, the media room the agent
// joins, and the question plan it runs.
type Session struct {
	ID             string
	CandidateName  string
	CandidateEmail string
	RoomName       string
	Plan           json.RawMessage
	Status         SessionStatus
	Detail         string // diagnostic text for the final outcome
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// NewRoomName builds a unique media room name for a session.
func NewRoomName(sessionID string) string {
	return fmt.Sprintf("interview_%s_%d_%s", sessionID, time.Now().Unix(), uuid.New().String()[:8])
}

// DefaultPlan returns the fallback question plan used when a session has no
// prepared plan of its own.
func DefaultPlan() json.RawMessage {
	return json.RawMessage(`{
		"questions": [
			"Tell me about yourself and your professional background.",
			"What project are you most proud of, and what was your role in it?",
			"Describe a difficult technical problem you solved recently.",
			"How do you approach working in a team?",
			"What are you looking for in your next position?"
		],
		"duration_minutes": 30
	}`)
}
