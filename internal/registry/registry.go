// ABOUTME: In-memory registry of the single interview session slot.
// ABOUTME: Atomic acquire/confirm/release transitions enforce single-agent exclusivity.

package registry

import (
	"sync"
	"time"
)

// BindingState tracks where the slot is in its assignment lifecycle.
type BindingState string

const (
	Unbound   BindingState = "unbound"
	Assigning BindingState = "assigning"
	Bound     BindingState = "bound"
	Releasing BindingState = "releasing"
)

// Slot is the single-capacity binding between the agent and a session.
// At most one slot exists, and at most one session may hold it.
type Slot struct {
	SessionID   string
	State       BindingState
	AssignedAt  time.Time
	DeadlineAt  time.Time // hard ceiling; the health monitor reclaims past this
	AckDeadline time.Time // assignment must be acknowledged (Started report) by this
	ReclaimAt   time.Time // for Releasing: forced reclaim time if the agent never confirms
}

// Registry owns the singleton slot. TryAcquire is the exclusivity enforcement
// point: it is atomic with respect to concurrent callers, so exactly one of
// any set of simultaneous acquisition attempts succeeds.
type Registry struct {
	mu   sync.Mutex
	slot Slot
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{slot: Slot{State: Unbound}}
}

// TryAcquire binds the slot to a session if and only if it is currently
// unbound. Returns false without side effects when the slot is occupied.
func (r *Registry) TryAcquire(sessionID string, assignedAt, deadline, ackDeadline time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slot.State != Unbound {
		return false
	}

	r.slot = Slot{
		SessionID:   sessionID,
		State:       Assigning,
		AssignedAt:  assignedAt,
		DeadlineAt:  deadline,
		AckDeadline: ackDeadline,
	}
	return true
}

// ConfirmBound moves the slot from Assigning to Bound once the agent has
// acknowledged the assignment. Returns false if the slot is not assigning the
// given session (e.g. it was already reclaimed).
func (r *Registry) ConfirmBound(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slot.SessionID != sessionID || r.slot.State != Assigning {
		return false
	}
	r.slot.State = Bound
	return true
}

// BeginRelease marks the slot Releasing for the given session. The slot stays
// held until the agent reports completion or reclaimAt passes, whichever comes
// first. Returns false if the session does not hold the slot.
func (r *Registry) BeginRelease(sessionID string, reclaimAt time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slot.SessionID != sessionID || (r.slot.State != Assigning && r.slot.State != Bound) {
		return false
	}
	r.slot.State = Releasing
	r.slot.ReclaimAt = reclaimAt
	return true
}

// Release frees the slot if it is held by the given session. Releasing a
// session that no longer holds the slot is a no-op, so duplicate releases can
// never free a newer binding.
func (r *Registry) Release(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slot.State == Unbound || r.slot.SessionID != sessionID {
		return false
	}
	r.slot = Slot{State: Unbound}
	return true
}

// ForceRelease unconditionally frees the slot. Administrative use only.
func (r *Registry) ForceRelease() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slot = Slot{State: Unbound}
}

// Current returns a copy of the slot and whether it is held.
func (r *Registry) Current() (Slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slot.State == Unbound {
		return Slot{State: Unbound}, false
	}
	return r.slot, true
}
