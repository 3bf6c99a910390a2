// Package registry holds the authoritative record of the single session slot.
//
// The core correctness guarantee of the orchestrator lives here: at most one
// session may be Assigning or Bound at a time. TryAcquire is a compare-and-set
// under the registry mutex, so concurrent acquisition attempts resolve to
// exactly one winner.
//
// The registry never reclaims the slot on its own. Deadline and acknowledgment
// expiry are surfaced through Current and acted on by the health monitor's
// reconciliation pass.
package registry
