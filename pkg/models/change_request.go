// Package models contains the shared domain types for fieldgate.
package models

import "time"

// RequestState is the lifecycle state of a ChangeRequest.
type RequestState string

const (
	// StatePending means the request was created but the portal session
	// has not been prepared yet.
	StatePending RequestState = "PENDING"

	// StateAwaitingConfirmation means a preview was delivered and a live
	// portal session is pinned while the operator decides.
	StateAwaitingConfirmation RequestState = "AWAITING_CONFIRMATION"

	// StateSucceeded means the operator confirmed and the commit went through.
	StateSucceeded RequestState = "SUCCEEDED"

	// StateRejected means the operator cancelled the change.
	StateRejected RequestState = "REJECTED"

	// StateFailed means preparation or commit failed, or the session was
	// reclaimed before the confirmation arrived.
	StateFailed RequestState = "FAILED"

	// StateExpired means the confirmation deadline passed with no decision.
	StateExpired RequestState = "EXPIRED"
)

// Terminal reports whether no further transition is legal from the state.
func (s RequestState) Terminal() bool {
	switch s {
	case StateSucceeded, StateRejected, StateFailed, StateExpired:
		return true
	default:
		return false
	}
}

// ChangeRequest tracks one operator-requested change of the governed
// portal field from creation to its terminal outcome.
type ChangeRequest struct {
	ID          string `json:"id"`
	RequesterID int64  `json:"requester_id"`
	ChannelID   int64  `json:"channel_id"`

	// RequestedValue is what the operator asked to set. Immutable.
	RequestedValue int64 `json:"requested_value"`

	// PreviousValue is the value observed on the portal before commit.
	// Nil until preparation has read the field.
	PreviousValue *int64 `json:"previous_value,omitempty"`

	// CommittedValue is the value actually applied. Nil unless the
	// request reached StateSucceeded.
	CommittedValue *int64 `json:"committed_value,omitempty"`

	State RequestState `json:"state"`

	// PreviewRef is the chat message id of the delivered preview, kept
	// so the dispatcher can edit it with the final outcome.
	PreviewRef int `json:"preview_ref,omitempty"`

	// FailureReason is set only on StateFailed and StateExpired.
	FailureReason string `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditEntry is an immutable, append-only record of a request outcome.
// Exactly one entry is written per terminal or cancelling transition
// reached from the confirmation stage.
type AuditEntry struct {
	ID          string `json:"id"`
	RequestID   string `json:"request_id"`
	RequesterID int64  `json:"requester_id"`

	// Field names the governed portal field ("Pendapatan").
	Field string `json:"field"`

	BeforeValue *int64 `json:"before_value,omitempty"`

	// AfterValue is nil on cancellation, expiry and failure.
	AfterValue *int64 `json:"after_value,omitempty"`

	State RequestState `json:"state"`

	CreatedAt time.Time `json:"created_at"`
}

// GovernedField is the single portal field this system manages.
const GovernedField = "Pendapatan"
