// Package flow implements the confirmation-gated lifecycle of a change
// request: the state machine governing legal transitions, the timeout
// supervisor reclaiming abandoned sessions, and the coordinator that
// serializes every mutation of a request.
package flow

import (
	"errors"
	"fmt"

	"github.com/fieldgate/fieldgate/pkg/models"
)

// Event is an input to the state machine.
type Event string

const (
	// EventPrepareOK fires when the portal session was staged and a
	// preview exists.
	EventPrepareOK Event = "prepare_ok"

	// EventPrepareErr fires when staging the portal session failed
	// before any preview was shown.
	EventPrepareErr Event = "prepare_err"

	// EventConfirm fires when the operator approves and a pinned
	// session is still available.
	EventConfirm Event = "confirm"

	// EventConfirmNoSession fires when the operator approves but the
	// session was already reclaimed.
	EventConfirmNoSession Event = "confirm_no_session"

	// EventCommitErr fires when the commit call itself fails after a
	// confirm took the session.
	EventCommitErr Event = "commit_err"

	// EventReject fires when the operator cancels.
	EventReject Event = "reject"

	// EventTimeout fires when the confirmation deadline passes.
	EventTimeout Event = "timeout"
)

var (
	// ErrAlreadyResolved means the request is in a terminal state and
	// the event is a no-op for the caller to report, not an error to
	// escalate.
	ErrAlreadyResolved = errors.New("request already resolved")

	// ErrIllegalTransition means the event is not legal in the current
	// state and indicates a programming error.
	ErrIllegalTransition = errors.New("illegal transition")
)

// transitions is the legal transition table. Terminal states are
// absorbing and deliberately absent.
var transitions = map[models.RequestState]map[Event]models.RequestState{
	models.StatePending: {
		EventPrepareOK:  models.StateAwaitingConfirmation,
		EventPrepareErr: models.StateFailed,
	},
	models.StateAwaitingConfirmation: {
		EventConfirm:          models.StateSucceeded,
		EventConfirmNoSession: models.StateFailed,
		EventCommitErr:        models.StateFailed,
		EventReject:           models.StateRejected,
		EventTimeout:          models.StateExpired,
	},
}

// Next returns the state reached by applying event in state. It returns
// ErrAlreadyResolved for events on terminal states and
// ErrIllegalTransition for everything else outside the table.
func Next(state models.RequestState, event Event) (models.RequestState, error) {
	if state.Terminal() {
		return state, fmt.Errorf("%w: %s", ErrAlreadyResolved, state)
	}
	legal, ok := transitions[state]
	if !ok {
		return state, fmt.Errorf("%w: unknown state %q", ErrIllegalTransition, state)
	}
	next, ok := legal[event]
	if !ok {
		return state, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, event, state)
	}
	return next, nil
}
