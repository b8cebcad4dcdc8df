// Package portal drives the idMe web portal through an automated
// browser. The driver prepares a change without saving it, hands back a
// live session for the human-in-the-loop gate, and commits or disposes
// that session when the decision arrives.
package portal

import (
	"context"
	"errors"

	"github.com/fieldgate/fieldgate/pkg/models"
)

// ErrNoActiveSession means no synced portal cookies exist for the user.
var ErrNoActiveSession = errors.New(
	"no active idMe session found; log in via the Chrome extension and sync your cookies")

// Prepared is the result of staging a change on the portal: the field
// is filled but not saved.
type Prepared struct {
	// PreviousValue is the field value read before typing the new one.
	// Nil when the existing value could not be read.
	PreviousValue *int64

	// Screenshot is a PNG of the page taken before saving, shown to the
	// operator as the confirmation preview.
	Screenshot []byte

	// Session keeps the browser alive until the operator decides.
	Session Session
}

// Session is a live, exclusively-held browser session staged on the
// portal form. Exactly one of Commit or Dispose ends it; Dispose after
// Commit is a safe no-op.
type Session interface {
	// Commit clicks the portal's save control and waits for it to settle.
	Commit(ctx context.Context) error

	// Dispose releases every browser resource. It never fails; problems
	// are logged and swallowed.
	Dispose()
}

// Driver stages a change of the governed field on the portal.
type Driver interface {
	// PrepareChange logs in with the given cookies, navigates to the
	// profile form, fills the new value and returns the staged session
	// with its preview. The caller owns the returned session.
	PrepareChange(ctx context.Context, cookies []models.PortalCookie, newValue int64) (*Prepared, error)
}
