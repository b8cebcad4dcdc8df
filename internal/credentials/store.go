// Package credentials looks up the portal cookies synced for each
// operator by the Chrome extension.
package credentials

import (
	"context"
	"errors"

	"github.com/fieldgate/fieldgate/pkg/models"
)

// ErrNoSession means no active cookie set exists for the user.
var ErrNoSession = errors.New("no active portal session for user")

// Store provides access to synced portal credentials.
type Store interface {
	// Cookies returns the newest active cookie set for the user, or
	// ErrNoSession when none exists.
	Cookies(ctx context.Context, userID int64) ([]models.PortalCookie, error)

	// Deactivate marks every session row for the user inactive, e.g.
	// after the cookies turn out to be expired.
	Deactivate(ctx context.Context, userID int64) error
}
