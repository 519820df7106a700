// Package directory abstracts the chat platform's member and role
// surface. The scheduling engines only ever talk to these interfaces;
// the Telegram adapter in internal/transport/telegram is the production
// implementation, and tests substitute in-memory fakes.
package directory

import (
	"context"
	"errors"
)

// ErrNotFound reports that the scope or subject could not be resolved on
// the platform (member left, chat gone, lookup failed). Engines treat it
// as "obligation moot for this cycle", never as fatal.
var ErrNotFound = errors.New("directory: member not found")

// ErrPermissionDenied reports that the platform refused a role mutation,
// typically because the bot outranks nobody. Non-fatal for recurrence.
var ErrPermissionDenied = errors.New("directory: permission denied")

// Member is a resolved subject within one scope.
type Member interface {
	// HasRole reports current membership of the named role as the
	// platform sees it right now, not as the store remembers it.
	HasRole(role string) bool

	GrantRole(ctx context.Context, role string) error
	RevokeRole(ctx context.Context, role string) error

	// Notify sends a best-effort direct message. Callers log and
	// swallow the error; delivery is never load-bearing.
	Notify(ctx context.Context, text string) error
}

// Directory resolves members. Implementations apply their own request
// timeouts; engines call this from timer callbacks with a background
// context.
type Directory interface {
	Member(ctx context.Context, chatID, userID int64) (Member, error)
}
