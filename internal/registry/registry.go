// Package registry pins live portal sessions to pending change
// requests. It is the single synchronization point between the confirm,
// reject and timeout paths: whichever caller takes the handle owns the
// release, so the underlying browser is closed exactly once no matter
// how the three race.
package registry

import (
	"errors"
	"sync"

	"github.com/fieldgate/fieldgate/internal/portal"
)

// ErrAlreadyPinned means a session is already held for the request id.
// The state machine should make this impossible; the check is kept so a
// bug cannot silently leak a browser.
var ErrAlreadyPinned = errors.New("session already pinned for request")

// Registry is an in-memory map from request id to its pinned session.
// Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]portal.Session
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]portal.Session)}
}

// Pin reserves the session under the request id.
func (r *Registry) Pin(requestID string, session portal.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[requestID]; exists {
		return ErrAlreadyPinned
	}
	r.sessions[requestID] = session
	return nil
}

// Take atomically removes and returns the pinned session. The second
// return is false when nothing is pinned, meaning another path already
// took ownership; the caller must then perform no resource operations.
func (r *Registry) Take(requestID string) (portal.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[requestID]
	if ok {
		delete(r.sessions, requestID)
	}
	return session, ok
}

// Peek reports whether a session is pinned. Diagnostics only — release
// decisions must go through Take.
func (r *Registry) Peek(requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions[requestID]
	return ok
}

// Len returns the number of pinned sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
