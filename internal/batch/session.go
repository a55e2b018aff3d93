package batch

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionActive is returned when a session is requested while another
// is still holding the backend.
var ErrSessionActive = errors.New("an extraction session is already active")

// Session is the permit representing exclusive use of the shared backend.
// At most one exists at any time; the backend's working files and log
// stream have no isolation between logical operations, so overlapping
// sessions would corrupt each other's reads.
type Session struct {
	ID        uuid.UUID
	ItemID    uuid.UUID
	StartedAt time.Time
}

// SessionGuard issues and reclaims the singleton Session. A permit must
// be returned before the next can be issued; releasing a permit that is
// no longer the active one is a no-op, which makes a forced timeout
// release and a late settlement of the same session safe to race.
type SessionGuard struct {
	mu     sync.Mutex
	active *Session
}

func NewSessionGuard() *SessionGuard {
	return &SessionGuard{}
}

// Acquire issues the session permit for the given item, or fails with
// ErrSessionActive when one is already held.
func (guard *SessionGuard) Acquire(itemID uuid.UUID) (*Session, error) {
	guard.mu.Lock()
	defer guard.mu.Unlock()

	if guard.active != nil {
		return nil, ErrSessionActive
	}

	guard.active = &Session{
		ID:        uuid.New(),
		ItemID:    itemID,
		StartedAt: time.Now(),
	}
	return guard.active, nil
}

// Release returns the permit. Stale permits (already forcibly released
// by a timeout) are ignored.
func (guard *SessionGuard) Release(session *Session) {
	if session == nil {
		return
	}

	guard.mu.Lock()
	defer guard.mu.Unlock()

	if guard.active != nil && guard.active.ID == session.ID {
		guard.active = nil
	}
}

// Busy reports whether a session permit is currently held.
func (guard *SessionGuard) Busy() bool {
	guard.mu.Lock()
	defer guard.mu.Unlock()
	return guard.active != nil
}
