package wapp

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/zapfield/zapfield/internal/gateway"
)

// Session ties a live gateway connection to an account. It is owned by
// the registry entry for that account while active.
type Session struct {
	AccountID uuid.UUID
	TenantID  string
	Client    gateway.Client

	detachOnce sync.Once
	detach     func()
}

// Detach cancels the event subscription exactly once. Events arriving
// after Detach are not delivered.
func (s *Session) Detach() {
	s.detachOnce.Do(func() {
		if s.detach != nil {
			s.detach()
		}
	})
}

// Registry is the authoritative mapping from account ID to active
// session. At most one entry exists per account at any time.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*Session)}
}

// Register inserts the session if no entry exists for its account and
// returns the registered session. An existing entry is left untouched
// and returned instead, so duplicate pairing/open events for the same
// account never clobber an entry mid-setup.
func (r *Registry) Register(sess *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[sess.AccountID]; ok {
		return existing
	}
	r.sessions[sess.AccountID] = sess
	return sess
}

// Lookup returns the active session for an account, or ErrSessionNotFound.
func (r *Registry) Lookup(accountID uuid.UUID) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[accountID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Remove drops the account's entry if present; a second call is a no-op.
// With logout set, a graceful protocol logout is attempted before the
// transport is closed. Transport errors are logged, never returned: the
// entry is always removed.
func (r *Registry) Remove(ctx context.Context, accountID uuid.UUID, logout bool) {
	r.mu.Lock()
	sess, ok := r.sessions[accountID]
	delete(r.sessions, accountID)
	r.mu.Unlock()

	if !ok {
		return
	}

	sess.Detach()
	if logout {
		if err := sess.Client.Logout(ctx); err != nil {
			slog.Warn("protocol logout failed", "account", accountID, "error", err)
		}
	}
	sess.Client.Close()
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// AccountIDs returns the accounts with an active session.
func (r *Registry) AccountIDs() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
