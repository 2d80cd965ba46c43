// Package wapp manages the lifecycle of gateway sessions: pairing,
// connection state transitions, credential persistence, and automatic
// reconnection. One session exists per account at most; the Manager is
// the only writer of session-related account state.
package wapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/zapfield/zapfield/internal/gateway"
	"github.com/zapfield/zapfield/internal/notify"
	"github.com/zapfield/zapfield/internal/store"
	"github.com/zapfield/zapfield/internal/tracing"
)

// Manager drives gateway sessions through their lifecycle. It reacts to
// gateway events by updating persisted account state, saving credentials,
// notifying tenant subscribers, and scheduling reconnects. Collaborator
// failures (store writes, notifications) are logged and never abort a
// transition: the in-memory state machine stays authoritative.
type Manager struct {
	factory  gateway.Factory
	accounts store.AccountStore
	creds    store.CredentialStore
	notifier notify.Notifier

	registry  *Registry
	qrRetries *QRRetryCounter
	reconnect *ReconnectScheduler

	log *slog.Logger
}

func NewManager(factory gateway.Factory, stores store.Stores, notifier notify.Notifier) *Manager {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	m := &Manager{
		factory:   factory,
		accounts:  stores.Accounts,
		creds:     stores.Credentials,
		notifier:  notifier,
		registry:  NewRegistry(),
		qrRetries: NewQRRetryCounter(),
		log:       slog.Default().With("component", "wapp"),
	}
	m.reconnect = NewReconnectScheduler(reconnectDelay, m.restart)
	return m
}

// sessionPayload is the fan-out shape for account lifecycle events.
type sessionPayload struct {
	Action  string         `json:"action"`
	Session *store.Account `json:"session"`
}

// InitSession starts a session for the account and blocks until the
// connection opens, the pairing budget is exhausted, the connection
// closes before opening, or ctx is done. The session keeps running in
// the background after a successful return.
func (m *Manager) InitSession(ctx context.Context, accountID uuid.UUID) error {
	ctx, span := tracing.Start(ctx, "session.init", tracing.Account(accountID.String()))
	defer span.End()

	done := make(chan error, 1)
	if err := m.startSession(ctx, accountID, done); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartSession starts a session without waiting for the connection to
// open. Used at boot and by the reconnect scheduler.
func (m *Manager) StartSession(ctx context.Context, accountID uuid.UUID) error {
	return m.startSession(ctx, accountID, nil)
}

func (m *Manager) startSession(ctx context.Context, accountID uuid.UUID, done chan error) error {
	acc, err := m.accounts.FindByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account %s: %w", accountID, err)
	}

	blob, err := m.creds.Load(ctx, accountID)
	if err != nil && !errors.Is(err, store.ErrNoCredentials) {
		return fmt.Errorf("load credentials for %s: %w", accountID, err)
	}

	ref := gateway.AccountRef{ID: acc.ID, TenantID: acc.TenantID, Name: acc.Name}
	client, err := m.factory.Dial(ctx, ref, blob)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayConstruction, err)
	}

	var once sync.Once
	resolve := func(err error) {
		once.Do(func() {
			if done != nil {
				done <- err
			}
		})
	}

	sess := &Session{AccountID: acc.ID, TenantID: acc.TenantID, Client: client}
	sess.detach = client.Subscribe(m.dispatch(ref, sess, resolve))

	if registered := m.registry.Register(sess); registered != sess {
		// A session is already active for this account. Keep it.
		sess.Detach()
		client.Close()
		resolve(nil)
		return nil
	}

	if err := client.Connect(ctx); err != nil {
		m.registry.Remove(ctx, acc.ID, false)
		return fmt.Errorf("connect %s: %w", accountID, err)
	}
	m.log.Info("session starting", "account", acc.ID, "tenant", acc.TenantID, "paired", len(blob) > 0)
	return nil
}

// dispatch routes gateway events for one session. Events for a given
// connection arrive in order; handlers run on the gateway's event
// goroutine and must not block on the registry for long.
func (m *Manager) dispatch(ref gateway.AccountRef, sess *Session, resolve func(error)) gateway.Handler {
	return func(evt any) {
		switch e := evt.(type) {
		case *gateway.CredentialsUpdate:
			m.handleCredentials(ref, e.Blob)
		case *gateway.ConnectionUpdate:
			switch {
			case e.PairingCode != "":
				m.handlePairingCode(ref, sess, e.PairingCode, resolve)
			case e.Phase == gateway.PhaseOpen:
				m.handleOpen(ref, sess, resolve)
			case e.Phase == gateway.PhaseClosed:
				m.handleClosed(ref, e.LastError, resolve)
			}
		}
	}
}

// handleCredentials persists refreshed authentication material. No state
// transition happens here.
func (m *Manager) handleCredentials(ref gateway.AccountRef, blob []byte) {
	if err := m.creds.Save(context.Background(), ref.ID, blob); err != nil {
		m.log.Error("save credentials failed", "account", ref.ID, "error", err)
	}
}

// handlePairingCode publishes a fresh pairing code, or force-resets the
// session once the pairing budget is used up. A forced reset does not
// schedule a reconnect: pairing requires a human, so retrying without one
// would only burn codes.
func (m *Manager) handlePairingCode(ref gateway.AccountRef, sess *Session, code string, resolve func(error)) {
	ctx := context.Background()

	if m.qrRetries.Get(ref.ID) >= maxQRRetries {
		m.log.Warn("pairing budget exhausted, resetting session", "account", ref.ID)

		status := store.StatusDisconnected
		empty := ""
		zero := 0
		if err := m.accounts.Update(ctx, ref.ID, store.AccountUpdate{Status: &status, QRCode: &empty, Retries: &zero}); err != nil {
			m.log.Error("account update failed", "account", ref.ID, "error", err)
		}
		if err := m.creds.Delete(ctx, ref.ID); err != nil && !errors.Is(err, store.ErrNoCredentials) {
			m.log.Error("credential delete failed", "account", ref.ID, "error", err)
		}
		m.registry.Remove(ctx, ref.ID, false)
		m.qrRetries.Reset(ref.ID)
		m.notifyAccount(ctx, ref)
		resolve(ErrPairingExceeded)
		return
	}

	attempt := m.qrRetries.Increment(ref.ID)
	m.log.Info("pairing code issued", "account", ref.ID, "attempt", attempt)

	status := store.StatusQRCode
	if err := m.accounts.Update(ctx, ref.ID, store.AccountUpdate{Status: &status, QRCode: &code, Retries: &attempt}); err != nil {
		m.log.Error("account update failed", "account", ref.ID, "error", err)
	}
	m.registry.Register(sess)
	m.notifyAccount(ctx, ref)
}

// handleOpen marks the account connected and releases any InitSession
// caller. Safe to receive more than once for the same connection.
func (m *Manager) handleOpen(ref gateway.AccountRef, sess *Session, resolve func(error)) {
	ctx := context.Background()
	m.log.Info("session open", "account", ref.ID, "tenant", ref.TenantID)

	status := store.StatusConnected
	empty := ""
	zero := 0
	if err := m.accounts.Update(ctx, ref.ID, store.AccountUpdate{Status: &status, QRCode: &empty, Retries: &zero}); err != nil {
		m.log.Error("account update failed", "account", ref.ID, "error", err)
	}
	m.qrRetries.Reset(ref.ID)
	m.registry.Register(sess)
	m.notifyAccount(ctx, ref)
	resolve(nil)
}

// handleClosed classifies the close and applies the matching teardown.
// Blocked closes never reconnect; logged-out closes clear credentials but
// reconnect into a fresh pairing; everything else keeps credentials and
// reconnects silently.
func (m *Manager) handleClosed(ref gateway.AccountRef, cause error, resolve func(error)) {
	ctx := context.Background()
	reason, code := ClassifyClose(cause)

	ctx, span := tracing.Start(ctx, "session.closed",
		tracing.Account(ref.ID.String()), tracing.Reason(reason.String()))
	defer span.End()

	m.log.Info("session closed", "account", ref.ID, "reason", reason.String(), "code", code, "cause", cause)

	switch reason {
	case CloseBlocked, CloseLoggedOut:
		status := store.StatusPending
		empty := ""
		zero := 0
		if err := m.accounts.Update(ctx, ref.ID, store.AccountUpdate{Status: &status, QRCode: &empty, Retries: &zero, JID: &empty}); err != nil {
			m.log.Error("account update failed", "account", ref.ID, "error", err)
		}
		if err := m.creds.Delete(ctx, ref.ID); err != nil && !errors.Is(err, store.ErrNoCredentials) {
			m.log.Error("credential delete failed", "account", ref.ID, "error", err)
		}
		m.notifyAccount(ctx, ref)
		m.registry.Remove(ctx, ref.ID, false)
		if reason == CloseLoggedOut {
			m.reconnect.Schedule(ref.ID)
		}
	default:
		m.registry.Remove(ctx, ref.ID, false)
		m.reconnect.Schedule(ref.ID)
	}

	if cause == nil {
		cause = &gateway.DisconnectError{Code: code}
	}
	resolve(fmt.Errorf("connection closed (%s): %w", reason, cause))
}

// restart is the reconnect scheduler's callback. The account may have
// been deleted while the timer was pending; in that case the retry cycle
// ends quietly. A failed start re-arms the timer, so retries continue
// until the account connects, hits a terminal close, or is removed.
func (m *Manager) restart(accountID uuid.UUID) {
	ctx := context.Background()

	if _, err := m.accounts.FindByID(ctx, accountID); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			m.log.Debug("reconnect skipped, account gone", "account", accountID)
			return
		}
		m.log.Error("reconnect account lookup failed", "account", accountID, "error", err)
	}

	m.log.Info("reconnecting", "account", accountID)
	if err := m.StartSession(ctx, accountID); err != nil {
		m.log.Error("reconnect failed", "account", accountID, "error", err)
		m.reconnect.Schedule(accountID)
	}
}

// Lookup returns the active session for the account.
func (m *Manager) Lookup(accountID uuid.UUID) (*Session, error) {
	return m.registry.Lookup(accountID)
}

// RemoveSession tears down the account's session and cancels any pending
// reconnect, so a manual teardown is not undone two seconds later. With
// logout set, a protocol logout invalidates the stored pairing first.
// Removing an absent session is a no-op.
func (m *Manager) RemoveSession(ctx context.Context, accountID uuid.UUID, logout bool) {
	m.reconnect.Cancel(accountID)
	m.qrRetries.Reset(accountID)
	m.registry.Remove(ctx, accountID, logout)
}

// ActiveSessions returns the number of live sessions.
func (m *Manager) ActiveSessions() int {
	return m.registry.Len()
}

// Shutdown cancels pending reconnects and closes every session without
// logging out, preserving pairings for the next process start.
func (m *Manager) Shutdown(ctx context.Context) {
	m.reconnect.Stop()
	for _, id := range m.registry.AccountIDs() {
		m.registry.Remove(ctx, id, false)
	}
	m.log.Info("session manager stopped")
}

// notifyAccount pushes the account's fresh persisted state to its tenant
// room. A concurrently deleted account is skipped.
func (m *Manager) notifyAccount(ctx context.Context, ref gateway.AccountRef) {
	acc, err := m.accounts.FindByID(ctx, ref.ID)
	if err != nil {
		if !errors.Is(err, store.ErrAccountNotFound) {
			m.log.Warn("notify lookup failed", "account", ref.ID, "error", err)
		}
		return
	}
	m.notifier.Publish(ref.TenantID, notify.EventSession, sessionPayload{
		Action:  notify.ActionUpdate,
		Session: acc,
	})
}
