package wapp

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxQRRetries bounds how many pairing codes may be issued before the
// session is force-reset. The caller must explicitly start a new session
// afterward.
const maxQRRetries = 3

// reconnectDelay is the fixed delay before a disconnected account is
// re-initialized. No backoff, no cap: retries continue until a terminal
// close stops the cycle.
const reconnectDelay = 2 * time.Second

// QRRetryCounter counts pairing codes issued per account. Process-local:
// a restart resets all counters. Increments are atomic and event-order
// faithful under concurrent handlers.
type QRRetryCounter struct {
	mu     sync.Mutex
	counts map[uuid.UUID]int
}

func NewQRRetryCounter() *QRRetryCounter {
	return &QRRetryCounter{counts: make(map[uuid.UUID]int)}
}

// Get returns the current count for an account (0 if never incremented).
func (c *QRRetryCounter) Get(accountID uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[accountID]
}

// Increment bumps the counter and returns the new value.
func (c *QRRetryCounter) Increment(accountID uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[accountID]++
	return c.counts[accountID]
}

// Reset deletes the account's counter entry. Called on successful open
// and on forced reset; the counter is never decremented incrementally.
func (c *QRRetryCounter) Reset(accountID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, accountID)
}

// ReconnectScheduler enqueues session re-initialization after a fixed
// delay. At most one timer is pending per account; a manual teardown
// during the delay window cancels the pending attempt.
type ReconnectScheduler struct {
	delay   time.Duration
	restart func(accountID uuid.UUID)

	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
}

func NewReconnectScheduler(delay time.Duration, restart func(accountID uuid.UUID)) *ReconnectScheduler {
	if delay <= 0 {
		delay = reconnectDelay
	}
	return &ReconnectScheduler{
		delay:   delay,
		restart: restart,
		timers:  make(map[uuid.UUID]*time.Timer),
	}
}

// Schedule enqueues a reconnect for the account. Returns false if an
// attempt is already pending.
func (s *ReconnectScheduler) Schedule(accountID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, pending := s.timers[accountID]; pending {
		return false
	}
	s.timers[accountID] = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		delete(s.timers, accountID)
		s.mu.Unlock()
		s.restart(accountID)
	})
	return true
}

// Cancel stops a pending reconnect. Returns false if none was pending.
func (s *ReconnectScheduler) Cancel(accountID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.timers[accountID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.timers, accountID)
	return true
}

// Stop cancels every pending reconnect.
func (s *ReconnectScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}
