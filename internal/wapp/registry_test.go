package wapp

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/zapfield/zapfield/internal/gateway"
	"github.com/zapfield/zapfield/internal/store"
)

// stubClient is a minimal gateway.Client for registry tests.
type stubClient struct {
	mu        sync.Mutex
	closed    int
	loggedOut int
	logoutErr error
}

func (c *stubClient) Subscribe(h gateway.Handler) func() { return func() {} }
func (c *stubClient) Connect(ctx context.Context) error  { return nil }
func (c *stubClient) SendText(ctx context.Context, jid, text string, q *gateway.QuoteOptions) (string, error) {
	return "", nil
}
func (c *stubClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut++
	return c.logoutErr
}
func (c *stubClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
}

func (c *stubClient) counts() (closed, loggedOut int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.loggedOut
}

func TestRegistryRegisterKeepsExisting(t *testing.T) {
	r := NewRegistry()
	id := store.GenNewID()

	first := &Session{AccountID: id, Client: &stubClient{}}
	second := &Session{AccountID: id, Client: &stubClient{}}

	if got := r.Register(first); got != first {
		t.Fatal("first Register should insert the session")
	}
	if got := r.Register(second); got != first {
		t.Fatal("second Register should return the existing session")
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
}

func TestRegistryRegisterConcurrent(t *testing.T) {
	r := NewRegistry()
	id := store.GenNewID()

	const n = 32
	results := make(chan *Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- r.Register(&Session{AccountID: id, Client: &stubClient{}})
		}()
	}
	wg.Wait()
	close(results)

	first := <-results
	for sess := range results {
		if sess != first {
			t.Fatal("concurrent Register returned different sessions for one account")
		}
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
}

func TestRegistryLookupNotFound(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Lookup(store.GenNewID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Lookup error = %v, want ErrSessionNotFound", err)
	}
}

func TestRegistryRemoveIdempotent(t *testing.T) {
	r := NewRegistry()
	id := store.GenNewID()
	client := &stubClient{}
	r.Register(&Session{AccountID: id, Client: client})

	r.Remove(context.Background(), id, false)
	r.Remove(context.Background(), id, false)

	closed, loggedOut := client.counts()
	if closed != 1 {
		t.Fatalf("Close called %d times, want 1", closed)
	}
	if loggedOut != 0 {
		t.Fatalf("Logout called %d times, want 0", loggedOut)
	}
	if _, err := r.Lookup(id); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Lookup after Remove = %v, want ErrSessionNotFound", err)
	}
}

func TestRegistryRemoveWithLogout(t *testing.T) {
	r := NewRegistry()
	id := store.GenNewID()
	client := &stubClient{logoutErr: errors.New("server unreachable")}
	r.Register(&Session{AccountID: id, Client: client})

	// A failing logout must not keep the entry alive.
	r.Remove(context.Background(), id, true)

	closed, loggedOut := client.counts()
	if loggedOut != 1 {
		t.Fatalf("Logout called %d times, want 1", loggedOut)
	}
	if closed != 1 {
		t.Fatalf("Close called %d times, want 1", closed)
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}

func TestRegistryAccountIDs(t *testing.T) {
	r := NewRegistry()
	ids := map[uuid.UUID]bool{}
	for i := 0; i < 3; i++ {
		id := store.GenNewID()
		ids[id] = true
		r.Register(&Session{AccountID: id, Client: &stubClient{}})
	}
	got := r.AccountIDs()
	if len(got) != 3 {
		t.Fatalf("AccountIDs len = %d, want 3", len(got))
	}
	for _, id := range got {
		if !ids[id] {
			t.Fatalf("unexpected account id %s", id)
		}
	}
}
