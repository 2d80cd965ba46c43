package wapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zapfield/zapfield/internal/gateway"
	"github.com/zapfield/zapfield/internal/notify"
	"github.com/zapfield/zapfield/internal/store"
	"github.com/zapfield/zapfield/internal/store/file"
)

// fakeClient lets tests drive the gateway event stream by hand.
type fakeClient struct {
	mu       sync.Mutex
	handler  gateway.Handler
	connects int
	closed   int
	logouts  int

	sentJID   string
	sentText  string
	sentQuote *gateway.QuoteOptions
}

func (c *fakeClient) Subscribe(h gateway.Handler) func() {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.handler = nil
		c.mu.Unlock()
	}
}

func (c *fakeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return nil
}

func (c *fakeClient) SendText(ctx context.Context, jid, text string, quote *gateway.QuoteOptions) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentJID, c.sentText, c.sentQuote = jid, text, quote
	return "MSG-1", nil
}

func (c *fakeClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logouts++
	return nil
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
}

func (c *fakeClient) emit(evt any) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(evt)
	}
}

func (c *fakeClient) closedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeFactory hands out one fakeClient per dial.
type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
	creds   [][]byte
	dialErr error
}

func (f *fakeFactory) Dial(ctx context.Context, acc gateway.AccountRef, creds []byte) (gateway.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	c := &fakeClient{}
	f.clients = append(f.clients, c)
	f.creds = append(f.creds, creds)
	return c, nil
}

func (f *fakeFactory) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeFactory) client(i int) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.clients) {
		return nil
	}
	return f.clients[i]
}

// recNotifier records published events.
type recNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recNotifier) Publish(tenantID, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notify.Event{Tenant: tenantID, Name: event, Payload: payload})
}

func (n *recNotifier) count(name string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Name == name {
			c++
		}
	}
	return c
}

func newTestEnv(t *testing.T) (*Manager, *fakeFactory, *store.Stores, *store.Account, *recNotifier) {
	t.Helper()
	stores := file.NewFileStores(store.StoreConfig{DataDir: t.TempDir()})
	acc := &store.Account{TenantID: "tenant-1", Name: "main", Status: store.StatusPending}
	if err := stores.Accounts.Create(context.Background(), acc); err != nil {
		t.Fatalf("create account: %v", err)
	}
	factory := &fakeFactory{}
	rec := &recNotifier{}
	mgr := NewManager(factory, *stores, rec)
	mgr.reconnect = NewReconnectScheduler(5*time.Millisecond, mgr.restart)
	t.Cleanup(func() { mgr.Shutdown(context.Background()) })
	return mgr, factory, stores, acc, rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startInit(t *testing.T, mgr *Manager, acc *store.Account, factory *fakeFactory) (<-chan error, *fakeClient) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- mgr.InitSession(context.Background(), acc.ID) }()
	waitFor(t, "dial", func() bool { return factory.dialCount() >= 1 })
	return done, factory.client(0)
}

func TestInitSessionOpens(t *testing.T) {
	mgr, factory, stores, acc, rec := newTestEnv(t)
	done, client := startInit(t, mgr, acc, factory)

	client.emit(&gateway.ConnectionUpdate{Phase: gateway.PhaseOpen})

	if err := <-done; err != nil {
		t.Fatalf("InitSession = %v, want nil", err)
	}
	got, err := stores.Accounts.FindByID(context.Background(), acc.ID)
	if err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if got.Status != store.StatusConnected {
		t.Errorf("status = %s, want CONNECTED", got.Status)
	}
	if got.QRCode != "" || got.Retries != 0 {
		t.Errorf("qrcode = %q retries = %d, want cleared", got.QRCode, got.Retries)
	}
	if _, err := mgr.Lookup(acc.ID); err != nil {
		t.Errorf("Lookup after open = %v", err)
	}
	if rec.count(notify.EventSession) == 0 {
		t.Error("no session event published")
	}
}

func TestPairingCodesThenForcedReset(t *testing.T) {
	mgr, factory, stores, acc, _ := newTestEnv(t)
	done, client := startInit(t, mgr, acc, factory)

	client.emit(&gateway.CredentialsUpdate{Blob: []byte(`{"jid":"pending"}`)})

	for i := 1; i <= maxQRRetries; i++ {
		client.emit(&gateway.ConnectionUpdate{Phase: gateway.PhaseConnecting, PairingCode: fmt.Sprintf("CODE-%d", i)})

		got, err := stores.Accounts.FindByID(context.Background(), acc.ID)
		if err != nil {
			t.Fatalf("reload account: %v", err)
		}
		if got.Status != store.StatusQRCode {
			t.Fatalf("attempt %d: status = %s, want QRCODE", i, got.Status)
		}
		if want := fmt.Sprintf("CODE-%d", i); got.QRCode != want {
			t.Fatalf("attempt %d: qrcode = %q, want %q", i, got.QRCode, want)
		}
		if got.Retries != i {
			t.Fatalf("attempt %d: retries = %d", i, got.Retries)
		}
	}

	// The budget is spent; one more code forces the reset.
	client.emit(&gateway.ConnectionUpdate{Phase: gateway.PhaseConnecting, PairingCode: "CODE-4"})

	if err := <-done; !errors.Is(err, ErrPairingExceeded) {
		t.Fatalf("InitSession = %v, want ErrPairingExceeded", err)
	}
	got, err := stores.Accounts.FindByID(context.Background(), acc.ID)
	if err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if got.Status != store.StatusDisconnected {
		t.Errorf("status = %s, want DISCONNECTED", got.Status)
	}
	if got.QRCode != "" {
		t.Errorf("qrcode = %q, want empty", got.QRCode)
	}
	if mgr.qrRetries.Get(acc.ID) != 0 {
		t.Error("retry counter not cleared")
	}
	if _, err := mgr.Lookup(acc.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Lookup after reset = %v, want ErrSessionNotFound", err)
	}
	if _, err := stores.Credentials.Load(context.Background(), acc.ID); !errors.Is(err, store.ErrNoCredentials) {
		t.Errorf("credentials survived the reset: %v", err)
	}

	// No automatic retry: pairing needs a human.
	time.Sleep(30 * time.Millisecond)
	if factory.dialCount() != 1 {
		t.Errorf("dials = %d, want 1 (no reconnect after forced reset)", factory.dialCount())
	}
}

func TestTransientCloseReconnects(t *testing.T) {
	mgr, factory, stores, acc, _ := newTestEnv(t)
	done, client := startInit(t, mgr, acc, factory)

	client.emit(&gateway.CredentialsUpdate{Blob: []byte(`{"jid":"55119@s.whatsapp.net"}`)})
	client.emit(&gateway.ConnectionUpdate{Phase: gateway.PhaseOpen})
	if err := <-done; err != nil {
		t.Fatalf("InitSession = %v", err)
	}

	client.emit(&gateway.ConnectionUpdate{
		Phase:     gateway.PhaseClosed,
		LastError: &gateway.DisconnectError{Code: 408, Reason: "request timeout"},
	})

	if _, err := mgr.Lookup(acc.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Lookup after close = %v, want ErrSessionNotFound", err)
	}
	if _, err := stores.Credentials.Load(context.Background(), acc.ID); err != nil {
		t.Errorf("credentials cleared on transient close: %v", err)
	}

	waitFor(t, "reconnect dial", func() bool { return factory.dialCount() >= 2 })

	// The new connection carries the preserved credentials.
	factory.mu.Lock()
	blob := factory.creds[1]
	factory.mu.Unlock()
	if len(blob) == 0 {
		t.Error("reconnect dialed without stored credentials")
	}

	second := factory.client(1)
	second.emit(&gateway.ConnectionUpdate{Phase: gateway.PhaseOpen})
	waitFor(t, "re-registered session", func() bool {
		_, err := mgr.Lookup(acc.ID)
		return err == nil
	})
}

func TestBlockedCloseStopsRetrying(t *testing.T) {
	mgr, factory, stores, acc, _ := newTestEnv(t)
	done, client := startInit(t, mgr, acc, factory)

	client.emit(&gateway.CredentialsUpdate{Blob: []byte(`{"jid":"blocked"}`)})
	client.emit(&gateway.ConnectionUpdate{Phase: gateway.PhaseOpen})
	if err := <-done; err != nil {
		t.Fatalf("InitSession = %v", err)
	}

	client.emit(&gateway.ConnectionUpdate{
		Phase:     gateway.PhaseClosed,
		LastError: &gateway.DisconnectError{Code: 403, Reason: "forbidden"},
	})

	got, err := stores.Accounts.FindByID(context.Background(), acc.ID)
	if err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if got.Status != store.StatusPending {
		t.Errorf("status = %s, want PENDING", got.Status)
	}
	if _, err := stores.Credentials.Load(context.Background(), acc.ID); !errors.Is(err, store.ErrNoCredentials) {
		t.Errorf("credentials survived a blocked close: %v", err)
	}
	if _, err := mgr.Lookup(acc.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Lookup = %v, want ErrSessionNotFound", err)
	}

	time.Sleep(30 * time.Millisecond)
	if factory.dialCount() != 1 {
		t.Errorf("dials = %d, want 1 (blocked accounts never reconnect)", factory.dialCount())
	}
}

func TestLoggedOutCloseRepairs(t *testing.T) {
	mgr, factory, stores, acc, _ := newTestEnv(t)
	done, client := startInit(t, mgr, acc, factory)

	client.emit(&gateway.CredentialsUpdate{Blob: []byte(`{"jid":"old"}`)})
	client.emit(&gateway.ConnectionUpdate{Phase: gateway.PhaseOpen})
	if err := <-done; err != nil {
		t.Fatalf("InitSession = %v", err)
	}

	client.emit(&gateway.ConnectionUpdate{
		Phase:     gateway.PhaseClosed,
		LastError: &gateway.DisconnectError{Code: 401, Reason: "logged out"},
	})

	got, err := stores.Accounts.FindByID(context.Background(), acc.ID)
	if err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if got.Status != store.StatusPending {
		t.Errorf("status = %s, want PENDING", got.Status)
	}
	if _, err := stores.Credentials.Load(context.Background(), acc.ID); !errors.Is(err, store.ErrNoCredentials) {
		t.Errorf("credentials survived a logout: %v", err)
	}

	// The account reconnects and goes through pairing again.
	waitFor(t, "reconnect dial", func() bool { return factory.dialCount() >= 2 })
	factory.mu.Lock()
	blob := factory.creds[1]
	factory.mu.Unlock()
	if len(blob) != 0 {
		t.Error("reconnect after logout reused stale credentials")
	}
}

func TestDuplicateStartKeepsFirstSession(t *testing.T) {
	mgr, factory, _, acc, _ := newTestEnv(t)

	if err := mgr.StartSession(context.Background(), acc.ID); err != nil {
		t.Fatalf("first StartSession: %v", err)
	}
	if err := mgr.StartSession(context.Background(), acc.ID); err != nil {
		t.Fatalf("second StartSession: %v", err)
	}

	if mgr.ActiveSessions() != 1 {
		t.Fatalf("ActiveSessions = %d, want 1", mgr.ActiveSessions())
	}
	if factory.client(0).closedCount() != 0 {
		t.Error("first client was closed by the duplicate start")
	}
	if factory.client(1).closedCount() != 1 {
		t.Error("duplicate client was not closed")
	}
}

func TestCredentialsUpdateSaves(t *testing.T) {
	mgr, factory, stores, acc, _ := newTestEnv(t)
	_, client := startInit(t, mgr, acc, factory)

	blob := []byte(`{"jid":"5511999@s.whatsapp.net"}`)
	client.emit(&gateway.CredentialsUpdate{Blob: blob})

	got, err := stores.Credentials.Load(context.Background(), acc.ID)
	if err != nil {
		t.Fatalf("load credentials: %v", err)
	}
	if string(got) != string(blob) {
		t.Errorf("stored blob = %s, want %s", got, blob)
	}
}

func TestRemoveSessionCancelsPendingReconnect(t *testing.T) {
	mgr, factory, _, acc, _ := newTestEnv(t)
	mgr.reconnect = NewReconnectScheduler(50*time.Millisecond, mgr.restart)

	done, client := startInit(t, mgr, acc, factory)
	client.emit(&gateway.ConnectionUpdate{Phase: gateway.PhaseOpen})
	if err := <-done; err != nil {
		t.Fatalf("InitSession = %v", err)
	}

	client.emit(&gateway.ConnectionUpdate{
		Phase:     gateway.PhaseClosed,
		LastError: &gateway.DisconnectError{Code: 515, Reason: "restart required"},
	})
	mgr.RemoveSession(context.Background(), acc.ID, false)

	time.Sleep(120 * time.Millisecond)
	if factory.dialCount() != 1 {
		t.Errorf("dials = %d, want 1 (manual teardown cancels the pending retry)", factory.dialCount())
	}
}

func TestInitSessionContextCancel(t *testing.T) {
	mgr, factory, _, acc, _ := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- mgr.InitSession(ctx, acc.ID) }()
	waitFor(t, "dial", func() bool { return factory.dialCount() >= 1 })

	// No events arrive; the caller gives up with the context.
	if err := <-done; !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("InitSession = %v, want DeadlineExceeded", err)
	}
}

func TestInitSessionDialError(t *testing.T) {
	mgr, factory, _, acc, _ := newTestEnv(t)
	factory.mu.Lock()
	factory.dialErr = errors.New("device store offline")
	factory.mu.Unlock()

	err := mgr.InitSession(context.Background(), acc.ID)
	if !errors.Is(err, ErrGatewayConstruction) {
		t.Fatalf("InitSession = %v, want ErrGatewayConstruction", err)
	}
}

func TestInitSessionUnknownAccount(t *testing.T) {
	mgr, _, _, _, _ := newTestEnv(t)

	err := mgr.InitSession(context.Background(), store.GenNewID())
	if !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("InitSession = %v, want ErrAccountNotFound", err)
	}
}

func TestRestartSkipsDeletedAccount(t *testing.T) {
	mgr, factory, stores, acc, _ := newTestEnv(t)
	done, client := startInit(t, mgr, acc, factory)

	client.emit(&gateway.ConnectionUpdate{Phase: gateway.PhaseOpen})
	if err := <-done; err != nil {
		t.Fatalf("InitSession = %v", err)
	}

	if err := stores.Accounts.Delete(context.Background(), acc.ID); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	client.emit(&gateway.ConnectionUpdate{
		Phase:     gateway.PhaseClosed,
		LastError: &gateway.DisconnectError{Code: 0, Reason: "eof"},
	})

	time.Sleep(40 * time.Millisecond)
	if factory.dialCount() != 1 {
		t.Errorf("dials = %d, want 1 (deleted accounts end the retry cycle)", factory.dialCount())
	}
}
