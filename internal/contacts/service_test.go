package contacts

import (
	"context"
	"sync"
	"testing"

	"github.com/zapfield/zapfield/internal/notify"
	"github.com/zapfield/zapfield/internal/store"
	"github.com/zapfield/zapfield/internal/store/file"
)

type recNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recNotifier) Publish(tenantID, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notify.Event{Tenant: tenantID, Name: event, Payload: payload})
}

func (n *recNotifier) actions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.events {
		if e.Name != notify.EventContact {
			continue
		}
		if m, ok := e.Payload.(map[string]any); ok {
			out = append(out, m["action"].(string))
		}
	}
	return out
}

func newTestService(t *testing.T) (*Service, store.ContactStore, *recNotifier) {
	t.Helper()
	stores := file.NewFileStores(store.StoreConfig{DataDir: t.TempDir()})
	rec := &recNotifier{}
	return NewService(stores.Contacts, rec), stores.Contacts, rec
}

func TestNormalizeNumber(t *testing.T) {
	tests := []struct {
		in      string
		isGroup bool
		want    string
	}{
		{"+55 (11) 99988-7766", false, "5511999887766"},
		{"5511999887766", false, "5511999887766"},
		{"120363025246125486", true, "120363025246125486"},
		{"1203-6302@junk", true, "1203-6302@junk"}, // groups pass through verbatim
	}
	for _, tt := range tests {
		if got := NormalizeNumber(tt.in, tt.isGroup); got != tt.want {
			t.Errorf("NormalizeNumber(%q, %v) = %q, want %q", tt.in, tt.isGroup, got, tt.want)
		}
	}
}

func TestCreateOrUpdateCreates(t *testing.T) {
	svc, contacts, rec := newTestService(t)

	c, err := svc.CreateOrUpdate(context.Background(), UpsertInput{
		TenantID: "tenant-1",
		Name:     "Maria",
		Number:   "+55 11 99988-7766",
	})
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	if c.Number != "5511999887766" {
		t.Errorf("number = %q, want digits only", c.Number)
	}
	if got := rec.actions(); len(got) != 1 || got[0] != notify.ActionCreate {
		t.Errorf("actions = %v, want [create]", got)
	}

	found, err := contacts.FindByNumberOrLID(context.Background(), "tenant-1", "5511999887766", "")
	if err != nil {
		t.Fatalf("FindByNumberOrLID: %v", err)
	}
	if found.ID != c.ID {
		t.Error("created contact not findable by number")
	}
}

func TestCreateOrUpdateDefaultsNameToNumber(t *testing.T) {
	svc, _, _ := newTestService(t)

	c, err := svc.CreateOrUpdate(context.Background(), UpsertInput{
		TenantID: "tenant-1",
		Number:   "5511999887766",
	})
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	if c.Name != "5511999887766" {
		t.Errorf("name = %q, want the number", c.Name)
	}
}

func TestCreateOrUpdateUpdatesExisting(t *testing.T) {
	svc, _, rec := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateOrUpdate(ctx, UpsertInput{TenantID: "tenant-1", Name: "Maria", Number: "5511999887766"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	second, err := svc.CreateOrUpdate(ctx, UpsertInput{
		TenantID:      "tenant-1",
		Name:          "Maria Silva",
		Number:        "5511999887766",
		ProfilePicURL: "https://cdn.example/pic.jpg",
		RemoteJID:     "5511999887766@s.whatsapp.net",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("update created a second contact")
	}
	if second.Name != "Maria Silva" || second.ProfilePicURL == "" || second.RemoteJID == "" {
		t.Errorf("fields not refreshed: %+v", second)
	}
	if got := rec.actions(); len(got) != 2 || got[1] != notify.ActionUpdate {
		t.Errorf("actions = %v, want [create update]", got)
	}
}

func TestCreateOrUpdateNoChangeNoEvent(t *testing.T) {
	svc, _, rec := newTestService(t)
	ctx := context.Background()

	in := UpsertInput{TenantID: "tenant-1", Name: "Maria", Number: "5511999887766"}
	if _, err := svc.CreateOrUpdate(ctx, in); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreateOrUpdate(ctx, in); err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if got := rec.actions(); len(got) != 1 {
		t.Errorf("actions = %v, want just the create", got)
	}
}

func TestCreateOrUpdateFindsByLID(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateOrUpdate(ctx, UpsertInput{
		TenantID: "tenant-1",
		Name:     "Maria",
		Number:   "5511999887766",
		LID:      "98765@lid",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Same identity reappears under a different number form but the same
	// linked identity.
	second, err := svc.CreateOrUpdate(ctx, UpsertInput{
		TenantID: "tenant-1",
		Number:   "00000000",
		LID:      "98765@lid",
	})
	if err != nil {
		t.Fatalf("lid lookup: %v", err)
	}
	if second.ID != first.ID {
		t.Error("LID lookup created a duplicate contact")
	}
}

func TestCreateOrUpdateTenantIsolation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.CreateOrUpdate(ctx, UpsertInput{TenantID: "tenant-1", Number: "5511999887766"})
	if err != nil {
		t.Fatalf("tenant-1 create: %v", err)
	}
	b, err := svc.CreateOrUpdate(ctx, UpsertInput{TenantID: "tenant-2", Number: "5511999887766"})
	if err != nil {
		t.Fatalf("tenant-2 create: %v", err)
	}
	if a.ID == b.ID {
		t.Error("contacts crossed the tenant boundary")
	}
}
