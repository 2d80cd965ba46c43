package wapp

import (
	"context"
	"errors"
	"testing"

	"github.com/zapfield/zapfield/internal/gateway"
	"github.com/zapfield/zapfield/internal/notify"
	"github.com/zapfield/zapfield/internal/store"
)

func TestResolveJID(t *testing.T) {
	tests := []struct {
		name    string
		contact store.Contact
		want    string
	}{
		{
			name:    "group",
			contact: store.Contact{Number: "120363025246125486", IsGroup: true},
			want:    "120363025246125486@g.us",
		},
		{
			name:    "stored remote jid wins",
			contact: store.Contact{Number: "5511999887766", RemoteJID: "5511999887766@lid"},
			want:    "5511999887766@lid",
		},
		{
			name:    "malformed remote jid ignored",
			contact: store.Contact{Number: "5511999887766", RemoteJID: "not-a-jid"},
			want:    "5511999887766@s.whatsapp.net",
		},
		{
			name:    "plain number",
			contact: store.Contact{Number: "5511999887766"},
			want:    "5511999887766@s.whatsapp.net",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveJID(&tt.contact); got != tt.want {
				t.Errorf("ResolveJID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSendText(t *testing.T) {
	mgr, factory, _, acc, rec := newTestEnv(t)
	done, client := startInit(t, mgr, acc, factory)
	client.emit(&gateway.ConnectionUpdate{Phase: gateway.PhaseOpen})
	if err := <-done; err != nil {
		t.Fatalf("InitSession = %v", err)
	}

	contact := &store.Contact{
		BaseModel: store.BaseModel{ID: store.GenNewID()},
		TenantID:  "tenant-1",
		Number:    "5511999887766",
	}
	id, err := mgr.SendText(context.Background(), acc.ID, contact, "hello there", &Quote{
		MessageID: "3EB0ABC",
		Sender:    "5511888@s.whatsapp.net",
		Text:      "original",
	})
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if id != "MSG-1" {
		t.Errorf("message id = %q, want MSG-1", id)
	}

	client.mu.Lock()
	jid, text, quote := client.sentJID, client.sentText, client.sentQuote
	client.mu.Unlock()
	if jid != "5511999887766@s.whatsapp.net" {
		t.Errorf("jid = %q", jid)
	}
	if text != "hello there" {
		t.Errorf("text = %q", text)
	}
	if quote == nil || quote.MessageID != "3EB0ABC" {
		t.Errorf("quote = %+v", quote)
	}
	if rec.count(notify.EventMessage) != 1 {
		t.Errorf("message events = %d, want 1", rec.count(notify.EventMessage))
	}
}

func TestSendTextNoSession(t *testing.T) {
	mgr, _, _, acc, _ := newTestEnv(t)

	contact := &store.Contact{Number: "5511999887766"}
	if _, err := mgr.SendText(context.Background(), acc.ID, contact, "hi", nil); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("SendText = %v, want ErrSessionNotFound", err)
	}
}
