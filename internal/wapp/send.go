package wapp

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/zapfield/zapfield/internal/gateway"
	"github.com/zapfield/zapfield/internal/notify"
	"github.com/zapfield/zapfield/internal/store"
)

const (
	userServer  = "s.whatsapp.net"
	groupServer = "g.us"
)

// ResolveJID picks the gateway address for a contact. Groups always use
// the group server. For users the stored remote JID wins when present,
// since the number-derived form can differ from the identity the gateway
// actually routes on.
func ResolveJID(c *store.Contact) string {
	if c.IsGroup {
		return c.Number + "@" + groupServer
	}
	if c.RemoteJID != "" && strings.Contains(c.RemoteJID, "@") {
		return c.RemoteJID
	}
	return c.Number + "@" + userServer
}

// Quote references an earlier inbound message to reply to.
type Quote struct {
	MessageID string
	Sender    string
	Text      string
}

// SendText sends a text message to a contact over the account's active
// session and returns the gateway-assigned message ID. The session must
// be connected; otherwise ErrSessionNotFound is returned.
func (m *Manager) SendText(ctx context.Context, accountID uuid.UUID, contact *store.Contact, text string, quote *Quote) (string, error) {
	sess, err := m.registry.Lookup(accountID)
	if err != nil {
		return "", err
	}

	var q *gateway.QuoteOptions
	if quote != nil {
		q = &gateway.QuoteOptions{
			MessageID: quote.MessageID,
			Sender:    quote.Sender,
			Text:      quote.Text,
		}
	}

	jid := ResolveJID(contact)
	id, err := sess.Client.SendText(ctx, jid, text, q)
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", jid, err)
	}

	m.log.Debug("message sent", "account", accountID, "contact", contact.ID, "message", id)
	m.notifier.Publish(sess.TenantID, notify.EventMessage, map[string]any{
		"action":     notify.ActionCreate,
		"message_id": id,
		"contact_id": contact.ID,
		"account_id": accountID,
	})
	return id, nil
}
