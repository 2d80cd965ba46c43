// Package contacts maintains the tenant address book fed by inbound
// gateway traffic.
package contacts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/zapfield/zapfield/internal/notify"
	"github.com/zapfield/zapfield/internal/store"
)

// Service upserts contacts and fans out change events to the tenant room.
type Service struct {
	contacts store.ContactStore
	notifier notify.Notifier
	log      *slog.Logger
}

func NewService(contacts store.ContactStore, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Service{
		contacts: contacts,
		notifier: notifier,
		log:      slog.Default().With("component", "contacts"),
	}
}

// UpsertInput describes a contact observed on the wire. Number may
// arrive with formatting noise (plus signs, spaces, hyphens); group
// identifiers are kept verbatim since they are not phone numbers.
type UpsertInput struct {
	TenantID      string
	Name          string
	Number        string
	IsGroup       bool
	ProfilePicURL string
	RemoteJID     string
	LID           string
	AccountID     uuid.UUID
}

// NormalizeNumber strips everything but digits. Group identifiers pass
// through unchanged.
func NormalizeNumber(number string, isGroup bool) string {
	if isGroup {
		return number
	}
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CreateOrUpdate finds the contact by normalized number or linked
// identity within the tenant and refreshes its mutable fields, creating
// it when absent. Subscribers receive a create or update event matching
// what happened.
func (s *Service) CreateOrUpdate(ctx context.Context, in UpsertInput) (*store.Contact, error) {
	number := NormalizeNumber(in.Number, in.IsGroup)

	existing, err := s.contacts.FindByNumberOrLID(ctx, in.TenantID, number, in.LID)
	switch {
	case err == nil:
		upd := store.ContactUpdate{}
		if in.Name != "" && in.Name != existing.Name {
			upd.Name = &in.Name
		}
		if in.ProfilePicURL != "" && in.ProfilePicURL != existing.ProfilePicURL {
			upd.ProfilePicURL = &in.ProfilePicURL
		}
		if in.RemoteJID != "" && in.RemoteJID != existing.RemoteJID {
			upd.RemoteJID = &in.RemoteJID
		}
		if in.LID != "" && in.LID != existing.LID {
			upd.LID = &in.LID
		}
		if in.AccountID != uuid.Nil && in.AccountID != existing.AccountID {
			upd.AccountID = &in.AccountID
		}
		if upd != (store.ContactUpdate{}) {
			if err := s.contacts.Update(ctx, existing.ID, upd); err != nil {
				return nil, fmt.Errorf("update contact %s: %w", existing.ID, err)
			}
			refreshed, err := s.contacts.FindByID(ctx, existing.ID)
			if err != nil {
				return nil, fmt.Errorf("reload contact %s: %w", existing.ID, err)
			}
			existing = refreshed
			s.publish(in.TenantID, notify.ActionUpdate, existing)
		}
		return existing, nil

	case err == store.ErrContactNotFound:
		c := &store.Contact{
			TenantID:      in.TenantID,
			Name:          in.Name,
			Number:        number,
			IsGroup:       in.IsGroup,
			ProfilePicURL: in.ProfilePicURL,
			RemoteJID:     in.RemoteJID,
			LID:           in.LID,
			AccountID:     in.AccountID,
		}
		if c.Name == "" {
			c.Name = number
		}
		if err := s.contacts.Create(ctx, c); err != nil {
			return nil, fmt.Errorf("create contact: %w", err)
		}
		s.publish(in.TenantID, notify.ActionCreate, c)
		return c, nil

	default:
		return nil, fmt.Errorf("lookup contact: %w", err)
	}
}

func (s *Service) publish(tenantID, action string, c *store.Contact) {
	s.notifier.Publish(tenantID, notify.EventContact, map[string]any{
		"action":  action,
		"contact": c,
	})
}
