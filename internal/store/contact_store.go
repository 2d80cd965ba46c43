package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrContactNotFound is returned when no contact matches the lookup.
var ErrContactNotFound = errors.New("contact not found")

// Contact is an address-book entry scoped to a tenant.
type Contact struct {
	BaseModel
	TenantID      string    `json:"tenant_id"`
	Name          string    `json:"name"`
	Number        string    `json:"number"`
	Email         string    `json:"email"`
	IsGroup       bool      `json:"is_group"`
	ProfilePicURL string    `json:"profile_pic_url"`
	RemoteJID     string    `json:"remote_jid"`
	LID           string    `json:"lid"` // gateway-assigned linked identity
	AccountID     uuid.UUID `json:"account_id"`
}

// ContactUpdate is a partial update; nil fields are left untouched.
type ContactUpdate struct {
	Name          *string
	ProfilePicURL *string
	RemoteJID     *string
	LID           *string
	AccountID     *uuid.UUID
}

// ContactStore persists contacts.
type ContactStore interface {
	Create(ctx context.Context, c *Contact) error
	FindByID(ctx context.Context, id uuid.UUID) (*Contact, error)
	// FindByNumberOrLID matches within a tenant by phone number, or by LID
	// when lid is non-empty.
	FindByNumberOrLID(ctx context.Context, tenantID, number, lid string) (*Contact, error)
	Update(ctx context.Context, id uuid.UUID, upd ContactUpdate) error
}
