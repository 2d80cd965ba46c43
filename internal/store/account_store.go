package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// AccountStatus is the persisted lifecycle status of a device account.
type AccountStatus string

const (
	StatusUninitialized AccountStatus = "UNINITIALIZED"
	StatusPending       AccountStatus = "PENDING"
	StatusQRCode        AccountStatus = "QRCODE"
	StatusConnected     AccountStatus = "CONNECTED"
	StatusDisconnected  AccountStatus = "DISCONNECTED"
)

// ErrAccountNotFound is returned when an account ID has no persisted row.
var ErrAccountNotFound = errors.New("account not found")

// Account is a tenant-owned messaging identity requiring its own gateway
// connection. Status and QRCode are kept mutually consistent by the session
// manager: QRCode is non-empty only while Status is QRCODE.
type Account struct {
	BaseModel
	TenantID  string        `json:"tenant_id"`
	Name      string        `json:"name"`
	Status    AccountStatus `json:"status"`
	QRCode    string        `json:"qrcode"`
	Retries   int           `json:"retries"`
	JID       string        `json:"jid"` // gateway device identity once paired
	IsDefault bool          `json:"is_default"`
}

// AccountUpdate is a partial update; nil fields are left untouched.
type AccountUpdate struct {
	Name    *string
	Status  *AccountStatus
	QRCode  *string
	Retries *int
	JID     *string
}

// AccountStore persists device accounts.
//
// Update on an account that was deleted concurrently is a no-op, not an
// error: lifecycle handlers race with account deletion and must not crash.
type AccountStore interface {
	Create(ctx context.Context, acc *Account) error
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	List(ctx context.Context, tenantID string) ([]Account, error)
	Update(ctx context.Context, id uuid.UUID, upd AccountUpdate) error
	Delete(ctx context.Context, id uuid.UUID) error
}
