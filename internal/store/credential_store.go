package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNoCredentials is returned by Load when an account has never paired.
var ErrNoCredentials = errors.New("no stored credentials")

// CredentialStore persists per-account authentication material. The blob is
// opaque to the session layer; the gateway adapter decides its contents.
//
// Failures are logged by callers and never abort a lifecycle transition.
type CredentialStore interface {
	Load(ctx context.Context, accountID uuid.UUID) ([]byte, error)
	Save(ctx context.Context, accountID uuid.UUID, blob []byte) error
	Delete(ctx context.Context, accountID uuid.UUID) error
}
