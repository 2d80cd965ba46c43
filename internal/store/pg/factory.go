package pg

import (
	"database/sql"

	"github.com/zapfield/zapfield/internal/store"
)

// NewPGStores creates all stores backed by Postgres (managed mode).
func NewPGStores(db *sql.DB) *store.Stores {
	return &store.Stores{
		Accounts:    NewPGAccountStore(db),
		Credentials: NewPGCredentialStore(db),
		Contacts:    NewPGContactStore(db),
	}
}
