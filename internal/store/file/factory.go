package file

import (
	"github.com/zapfield/zapfield/internal/store"
)

// NewFileStores creates all stores backed by the filesystem (standalone mode).
func NewFileStores(cfg store.StoreConfig) *store.Stores {
	return &store.Stores{
		Accounts:    NewFileAccountStore(cfg.DataDir),
		Credentials: NewFileCredentialStore(cfg.DataDir),
		Contacts:    NewFileContactStore(cfg.DataDir),
	}
}
