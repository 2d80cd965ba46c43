package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zapfield/zapfield/internal/store"
)

// FileAccountStore implements store.AccountStore with a single JSON
// document on disk (standalone mode).
type FileAccountStore struct {
	path string
	mu   sync.Mutex
}

func NewFileAccountStore(dataDir string) *FileAccountStore {
	return &FileAccountStore{path: filepath.Join(dataDir, "accounts.json")}
}

func (s *FileAccountStore) Create(ctx context.Context, acc *store.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acc.ID == uuid.Nil {
		acc.ID = store.GenNewID()
	}
	if acc.Status == "" {
		acc.Status = store.StatusUninitialized
	}
	now := time.Now()
	acc.CreatedAt = now
	acc.UpdatedAt = now

	accounts, err := s.load()
	if err != nil {
		return err
	}
	accounts = append(accounts, *acc)
	return s.save(accounts)
}

func (s *FileAccountStore) FindByID(ctx context.Context, id uuid.UUID) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if accounts[i].ID == id {
			acc := accounts[i]
			return &acc, nil
		}
	}
	return nil, store.ErrAccountNotFound
}

func (s *FileAccountStore) List(ctx context.Context, tenantID string) ([]store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.load()
	if err != nil {
		return nil, err
	}
	if tenantID == "" {
		return accounts, nil
	}
	var result []store.Account
	for _, acc := range accounts {
		if acc.TenantID == tenantID {
			result = append(result, acc)
		}
	}
	return result, nil
}

// Update applies a partial update. A missing account is a no-op.
func (s *FileAccountStore) Update(ctx context.Context, id uuid.UUID, upd store.AccountUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.load()
	if err != nil {
		return err
	}
	for i := range accounts {
		if accounts[i].ID != id {
			continue
		}
		if upd.Name != nil {
			accounts[i].Name = *upd.Name
		}
		if upd.Status != nil {
			accounts[i].Status = *upd.Status
		}
		if upd.QRCode != nil {
			accounts[i].QRCode = *upd.QRCode
		}
		if upd.Retries != nil {
			accounts[i].Retries = *upd.Retries
		}
		if upd.JID != nil {
			accounts[i].JID = *upd.JID
		}
		accounts[i].UpdatedAt = time.Now()
		return s.save(accounts)
	}
	return nil
}

func (s *FileAccountStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.load()
	if err != nil {
		return err
	}
	for i := range accounts {
		if accounts[i].ID == id {
			accounts = append(accounts[:i], accounts[i+1:]...)
			return s.save(accounts)
		}
	}
	return nil
}

func (s *FileAccountStore) load() ([]store.Account, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var accounts []store.Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *FileAccountStore) save(accounts []store.Account) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
