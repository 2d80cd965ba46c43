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

// FileContactStore implements store.ContactStore with a single JSON
// document on disk (standalone mode).
type FileContactStore struct {
	path string
	mu   sync.Mutex
}

func NewFileContactStore(dataDir string) *FileContactStore {
	return &FileContactStore{path: filepath.Join(dataDir, "contacts.json")}
}

func (s *FileContactStore) Create(ctx context.Context, c *store.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == uuid.Nil {
		c.ID = store.GenNewID()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	contacts, err := s.load()
	if err != nil {
		return err
	}
	contacts = append(contacts, *c)
	return s.save(contacts)
}

func (s *FileContactStore) FindByID(ctx context.Context, id uuid.UUID) (*store.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contacts, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range contacts {
		if contacts[i].ID == id {
			c := contacts[i]
			return &c, nil
		}
	}
	return nil, store.ErrContactNotFound
}

func (s *FileContactStore) FindByNumberOrLID(ctx context.Context, tenantID, number, lid string) (*store.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contacts, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range contacts {
		if contacts[i].TenantID != tenantID {
			continue
		}
		if contacts[i].Number == number || (lid != "" && contacts[i].LID == lid) {
			c := contacts[i]
			return &c, nil
		}
	}
	return nil, store.ErrContactNotFound
}

func (s *FileContactStore) Update(ctx context.Context, id uuid.UUID, upd store.ContactUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contacts, err := s.load()
	if err != nil {
		return err
	}
	for i := range contacts {
		if contacts[i].ID != id {
			continue
		}
		if upd.Name != nil {
			contacts[i].Name = *upd.Name
		}
		if upd.ProfilePicURL != nil {
			contacts[i].ProfilePicURL = *upd.ProfilePicURL
		}
		if upd.RemoteJID != nil {
			contacts[i].RemoteJID = *upd.RemoteJID
		}
		if upd.LID != nil {
			contacts[i].LID = *upd.LID
		}
		if upd.AccountID != nil {
			contacts[i].AccountID = *upd.AccountID
		}
		contacts[i].UpdatedAt = time.Now()
		return s.save(contacts)
	}
	return nil
}

func (s *FileContactStore) load() ([]store.Contact, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var contacts []store.Contact
	if err := json.Unmarshal(data, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (s *FileContactStore) save(contacts []store.Contact) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(contacts, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
