package file

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/zapfield/zapfield/internal/store"
)

// FileCredentialStore implements store.CredentialStore with one blob file
// per account (standalone mode).
type FileCredentialStore struct {
	dir string
}

func NewFileCredentialStore(dataDir string) *FileCredentialStore {
	return &FileCredentialStore{dir: filepath.Join(dataDir, "credentials")}
}

func (s *FileCredentialStore) Load(ctx context.Context, accountID uuid.UUID) ([]byte, error) {
	data, err := os.ReadFile(s.blobPath(accountID))
	if os.IsNotExist(err) {
		return nil, store.ErrNoCredentials
	}
	return data, err
}

func (s *FileCredentialStore) Save(ctx context.Context, accountID uuid.UUID, blob []byte) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	path := s.blobPath(accountID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FileCredentialStore) Delete(ctx context.Context, accountID uuid.UUID) error {
	err := os.Remove(s.blobPath(accountID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileCredentialStore) blobPath(accountID uuid.UUID) string {
	return filepath.Join(s.dir, accountID.String()+".cred")
}
