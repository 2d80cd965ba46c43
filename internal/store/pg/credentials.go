package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/zapfield/zapfield/internal/store"
)

// PGCredentialStore implements store.CredentialStore backed by Postgres.
type PGCredentialStore struct {
	db *sql.DB
}

func NewPGCredentialStore(db *sql.DB) *PGCredentialStore {
	return &PGCredentialStore{db: db}
}

func (s *PGCredentialStore) Load(ctx context.Context, accountID uuid.UUID) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT blob FROM credentials WHERE account_id = $1", accountID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNoCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return blob, nil
}

func (s *PGCredentialStore) Save(ctx context.Context, accountID uuid.UUID, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (account_id, blob, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (account_id) DO UPDATE SET blob = EXCLUDED.blob, updated_at = now()`,
		accountID, blob,
	)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (s *PGCredentialStore) Delete(ctx context.Context, accountID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM credentials WHERE account_id = $1", accountID); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}
