package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zapfield/zapfield/internal/store"
)

// PGAccountStore implements store.AccountStore backed by Postgres.
type PGAccountStore struct {
	db *sql.DB
}

func NewPGAccountStore(db *sql.DB) *PGAccountStore {
	return &PGAccountStore{db: db}
}

func (s *PGAccountStore) Create(ctx context.Context, acc *store.Account) error {
	if acc.ID == uuid.Nil {
		acc.ID = store.GenNewID()
	}
	if acc.Status == "" {
		acc.Status = store.StatusUninitialized
	}
	now := time.Now()
	acc.CreatedAt = now
	acc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, tenant_id, name, status, qrcode, retries, jid, is_default, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		acc.ID, acc.TenantID, acc.Name, acc.Status, acc.QRCode, acc.Retries, acc.JID, acc.IsDefault, now, now,
	)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (s *PGAccountStore) FindByID(ctx context.Context, id uuid.UUID) (*store.Account, error) {
	var acc store.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, status, qrcode, retries, jid, is_default, created_at, updated_at
		 FROM accounts WHERE id = $1`, id,
	).Scan(&acc.ID, &acc.TenantID, &acc.Name, &acc.Status, &acc.QRCode, &acc.Retries,
		&acc.JID, &acc.IsDefault, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return &acc, nil
}

func (s *PGAccountStore) List(ctx context.Context, tenantID string) ([]store.Account, error) {
	query := `SELECT id, tenant_id, name, status, qrcode, retries, jid, is_default, created_at, updated_at
	          FROM accounts`
	args := []any{}
	if tenantID != "" {
		query += " WHERE tenant_id = $1"
		args = append(args, tenantID)
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var result []store.Account
	for rows.Next() {
		var acc store.Account
		if err := rows.Scan(&acc.ID, &acc.TenantID, &acc.Name, &acc.Status, &acc.QRCode,
			&acc.Retries, &acc.JID, &acc.IsDefault, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
			continue
		}
		result = append(result, acc)
	}
	return result, rows.Err()
}

// Update applies a partial update. A missing row is a no-op: lifecycle
// handlers race with account deletion and must not fail on a stale ID.
func (s *PGAccountStore) Update(ctx context.Context, id uuid.UUID, upd store.AccountUpdate) error {
	sets := []string{"updated_at = now()"}
	args := []any{id}
	n := 2

	add := func(col string, v any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, n))
		args = append(args, v)
		n++
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.QRCode != nil {
		add("qrcode", *upd.QRCode)
	}
	if upd.Retries != nil {
		add("retries", *upd.Retries)
	}
	if upd.JID != nil {
		add("jid", *upd.JID)
	}

	query := "UPDATE accounts SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return nil
}

func (s *PGAccountStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}
