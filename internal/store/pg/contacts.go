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

// PGContactStore implements store.ContactStore backed by Postgres.
type PGContactStore struct {
	db *sql.DB
}

func NewPGContactStore(db *sql.DB) *PGContactStore {
	return &PGContactStore{db: db}
}

const contactCols = "id, tenant_id, name, number, email, is_group, profile_pic_url, remote_jid, lid, account_id, created_at, updated_at"

func (s *PGContactStore) Create(ctx context.Context, c *store.Contact) error {
	if c.ID == uuid.Nil {
		c.ID = store.GenNewID()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	var accountID any
	if c.AccountID != uuid.Nil {
		accountID = c.AccountID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (`+contactCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.TenantID, c.Name, c.Number, c.Email, c.IsGroup,
		c.ProfilePicURL, c.RemoteJID, c.LID, accountID, now, now,
	)
	if err != nil {
		return fmt.Errorf("create contact: %w", err)
	}
	return nil
}

func (s *PGContactStore) FindByID(ctx context.Context, id uuid.UUID) (*store.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+contactCols+" FROM contacts WHERE id = $1", id)
	return scanContact(row)
}

func (s *PGContactStore) FindByNumberOrLID(ctx context.Context, tenantID, number, lid string) (*store.Contact, error) {
	query := "SELECT " + contactCols + " FROM contacts WHERE tenant_id = $1 AND (number = $2"
	args := []any{tenantID, number}
	if lid != "" {
		query += " OR lid = $3"
		args = append(args, lid)
	}
	query += ")"

	row := s.db.QueryRowContext(ctx, query, args...)
	return scanContact(row)
}

func (s *PGContactStore) Update(ctx context.Context, id uuid.UUID, upd store.ContactUpdate) error {
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
	if upd.ProfilePicURL != nil {
		add("profile_pic_url", *upd.ProfilePicURL)
	}
	if upd.RemoteJID != nil {
		add("remote_jid", *upd.RemoteJID)
	}
	if upd.LID != nil {
		add("lid", *upd.LID)
	}
	if upd.AccountID != nil {
		add("account_id", *upd.AccountID)
	}

	query := "UPDATE contacts SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	return nil
}

func scanContact(row *sql.Row) (*store.Contact, error) {
	var c store.Contact
	var accountID sql.Null[uuid.UUID]
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Number, &c.Email, &c.IsGroup,
		&c.ProfilePicURL, &c.RemoteJID, &c.LID, &accountID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan contact: %w", err)
	}
	if accountID.Valid {
		c.AccountID = accountID.V
	}
	return &c, nil
}
