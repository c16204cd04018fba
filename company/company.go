// Package company is the registry of companies an owner runs batch
// downloads for. Portal passwords are sealed before they reach the database.
package company

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/nfsebot/dbopen"
	"github.com/hazyhaar/nfsebot/idgen"
)

var (
	ErrNotFound = errors.New("company: not found")
	ErrInvalid  = errors.New("company: name and CNPJ are required")
	ErrExists   = errors.New("company: CNPJ already registered")
)

const Schema = `
CREATE TABLE IF NOT EXISTS companies (
    id              TEXT PRIMARY KEY,
    owner_id        TEXT NOT NULL,
    name            TEXT NOT NULL,
    cnpj            TEXT NOT NULL,
    portal_login    TEXT NOT NULL DEFAULT '',
    portal_password TEXT NOT NULL DEFAULT '',
    city            TEXT NOT NULL DEFAULT '',
    created_at      BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_companies_owner ON companies(owner_id, created_at);
`

// Company is one registered taxpayer. PortalPassword is plaintext in memory
// and never serialized.
type Company struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"-"`
	Name           string    `json:"nome"`
	CNPJ           string    `json:"cnpj"`
	PortalLogin    string    `json:"loginPortal,omitempty"`
	PortalPassword string    `json:"-"`
	City           string    `json:"municipio,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// HasPassword reports whether a portal password is on file.
func (c Company) HasPassword() bool { return c.PortalPassword != "" }

// Store persists companies per owner.
type Store struct {
	db      *sql.DB
	dialect dbopen.Dialect
	sealer  *Sealer
	newID   idgen.Generator
	now     func() time.Time
}

// NewStore wraps db. The schema must already be applied.
func NewStore(db *sql.DB, dialect dbopen.Dialect, sealer *Sealer) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		sealer:  sealer,
		newID:   idgen.Prefixed("emp_", idgen.Default),
		now:     time.Now,
	}
}

// Create validates c, seals its password and inserts it. An owner cannot
// register the same CNPJ twice (ErrExists).
func (s *Store) Create(ctx context.Context, c Company) (Company, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.CNPJ = strings.TrimSpace(c.CNPJ)
	c.PortalLogin = strings.TrimSpace(c.PortalLogin)
	if c.OwnerID == "" || c.Name == "" || c.CNPJ == "" {
		return Company{}, ErrInvalid
	}
	sealed, err := s.sealer.Seal(c.PortalPassword)
	if err != nil {
		return Company{}, err
	}
	c.ID = s.newID()
	c.CreatedAt = s.now().UTC().Truncate(time.Millisecond)

	err = dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var n int
		err := tx.QueryRowContext(ctx, dbopen.Rebind(s.dialect,
			`SELECT COUNT(*) FROM companies WHERE owner_id = ? AND cnpj = ?`), c.OwnerID, c.CNPJ).Scan(&n)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrExists
		}
		_, err = tx.ExecContext(ctx, dbopen.Rebind(s.dialect, `
			INSERT INTO companies (id, owner_id, name, cnpj, portal_login, portal_password, city, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			c.ID, c.OwnerID, c.Name, c.CNPJ, c.PortalLogin, sealed, c.City, c.CreatedAt.UnixMilli())
		return err
	})
	if errors.Is(err, ErrExists) {
		return Company{}, err
	}
	if err != nil {
		return Company{}, fmt.Errorf("company: insert: %w", err)
	}
	return c, nil
}

// List returns the owner's companies in registration order with passwords
// opened.
func (s *Store) List(ctx context.Context, ownerID string) ([]Company, error) {
	rows, err := dbopen.Query(ctx, s.db, s.dialect, `
		SELECT id, owner_id, name, cnpj, portal_login, portal_password, city, created_at
		FROM companies WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("company: list: %w", err)
	}
	defer rows.Close()

	var out []Company
	for rows.Next() {
		c, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Get returns one company of the owner.
func (s *Store) Get(ctx context.Context, ownerID, id string) (Company, error) {
	row := s.db.QueryRowContext(ctx, dbopen.Rebind(s.dialect, `
		SELECT id, owner_id, name, cnpj, portal_login, portal_password, city, created_at
		FROM companies WHERE owner_id = ? AND id = ?`), ownerID, id)
	c, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Company{}, ErrNotFound
	}
	return c, err
}

// Delete removes a company of the owner.
func (s *Store) Delete(ctx context.Context, ownerID, id string) error {
	res, err := dbopen.Exec(ctx, s.db, s.dialect,
		`DELETE FROM companies WHERE owner_id = ? AND id = ?`, ownerID, id)
	if err != nil {
		return fmt.Errorf("company: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scan(r scanner) (Company, error) {
	var (
		c       Company
		sealed  string
		created int64
	)
	if err := r.Scan(&c.ID, &c.OwnerID, &c.Name, &c.CNPJ, &c.PortalLogin, &sealed, &c.City, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Company{}, err
		}
		return Company{}, fmt.Errorf("company: scan: %w", err)
	}
	pw, err := s.sealer.Open(sealed)
	if err != nil {
		return Company{}, fmt.Errorf("company %s: %w", c.ID, err)
	}
	c.PortalPassword = pw
	c.CreatedAt = time.UnixMilli(created).UTC()
	return c, nil
}
