package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/nfsebot/dbopen"
	"github.com/hazyhaar/nfsebot/idgen"
)

// Schema is valid for SQLite and Postgres.
const Schema = `
CREATE TABLE IF NOT EXISTS run_history (
    id           TEXT PRIMARY KEY,
    owner_id     TEXT NOT NULL,
    owner_label  TEXT NOT NULL DEFAULT '',
    company_id   TEXT,
    company_name TEXT,
    mode         TEXT NOT NULL,
    created_at   BIGINT NOT NULL,
    file_count   INTEGER NOT NULL DEFAULT 0,
    xml_count    INTEGER NOT NULL DEFAULT 0,
    pdf_count    INTEGER NOT NULL DEFAULT 0,
    status       TEXT NOT NULL,
    errors       TEXT,
    details      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_run_history_owner ON run_history(owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_run_history_company ON run_history(company_id, created_at);
`

// Store is the SQL Recorder.
type Store struct {
	db      *sql.DB
	dialect dbopen.Dialect
	newID   idgen.Generator
	now     func() time.Time
}

var _ Recorder = (*Store)(nil)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIDGenerator overrides record id generation.
func WithIDGenerator(g idgen.Generator) StoreOption { return func(s *Store) { s.newID = g } }

// WithClock overrides the timestamp source for records without one.
func WithClock(now func() time.Time) StoreOption { return func(s *Store) { s.now = now } }

// NewStore wraps db. The schema must already be applied (dbopen.WithSchema).
func NewStore(db *sql.DB, dialect dbopen.Dialect, opts ...StoreOption) *Store {
	s := &Store{
		db:      db,
		dialect: dialect,
		newID:   idgen.Prefixed("hist_", idgen.Default),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Record inserts r. A missing ID or Timestamp is filled in.
func (s *Store) Record(ctx context.Context, r Record) error {
	if r.ID == "" {
		r.ID = s.newID()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now()
	}
	var errs sql.NullString
	if len(r.Errors) > 0 {
		b, err := json.Marshal(r.Errors)
		if err != nil {
			return fmt.Errorf("history: encode errors: %w", err)
		}
		errs = sql.NullString{String: string(b), Valid: true}
	}

	_, err := dbopen.Exec(ctx, s.db, s.dialect, `
		INSERT INTO run_history (id, owner_id, owner_label, company_id, company_name, mode,
			created_at, file_count, xml_count, pdf_count, status, errors, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OwnerID, r.OwnerLabel, nullable(r.CompanyID), nullable(r.CompanyName), string(r.Mode),
		r.Timestamp.UnixMilli(), r.FileCount, r.XMLCount, r.PDFCount, string(r.Status), errs, r.Details,
	)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// Filter selects records. OwnerID is required; Limit defaults to 50.
type Filter struct {
	OwnerID   string
	CompanyID string
	Status    Status
	Limit     int
}

// List returns matching records, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Record, error) {
	if f.OwnerID == "" {
		return nil, fmt.Errorf("history: owner required")
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}

	q := `SELECT id, owner_id, owner_label, company_id, company_name, mode, created_at,
		file_count, xml_count, pdf_count, status, errors, details
		FROM run_history WHERE owner_id = ?`
	args := []any{f.OwnerID}
	if f.CompanyID != "" {
		q += ` AND company_id = ?`
		args = append(args, f.CompanyID)
	}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := dbopen.Query(ctx, s.db, s.dialect, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                  Record
			companyID, company sql.NullString
			errs               sql.NullString
			mode, status       string
			createdAt          int64
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.OwnerLabel, &companyID, &company, &mode, &createdAt,
			&r.FileCount, &r.XMLCount, &r.PDFCount, &status, &errs, &r.Details); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		r.CompanyID, r.CompanyName = companyID.String, company.String
		r.Mode, r.Status = Mode(mode), Status(status)
		r.Timestamp = time.UnixMilli(createdAt)
		if errs.Valid && errs.String != "" {
			if err := json.Unmarshal([]byte(errs.String), &r.Errors); err != nil {
				return nil, fmt.Errorf("history: decode errors of %s: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
