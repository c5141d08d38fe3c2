package trust

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrAccessRequestNotFound is returned when approving an email with no
// pending request
var ErrAccessRequestNotFound = errors.New("access request not found")

// WhitelistEntry is an approved non-institutional email
type WhitelistEntry struct {
	Email      string    `json:"email"`
	ApprovedBy string    `json:"approved_by"`
	ApprovedAt time.Time `json:"approved_at"`
}

// AccessRequest is a pending ask to be whitelisted
type AccessRequest struct {
	Email       string    `json:"email"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// Store persists whitelist entries and access requests
type Store struct {
	db *sql.DB
}

// NewStore creates a new store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// IsWhitelisted implements WhitelistLookup
func (s *Store) IsWhitelisted(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM whitelist_entries WHERE email = $1)`,
		NormalizeEmail(email),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check whitelist: %w", err)
	}
	return exists, nil
}

// ListWhitelist returns all whitelist entries, newest first
func (s *Store) ListWhitelist(ctx context.Context) ([]*WhitelistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email, approved_by, approved_at
		FROM whitelist_entries
		ORDER BY approved_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list whitelist: %w", err)
	}
	defer rows.Close()

	entries := make([]*WhitelistEntry, 0)
	for rows.Next() {
		e := &WhitelistEntry{}
		if err := rows.Scan(&e.Email, &e.ApprovedBy, &e.ApprovedAt); err != nil {
			return nil, fmt.Errorf("failed to scan whitelist entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AddWhitelist approves email directly. Approving an email twice keeps the
// first approval.
func (s *Store) AddWhitelist(ctx context.Context, email, approvedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO whitelist_entries (email, approved_by, approved_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (email) DO NOTHING
	`, NormalizeEmail(email), approvedBy)
	if err != nil {
		return fmt.Errorf("failed to add whitelist entry: %w", err)
	}
	return nil
}

// UpsertAccessRequest files or refreshes the request for email. created is
// false when a request already existed and was updated.
func (s *Store) UpsertAccessRequest(ctx context.Context, email, reason string) (created bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO access_requests (email, reason, requested_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (email) DO UPDATE
		SET reason = EXCLUDED.reason, requested_at = NOW()
		RETURNING (xmax = 0)
	`, NormalizeEmail(email), reason).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("failed to upsert access request: %w", err)
	}
	return created, nil
}

// ListAccessRequests returns pending requests, oldest first
func (s *Store) ListAccessRequests(ctx context.Context) ([]*AccessRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email, reason, requested_at
		FROM access_requests
		ORDER BY requested_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list access requests: %w", err)
	}
	defer rows.Close()

	requests := make([]*AccessRequest, 0)
	for rows.Next() {
		r := &AccessRequest{}
		if err := rows.Scan(&r.Email, &r.Reason, &r.RequestedAt); err != nil {
			return nil, fmt.Errorf("failed to scan access request: %w", err)
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// ApproveAccessRequest whitelists email and removes its request in one
// transaction
func (s *Store) ApproveAccessRequest(ctx context.Context, email, approvedBy string) error {
	email = NormalizeEmail(email)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM access_requests WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("failed to delete access request: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to delete access request: %w", err)
	} else if n == 0 {
		return ErrAccessRequestNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO whitelist_entries (email, approved_by, approved_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (email) DO NOTHING
	`, email, approvedBy); err != nil {
		return fmt.Errorf("failed to add whitelist entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit approval: %w", err)
	}
	return nil
}
