package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store runs the persistence queries for users, the conversation message log
// and payment short links.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps an open connection pool.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// UpsertUser records that an identity talked to the bot and keeps its
// display name and last-seen timestamp fresh.
func (s *Store) UpsertUser(ctx context.Context, identity, displayName string) error {
	const q = `
		INSERT INTO users (identity, display_name, first_seen, last_seen)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (identity) DO UPDATE
		SET display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE users.display_name END,
		    last_seen = now()`
	if _, err := s.db.ExecContext(ctx, q, identity, displayName); err != nil {
		return fmt.Errorf("db upsert user: %w", err)
	}
	return nil
}

// InsertMessage appends one conversation message to the log.
func (s *Store) InsertMessage(ctx context.Context, identity, eventID, direction, body string, at time.Time) error {
	const q = `
		INSERT INTO message_log (identity, event_id, direction, body, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if at.IsZero() {
		at = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, q, identity, eventID, direction, body, at); err != nil {
		return fmt.Errorf("db insert message: %w", err)
	}
	return nil
}

// SaveLink stores a short code to checkout URL mapping.
func (s *Store) SaveLink(ctx context.Context, code, url string) error {
	const q = `
		INSERT INTO short_links (code, url, created_at)
		VALUES ($1, $2, now())`
	if _, err := s.db.ExecContext(ctx, q, code, url); err != nil {
		return fmt.Errorf("db save link: %w", err)
	}
	return nil
}

// ResolveLink returns the URL behind a short code, with ok=false when the
// code is unknown.
func (s *Store) ResolveLink(ctx context.Context, code string) (string, bool, error) {
	const q = `SELECT url FROM short_links WHERE code = $1`
	var url string
	err := s.db.GetContext(ctx, &url, q, code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("db resolve link: %w", err)
	}
	return url, true, nil
}
