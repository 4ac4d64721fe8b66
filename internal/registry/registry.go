// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package registry persists mirror records and the append-only event log in
// SQLite. It exclusively owns both tables; callers interact through typed
// records, never raw rows.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/mirrord/internal/log"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure Go driver
)

// ErrMirrorNotFound is returned when no record matches the lookup.
var ErrMirrorNotFound = errors.New("mirror not found")

// Mirror is the identity of one mirrored origin. TargetOrigin never changes
// after creation.
type Mirror struct {
	ID           string    `json:"id"`
	Slug         string    `json:"slug"`
	TargetOrigin string    `json:"targetOrigin"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	LastPath     string    `json:"lastPath,omitempty"`
	Disabled     bool      `json:"disabled"`
}

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS mirrors (
	id            TEXT PRIMARY KEY,
	slug          TEXT NOT NULL UNIQUE,
	target_origin TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	last_path     TEXT NOT NULL DEFAULT '',
	disabled      INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_mirrors_target_enabled
	ON mirrors(target_origin) WHERE disabled = 0;
CREATE TABLE IF NOT EXISTS events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	at        TEXT NOT NULL,
	level     TEXT NOT NULL,
	kind      TEXT NOT NULL,
	slug      TEXT,
	message   TEXT NOT NULL,
	meta_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_at ON events(at DESC);
`

// Open initializes the SQLite store with WAL mode and busy timeout applied to
// every pooled connection, and creates the schema.
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, (5 * time.Second).Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: schema init failed: %w", err)
	}

	return &Store{db: db, logger: log.WithComponent("registry")}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const mirrorColumns = "id, slug, target_origin, created_at, updated_at, last_path, disabled"

func scanMirror(row interface{ Scan(...any) error }) (*Mirror, error) {
	var m Mirror
	var createdAt, updatedAt string
	var disabled int
	if err := row.Scan(&m.ID, &m.Slug, &m.TargetOrigin, &createdAt, &updatedAt, &m.LastPath, &disabled); err != nil {
		return nil, err
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	m.Disabled = disabled != 0
	return &m, nil
}

// BySlug returns the record with the given slug.
func (s *Store) BySlug(ctx context.Context, slug string) (*Mirror, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+mirrorColumns+" FROM mirrors WHERE slug = ?", slug)
	m, err := scanMirror(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMirrorNotFound
	}
	return m, err
}

// ByTargetOrigin returns the enabled record for the exact target origin.
func (s *Store) ByTargetOrigin(ctx context.Context, origin string) (*Mirror, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+mirrorColumns+" FROM mirrors WHERE target_origin = ? AND disabled = 0", origin)
	m, err := scanMirror(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMirrorNotFound
	}
	return m, err
}

// List returns every record, newest first.
func (s *Store) List(ctx context.Context) ([]Mirror, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+mirrorColumns+" FROM mirrors ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Mirror
	for rows.Next() {
		m, err := scanMirror(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// Create inserts a new mirror for targetOrigin, allocating a free slug derived
// from host. When a concurrent writer creates the same targetOrigin first, the
// existing record is returned and created is false.
func (s *Store) Create(ctx context.Context, targetOrigin, host, lastPath string) (m *Mirror, created bool, err error) {
	now := time.Now().UTC().Format(time.RFC3339)

	for _, slug := range slugCandidates(host) {
		id := uuid.New().String()
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO mirrors (id, slug, target_origin, created_at, updated_at, last_path, disabled) VALUES (?, ?, ?, ?, ?, ?, 0)",
			id, slug, targetOrigin, now, now, lastPath)
		if err == nil {
			return &Mirror{
				ID: id, Slug: slug, TargetOrigin: targetOrigin,
				CreatedAt: mustParseTime(now), UpdatedAt: mustParseTime(now),
				LastPath: lastPath,
			}, true, nil
		}
		msg := err.Error()
		if strings.Contains(msg, "idx_mirrors_target_enabled") || strings.Contains(msg, "mirrors.target_origin") {
			// Lost the race: another writer registered this origin.
			existing, lookupErr := s.ByTargetOrigin(ctx, targetOrigin)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			return existing, false, nil
		}
		if strings.Contains(msg, "mirrors.slug") {
			continue
		}
		return nil, false, err
	}
	return nil, false, fmt.Errorf("slug space exhausted for host %q", host)
}

// Touch updates lastPath (when non-empty) and the updated_at stamp.
func (s *Store) Touch(ctx context.Context, id, lastPath string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	var err error
	if lastPath != "" {
		_, err = s.db.ExecContext(ctx,
			"UPDATE mirrors SET last_path = ?, updated_at = ? WHERE id = ?", lastPath, now, id)
	} else {
		_, err = s.db.ExecContext(ctx,
			"UPDATE mirrors SET updated_at = ? WHERE id = ?", now, id)
	}
	return err
}

// SetDisabled toggles a mirror's disabled flag.
func (s *Store) SetDisabled(ctx context.Context, slug string, disabled bool) error {
	now := time.Now().UTC().Format(time.RFC3339)
	v := 0
	if disabled {
		v = 1
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE mirrors SET disabled = ?, updated_at = ? WHERE slug = ?", v, now, slug)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMirrorNotFound
	}
	return nil
}

// Counts returns total mirror and event rows.
func (s *Store) Counts(ctx context.Context) (mirrors, events int, err error) {
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM mirrors").Scan(&mirrors); err != nil {
		return 0, 0, err
	}
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&events); err != nil {
		return 0, 0, err
	}
	return mirrors, events, nil
}

func mustParseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
