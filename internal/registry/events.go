// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

func zerologLevel(level string) zerolog.Level {
	switch level {
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Event levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Event kinds.
const (
	KindResolve         = "resolve"
	KindResolveFail     = "resolve-fail"
	KindProxyError      = "proxy-error"
	KindSSRFBlocked     = "ssrf-blocked"
	KindCacheHit        = "cache-hit"
	KindCacheMiss       = "cache-miss"
	KindCachePurge      = "cache-purge"
	KindAdminAction     = "admin-action"
	KindUpstreamTimeout = "upstream-timeout"
)

// Event is one append-only audit record.
type Event struct {
	ID      int64          `json:"id"`
	At      time.Time      `json:"at"`
	Level   string         `json:"level"`
	Kind    string         `json:"kind"`
	Slug    string         `json:"slug,omitempty"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// RecordEvent appends an audit record. Failures are logged, never propagated:
// the request that triggered the event must not fail because bookkeeping did.
func (s *Store) RecordEvent(ctx context.Context, level, kind, slug, message string, meta map[string]any) {
	at := time.Now().UTC().Format(time.RFC3339)
	var metaJSON sql.NullString
	if len(meta) > 0 {
		if data, err := json.Marshal(meta); err == nil {
			metaJSON = sql.NullString{String: string(data), Valid: true}
		}
	}
	var slugVal sql.NullString
	if slug != "" {
		slugVal = sql.NullString{String: slug, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO events (at, level, kind, slug, message, meta_json) VALUES (?, ?, ?, ?, ?, ?)",
		at, level, kind, slugVal, message, metaJSON)
	if err != nil {
		s.logger.Warn().Err(err).Str("kind", kind).Msg("event insert failed")
		return
	}

	// Mirrored to the structured log; with MIRROR_LOG_FILE set this produces
	// the JSON-lines copy of the event log.
	s.logger.WithLevel(zerologLevel(level)).
		Str("event", "audit."+kind).
		Str("slug", slug).
		Interface("meta", meta).
		Msg(message)
}

// Events returns recent records, newest first, optionally filtered by kind.
func (s *Store) Events(ctx context.Context, limit int, kind string) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := "SELECT id, at, level, kind, slug, message, meta_json FROM events"
	args := []any{}
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var e Event
		var at string
		var slug, metaJSON sql.NullString
		if err := rows.Scan(&e.ID, &at, &e.Level, &e.Kind, &slug, &e.Message, &metaJSON); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339, at)
		e.Slug = slug.String
		if metaJSON.Valid {
			_ = json.Unmarshal([]byte(metaJSON.String), &e.Meta)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
