// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package allowlist maintains the positive policy list of hosts that may be
// mirrored. The list is persisted as a single JSON document, written
// atomically, and served to readers from an immutable in-memory snapshot.
package allowlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/mirrord/internal/guard"
	"github.com/ManuGH/mirrord/internal/log"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

const documentVersion = 1

// ErrNotFound is returned when no entry has the requested id.
var ErrNotFound = errors.New("allowlist entry not found")

// Entry is one policy rule.
type Entry struct {
	ID              string   `json:"id"`
	Host            string   `json:"host"`
	AllowSubdomains bool     `json:"allowSubdomains"`
	Schemes         []string `json:"schemes"`
	Enabled         bool     `json:"enabled"`
	Label           string   `json:"label,omitempty"`
}

// Patch describes a partial update; nil fields are left unchanged.
type Patch struct {
	Host            *string   `json:"host,omitempty"`
	AllowSubdomains *bool     `json:"allowSubdomains,omitempty"`
	Schemes         *[]string `json:"schemes,omitempty"`
	Enabled         *bool     `json:"enabled,omitempty"`
	Label           *string   `json:"label,omitempty"`
}

type document struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// Store owns the allowlist document. Mutations are serialized and persisted
// atomically; Match reads a lock-free snapshot.
type Store struct {
	path   string
	logger zerolog.Logger

	mu   sync.Mutex // serializes mutations and disk writes
	snap atomic.Pointer[[]Entry]
}

// Load reads the allowlist from path, creating an empty document when the
// file does not exist yet.
func Load(path string) (*Store, error) {
	s := &Store{
		path:   path,
		logger: log.WithComponent("allowlist"),
	}
	if err := s.Reload(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		empty := []Entry{}
		s.snap.Store(&empty)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create allowlist dir: %w", err)
		}
		if err := s.persist(empty); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Reload re-reads the document from disk and swaps the snapshot in one step.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse allowlist %s: %w", s.path, err)
	}
	entries := doc.Entries
	if entries == nil {
		entries = []Entry{}
	}
	s.snap.Store(&entries)
	s.logger.Debug().Int("entries", len(entries)).Msg("allowlist loaded")
	return nil
}

// List returns a copy of all entries.
func (s *Store) List() []Entry {
	snap := *s.snap.Load()
	out := make([]Entry, len(snap))
	copy(out, snap)
	return out
}

// GetByID returns the entry with the given id.
func (s *Store) GetByID(id string) (Entry, error) {
	for _, e := range *s.snap.Load() {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

// Upsert inserts or replaces an entry. Host is normalized, schemes default to
// https, and a missing id is derived from the host.
func (s *Store) Upsert(e Entry) (Entry, error) {
	host, err := NormalizeHost(e.Host)
	if err != nil {
		return Entry{}, err
	}
	e.Host = host
	if len(e.Schemes) == 0 {
		e.Schemes = []string{"https"}
	}
	e.Schemes = normalizeSchemes(e.Schemes)
	if err := validateSchemes(e.Schemes); err != nil {
		return Entry{}, err
	}
	if e.ID == "" {
		e.ID = slugify(e.Host)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.List()
	replaced := false
	for i := range entries {
		if entries[i].ID == e.ID {
			entries[i] = e
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, e)
	}
	if err := s.commit(entries); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// PatchByID applies a partial update to an existing entry.
func (s *Store) PatchByID(id string, p Patch) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.List()
	for i := range entries {
		if entries[i].ID != id {
			continue
		}
		e := entries[i]
		if p.Host != nil {
			host, err := NormalizeHost(*p.Host)
			if err != nil {
				return Entry{}, err
			}
			e.Host = host
		}
		if p.AllowSubdomains != nil {
			e.AllowSubdomains = *p.AllowSubdomains
		}
		if p.Schemes != nil {
			schemes := normalizeSchemes(*p.Schemes)
			if len(schemes) == 0 {
				schemes = []string{"https"}
			}
			if err := validateSchemes(schemes); err != nil {
				return Entry{}, err
			}
			e.Schemes = schemes
		}
		if p.Enabled != nil {
			e.Enabled = *p.Enabled
		}
		if p.Label != nil {
			e.Label = *p.Label
		}
		entries[i] = e
		if err := s.commit(entries); err != nil {
			return Entry{}, err
		}
		return e, nil
	}
	return Entry{}, ErrNotFound
}

// Remove deletes the entry with the given id.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.List()
	for i := range entries {
		if entries[i].ID == id {
			entries = append(entries[:i], entries[i+1:]...)
			return s.commit(entries)
		}
	}
	return ErrNotFound
}

// Match returns the first enabled entry permitting the URL, or nil.
func (s *Store) Match(u *url.URL) *Entry {
	scheme := strings.ToLower(u.Scheme)
	host, err := NormalizeHost(u.Hostname())
	if err != nil {
		return nil
	}
	for _, e := range *s.snap.Load() {
		if !e.Enabled {
			continue
		}
		if !schemeIn(e.Schemes, scheme) {
			continue
		}
		if host == e.Host {
			match := e
			return &match
		}
		if e.AllowSubdomains && strings.HasSuffix(host, "."+e.Host) {
			match := e
			return &match
		}
	}
	return nil
}

// IsAllowed reports whether any enabled entry permits the URL.
func (s *Store) IsAllowed(u *url.URL) bool {
	return s.Match(u) != nil
}

func (s *Store) commit(entries []Entry) error {
	if err := s.persist(entries); err != nil {
		return err
	}
	s.snap.Store(&entries)
	return nil
}

func (s *Store) persist(entries []Entry) error {
	data, err := json.MarshalIndent(document{Version: documentVersion, Entries: entries}, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	pending, err := renameio.NewPendingFile(s.path)
	if err != nil {
		return fmt.Errorf("create pending allowlist file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			s.logger.Debug().Err(err).Msg("cleanup pending allowlist file")
		}
	}()
	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write allowlist: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace allowlist: %w", err)
	}
	return nil
}

// NormalizeHost trims, lowercases and IDNA-maps a host; surrounding dots are
// stripped.
func NormalizeHost(raw string) (string, error) {
	host := strings.Trim(strings.TrimSpace(raw), ".")
	if host == "" {
		return "", fmt.Errorf("empty host")
	}
	return guard.NormalizeHost(host)
}

func normalizeSchemes(schemes []string) []string {
	out := make([]string, 0, len(schemes))
	for _, sc := range schemes {
		sc = strings.ToLower(strings.TrimSpace(sc))
		if sc == "" || schemeIn(out, sc) {
			continue
		}
		out = append(out, sc)
	}
	return out
}

func validateSchemes(schemes []string) error {
	for _, sc := range schemes {
		if sc != "https" && sc != "http" {
			return fmt.Errorf("unsupported scheme %q", sc)
		}
	}
	return nil
}

func schemeIn(schemes []string, scheme string) bool {
	for _, sc := range schemes {
		if sc == scheme {
			return true
		}
	}
	return false
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(host string) string {
	s := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(host), "-"), "-")
	if s == "" {
		return "entry"
	}
	return s
}
