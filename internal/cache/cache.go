// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cache implements the disk-backed response cache. Every entry is a
// pair of files, <safeSlug>_<cacheKey>.json (metadata) and .bin (body); both
// are present together or the entry does not exist. Expired pairs are removed
// on read, and a prune pass keeps the total size under the configured budget
// by evicting the oldest writes first.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ManuGH/mirrord/internal/log"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

const maxSafeSlugLen = 80

// Entry is one cached upstream response.
type Entry struct {
	Status      int               `json:"status"`
	Headers     map[string]string `json:"headers"`
	ContentType string            `json:"contentType"`
	CachedAt    int64             `json:"cachedAt"` // epoch milliseconds
	Size        int64             `json:"size"`

	Body []byte `json:"-"`
}

// Stats summarizes the live (non-expired) cache contents.
type Stats struct {
	Entries   int   `json:"entries"`
	UsedBytes int64 `json:"usedBytes"`
}

// Options configures a Store.
type Options struct {
	Dir      string
	TTL      time.Duration
	MaxBytes int64
}

// Store is a process-local filesystem cache. Distinct (slug, key) pairs map
// to distinct file names, so concurrent writers do not corrupt each other;
// writes within one key are whole-file via atomic rename.
type Store struct {
	dir      string
	ttl      time.Duration
	maxBytes int64
	logger   zerolog.Logger

	stop chan struct{}
}

// New creates the cache directory if needed and returns a Store.
func New(opts Options) (*Store, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{
		dir:      opts.Dir,
		ttl:      opts.TTL,
		maxBytes: opts.MaxBytes,
		logger:   log.WithComponent("cache"),
		stop:     make(chan struct{}),
	}, nil
}

// Key derives the cache key for a request: hex SHA-256 of "METHOD:finalURL".
func Key(method, finalURL string) string {
	sum := sha256.Sum256([]byte(method + ":" + finalURL))
	return hex.EncodeToString(sum[:])
}

// SafeSlug folds characters outside [A-Za-z0-9_-] to '_' and truncates to 80.
func SafeSlug(slug string) string {
	var b strings.Builder
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if len(s) > maxSafeSlugLen {
		s = s[:maxSafeSlugLen]
	}
	return s
}

func (s *Store) metaPath(slug, key string) string {
	return filepath.Join(s.dir, SafeSlug(slug)+"_"+key+".json")
}

func (s *Store) bodyPath(slug, key string) string {
	return filepath.Join(s.dir, SafeSlug(slug)+"_"+key+".bin")
}

// Get returns the cached entry for (slug, key), or miss. Expired and orphaned
// pairs are removed on the way.
func (s *Store) Get(slug, key string) (*Entry, bool) {
	metaPath := s.metaPath(slug, key)
	bodyPath := s.bodyPath(slug, key)

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		// Orphaned metadata from an interrupted write.
		_ = os.Remove(metaPath)
		return nil, false
	}
	if s.expired(e.CachedAt, time.Now()) {
		_ = os.Remove(metaPath)
		_ = os.Remove(bodyPath)
		return nil, false
	}
	body, err := os.ReadFile(bodyPath)
	if err != nil {
		// Body lost (eviction race or crash); drop the metadata without error.
		_ = os.Remove(metaPath)
		return nil, false
	}
	e.Body = body
	return &e, true
}

// Set stores a response. Entries larger than half the byte budget are
// silently refused. The body is written before the metadata so a reader never
// observes metadata without a body, then a prune pass enforces the budget.
func (s *Store) Set(slug, key string, e Entry) {
	e.Size = int64(len(e.Body))
	if e.Size > s.maxBytes/2 {
		return
	}
	if e.CachedAt == 0 {
		e.CachedAt = time.Now().UnixMilli()
	}
	if e.Headers == nil {
		e.Headers = map[string]string{}
	}

	if err := writeAtomic(s.bodyPath(slug, key), e.Body); err != nil {
		s.logger.Warn().Err(err).Str("slug", slug).Msg("cache body write failed")
		return
	}
	meta, err := json.Marshal(e)
	if err != nil {
		_ = os.Remove(s.bodyPath(slug, key))
		return
	}
	if err := writeAtomic(s.metaPath(slug, key), meta); err != nil {
		s.logger.Warn().Err(err).Str("slug", slug).Msg("cache metadata write failed")
		_ = os.Remove(s.bodyPath(slug, key))
		return
	}
	s.Prune()
}

// PurgeAll removes every file in the cache directory.
func (s *Store) PurgeAll() error {
	names, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, de := range names {
		if de.IsDir() {
			continue
		}
		_ = os.Remove(filepath.Join(s.dir, de.Name()))
	}
	return nil
}

// PurgeBySlug removes every file belonging to the given slug.
func (s *Store) PurgeBySlug(slug string) error {
	prefix := SafeSlug(slug) + "_"
	names, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, de := range names {
		if de.IsDir() || !strings.HasPrefix(de.Name(), prefix) {
			continue
		}
		_ = os.Remove(filepath.Join(s.dir, de.Name()))
	}
	return nil
}

// Stats counts live entries and their body bytes.
func (s *Store) Stats() Stats {
	var st Stats
	now := time.Now()
	for _, m := range s.scanMetadata() {
		if s.expired(m.entry.CachedAt, now) {
			continue
		}
		st.Entries++
		st.UsedBytes += m.entry.Size
	}
	return st
}

type metaFile struct {
	path  string
	entry Entry
}

func (s *Store) scanMetadata() []metaFile {
	names, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var out []metaFile
	for _, de := range names {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, de.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			_ = os.Remove(path)
			continue
		}
		out = append(out, metaFile{path: path, entry: e})
	}
	return out
}

// Prune drops expired entries and orphans, then evicts the oldest writes
// until the live total fits the byte budget.
func (s *Store) Prune() {
	now := time.Now()
	var live []metaFile
	var total int64

	for _, m := range s.scanMetadata() {
		bodyPath := strings.TrimSuffix(m.path, ".json") + ".bin"
		if s.expired(m.entry.CachedAt, now) {
			_ = os.Remove(m.path)
			_ = os.Remove(bodyPath)
			continue
		}
		if _, err := os.Stat(bodyPath); err != nil {
			_ = os.Remove(m.path)
			continue
		}
		live = append(live, m)
		total += m.entry.Size
	}

	if total <= s.maxBytes {
		return
	}
	sort.Slice(live, func(i, j int) bool { return live[i].entry.CachedAt < live[j].entry.CachedAt })
	for _, m := range live {
		if total <= s.maxBytes {
			break
		}
		_ = os.Remove(m.path)
		_ = os.Remove(strings.TrimSuffix(m.path, ".json") + ".bin")
		total -= m.entry.Size
		s.logger.Debug().Str("file", filepath.Base(m.path)).Msg("evicted cache entry")
	}
}

func (s *Store) expired(cachedAtMillis int64, now time.Time) bool {
	age := now.Sub(time.UnixMilli(cachedAtMillis))
	return age > s.ttl
}

// StartJanitor re-runs Prune on the given interval until Stop is called.
func (s *Store) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Prune()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop terminates the janitor goroutine.
func (s *Store) Stop() {
	close(s.stop)
}

func writeAtomic(path string, data []byte) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return err
	}
	defer func() { _ = pending.Cleanup() }()
	if _, err := pending.Write(data); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}
