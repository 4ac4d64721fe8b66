// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package registry

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBaseSlug(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"example.com", "example-com"},
		{"Sub.Example.COM", "sub-example-com"},
		{"xn--bcher-kva.test", "xn-bcher-kva-test"},
		{"a__b..c", "a-b-c"},
		{"---", "site"},
		{"", "site"},
		{strings.Repeat("a", 60) + ".com", strings.Repeat("a", 48)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BaseSlug(tt.host), "host %q", tt.host)
	}
}

func TestCreate_AllocatesAndLooksUp(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	m, created, err := s.Create(ctx, "https://example.com", "example.com", "/foo")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "example-com", m.Slug)
	assert.Equal(t, "https://example.com", m.TargetOrigin)
	assert.NotEmpty(t, m.ID)
	assert.False(t, m.CreatedAt.IsZero())

	got, err := s.BySlug(ctx, "example-com")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, "/foo", got.LastPath)

	byOrigin, err := s.ByTargetOrigin(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, m.ID, byOrigin.ID)

	_, err = s.BySlug(ctx, "missing")
	assert.ErrorIs(t, err, ErrMirrorNotFound)
}

func TestCreate_SlugCollisionGetsSuffix(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// Different origins (ports) with the same host contend for the same base slug.
	m1, _, err := s.Create(ctx, "https://example.com", "example.com", "")
	require.NoError(t, err)
	m2, created, err := s.Create(ctx, "https://example.com:8443", "example.com", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "example-com", m1.Slug)
	assert.Equal(t, "example-com-2", m2.Slug)
}

func TestCreate_SameOriginReturnsExisting(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	m1, created, err := s.Create(ctx, "https://dup.test", "dup.test", "")
	require.NoError(t, err)
	assert.True(t, created)

	m2, created, err := s.Create(ctx, "https://dup.test", "dup.test", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, m1.ID, m2.ID)
}

func TestCreate_ConcurrentSingleWinner(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*Mirror, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, _, err := s.Create(ctx, "https://race.test", "race.test", "")
			if err == nil {
				results[i] = m
			}
		}(i)
	}
	wg.Wait()

	ids := map[string]struct{}{}
	for _, m := range results {
		require.NotNil(t, m)
		ids[m.ID] = struct{}{}
	}
	assert.Len(t, ids, 1, "all racers must converge on one record")

	mirrors, _, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, mirrors)
}

func TestTouchAndDisable(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	m, _, err := s.Create(ctx, "https://touch.test", "touch.test", "")
	require.NoError(t, err)

	require.NoError(t, s.Touch(ctx, m.ID, "/latest?q=1"))
	got, err := s.BySlug(ctx, m.Slug)
	require.NoError(t, err)
	assert.Equal(t, "/latest?q=1", got.LastPath)

	require.NoError(t, s.SetDisabled(ctx, m.Slug, true))
	got, err = s.BySlug(ctx, m.Slug)
	require.NoError(t, err)
	assert.True(t, got.Disabled)

	// Disabled records are invisible to origin lookup.
	_, err = s.ByTargetOrigin(ctx, "https://touch.test")
	assert.ErrorIs(t, err, ErrMirrorNotFound)

	assert.ErrorIs(t, s.SetDisabled(ctx, "missing", true), ErrMirrorNotFound)
}

func TestEvents_AppendAndQuery(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	s.RecordEvent(ctx, LevelInfo, KindResolve, "example-com", "resolved", map[string]any{"url": "https://example.com/"})
	s.RecordEvent(ctx, LevelWarn, KindCacheMiss, "example-com", "miss", nil)
	s.RecordEvent(ctx, LevelError, KindSSRFBlocked, "", "blocked", nil)

	all, err := s.Events(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, KindSSRFBlocked, all[0].Kind)
	assert.Equal(t, KindResolve, all[2].Kind)
	assert.Equal(t, "https://example.com/", all[2].Meta["url"])

	resolves, err := s.Events(ctx, 10, KindResolve)
	require.NoError(t, err)
	require.Len(t, resolves, 1)
	assert.Equal(t, "example-com", resolves[0].Slug)
}

func TestList(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, _, err := s.Create(ctx, "https://one.test", "one.test", "")
	require.NoError(t, err)
	_, _, err = s.Create(ctx, "https://two.test", "two.test", "")
	require.NoError(t, err)

	mirrors, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, mirrors, 2)
}
