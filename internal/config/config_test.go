// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8085, cfg.Port)
	assert.Equal(t, 2*time.Hour, cfg.CacheTTL)
	assert.Equal(t, int64(1<<30), cfg.CacheMaxBytes)
	assert.Equal(t, 12*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, int64(5<<20), cfg.MaxHTMLBytes)
	assert.Equal(t, int64(25<<20), cfg.MaxBinaryBytes)
	assert.False(t, cfg.EnableHTTP)
	assert.False(t, cfg.DisableService)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("MIRROR_CACHE_TTL_SECONDS", "60")
	t.Setenv("MIRROR_CACHE_MAX_BYTES", "1048576")
	t.Setenv("MIRROR_ENABLE_HTTP", "true")
	t.Setenv("MIRROR_UPSTREAM_TIMEOUT_MS", "500")

	cfg := FromEnv()
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, time.Minute, cfg.CacheTTL)
	assert.Equal(t, int64(1<<20), cfg.CacheMaxBytes)
	assert.True(t, cfg.EnableHTTP)
	assert.Equal(t, 500*time.Millisecond, cfg.UpstreamTimeout)
}

func TestFromEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("MIRROR_ENABLE_HTTP", "maybe")

	cfg := FromEnv()
	assert.Equal(t, 8085, cfg.Port)
	assert.False(t, cfg.EnableHTTP)
}

func TestValidate_Token(t *testing.T) {
	cfg := FromEnv()

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidToken)

	cfg.InternalToken = "short"
	require.ErrorIs(t, cfg.Validate(), ErrInvalidToken)

	cfg.InternalToken = "long-enough-token"
	assert.NoError(t, cfg.Validate())
}

func TestListenAddr(t *testing.T) {
	cfg := &Config{Host: "127.0.0.1", Port: 8085}
	assert.Equal(t, "127.0.0.1:8085", cfg.ListenAddr())
}
