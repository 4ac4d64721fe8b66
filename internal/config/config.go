// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the mirrord runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidToken is returned when the internal API token is missing or too short.
var ErrInvalidToken = errors.New("MIRROR_INTERNAL_TOKEN must be set and at least 8 characters")

// Config holds every runtime setting of the mirror service.
type Config struct {
	Host          string
	Port          int
	PublicBaseURL string
	InternalToken string

	AllowlistPath string
	DBPath        string
	CacheDir      string

	CacheTTL        time.Duration
	CacheMaxBytes   int64
	UpstreamTimeout time.Duration
	MaxHTMLBytes    int64
	MaxBinaryBytes  int64

	EnableHTTP     bool
	DisableService bool

	LogLevel string
	LogFile  string
}

// FromEnv assembles a Config from HOST, PORT and MIRROR_* environment variables, applying defaults
// for everything that is unset.
func FromEnv() *Config {
	return &Config{
		Host:          ParseString("HOST", "0.0.0.0"),
		Port:          ParseInt("PORT", 8085),
		PublicBaseURL: ParseString("MIRROR_PUBLIC_BASE_URL", ""),
		InternalToken: ParseString("MIRROR_INTERNAL_TOKEN", ""),

		AllowlistPath: ParseString("MIRROR_ALLOWLIST_PATH", "data/allowlist.json"),
		DBPath:        ParseString("MIRROR_DB_PATH", "data/mirror.db"),
		CacheDir:      ParseString("MIRROR_CACHE_DIR", "data/cache"),

		CacheTTL:        time.Duration(ParseInt("MIRROR_CACHE_TTL_SECONDS", 7200)) * time.Second,
		CacheMaxBytes:   ParseInt64("MIRROR_CACHE_MAX_BYTES", 1<<30),
		UpstreamTimeout: time.Duration(ParseInt("MIRROR_UPSTREAM_TIMEOUT_MS", 12000)) * time.Millisecond,
		MaxHTMLBytes:    ParseInt64("MIRROR_MAX_HTML_BYTES", 5<<20),
		MaxBinaryBytes:  ParseInt64("MIRROR_MAX_BINARY_BYTES", 25<<20),

		EnableHTTP:     ParseBool("MIRROR_ENABLE_HTTP", false),
		DisableService: ParseBool("MIRROR_DISABLE_SERVICE", false),

		LogLevel: ParseString("MIRROR_LOG_LEVEL", "info"),
		LogFile:  ParseString("MIRROR_LOG_FILE", ""),
	}
}

// Validate checks settings that must be correct before the server may start.
func (c *Config) Validate() error {
	if len(c.InternalToken) < 8 {
		return ErrInvalidToken
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("MIRROR_CACHE_TTL_SECONDS must be positive")
	}
	if c.CacheMaxBytes <= 0 {
		return fmt.Errorf("MIRROR_CACHE_MAX_BYTES must be positive")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("MIRROR_UPSTREAM_TIMEOUT_MS must be positive")
	}
	return nil
}

// ListenAddr returns the host:port pair the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
