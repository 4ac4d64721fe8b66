// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package mirrorsvc implements the request-servicing pipeline: URL
// resolution, the guarded upstream fetch with redirect validation, content
// rewriting, response assembly, and the cache interplay.
package mirrorsvc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ManuGH/mirrord/internal/allowlist"
	"github.com/ManuGH/mirrord/internal/cache"
	"github.com/ManuGH/mirrord/internal/guard"
	"github.com/ManuGH/mirrord/internal/log"
	"github.com/ManuGH/mirrord/internal/metrics"
	"github.com/ManuGH/mirrord/internal/registry"
	"github.com/rs/zerolog"
)

const maxRedirects = 5

// Options configures the pipeline.
type Options struct {
	AllowHTTP       bool
	UpstreamTimeout time.Duration
	MaxHTMLBytes    int64
	MaxBinaryBytes  int64
	DisableService  bool

	// Transport overrides the default upstream transport in tests.
	Transport http.RoundTripper
	// GuardFunc overrides the SSRF guard in tests; defaults to guard.AssertSafeURL.
	GuardFunc func(ctx context.Context, rawURL string, allowHTTP bool) error
}

// Service wires the guard, allowlist, cache and registry into the pipeline.
type Service struct {
	registry *registry.Store
	allow    *allowlist.Store
	cache    *cache.Store
	client   *http.Client
	guardFn  func(ctx context.Context, rawURL string, allowHTTP bool) error
	logger   zerolog.Logger

	allowHTTP       bool
	upstreamTimeout time.Duration
	maxHTMLBytes    int64
	maxBinaryBytes  int64

	disabled atomic.Bool
}

// New constructs a Service. The upstream client never follows redirects on
// its own; every hop is validated by the pipeline.
func New(reg *registry.Store, allow *allowlist.Store, store *cache.Store, opts Options) *Service {
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          16,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       30 * time.Second,
			TLSHandshakeTimeout:   3 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}
	s := &Service{
		registry: reg,
		allow:    allow,
		cache:    store,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		guardFn:         opts.GuardFunc,
		logger:          log.WithComponent("mirror"),
		allowHTTP:       opts.AllowHTTP,
		upstreamTimeout: opts.UpstreamTimeout,
		maxHTMLBytes:    opts.MaxHTMLBytes,
		maxBinaryBytes:  opts.MaxBinaryBytes,
	}
	if s.guardFn == nil {
		s.guardFn = guard.AssertSafeURL
	}
	s.disabled.Store(opts.DisableService)
	return s
}

// Disabled reports the service-disabled flag.
func (s *Service) Disabled() bool {
	return s.disabled.Load()
}

// SetDisabled toggles the service-disabled flag.
func (s *Service) SetDisabled(v bool) {
	s.disabled.Store(v)
}

// ResolveResult is the outcome of a successful resolve.
type ResolveResult struct {
	Slug         string `json:"slug"`
	TargetOrigin string `json:"targetOrigin"`
	LaunchURL    string `json:"launchUrl"`
	Created      bool   `json:"created"`
}

// Resolve validates rawURL against the guard and allowlist, then registers
// (or looks up) the mirror for its origin and returns the launch URL.
func (s *Service) Resolve(ctx context.Context, rawURL string) (*ResolveResult, error) {
	res, err := s.resolve(ctx, rawURL)
	if err != nil {
		metrics.RecordResolve(false)
		level := registry.LevelWarn
		if errors.Is(err, guard.ErrSSRFBlocked) {
			metrics.RecordSSRFBlocked()
			level = registry.LevelError
		}
		s.registry.RecordEvent(ctx, level, registry.KindResolveFail, "", "resolve failed",
			map[string]any{"url": rawURL, "error": errorIdentifier(err)})
		return nil, err
	}
	metrics.RecordResolve(true)
	s.registry.RecordEvent(ctx, registry.LevelInfo, registry.KindResolve, res.Slug, "resolved target url",
		map[string]any{"url": rawURL, "created": res.Created})
	return res, nil
}

func (s *Service) resolve(ctx context.Context, rawURL string) (*ResolveResult, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, ErrMissingURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, ErrInvalidURL
	}

	if err := s.guardFn(ctx, rawURL, s.allowHTTP); err != nil {
		return nil, err
	}
	if s.allow.Match(u) == nil {
		return nil, ErrDomainNotAllowed
	}

	targetOrigin := originOf(u)
	lastPath := launchPath(u)

	rec, err := s.registry.ByTargetOrigin(ctx, targetOrigin)
	created := false
	switch {
	case err == nil:
		if lastPath != "" {
			_ = s.registry.Touch(ctx, rec.ID, lastPath)
		}
	case errors.Is(err, registry.ErrMirrorNotFound):
		rec, created, err = s.registry.Create(ctx, targetOrigin, u.Hostname(), lastPath)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	return &ResolveResult{
		Slug:         rec.Slug,
		TargetOrigin: rec.TargetOrigin,
		LaunchURL:    launchURL(rec.Slug, u),
		Created:      created,
	}, nil
}

// CheckTarget runs the guard and allowlist checks for rawURL without touching
// the registry.
func (s *Service) CheckTarget(ctx context.Context, rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ErrMissingURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ErrInvalidURL
	}
	if err := s.guardFn(ctx, rawURL, s.allowHTTP); err != nil {
		return err
	}
	if s.allow.Match(u) == nil {
		return ErrDomainNotAllowed
	}
	return nil
}

// originOf renders <scheme>://<host>[:<port>] with a lowercased host.
func originOf(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// launchPath is pathname (unless "/") plus search; empty for the bare origin.
func launchPath(u *url.URL) string {
	var b strings.Builder
	if u.Path != "" && u.Path != "/" {
		b.WriteString(u.EscapedPath())
	}
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	return b.String()
}

func launchURL(slug string, u *url.URL) string {
	return "/m/" + url.PathEscape(slug) + launchPath(u)
}

// errorIdentifier maps a pipeline error chain to its wire identifier.
func errorIdentifier(err error) string {
	switch {
	case errors.Is(err, guard.ErrInvalidScheme):
		return "invalid_scheme"
	case errors.Is(err, guard.ErrCredentialsNotAllowed):
		return "credentials_not_allowed"
	case errors.Is(err, guard.ErrEmptyHostname), errors.Is(err, ErrInvalidURL):
		return "invalid_url"
	case errors.Is(err, ErrMissingURL):
		return "missing_url"
	case errors.Is(err, guard.ErrSSRFBlocked):
		return "ssrf_blocked"
	case errors.Is(err, guard.ErrDNSResolutionFailed):
		return "dns_resolution_failed"
	case errors.Is(err, guard.ErrInvalidIP):
		return "invalid_ip"
	case errors.Is(err, ErrDomainNotAllowed):
		return "domain_not_allowed"
	case errors.Is(err, registry.ErrMirrorNotFound):
		return "mirror_not_found"
	case errors.Is(err, ErrMethodNotAllowed):
		return "method_not_allowed"
	case errors.Is(err, ErrServiceDisabled):
		return "service_disabled"
	case errors.Is(err, ErrTooManyRedirects):
		return "too_many_redirects"
	case errors.Is(err, ErrHTMLTooLarge):
		return "html_too_large"
	case errors.Is(err, ErrBinaryTooLarge):
		return "binary_too_large"
	case errors.Is(err, ErrUpstreamTimeout):
		return "upstream_timeout"
	case errors.Is(err, ErrUpstream):
		return "upstream_error"
	default:
		return "internal_error"
	}
}

// ErrorIdentifier exposes the wire identifier of a pipeline error.
func ErrorIdentifier(err error) string {
	return errorIdentifier(err)
}
