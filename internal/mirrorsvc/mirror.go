// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mirrorsvc

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ManuGH/mirrord/internal/cache"
	"github.com/ManuGH/mirrord/internal/guard"
	"github.com/ManuGH/mirrord/internal/metrics"
	"github.com/ManuGH/mirrord/internal/registry"
	"github.com/ManuGH/mirrord/internal/rewrite"
)

// Response is one serviced mirror request, ready for transport write-out.
// The synthetic x-cache / x-robots-tag pair is set by the API layer on every
// response, replacing any value carried in Headers.
type Response struct {
	Status      int
	Headers     http.Header
	Body        []byte
	CacheStatus string // "HIT" or "MISS"
}

// HandleMirror services GET/HEAD /m/<slug>/<tail>?<rawQuery>.
func (s *Service) HandleMirror(ctx context.Context, slug, tail, rawQuery, method string, inbound http.Header) (*Response, error) {
	resp, err := s.handleMirror(ctx, slug, tail, rawQuery, method, inbound)
	if err != nil {
		metrics.RecordRequest(false)
		s.recordPipelineFailure(ctx, slug, err)
		return nil, err
	}
	metrics.RecordRequest(true)
	return resp, nil
}

func (s *Service) handleMirror(ctx context.Context, slug, tail, rawQuery, method string, inbound http.Header) (*Response, error) {
	if method != http.MethodGet && method != http.MethodHead {
		return nil, ErrMethodNotAllowed
	}
	if s.Disabled() {
		return nil, ErrServiceDisabled
	}

	rec, err := s.registry.BySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if rec.Disabled {
		return nil, registry.ErrMirrorNotFound
	}

	upstreamURL, err := buildUpstreamURL(rec.TargetOrigin, tail, rawQuery)
	if err != nil {
		return nil, err
	}

	var cacheKey string
	if method == http.MethodGet {
		cacheKey = cache.Key(http.MethodGet, upstreamURL.String())
		if entry, ok := s.cache.Get(rec.Slug, cacheKey); ok {
			metrics.RecordCacheHit(true)
			s.registry.RecordEvent(ctx, registry.LevelInfo, registry.KindCacheHit, rec.Slug, "served from cache",
				map[string]any{"url": upstreamURL.String()})
			return &Response{
				Status:      entry.Status,
				Headers:     headerFromSnapshot(entry.Headers),
				Body:        entry.Body,
				CacheStatus: "HIT",
			}, nil
		}
		metrics.RecordCacheHit(false)
		s.registry.RecordEvent(ctx, registry.LevelInfo, registry.KindCacheMiss, rec.Slug, "cache miss",
			map[string]any{"url": upstreamURL.String()})
	}

	result, err := s.fetchUpstream(ctx, method, upstreamURL, inbound)
	if err != nil {
		return nil, err
	}

	if method == http.MethodHead {
		return &Response{
			Status:      result.Status,
			Headers:     filterResponseHeaders(result.Headers, false),
			CacheStatus: "MISS",
		}, nil
	}

	body := result.Body
	contentType := result.Headers.Get("Content-Type")
	rewritten := false

	if target, ok := s.rewriteTarget(rec, result.FinalURL); ok {
		switch {
		case isHTML(contentType):
			if out, err := rewrite.HTML(body, target); err == nil {
				body = out
				rewritten = true
			} else {
				s.logger.Warn().Err(err).Str("slug", rec.Slug).Msg("html rewrite failed, serving original")
			}
		case isCSS(contentType):
			if out, err := rewrite.CSS(body, target); err == nil {
				body = out
				rewritten = true
			} else {
				s.logger.Warn().Err(err).Str("slug", rec.Slug).Msg("css rewrite failed, serving original")
			}
		}
	}

	headers := filterResponseHeaders(result.Headers, rewritten)
	if rewritten {
		headers.Set("Content-Length", strconv.Itoa(len(body)))
	}

	resp := &Response{
		Status:      result.Status,
		Headers:     headers,
		Body:        body,
		CacheStatus: "MISS",
	}

	if result.Status >= 200 && result.Status < 300 {
		s.cache.Set(rec.Slug, cacheKey, cache.Entry{
			Status:      result.Status,
			Headers:     cacheableHeaderSnapshot(headers),
			ContentType: contentType,
			Body:        body,
		})
		_ = s.registry.Touch(ctx, rec.ID, finalPath(result.FinalURL))
	}

	return resp, nil
}

func (s *Service) rewriteTarget(rec *registry.Mirror, finalURL *url.URL) (rewrite.Target, bool) {
	origin, err := url.Parse(rec.TargetOrigin)
	if err != nil {
		return rewrite.Target{}, false
	}
	return rewrite.Target{
		BaseURL:      finalURL,
		TargetOrigin: origin,
		Slug:         rec.Slug,
	}, true
}

func (s *Service) recordPipelineFailure(ctx context.Context, slug string, err error) {
	id := errorIdentifier(err)
	switch {
	case errors.Is(err, ErrUpstreamTimeout):
		s.registry.RecordEvent(ctx, registry.LevelError, registry.KindUpstreamTimeout, slug, "upstream timeout",
			map[string]any{"error": id})
	case errors.Is(err, guard.ErrSSRFBlocked):
		metrics.RecordSSRFBlocked()
		s.registry.RecordEvent(ctx, registry.LevelError, registry.KindSSRFBlocked, slug, "ssrf blocked",
			map[string]any{"error": id})
	case errors.Is(err, registry.ErrMirrorNotFound), errors.Is(err, ErrMethodNotAllowed), errors.Is(err, ErrServiceDisabled):
		// Routine client-facing rejections; no proxy-error event.
	default:
		s.registry.RecordEvent(ctx, registry.LevelError, registry.KindProxyError, slug, "proxy error",
			map[string]any{"error": id})
	}
}

// buildUpstreamURL joins the target origin with the tail path and raw query.
func buildUpstreamURL(targetOrigin, tail, rawQuery string) (*url.URL, error) {
	u, err := url.Parse(targetOrigin)
	if err != nil {
		return nil, ErrInvalidURL
	}
	u.Path = "/" + strings.TrimLeft(tail, "/")
	u.RawQuery = strings.TrimPrefix(rawQuery, "?")
	return u, nil
}

// finalPath is the lastPath form of the final URL: pathname plus search.
func finalPath(u *url.URL) string {
	p := u.EscapedPath()
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

func headerFromSnapshot(snapshot map[string]string) http.Header {
	h := make(http.Header, len(snapshot))
	for k, v := range snapshot {
		h.Set(k, v)
	}
	return h
}
