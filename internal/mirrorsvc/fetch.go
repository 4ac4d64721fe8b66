// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mirrorsvc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuGH/mirrord/internal/metrics"
)

// upstreamResult is the terminal response of a validated redirect chain.
type upstreamResult struct {
	Status   int
	Headers  http.Header
	Body     []byte
	FinalURL *url.URL
}

// fetchUpstream walks at most maxRedirects validated hops. The guard and
// allowlist run against every hop target, not just the first URL, and each
// hop carries a fresh upstream deadline.
func (s *Service) fetchUpstream(ctx context.Context, method string, start *url.URL, inbound http.Header) (*upstreamResult, error) {
	began := time.Now()
	defer func() { metrics.ObserveUpstreamDuration(time.Since(began).Seconds()) }()

	current := start
	for hop := 0; hop <= maxRedirects; hop++ {
		if err := s.validateHop(ctx, current); err != nil {
			return nil, err
		}

		resp, err := s.doHop(ctx, method, current, inbound)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			location := resp.Header.Get("Location")
			if location != "" {
				drainAndClose(resp.Body)
				next, err := current.Parse(location)
				if err != nil {
					return nil, fmt.Errorf("%w: bad redirect location", ErrUpstream)
				}
				current = next
				continue
			}
		}

		result := &upstreamResult{
			Status:   resp.StatusCode,
			Headers:  resp.Header,
			FinalURL: current,
		}
		if method == http.MethodHead {
			drainAndClose(resp.Body)
			return result, nil
		}

		body, err := s.readBody(resp)
		if err != nil {
			return nil, err
		}
		result.Body = body
		return result, nil
	}
	return nil, ErrTooManyRedirects
}

func (s *Service) validateHop(ctx context.Context, u *url.URL) error {
	if err := s.guardFn(ctx, u.String(), s.allowHTTP); err != nil {
		return err
	}
	if s.allow.Match(u) == nil {
		return ErrDomainNotAllowed
	}
	return nil
}

func (s *Service) doHop(ctx context.Context, method string, u *url.URL, inbound http.Header) (*http.Response, error) {
	hopCtx, cancel := context.WithTimeout(ctx, s.upstreamTimeout)
	resp, err := s.requestWithContext(hopCtx, method, u, inbound)
	if err != nil {
		cancel()
		return nil, classifyUpstreamError(err)
	}
	// Tie the cancel to body consumption so the deadline covers the read.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (s *Service) requestWithContext(ctx context.Context, method string, u *url.URL, inbound http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header = buildUpstreamHeaders(inbound)
	return s.client.Do(req)
}

// readBody buffers the response up to the applicable size limit, refusing
// oversize payloads before they are fully held in memory.
func (s *Service) readBody(resp *http.Response) ([]byte, error) {
	defer drainAndClose(resp.Body)

	contentType := resp.Header.Get("Content-Type")
	limit := s.maxBinaryBytes
	tooLarge := ErrBinaryTooLarge
	if isHTML(contentType) {
		limit = s.maxHTMLBytes
		tooLarge = ErrHTMLTooLarge
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, classifyUpstreamError(err)
	}
	if int64(len(body)) > limit {
		return nil, tooLarge
	}
	return body, nil
}

func classifyUpstreamError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	case strings.Contains(strings.ToLower(err.Error()), "timeout"):
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
}

func drainAndClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 4096))
	_ = rc.Close()
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func isHTML(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/html")
}

func isCSS(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/css")
}
