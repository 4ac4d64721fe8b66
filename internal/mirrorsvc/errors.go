// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mirrorsvc

import "errors"

// Pipeline failure identifiers. The API layer maps each to its HTTP status.
var (
	ErrInvalidURL       = errors.New("invalid_url")
	ErrMissingURL       = errors.New("missing_url")
	ErrDomainNotAllowed = errors.New("domain_not_allowed")
	ErrMethodNotAllowed = errors.New("method_not_allowed")
	ErrServiceDisabled  = errors.New("service_disabled")
	ErrTooManyRedirects = errors.New("too_many_redirects")
	ErrHTMLTooLarge     = errors.New("html_too_large")
	ErrBinaryTooLarge   = errors.New("binary_too_large")
	ErrUpstreamTimeout  = errors.New("upstream_timeout")
	ErrUpstream         = errors.New("upstream_error")
)
