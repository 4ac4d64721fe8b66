// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"
)

const (
	resolveRateLimit  = 30
	resolveRateWindow = time.Minute
)

// internalAuth guards the /internal surface. The token is accepted either as
// x-internal-token or as a bearer token; comparison is constant-time.
func internalAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("x-internal-token")
			if presented == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					presented = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				writeErrorID(w, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// resolveRateLimiter applies a sliding-window per-IP limit to the resolve
// endpoint, answering in the service's error envelope.
func resolveRateLimiter() func(http.Handler) http.Handler {
	return httprate.Limit(
		resolveRateLimit,
		resolveRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeErrorID(w, "rate_limited")
		}),
	)
}

// robotsTag stamps every response with the noindex directive.
func robotsTag(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Robots-Tag", "noindex, nofollow")
		next.ServeHTTP(w, r)
	})
}
