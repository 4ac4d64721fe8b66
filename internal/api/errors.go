// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"

	"github.com/ManuGH/mirrord/internal/mirrorsvc"
)

// statusByIdentifier maps wire error identifiers to HTTP status codes.
var statusByIdentifier = map[string]int{
	"invalid_url":             http.StatusBadRequest,
	"invalid_scheme":          http.StatusBadRequest,
	"invalid_body":            http.StatusBadRequest,
	"missing_url":             http.StatusBadRequest,
	"invalid_ip":              http.StatusBadRequest,
	"credentials_not_allowed": http.StatusBadRequest,
	"unauthorized":            http.StatusUnauthorized,
	"domain_not_allowed":      http.StatusForbidden,
	"ssrf_blocked":            http.StatusForbidden,
	"mirror_not_found":        http.StatusNotFound,
	"not_found":               http.StatusNotFound,
	"method_not_allowed":      http.StatusMethodNotAllowed,
	"html_too_large":          http.StatusRequestEntityTooLarge,
	"binary_too_large":        http.StatusRequestEntityTooLarge,
	"rate_limited":            http.StatusTooManyRequests,
	"service_disabled":        http.StatusServiceUnavailable,
	"too_many_redirects":      http.StatusBadGateway,
	"dns_resolution_failed":   http.StatusBadGateway,
	"upstream_timeout":        http.StatusBadGateway,
	"upstream_error":          http.StatusBadGateway,
	"internal_error":          http.StatusInternalServerError,
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErrorID emits the {ok:false, error} envelope for a known identifier.
func writeErrorID(w http.ResponseWriter, identifier string) {
	status, ok := statusByIdentifier[identifier]
	if !ok {
		identifier = "internal_error"
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]any{"ok": false, "error": identifier})
}

// writeError maps a pipeline error chain to its identifier and status.
func writeError(w http.ResponseWriter, err error) {
	writeErrorID(w, mirrorsvc.ErrorIdentifier(err))
}
