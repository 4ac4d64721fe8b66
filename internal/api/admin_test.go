// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/ManuGH/mirrord/internal/allowlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInternal_Unauthorized(t *testing.T) {
	env := newAPIEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/internal/summary", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode(t, rec)["error"])

	rec = env.do(t, http.MethodGet, "/internal/summary", nil, map[string]string{"x-internal-token": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInternal_AuthForms(t *testing.T) {
	env := newAPIEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/internal/summary", nil, authed())
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/internal/summary", nil,
		map[string]string{"Authorization": "Bearer " + testToken})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInternal_AllowlistCRUD(t *testing.T) {
	env := newAPIEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/internal/allowlist",
		allowlist.Entry{Host: "Crud.Test", Enabled: true}, authed())
	require.Equal(t, http.StatusOK, rec.Code)
	entry := decode(t, rec)["entry"].(map[string]any)
	assert.Equal(t, "crud.test", entry["host"])
	id := entry["id"].(string)

	rec = env.do(t, http.MethodGet, "/internal/allowlist", nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["entries"], 1)

	rec = env.do(t, http.MethodPatch, "/internal/allowlist/"+id,
		map[string]any{"allowSubdomains": true}, authed())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["entry"].(map[string]any)["allowSubdomains"])

	rec = env.do(t, http.MethodDelete, "/internal/allowlist/"+id, nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/internal/allowlist/"+id, nil, authed())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInternal_ServiceToggle(t *testing.T) {
	env := newAPIEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "ok")
	}))

	rec := env.do(t, http.MethodPost, "/api/resolve", map[string]string{"url": env.upstream.URL + "/"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slug := decode(t, rec)["slug"].(string)

	rec = env.do(t, http.MethodPost, "/internal/service/disable", nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/m/"+slug+"/", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service_disabled", decode(t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/internal/service/enable", nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/m/"+slug+"/", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInternal_CachePurge(t *testing.T) {
	env := newAPIEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "content")
	}))

	rec := env.do(t, http.MethodPost, "/api/resolve", map[string]string{"url": env.upstream.URL + "/"}, nil)
	slug := decode(t, rec)["slug"].(string)

	rec = env.do(t, http.MethodGet, "/m/"+slug+"/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, env.cache.Stats().Entries)

	rec = env.do(t, http.MethodPost, "/internal/cache/purge/"+slug, nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, env.cache.Stats().Entries)

	// Refill, then purge everything.
	rec = env.do(t, http.MethodGet, "/m/"+slug+"/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/internal/cache/purge", nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)
	st := env.cache.Stats()
	assert.Zero(t, st.Entries)
	assert.Zero(t, st.UsedBytes)
}

func TestInternal_MirrorsAndLogs(t *testing.T) {
	env := newAPIEnv(t, nil)
	_, err := env.allow.Upsert(allowlist.Entry{Host: "example.com", Enabled: true})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/resolve", map[string]string{"url": "https://example.com/"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/internal/mirrors", nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["mirrors"], 1)

	rec = env.do(t, http.MethodGet, "/internal/logs?kind=resolve", nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["events"], 1)
}

func TestInternal_MirrorDisableEnable(t *testing.T) {
	env := newAPIEnv(t, nil)
	_, err := env.allow.Upsert(allowlist.Entry{Host: "example.com", Enabled: true})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/resolve", map[string]string{"url": "https://example.com/"}, nil)
	slug := decode(t, rec)["slug"].(string)

	rec = env.do(t, http.MethodPost, "/internal/mirrors/"+slug+"/disable", nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/m/"+slug+"/", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/internal/mirrors/"+slug+"/enable", nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/internal/mirrors/ghost/disable", nil, authed())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInternal_TestResolve(t *testing.T) {
	env := newAPIEnv(t, nil)
	_, err := env.allow.Upsert(allowlist.Entry{Host: "example.com", Enabled: true})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/internal/test-resolve",
		map[string]string{"url": "https://example.com/"}, authed())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["allowed"])

	rec = env.do(t, http.MethodPost, "/internal/test-resolve",
		map[string]string{"url": "https://nope.test/"}, authed())
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["allowed"])
	assert.Equal(t, "domain_not_allowed", body["reason"])

	// No mirror was created by probing.
	rec = env.do(t, http.MethodGet, "/internal/summary", nil, authed())
	assert.Equal(t, float64(0), decode(t, rec)["mirrors"])
}
