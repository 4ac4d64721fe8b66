// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api provides the HTTP surface of mirrord: the public mirror and
// resolve endpoints plus the token-protected internal admin routes.
package api

import (
	"net/http"
	"time"

	"github.com/ManuGH/mirrord/internal/allowlist"
	"github.com/ManuGH/mirrord/internal/cache"
	"github.com/ManuGH/mirrord/internal/config"
	"github.com/ManuGH/mirrord/internal/log"
	"github.com/ManuGH/mirrord/internal/mirrorsvc"
	"github.com/ManuGH/mirrord/internal/registry"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server bundles the pipeline with its collaborators for HTTP serving.
type Server struct {
	cfg       *config.Config
	svc       *mirrorsvc.Service
	registry  *registry.Store
	allow     *allowlist.Store
	cache     *cache.Store
	logger    zerolog.Logger
	startTime time.Time
}

// New constructs the server.
func New(cfg *config.Config, svc *mirrorsvc.Service, reg *registry.Store, allow *allowlist.Store, store *cache.Store) *Server {
	return &Server{
		cfg:       cfg,
		svc:       svc,
		registry:  reg,
		allow:     allow,
		cache:     store,
		logger:    log.WithComponent("api"),
		startTime: time.Now(),
	}
}

// Routes wires the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(log.Middleware())
	r.Use(robotsTag)

	// Public surface (Basic Auth is enforced by the front proxy).
	r.Get("/", s.handleLauncher)
	r.Get("/health", s.handleHealth)
	r.With(resolveRateLimiter()).Post("/api/resolve", s.handleResolve)

	r.Get("/m/{slug}", s.handleMirror)
	r.Head("/m/{slug}", s.handleMirror)
	r.Get("/m/{slug}/*", s.handleMirror)
	r.Head("/m/{slug}/*", s.handleMirror)

	// Internal admin surface.
	r.Route("/internal", func(r chi.Router) {
		r.Use(internalAuth(s.cfg.InternalToken))

		r.Get("/summary", s.handleSummary)
		r.Get("/mirrors", s.handleMirrors)
		r.Post("/mirrors/{slug}/disable", s.handleMirrorDisable(true))
		r.Post("/mirrors/{slug}/enable", s.handleMirrorDisable(false))

		r.Get("/allowlist", s.handleAllowlistList)
		r.Post("/allowlist", s.handleAllowlistUpsert)
		r.Patch("/allowlist/{id}", s.handleAllowlistPatch)
		r.Delete("/allowlist/{id}", s.handleAllowlistRemove)
		r.Post("/allowlist/reload", s.handleAllowlistReload)

		r.Post("/cache/purge", s.handleCachePurgeAll)
		r.Post("/cache/purge/{slug}", s.handleCachePurgeSlug)

		r.Post("/service/disable", s.handleServiceToggle(true))
		r.Post("/service/enable", s.handleServiceToggle(false))

		r.Get("/logs", s.handleLogs)
		r.Post("/test-resolve", s.handleTestResolve)

		r.Handle("/metrics", promhttp.Handler())
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorID(w, "not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorID(w, "method_not_allowed")
	})

	return r
}
