// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ManuGH/mirrord/internal/allowlist"
	"github.com/ManuGH/mirrord/internal/mirrorsvc"
	"github.com/ManuGH/mirrord/internal/registry"
	"github.com/go-chi/chi/v5"
)

func (s *Server) recordAdminAction(r *http.Request, message string, meta map[string]any) {
	s.registry.RecordEvent(r.Context(), registry.LevelInfo, registry.KindAdminAction, "", message, meta)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	mirrors, events, err := s.registry.Counts(r.Context())
	if err != nil {
		writeErrorID(w, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"mirrors":         mirrors,
		"events":          events,
		"allowlist":       len(s.allow.List()),
		"cache":           s.cache.Stats(),
		"serviceDisabled": s.svc.Disabled(),
	})
}

func (s *Server) handleMirrors(w http.ResponseWriter, r *http.Request) {
	mirrors, err := s.registry.List(r.Context())
	if err != nil {
		writeErrorID(w, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "mirrors": mirrors})
}

func (s *Server) handleMirrorDisable(disabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "slug")
		if err := s.registry.SetDisabled(r.Context(), slug, disabled); err != nil {
			if errors.Is(err, registry.ErrMirrorNotFound) {
				writeErrorID(w, "mirror_not_found")
				return
			}
			writeErrorID(w, "internal_error")
			return
		}
		s.recordAdminAction(r, "mirror toggled", map[string]any{"slug": slug, "disabled": disabled})
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "slug": slug, "disabled": disabled})
	}
}

func (s *Server) handleAllowlistList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entries": s.allow.List()})
}

func (s *Server) handleAllowlistUpsert(w http.ResponseWriter, r *http.Request) {
	var entry allowlist.Entry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeErrorID(w, "invalid_body")
		return
	}
	saved, err := s.allow.Upsert(entry)
	if err != nil {
		writeErrorID(w, "invalid_body")
		return
	}
	s.recordAdminAction(r, "allowlist upsert", map[string]any{"id": saved.ID, "host": saved.Host})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entry": saved})
}

func (s *Server) handleAllowlistPatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch allowlist.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeErrorID(w, "invalid_body")
		return
	}
	entry, err := s.allow.PatchByID(id, patch)
	if err != nil {
		if errors.Is(err, allowlist.ErrNotFound) {
			writeErrorID(w, "not_found")
			return
		}
		writeErrorID(w, "invalid_body")
		return
	}
	s.recordAdminAction(r, "allowlist patch", map[string]any{"id": id})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entry": entry})
}

func (s *Server) handleAllowlistRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.allow.Remove(id); err != nil {
		if errors.Is(err, allowlist.ErrNotFound) {
			writeErrorID(w, "not_found")
			return
		}
		writeErrorID(w, "internal_error")
		return
	}
	s.recordAdminAction(r, "allowlist remove", map[string]any{"id": id})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAllowlistReload(w http.ResponseWriter, r *http.Request) {
	if err := s.allow.Reload(); err != nil {
		writeErrorID(w, "internal_error")
		return
	}
	s.recordAdminAction(r, "allowlist reload", nil)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entries": len(s.allow.List())})
}

func (s *Server) handleCachePurgeAll(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.PurgeAll(); err != nil {
		writeErrorID(w, "internal_error")
		return
	}
	s.registry.RecordEvent(r.Context(), registry.LevelInfo, registry.KindCachePurge, "", "cache purged", nil)
	s.recordAdminAction(r, "cache purge", nil)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleCachePurgeSlug(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if err := s.cache.PurgeBySlug(slug); err != nil {
		writeErrorID(w, "internal_error")
		return
	}
	s.registry.RecordEvent(r.Context(), registry.LevelInfo, registry.KindCachePurge, slug, "cache purged for slug", nil)
	s.recordAdminAction(r, "cache purge slug", map[string]any{"slug": slug})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "slug": slug})
}

func (s *Server) handleServiceToggle(disabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.svc.SetDisabled(disabled)
		s.recordAdminAction(r, "service toggled", map[string]any{"disabled": disabled})
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "serviceDisabled": disabled})
	}
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	kind := r.URL.Query().Get("kind")
	events, err := s.registry.Events(r.Context(), limit, kind)
	if err != nil {
		writeErrorID(w, "internal_error")
		return
	}
	if events == nil {
		events = []registry.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "events": events})
}

// handleTestResolve runs the guard and allowlist checks for a URL without
// touching the registry, so operators can probe policy before resolving.
func (s *Server) handleTestResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorID(w, "invalid_body")
		return
	}
	if req.URL == "" {
		writeErrorID(w, "missing_url")
		return
	}
	if err := s.svc.CheckTarget(r.Context(), req.URL); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"allowed": false,
			"reason":  mirrorsvc.ErrorIdentifier(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "allowed": true})
}
