// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

const maxResolveBodyBytes = 4096
const maxResolveURLLen = 2000

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"serviceDisabled": s.svc.Disabled(),
		"uptimeSec":       int64(time.Since(s.startTime).Seconds()),
	})
}

type resolveRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxResolveBodyBytes))
	if err != nil {
		writeErrorID(w, "invalid_body")
		return
	}
	var req resolveRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeErrorID(w, "invalid_body")
		return
	}
	if req.URL == "" {
		writeErrorID(w, "missing_url")
		return
	}
	if len(req.URL) > maxResolveURLLen {
		writeErrorID(w, "invalid_url")
		return
	}

	res, err := s.svc.Resolve(r.Context(), req.URL)
	if err != nil {
		writeError(w, err)
		return
	}
	out := map[string]any{
		"ok":           true,
		"slug":         res.Slug,
		"targetOrigin": res.TargetOrigin,
		"launchUrl":    res.LaunchURL,
		"created":      res.Created,
	}
	if base := strings.TrimRight(s.cfg.PublicBaseURL, "/"); base != "" {
		out["publicUrl"] = base + res.LaunchURL
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMirror(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	tail := chi.URLParam(r, "*")

	resp, err := s.svc.HandleMirror(r.Context(), slug, tail, r.URL.RawQuery, r.Method, r.Header)
	if err != nil {
		writeError(w, err)
		return
	}

	h := w.Header()
	for k, vs := range resp.Headers {
		h[k] = vs
	}
	h.Set("X-Cache", resp.CacheStatus)
	h.Set("X-Robots-Tag", "noindex, nofollow")
	w.WriteHeader(resp.Status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(resp.Body)
	}
}

const launcherPage = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="robots" content="noindex,nofollow">
<title>mirrord</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 40rem; margin: 4rem auto; padding: 0 1rem; }
input[type=url] { width: 100%; padding: .5rem; font-size: 1rem; }
button { margin-top: .75rem; padding: .5rem 1.25rem; font-size: 1rem; }
p.err { color: #b00020; }
</style>
</head>
<body>
<h1>mirrord</h1>
<p>Enter an allowlisted URL to open its mirror.</p>
<form id="f">
<input type="url" id="url" placeholder="https://example.com/" required maxlength="2000">
<button type="submit">Mirror</button>
</form>
<p class="err" id="err" hidden></p>
<script>
document.getElementById('f').addEventListener('submit', async function (ev) {
  ev.preventDefault();
  var err = document.getElementById('err');
  err.hidden = true;
  try {
    var res = await fetch('/api/resolve', {
      method: 'POST',
      headers: {'Content-Type': 'application/json'},
      body: JSON.stringify({url: document.getElementById('url').value})
    });
    var data = await res.json();
    if (!data.ok) { throw new Error(data.error); }
    window.location.href = data.launchUrl;
  } catch (e) {
    err.textContent = 'resolve failed: ' + e.message;
    err.hidden = false;
  }
});
</script>
</body>
</html>
`

func (s *Server) handleLauncher(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, launcherPage)
}
