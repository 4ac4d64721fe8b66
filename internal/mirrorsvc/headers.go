// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mirrorsvc

import "net/http"

// hopByHopHeaders are connection-scoped per HTTP/1.1 and never forwarded.
var hopByHopHeaders = []string{
	"Connection",
	"Transfer-Encoding",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Upgrade",
}

// alwaysDroppedHeaders are stripped from every proxied response: an upstream
// CSP would break rewritten in-origin links, and cookies are not forwarded.
var alwaysDroppedHeaders = []string{
	"Content-Security-Policy",
	"Set-Cookie",
}

// droppedWhenRewritten no longer describe the body once it has been rewritten.
var droppedWhenRewritten = []string{
	"Content-Length",
	"Content-Encoding",
	"Etag",
}

// forwardedRequestHeaders are the only inbound headers passed upstream.
var forwardedRequestHeaders = []string{
	"User-Agent",
	"Accept",
	"Accept-Language",
}

// syntheticHeaders are added by the serving path and must never be cached.
var syntheticHeaders = []string{
	"X-Cache",
	"X-Robots-Tag",
}

// filterResponseHeaders copies h minus hop-by-hop and always-dropped headers,
// minus the body-describing set when the body was rewritten.
func filterResponseHeaders(h http.Header, rewritten bool) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		out[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	for _, k := range hopByHopHeaders {
		out.Del(k)
	}
	for _, k := range alwaysDroppedHeaders {
		out.Del(k)
	}
	if rewritten {
		for _, k := range droppedWhenRewritten {
			out.Del(k)
		}
	}
	return out
}

// buildUpstreamHeaders assembles the outbound request headers from the
// forwardable subset of the inbound ones, forcing cache revalidation.
func buildUpstreamHeaders(inbound http.Header) http.Header {
	out := make(http.Header, len(forwardedRequestHeaders)+2)
	for _, k := range forwardedRequestHeaders {
		if v := inbound.Get(k); v != "" {
			out.Set(k, v)
		}
	}
	out.Set("Cache-Control", "no-cache")
	out.Set("Pragma", "no-cache")
	return out
}

// cacheableHeaderSnapshot flattens headers to single string values for the
// cache metadata file, excluding synthetic serving headers.
func cacheableHeaderSnapshot(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	for _, k := range syntheticHeaders {
		delete(out, http.CanonicalHeaderKey(k))
	}
	return out
}
