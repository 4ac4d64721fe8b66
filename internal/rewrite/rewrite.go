// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package rewrite transforms HTML and CSS payloads so that every in-origin
// reference points back under the mirror path /m/<slug>/..., while references
// to other origins are left verbatim.
package rewrite

import (
	"net/url"
	"strings"
)

// Target describes the rewriting context: the final upstream URL the document
// was fetched from, the mirror's registered origin, and the mirror slug.
type Target struct {
	BaseURL      *url.URL
	TargetOrigin *url.URL
	Slug         string
}

// MirrorPathPrefix returns "/m/<url-encoded-slug>".
func (t Target) MirrorPathPrefix() string {
	return "/m/" + url.PathEscape(t.Slug)
}

var skipPrefixes = []string{"#", "data:", "mailto:", "tel:", "javascript:"}

// rewriteRef maps one raw reference to its mirror path. The second return is
// false when the value must be left untouched: empty values, fragments,
// non-http pseudo schemes, unparseable URLs, out-of-origin URLs, and values
// that already point under the mirror path.
func (t Target) rewriteRef(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	lower := strings.ToLower(trimmed)
	for _, p := range skipPrefixes {
		if strings.HasPrefix(lower, p) {
			return "", false
		}
	}

	prefix := t.MirrorPathPrefix()
	if rest, ok := strings.CutPrefix(trimmed, prefix); ok {
		if rest == "" || rest[0] == '/' || rest[0] == '?' || rest[0] == '#' {
			return "", false
		}
	}

	resolved, err := t.BaseURL.Parse(trimmed)
	if err != nil {
		return "", false
	}
	if !strings.EqualFold(resolved.Scheme, t.TargetOrigin.Scheme) ||
		!strings.EqualFold(resolved.Host, t.TargetOrigin.Host) {
		return "", false
	}

	var b strings.Builder
	b.WriteString(prefix)
	if resolved.Path != "" && resolved.Path != "/" {
		b.WriteString(resolved.EscapedPath())
	}
	if resolved.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(resolved.RawQuery)
	}
	if resolved.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(resolved.EscapedFragment())
	}
	return b.String(), true
}

// rewriteSrcset rewrites every URL of a srcset value, preserving descriptors.
// Candidates are separated by commas that sit outside parentheses.
func (t Target) rewriteSrcset(value string) (string, bool) {
	var segments []string
	depth := 0
	start := 0
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				segments = append(segments, value[start:i])
				start = i + 1
			}
		}
	}
	segments = append(segments, value[start:])

	changed := false
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		urlPart := seg
		descriptor := ""
		if idx := strings.IndexAny(seg, " \t\n"); idx >= 0 {
			urlPart = seg[:idx]
			descriptor = strings.TrimSpace(seg[idx:])
		}
		if rewritten, ok := t.rewriteRef(urlPart); ok {
			urlPart = rewritten
			changed = true
		}
		if descriptor != "" {
			out = append(out, urlPart+" "+descriptor)
		} else {
			out = append(out, urlPart)
		}
	}
	if !changed {
		return "", false
	}
	return strings.Join(out, ", "), true
}
