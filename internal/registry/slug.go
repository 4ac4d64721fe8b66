// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package registry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

const (
	maxBaseSlugLen     = 48
	maxNumericSuffixes = 999
)

var nonSlugRuns = regexp.MustCompile(`[^a-z0-9]+`)

// BaseSlug derives the slug stem from a hostname: lowercased, runs of
// non-alphanumerics folded to '-', surrounding dashes stripped, truncated to
// 48 chars, defaulting to "site".
func BaseSlug(host string) string {
	s := nonSlugRuns.ReplaceAllString(strings.ToLower(host), "-")
	s = strings.Trim(s, "-")
	if len(s) > maxBaseSlugLen {
		s = strings.Trim(s[:maxBaseSlugLen], "-")
	}
	if s == "" {
		return "site"
	}
	return s
}

// slugCandidates yields the allocation order: the base, numeric suffixes -2
// through -999, then one random hex suffix as the final fallback.
func slugCandidates(host string) []string {
	base := BaseSlug(host)
	out := make([]string, 0, maxNumericSuffixes+1)
	out = append(out, base)
	for i := 2; i <= maxNumericSuffixes; i++ {
		out = append(out, fmt.Sprintf("%s-%d", base, i))
	}
	buf := make([]byte, 3)
	_, _ = rand.Read(buf)
	out = append(out, base+"-"+hex.EncodeToString(buf))
	return out
}
