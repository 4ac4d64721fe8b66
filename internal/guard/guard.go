// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package guard decides whether an outbound URL is safe to fetch. It blocks
// requests that would pivot into private, loopback, link-local or cloud
// metadata address space, validating literal IPs directly and every DNS
// answer for named hosts.
package guard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

var (
	// ErrInvalidScheme indicates a scheme outside {https, http} or http while disallowed.
	ErrInvalidScheme = errors.New("invalid_scheme")
	// ErrCredentialsNotAllowed indicates the URL carries userinfo.
	ErrCredentialsNotAllowed = errors.New("credentials_not_allowed")
	// ErrEmptyHostname indicates the URL has no host component.
	ErrEmptyHostname = errors.New("empty_hostname")
	// ErrSSRFBlocked indicates the host resolves into blocked address space.
	ErrSSRFBlocked = errors.New("ssrf_blocked")
	// ErrDNSResolutionFailed indicates the hostname could not be resolved.
	ErrDNSResolutionFailed = errors.New("dns_resolution_failed")
	// ErrInvalidIP indicates a literal IP host that could not be parsed.
	ErrInvalidIP = errors.New("invalid_ip")
)

// blockedHostnames are rejected before any resolution happens.
var blockedHostnames = map[string]struct{}{
	"localhost":                {},
	"metadata.google.internal": {},
	"169.254.169.254":          {},
}

func mustPrefix(s string) netip.Prefix {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		panic(fmt.Sprintf("guard: bad prefix %q: %v", s, err))
	}
	return p
}

// blockedV4 enumerates the non-public IPv4 ranges. 224.0.0.0/3 covers
// multicast and everything above it.
var blockedV4 = []netip.Prefix{
	mustPrefix("0.0.0.0/8"),
	mustPrefix("10.0.0.0/8"),
	mustPrefix("100.64.0.0/10"),
	mustPrefix("127.0.0.0/8"),
	mustPrefix("169.254.0.0/16"),
	mustPrefix("172.16.0.0/12"),
	mustPrefix("192.0.0.0/24"),
	mustPrefix("192.0.2.0/24"),
	mustPrefix("192.168.0.0/16"),
	mustPrefix("198.18.0.0/15"),
	mustPrefix("198.51.100.0/24"),
	mustPrefix("203.0.113.0/24"),
	mustPrefix("224.0.0.0/3"),
}

var blockedV6 = []netip.Prefix{
	mustPrefix("::1/128"),
	mustPrefix("::/128"),
	mustPrefix("fc00::/7"),
	mustPrefix("fe80::/10"),
}

// Resolver abstracts DNS lookup so tests can inject answers.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// DefaultResolver is used by AssertSafeURL; tests may swap it out via AssertSafeURLWith.
var DefaultResolver Resolver = net.DefaultResolver

// AssertSafeURL validates rawURL against the outbound policy. It returns nil
// when the URL may be fetched, or one of the package sentinel errors.
func AssertSafeURL(ctx context.Context, rawURL string, allowHTTP bool) error {
	return AssertSafeURLWith(ctx, DefaultResolver, rawURL, allowHTTP)
}

// AssertSafeURLWith is AssertSafeURL with an explicit resolver.
func AssertSafeURLWith(ctx context.Context, resolver Resolver, rawURL string, allowHTTP bool) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ErrInvalidScheme
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "https":
	case "http":
		if !allowHTTP {
			return ErrInvalidScheme
		}
	default:
		return ErrInvalidScheme
	}

	if u.User != nil {
		return ErrCredentialsNotAllowed
	}

	host, err := NormalizeHost(u.Hostname())
	if err != nil {
		return err
	}

	if _, blocked := blockedHostnames[host]; blocked {
		return ErrSSRFBlocked
	}
	if strings.HasSuffix(host, ".localhost") {
		return ErrSSRFBlocked
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return validateAddr(addr)
	}

	addrs, err := resolver.LookupNetIP(ctx, "ip", host)
	if err != nil || len(addrs) == 0 {
		return fmt.Errorf("%w: %s", ErrDNSResolutionFailed, host)
	}
	for _, addr := range addrs {
		if err := validateAddr(addr); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeHost lowercases a hostname and applies IDNA mapping. Literal IPs
// are returned in canonical form.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSuffix(strings.TrimSpace(raw), ".")
	if host == "" {
		return "", ErrEmptyHostname
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.String(), nil
	}
	if strings.ContainsAny(host, ":%") {
		return "", ErrInvalidIP
	}
	ascii, err := idna.Lookup.ToASCII(strings.ToLower(host))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrEmptyHostname, raw)
	}
	return strings.ToLower(ascii), nil
}

func validateAddr(addr netip.Addr) error {
	if !addr.IsValid() {
		return ErrInvalidIP
	}
	// IPv4-mapped IPv6 addresses are judged by their embedded IPv4 range.
	addr = addr.Unmap()

	if addr.Is4() {
		for _, p := range blockedV4 {
			if p.Contains(addr) {
				return ErrSSRFBlocked
			}
		}
		return nil
	}
	for _, p := range blockedV6 {
		if p.Contains(addr) {
			return ErrSSRFBlocked
		}
	}
	return nil
}
