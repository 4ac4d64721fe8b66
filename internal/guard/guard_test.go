// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package guard

import (
	"context"
	"errors"
	"net/netip"
	"testing"
)

type fakeResolver struct {
	answers map[string][]netip.Addr
}

func (f *fakeResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	addrs, ok := f.answers[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return addrs, nil
}

func addrs(ss ...string) []netip.Addr {
	out := make([]netip.Addr, 0, len(ss))
	for _, s := range ss {
		out = append(out, netip.MustParseAddr(s))
	}
	return out
}

func TestAssertSafeURL_Schemes(t *testing.T) {
	r := &fakeResolver{answers: map[string][]netip.Addr{
		"example.com": addrs("93.184.216.34"),
	}}

	tests := []struct {
		name      string
		url       string
		allowHTTP bool
		want      error
	}{
		{"https allowed", "https://example.com/", false, nil},
		{"http blocked by default", "http://example.com/", false, ErrInvalidScheme},
		{"http allowed when enabled", "http://example.com/", true, nil},
		{"ftp rejected", "ftp://example.com/", true, ErrInvalidScheme},
		{"file rejected", "file:///etc/passwd", true, ErrInvalidScheme},
		{"userinfo rejected", "https://user:pw@example.com/", false, ErrCredentialsNotAllowed},
		{"empty host", "https:///path", false, ErrEmptyHostname},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AssertSafeURLWith(context.Background(), r, tt.url, tt.allowHTTP)
			if !errors.Is(err, tt.want) {
				t.Fatalf("AssertSafeURL(%q) = %v, want %v", tt.url, err, tt.want)
			}
		})
	}
}

func TestAssertSafeURL_BlockedHosts(t *testing.T) {
	r := &fakeResolver{answers: map[string][]netip.Addr{}}

	for _, u := range []string{
		"https://localhost/",
		"https://foo.localhost/",
		"https://metadata.google.internal/computeMetadata/v1/",
		"https://169.254.169.254/latest/meta-data/",
	} {
		if err := AssertSafeURLWith(context.Background(), r, u, false); !errors.Is(err, ErrSSRFBlocked) {
			t.Errorf("AssertSafeURL(%q) = %v, want ErrSSRFBlocked", u, err)
		}
	}
}

func TestAssertSafeURL_LiteralIPs(t *testing.T) {
	blocked := []string{
		"https://127.0.0.1/",
		"https://127.255.255.254/",
		"https://10.1.2.3/",
		"https://100.64.0.1/",
		"https://169.254.1.1/",
		"https://172.16.0.1/",
		"https://172.31.255.255/",
		"https://192.0.0.1/",
		"https://192.0.2.1/",
		"https://192.168.1.1/",
		"https://198.18.0.1/",
		"https://198.51.100.7/",
		"https://203.0.113.9/",
		"https://224.0.0.1/",
		"https://255.255.255.255/",
		"https://0.0.0.0/",
		"https://[::1]/",
		"https://[::]/",
		"https://[fc00::1]/",
		"https://[fd12::1]/",
		"https://[fe80::1]/",
		"https://[::ffff:10.0.0.1]/",
		"https://[::ffff:127.0.0.1]/",
	}
	for _, u := range blocked {
		if err := AssertSafeURL(context.Background(), u, false); !errors.Is(err, ErrSSRFBlocked) {
			t.Errorf("AssertSafeURL(%q) = %v, want ErrSSRFBlocked", u, err)
		}
	}

	allowed := []string{
		"https://93.184.216.34/",
		"https://8.8.8.8/",
		"https://[2606:2800:220:1:248:1893:25c8:1946]/",
	}
	for _, u := range allowed {
		if err := AssertSafeURL(context.Background(), u, false); err != nil {
			t.Errorf("AssertSafeURL(%q) = %v, want nil", u, err)
		}
	}
}

func TestAssertSafeURL_DNS(t *testing.T) {
	r := &fakeResolver{answers: map[string][]netip.Addr{
		"public.test":  addrs("93.184.216.34"),
		"rebind.test":  addrs("93.184.216.34", "10.0.0.5"),
		"private.test": addrs("192.168.0.10"),
		"v6only.test":  addrs("fd00::5"),
	}}
	ctx := context.Background()

	if err := AssertSafeURLWith(ctx, r, "https://public.test/", false); err != nil {
		t.Fatalf("public host rejected: %v", err)
	}
	// Every DNS answer must be public; a single private record taints the host.
	if err := AssertSafeURLWith(ctx, r, "https://rebind.test/", false); !errors.Is(err, ErrSSRFBlocked) {
		t.Fatalf("rebind host = %v, want ErrSSRFBlocked", err)
	}
	if err := AssertSafeURLWith(ctx, r, "https://private.test/", false); !errors.Is(err, ErrSSRFBlocked) {
		t.Fatalf("private host = %v, want ErrSSRFBlocked", err)
	}
	if err := AssertSafeURLWith(ctx, r, "https://v6only.test/", false); !errors.Is(err, ErrSSRFBlocked) {
		t.Fatalf("ula host = %v, want ErrSSRFBlocked", err)
	}
	if err := AssertSafeURLWith(ctx, r, "https://unresolvable.test/", false); !errors.Is(err, ErrDNSResolutionFailed) {
		t.Fatalf("unresolvable host = %v, want ErrDNSResolutionFailed", err)
	}
}

func TestNormalizeHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Example.COM", "example.com"},
		{"example.com.", "example.com"},
		{" example.com ", "example.com"},
		{"192.168.0.1", "192.168.0.1"},
		{"[::1]", "::1"},
	}
	for _, tt := range tests {
		got, err := NormalizeHost(tt.in)
		if err != nil {
			t.Errorf("NormalizeHost(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeHost(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := NormalizeHost(""); !errors.Is(err, ErrEmptyHostname) {
		t.Errorf("NormalizeHost(\"\") = %v, want ErrEmptyHostname", err)
	}
}
