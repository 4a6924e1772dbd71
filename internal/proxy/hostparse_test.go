package proxy

import "testing"

func TestExtractHostFindsCaseInsensitiveHeader(t *testing.T) {
	req := "GET / HTTP/1.1\r\nhost: Tunnel-ABC123.localhost:8080\r\nAccept: */*\r\n\r\n"
	host, err := extractHost([]byte(req))
	if err != nil {
		t.Fatalf("extractHost: %v", err)
	}
	if host != "Tunnel-ABC123.localhost:8080" {
		t.Fatalf("unexpected host: %q", host)
	}
}

func TestExtractHostMissingReturnsError(t *testing.T) {
	req := "GET / HTTP/1.1\r\nAccept: */*\r\n\r\n"
	if _, err := extractHost([]byte(req)); err == nil {
		t.Fatal("expected error for request without Host header")
	}
}

func TestExtractHostIgnoresIncompleteTrailingLine(t *testing.T) {
	req := "GET / HTTP/1.1\r\nHost: tunnel-ab"
	if _, err := extractHost([]byte(req)); err == nil {
		t.Fatal("expected error for an incomplete, not-yet-terminated Host line")
	}
}

func TestSubdomainFromHostStripsPortAndLowercases(t *testing.T) {
	sub, err := subdomainFromHost("Tunnel-ABC123.localhost:8080")
	if err != nil {
		t.Fatalf("subdomainFromHost: %v", err)
	}
	if sub != "tunnel-abc123" {
		t.Fatalf("unexpected subdomain: %q", sub)
	}
}

func TestSubdomainFromHostRejectsSingleLabel(t *testing.T) {
	if _, err := subdomainFromHost("localhost:8080"); err == nil {
		t.Fatal("expected error for a single-label host")
	}
}

func TestSubdomainFromHostRejectsBracketedIPv6(t *testing.T) {
	if _, err := subdomainFromHost("[::1]:8080"); err == nil {
		t.Fatal("expected error for a bracketed IPv6 literal host")
	}
}

func TestSubdomainFromHostRejectsOverlong(t *testing.T) {
	long := make([]byte, peekLimit+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := subdomainFromHost(string(long)); err == nil {
		t.Fatal("expected error for an overlong host value")
	}
}
