package registry

import (
	"strings"
	"testing"
)

func TestGenerateSubdomainShape(t *testing.T) {
	for i := 0; i < 100; i++ {
		s, err := generateSubdomain()
		if err != nil {
			t.Fatalf("generateSubdomain: %v", err)
		}
		if !strings.HasPrefix(s, "tunnel-") {
			t.Fatalf("expected tunnel- prefix, got %s", s)
		}
		suffix := strings.TrimPrefix(s, "tunnel-")
		if len(suffix) != 6 {
			t.Fatalf("expected 6 character suffix, got %q", suffix)
		}
		for _, r := range suffix {
			if !strings.ContainsRune(subdomainAlphabet, r) {
				t.Fatalf("unexpected character %q in subdomain %s", r, s)
			}
		}
	}
}
