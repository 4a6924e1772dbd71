package logutil

import "testing"

func TestSanitizeForLogStripsControlChars(t *testing.T) {
	in := "evil\nFAKE LOG LINE\tinjected\r\x01done"
	out := SanitizeForLog(in)
	if out != "evil FAKE LOG LINE injected done" {
		t.Fatalf("unexpected sanitized output: %q", out)
	}
}

func TestSanitizeForLogPassesPlainStrings(t *testing.T) {
	in := "tunnel-abc123"
	if SanitizeForLog(in) != in {
		t.Fatalf("expected no change to plain string, got %q", SanitizeForLog(in))
	}
}
