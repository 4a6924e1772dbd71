package config

import "testing"

func TestValidateRequiresSecretOutsideDevMode(t *testing.T) {
	s := &Settings{SSHPort: 2222, HTTPPort: 8080, MgmtPort: 9090}
	if err := validate(s); err == nil {
		t.Fatal("expected error when INTERNAL_API_SECRET is empty outside dev mode")
	}

	s.DevMode = true
	if err := validate(s); err != nil {
		t.Fatalf("dev mode should not require a secret: %v", err)
	}

	s.DevMode = false
	s.InternalAPISecret = "shh"
	if err := validate(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRequiresPositivePorts(t *testing.T) {
	s := &Settings{SSHPort: 0, HTTPPort: 8080, MgmtPort: 9090, DevMode: true}
	if err := validate(s); err == nil {
		t.Fatal("expected error for zero SSH port")
	}
}
