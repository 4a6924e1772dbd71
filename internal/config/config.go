// Package config loads process-wide settings from the environment.
package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"

	"github.com/tunnelgate/tunnelgate/internal/tunnelerr"
)

// Settings holds every environment-configurable knob for the data plane.
type Settings struct {
	SSHPort  int `envconfig:"SSH_PORT" default:"2222"`
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`
	MgmtPort int `envconfig:"MGMT_PORT" default:"9090"`

	APIBaseURL        string `envconfig:"API_BASE_URL" default:"http://localhost:3000"`
	InternalAPISecret string `envconfig:"INTERNAL_API_SECRET" default:""`

	// TunnelURL is the domain used when presenting tunnel URLs to the user.
	TunnelURL string `envconfig:"TUNNEL_URL" default:"localhost"`

	// DataDir holds the persisted SSH host key.
	DataDir string `envconfig:"DATA_DIR" default:"/app/data"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// DevMode relaxes the production requirement that the host key be
	// persisted and that INTERNAL_API_SECRET be set. Never set in production.
	DevMode bool `envconfig:"DEV_MODE" default:"false"`
}

var Cfg Settings

// Load populates Cfg from the environment (prefix TUNNELGATE_) and validates
// the production invariants below. A fatal configuration problem exits the
// process with a non-zero status, since nothing downstream can recover from
// missing required configuration.
func Load() {
	if err := envconfig.Process("TUNNELGATE", &Cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := validate(&Cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
}

func validate(s *Settings) error {
	if !s.DevMode && s.InternalAPISecret == "" {
		return tunnelerr.New(tunnelerr.ConfigError, "INTERNAL_API_SECRET is required outside dev mode")
	}
	if s.SSHPort <= 0 || s.HTTPPort <= 0 || s.MgmtPort <= 0 {
		return tunnelerr.New(tunnelerr.ConfigError, "SSH_PORT, HTTP_PORT, and MGMT_PORT must be positive")
	}
	return nil
}
