// Package hostkey loads and persists the SSH server's Ed25519 host key.
//
// The only state this process persists to disk is the host private key,
// serialized in standard OpenSSH private-key format. At process start the
// key is loaded from DataDir if present; otherwise one is generated and
// atomically written so a second process start (or a crash mid-write) never
// observes a half-written key file.
package hostkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"

	"github.com/tunnelgate/tunnelgate/internal/tunnelerr"
)

const keyFileName = "ssh_host_ed25519_key"

// Load returns the persisted host key signer from dir, generating and saving
// a new Ed25519 key pair if none exists yet. devMode permits running with an
// ephemeral, non-persisted key when dir is empty; this is refused outside of
// development since a host key that changes on every restart breaks client
// trust-on-first-use.
func Load(dir string, devMode bool) (ssh.Signer, error) {
	if dir == "" {
		if !devMode {
			return nil, tunnelerr.New(tunnelerr.ConfigError, "host key directory is required outside dev mode")
		}
		signer, _, err := generate()
		return signer, err
	}

	path := filepath.Join(dir, keyFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		signer, perr := ssh.ParsePrivateKey(data)
		if perr != nil {
			return nil, tunnelerr.Wrap(tunnelerr.IoError, perr, "parse host key at %s", path)
		}
		return signer, nil
	}
	if !os.IsNotExist(err) {
		return nil, tunnelerr.Wrap(tunnelerr.IoError, err, "read host key at %s", path)
	}

	signer, pemBytes, err := generate()
	if err != nil {
		return nil, err
	}
	if err := save(dir, path, pemBytes); err != nil {
		return nil, err
	}
	return signer, nil
}

// generate creates a fresh Ed25519 key pair and returns a signer alongside
// its OpenSSH PEM serialization.
func generate() (ssh.Signer, []byte, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, tunnelerr.Wrap(tunnelerr.IoError, err, "generate ed25519 host key")
	}

	block, err := ssh.MarshalPrivateKey(priv, "tunnelgate host key")
	if err != nil {
		return nil, nil, tunnelerr.Wrap(tunnelerr.IoError, err, "marshal host key to openssh format")
	}

	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, nil, tunnelerr.Wrap(tunnelerr.IoError, err, "build signer from generated key")
	}

	return signer, pem.EncodeToMemory(block), nil
}

// save writes the PEM-encoded host key atomically: write to a temp file in
// the same directory, then rename over the destination. A reader never
// observes a half-written key file.
func save(dir, path string, pemBytes []byte) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return tunnelerr.Wrap(tunnelerr.IoError, err, "create host key directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".ssh_host_key_*.tmp")
	if err != nil {
		return tunnelerr.Wrap(tunnelerr.IoError, err, "create temp host key file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(pemBytes); err != nil {
		tmp.Close()
		return tunnelerr.Wrap(tunnelerr.IoError, err, "write temp host key file")
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return tunnelerr.Wrap(tunnelerr.IoError, err, "chmod temp host key file")
	}
	if err := tmp.Close(); err != nil {
		return tunnelerr.Wrap(tunnelerr.IoError, err, "close temp host key file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return tunnelerr.Wrap(tunnelerr.IoError, err, "rename temp host key file to %s", path)
	}
	return nil
}

// Fingerprint returns the SHA256 fingerprint of a signer's public key, in
// the standard "SHA256:..." format used throughout the rest of the package
// (e.g. for Verified Key lookups in the registry).
func Fingerprint(signer ssh.Signer) string {
	return ssh.FingerprintSHA256(signer.PublicKey())
}
