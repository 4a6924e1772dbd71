package sshserver

import (
	"golang.org/x/crypto/ssh"

	"github.com/tunnelgate/tunnelgate/internal/registry"
)

// extUserID and extAuthMethod key the Extensions map ssh.Permissions carries
// from the auth callback through to the session handler, since the
// golang.org/x/crypto/ssh server loop gives no other path for that data.
const (
	extUserID     = "user_id"
	extAuthMethod = "auth_method"
	extFP         = "fingerprint"
)

// buildServerConfig constructs the ssh.ServerConfig used to accept
// connections. Both password and public-key auth are accepted at the SSH
// layer itself — that check is permissive and only exists to let a
// handshake complete; the actual authorization decision is made afterward by
// the device flow. A public key that matches a cached verified key lets its
// session skip the device flow entirely.
func buildServerConfig(hostKey ssh.Signer, reg *registry.Registry) *ssh.ServerConfig {
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			return &ssh.Permissions{Extensions: map[string]string{extAuthMethod: "password"}}, nil
		},
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			fp := ssh.FingerprintSHA256(key)
			if vk, ok := reg.LookupVerifiedKey(fp); ok {
				return &ssh.Permissions{Extensions: map[string]string{
					extAuthMethod: "public-key-verified",
					extUserID:     vk.UserID,
					extFP:         fp,
				}}, nil
			}
			return &ssh.Permissions{Extensions: map[string]string{
				extAuthMethod: "public-key",
				extFP:         fp,
			}}, nil
		},
	}
	cfg.AddHostKey(hostKey)
	return cfg
}
