package registry

import (
	"crypto/rand"
	"fmt"
)

// subdomainAlphabet is the lowercase-alphanumeric set minted subdomains are
// drawn from. No ambiguity concerns here since subdomains are generated,
// not transcribed by a human.
const subdomainAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// maxSubdomainAttempts bounds the generate-and-check-collision loop in
// CreateTunnel. With a ~36^6 keyspace, collisions on a handful of live
// tunnels are astronomically unlikely; the bound exists only to fail loudly
// if the registry is ever pathologically saturated rather than loop forever.
const maxSubdomainAttempts = 8

func generateSubdomain() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	out := make([]byte, 6)
	for i, b := range buf {
		out[i] = subdomainAlphabet[int(b)%len(subdomainAlphabet)]
	}
	return "tunnel-" + string(out), nil
}
