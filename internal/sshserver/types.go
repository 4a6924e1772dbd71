// Package sshserver implements the per-connection SSH handler state machine:
// authentication, device-flow issuance, verification polling, channel
// acceptance, and reverse-forwarding bindings.
package sshserver

// State is one node of the per-session handler state machine.
type State string

const (
	StateAccepted              State = "accepted"
	StateAwaitingAuthorization State = "awaiting_authorization"
	StateAuthorized            State = "authorized"
	StateForwarding            State = "forwarding"
	StateClosed                State = "closed"
)

// tcpipForwardRequest is the wire payload of a "tcpip-forward" global
// request (RFC 4254 §7.1).
type tcpipForwardRequest struct {
	BindAddr string
	BindPort uint32
}

// tcpipForwardReply is the wire payload of a successful "tcpip-forward"
// reply when the client requested port 0 (or, here, always — the bound
// port is always virtual, never an OS-level listener).
type tcpipForwardReply struct {
	BoundPort uint32
}

// forwardedTCPPayload is the wire payload the server sends when opening a
// "forwarded-tcpip" channel back to the client (RFC 4254 §7.2).
type forwardedTCPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}
