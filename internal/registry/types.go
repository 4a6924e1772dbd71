// Package registry holds the process-wide, in-memory state: active tunnels
// keyed by subdomain, the verified-key cache, per-IP rate-limit counters,
// and pending-tunnel records awaiting device-flow authorization. Every
// other component reads and writes through it.
package registry

import (
	"context"
	"errors"
	"io"
	"net"
	"time"
)

// Sentinel errors returned by Registry operations. Callers compare with
// errors.Is; these are intentionally plain (not *tunnelerr.Error) since they
// describe registry-local outcomes rather than externally observable error
// kinds — callers at the SSH/proxy boundary translate them into
// tunnelerr.RoutingError / SshProtocolError as appropriate.
var (
	ErrSubdomainTaken  = errors.New("subdomain taken")
	ErrNotFound        = errors.New("tunnel not found")
	ErrNotReclaimable  = errors.New("tunnel not reclaimable")
	ErrPendingNotFound = errors.New("pending tunnel not found")
	ErrPendingExpired  = errors.New("pending tunnel expired")
)

// ConnState is the connection state of a Tunnel.
type ConnState string

const (
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
)

// SessionHandle is a reference to a live SSH session, owned by the handler
// goroutine that accepted it — never by the registry. The registry only
// ever sends commands through this handle; it must never reach into or
// close the underlying ssh.ServerConn directly.
type SessionHandle interface {
	// ID returns the opaque SSH session identifier assigned at accept time.
	ID() string

	// OpenForwardedTCP asks the owning session to open a forwarded-tcpip
	// channel back to the client, for the given originator address and the
	// tunnel's requested bind address/port, and returns it as a plain
	// bidirectional stream for splicing.
	OpenForwardedTCP(ctx context.Context, originAddr net.Addr, boundAddr string, boundPort int) (io.ReadWriteCloser, error)

	// Close asks the owning session to shut down (e.g. following a
	// management-surface termination). Best-effort: the handler goroutine
	// may already be gone.
	Close(reason string) error
}

// Tunnel represents one accepted reverse-forwarding binding.
type Tunnel struct {
	Subdomain   string
	OwnerUserID string
	SessionID   string
	BindAddr    string
	BindPort    int
	OriginIP    string
	CreatedAt   time.Time
	State       ConnState

	// GraceDeadline is set when State transitions to Disconnected; the
	// subdomain may be reclaimed by the same owner until this time.
	GraceDeadline time.Time

	Session SessionHandle
}

// Snapshot is an immutable copy of a Tunnel's externally-visible fields,
// returned by LookupTunnel/ListTunnels so callers never observe a
// half-updated tunnel and can't mutate registry state through the return
// value.
type Snapshot struct {
	Subdomain   string
	OwnerUserID string
	SessionID   string
	BindAddr    string
	BindPort    int
	OriginIP    string
	CreatedAt   time.Time
	State       ConnState
	Session     SessionHandle
}

func (t *Tunnel) snapshot() Snapshot {
	return Snapshot{
		Subdomain:   t.Subdomain,
		OwnerUserID: t.OwnerUserID,
		SessionID:   t.SessionID,
		BindAddr:    t.BindAddr,
		BindPort:    t.BindPort,
		OriginIP:    t.OriginIP,
		CreatedAt:   t.CreatedAt,
		State:       t.State,
		Session:     t.Session,
	}
}

// VerifiedKey records that a public-key fingerprint was associated with a
// user by a past device-flow authorization. Process-lifetime only, never
// persisted to disk.
type VerifiedKey struct {
	Fingerprint string
	UserID      string
	LastUsed    time.Time
}

// PendingTunnel is transient state for a session that requested a tunnel but
// has not yet been authorized.
type PendingTunnel struct {
	SessionID string
	Code      string
	ExpiresAt time.Time

	// cancel stops the handler's polling loop; invoked by the periodic sweep
	// on expiry. DeletePendingTunnel drops the record without invoking it.
	cancel func()
}

// AttemptResult is the outcome of ObserveConnectionAttempt.
type AttemptResult string

const (
	Allowed   AttemptResult = "allowed"
	Throttled AttemptResult = "throttled"
)
