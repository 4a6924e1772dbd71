package registry

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/tunnelgate/tunnelgate/internal/logutil"
)

// DisconnectGrace is how long a disconnected tunnel's subdomain stays
// reserved for its owner to reclaim.
const DisconnectGrace = 30 * time.Minute

// PendingTunnelTTL bounds how long a pending (unauthorized) tunnel request
// waits for the device flow to complete before it is swept.
const PendingTunnelTTL = 10 * time.Minute

// RegistrationInfo carries everything the control plane's register-tunnel
// call needs, beyond what a bare subdomain/owner/session triple would give
// ControlPlaneHooks.NotifyRegistered.
type RegistrationInfo struct {
	Subdomain        string
	OwnerUserID      string
	SessionID        string
	RequestedAddress string
	RequestedPort    int
	ServerPort       int
	ClientIP         string
}

// ControlPlaneHooks lets the registry notify the control plane of
// registration lifecycle events without importing the deviceflow package
// directly (deviceflow in turn depends on registry's types). Calls are
// fire-and-forget: the registry never blocks a caller on network I/O while
// holding its lock.
type ControlPlaneHooks interface {
	NotifyRegistered(info RegistrationInfo)
	NotifyUnregistered(subdomain string)
}

type noopHooks struct{}

func (noopHooks) NotifyRegistered(RegistrationInfo) {}
func (noopHooks) NotifyUnregistered(string)         {}

// Registry is the process-wide store of active tunnels, the verified-key
// cache, and pending (unauthorized) tunnel requests. All exported methods
// are safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	tunnels          map[string]*Tunnel        // subdomain -> tunnel
	verified         map[string]VerifiedKey    // key fingerprint -> verified identity
	pending          map[string]*PendingTunnel // activation code -> pending tunnel
	pendingBySession map[string]string         // session id -> activation code

	limiter *ipRateLimiter
	hooks   ControlPlaneHooks
}

// New constructs an empty Registry. hooks may be nil, in which case control
// plane notifications are silently dropped (useful in tests).
func New(hooks ControlPlaneHooks) *Registry {
	if hooks == nil {
		hooks = noopHooks{}
	}
	return &Registry{
		tunnels:          make(map[string]*Tunnel),
		verified:         make(map[string]VerifiedKey),
		pending:          make(map[string]*PendingTunnel),
		pendingBySession: make(map[string]string),
		limiter:          newIPRateLimiter(defaultAttemptsPerMinute),
		hooks:            hooks,
	}
}

var (
	globalMu  sync.RWMutex
	globalReg *Registry
)

// InitGlobal installs the process-wide Registry singleton. Call once from
// main before any component that calls Global.
func InitGlobal(hooks ControlPlaneHooks) *Registry {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalReg = New(hooks)
	return globalReg
}

// Global returns the process-wide Registry singleton installed by InitGlobal.
func Global() *Registry {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalReg
}

// CreateTunnel mints a fresh subdomain and registers a new, Connected tunnel
// for it, retrying on collision up to maxSubdomainAttempts times.
func (r *Registry) CreateTunnel(ownerUserID, sessionID, originIP string, session SessionHandle, bindAddr string, bindPort, serverPort int) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < maxSubdomainAttempts; attempt++ {
		subdomain, err := generateSubdomain()
		if err != nil {
			return Snapshot{}, err
		}
		if _, taken := r.tunnels[subdomain]; taken {
			continue
		}
		t := &Tunnel{
			Subdomain:   subdomain,
			OwnerUserID: ownerUserID,
			SessionID:   sessionID,
			BindAddr:    bindAddr,
			BindPort:    bindPort,
			OriginIP:    originIP,
			CreatedAt:   time.Now(),
			State:       StateConnected,
			Session:     session,
		}
		r.tunnels[subdomain] = t
		snap := t.snapshot()
		go r.hooks.NotifyRegistered(RegistrationInfo{
			Subdomain:        subdomain,
			OwnerUserID:      ownerUserID,
			SessionID:        sessionID,
			RequestedAddress: bindAddr,
			RequestedPort:    bindPort,
			ServerPort:       serverPort,
			ClientIP:         originIP,
		})
		return snap, nil
	}
	return Snapshot{}, ErrSubdomainTaken
}

// LookupTunnel returns a snapshot of the tunnel registered under subdomain.
func (r *Registry) LookupTunnel(subdomain string) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tunnels[subdomain]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return t.snapshot(), nil
}

// ListTunnels returns a snapshot of every registered tunnel, for the
// management surface's GET /tunnels.
func (r *Registry) ListTunnels() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.tunnels))
	for _, t := range r.tunnels {
		out = append(out, t.snapshot())
	}
	return out
}

// TerminateTunnel removes subdomain from the registry and asks its owning
// session to close, if still present. Used by the management surface's
// DELETE /tunnels/{subdomain} and by session teardown.
func (r *Registry) TerminateTunnel(subdomain, reason string) error {
	r.mu.Lock()
	t, ok := r.tunnels[subdomain]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.tunnels, subdomain)
	session := t.Session
	r.mu.Unlock()

	go r.hooks.NotifyUnregistered(subdomain)

	if session != nil {
		if err := session.Close(reason); err != nil {
			log.Printf("registry: close session for terminated tunnel %s: %v", logutil.SanitizeForLog(subdomain), err)
		}
	}
	return nil
}

// MarkSessionDisconnected transitions every tunnel owned by sessionID to
// Disconnected and opens its reclaim grace window. It does not remove the
// tunnel; the periodic sweep does that once the grace window elapses
// without a reclaim.
func (r *Registry) MarkSessionDisconnected(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deadline := time.Now().Add(DisconnectGrace)
	for _, t := range r.tunnels {
		if t.SessionID == sessionID && t.State == StateConnected {
			t.State = StateDisconnected
			t.GraceDeadline = deadline
			t.Session = nil
		}
	}
}

// TryReclaim rebinds a Disconnected tunnel to a new session, provided the
// claiming owner matches the original owner and the grace window has not
// elapsed. Returns ErrNotReclaimable otherwise, including when the
// subdomain is currently Connected (still owned by a live session).
func (r *Registry) TryReclaim(subdomain, ownerUserID, newSessionID string, session SessionHandle) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tunnels[subdomain]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	if t.State != StateDisconnected {
		return Snapshot{}, ErrNotReclaimable
	}
	if t.OwnerUserID != ownerUserID {
		return Snapshot{}, ErrNotReclaimable
	}
	if time.Now().After(t.GraceDeadline) {
		return Snapshot{}, ErrNotReclaimable
	}

	t.SessionID = newSessionID
	t.Session = session
	t.State = StateConnected
	t.GraceDeadline = time.Time{}
	return t.snapshot(), nil
}

// ReclaimForOwner looks for a Disconnected tunnel still within its grace
// window owned by ownerUserID and rebinds it to newSessionID, so a
// reconnecting client's next tcpip-forward lands back on the same
// subdomain it had before. Returns ok=false if the owner has no reclaimable
// tunnel, in which case the caller should mint a fresh one via
// CreateTunnel.
func (r *Registry) ReclaimForOwner(ownerUserID, newSessionID string, session SessionHandle) (Snapshot, bool) {
	r.mu.Lock()

	var match *Tunnel
	now := time.Now()
	for _, t := range r.tunnels {
		if t.OwnerUserID == ownerUserID && t.State == StateDisconnected && now.Before(t.GraceDeadline) {
			match = t
			break
		}
	}
	if match == nil {
		r.mu.Unlock()
		return Snapshot{}, false
	}

	match.SessionID = newSessionID
	match.Session = session
	match.State = StateConnected
	match.GraceDeadline = time.Time{}
	snap := match.snapshot()
	r.mu.Unlock()

	return snap, true
}

// RecordVerifiedKey caches that fingerprint belongs to userID, following a
// successful device-flow authorization, so a later reconnect with the same
// key can skip the device flow entirely.
func (r *Registry) RecordVerifiedKey(fingerprint, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verified[fingerprint] = VerifiedKey{
		Fingerprint: fingerprint,
		UserID:      userID,
		LastUsed:    time.Now(),
	}
}

// LookupVerifiedKey returns the cached owner for fingerprint, if any, and
// bumps its LastUsed timestamp.
func (r *Registry) LookupVerifiedKey(fingerprint string) (VerifiedKey, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vk, ok := r.verified[fingerprint]
	if !ok {
		return VerifiedKey{}, false
	}
	vk.LastUsed = time.Now()
	r.verified[fingerprint] = vk
	return vk, true
}

// ObserveConnectionAttempt applies the per-IP rate limit to a new inbound
// SSH connection from ip.
func (r *Registry) ObserveConnectionAttempt(ip net.IP) AttemptResult {
	if r.limiter.Allow(ip.String()) {
		return Allowed
	}
	return Throttled
}

// CreatePendingTunnel records code, minted by the caller, as the pending
// activation code for sessionID, replacing any earlier one for that session. cancel is invoked by the periodic sweep if the
// pending record expires unclaimed, and should stop the session's poll loop.
func (r *Registry) CreatePendingTunnel(sessionID, code string, cancel func()) *PendingTunnel {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.pendingBySession[sessionID]; ok {
		delete(r.pending, old)
	}

	pt := &PendingTunnel{
		SessionID: sessionID,
		Code:      code,
		ExpiresAt: time.Now().Add(PendingTunnelTTL),
		cancel:    cancel,
	}
	r.pending[code] = pt
	r.pendingBySession[sessionID] = code
	return pt
}

// LookupPendingTunnel returns the pending record for an activation code.
func (r *Registry) LookupPendingTunnel(code string) (*PendingTunnel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pt, ok := r.pending[code]
	if !ok {
		return nil, ErrPendingNotFound
	}
	if time.Now().After(pt.ExpiresAt) {
		return nil, ErrPendingExpired
	}
	return pt, nil
}

// DeletePendingTunnel removes the pending record for sessionID, e.g. once
// authorization completes or the SSH session disconnects before it does.
func (r *Registry) DeletePendingTunnel(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.pendingBySession[sessionID]
	if !ok {
		return
	}
	delete(r.pending, code)
	delete(r.pendingBySession, sessionID)
}
