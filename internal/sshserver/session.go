package sshserver

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/tunnelgate/tunnelgate/internal/config"
	"github.com/tunnelgate/tunnelgate/internal/deviceflow"
	"github.com/tunnelgate/tunnelgate/internal/logutil"
	"github.com/tunnelgate/tunnelgate/internal/registry"
	"github.com/tunnelgate/tunnelgate/internal/terminal"
	"github.com/tunnelgate/tunnelgate/internal/tunnelerr"
)

// ptyDecisionWindow bounds how long the handler waits, once a session
// channel opens, to learn whether the peer requested a pty before it
// renders the activation banner. A real interactive client sends pty-req
// immediately after opening the channel; this only protects against a
// headless client that never sends one.
const ptyDecisionWindow = 300 * time.Millisecond

// pollResult is delivered on session.pollDone once a device-flow poll loop
// reaches a terminal outcome.
type pollResult struct {
	outcome deviceflow.Outcome
	err     error
}

// session drives the per-connection authorization and forwarding state
// machine. It is intentionally single-threaded: every field below is
// touched only from the goroutine running session.run, except where a
// channel provides the synchronization (pollDone, ptyDecided, handle.cmds).
type session struct {
	id   string
	conn *ssh.ServerConn

	reqs  <-chan *ssh.Request
	chans <-chan ssh.NewChannel

	reg      *registry.Registry
	df       *deviceflow.Client
	handle   *Handle
	httpPort int
	baseURL  string

	state         State
	ownerUserID   string
	ownerUserName string

	// subdomains maps "bindAddr:bindPort" to the subdomain minted for it, so
	// cancel-tcpip-forward (which only carries addr/port) can find the
	// tunnel to tear down.
	subdomains map[string]string

	interactiveChan ssh.Channel
	isPTY           bool
	ptyDecided      chan struct{}

	pollCancel context.CancelFunc
	pollDone   chan pollResult
}

func newSession(id string, conn *ssh.ServerConn, chans <-chan ssh.NewChannel, reqs <-chan *ssh.Request, reg *registry.Registry, df *deviceflow.Client, baseURL string, httpPort int) *session {
	s := &session{
		id:         id,
		conn:       conn,
		chans:      chans,
		reqs:       reqs,
		reg:        reg,
		df:         df,
		handle:     newHandle(id),
		httpPort:   httpPort,
		baseURL:    baseURL,
		state:      StateAccepted,
		subdomains: make(map[string]string),
	}
	if conn.Permissions != nil {
		s.ownerUserID = conn.Permissions.Extensions[extUserID]
	}
	return s
}

// run is the session's single goroutine: every state transition, wire
// callback, and command from the registry-facing Handle passes through this
// loop, so nothing here needs its own locking.
func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.cleanup()

	log.Printf("sshserver: session %s accepted from %s", s.id, s.conn.RemoteAddr())

	for {
		select {
		case <-ctx.Done():
			return

		case req, ok := <-s.reqs:
			if !ok {
				return
			}
			s.handleGlobalRequest(ctx, req)

		case newChan, ok := <-s.chans:
			if !ok {
				return
			}
			s.handleNewChannel(ctx, newChan)

		case res, ok := <-s.pollDone:
			if !ok {
				continue
			}
			s.pollDone = nil
			if !s.handlePollResult(res) {
				return
			}

		case cmd, ok := <-s.handle.cmds:
			if !ok {
				return
			}
			if !s.handleCommand(cmd) {
				return
			}
		}
	}
}

func (s *session) handleGlobalRequest(ctx context.Context, req *ssh.Request) {
	switch req.Type {
	case "tcpip-forward":
		s.handleTCPIPForward(ctx, req)
	case "cancel-tcpip-forward":
		s.handleCancelTCPIPForward(req)
	default:
		if req.WantReply {
			req.Reply(false, nil)
		}
	}
}

// handleTCPIPForward implements a "virtual bind": the requested address and
// port are accepted as informational only, no OS listener is ever opened,
// and the server always acknowledges with HTTPPort as the bound port.
func (s *session) handleTCPIPForward(ctx context.Context, req *ssh.Request) {
	if s.state == StateAccepted {
		s.enterAwaitingAuthorization(ctx)
	}

	if s.state != StateAuthorized && s.state != StateForwarding {
		if req.WantReply {
			req.Reply(false, nil)
		}
		return
	}

	var payload tcpipForwardRequest
	if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
		if req.WantReply {
			req.Reply(false, nil)
		}
		return
	}

	snap, reclaimed := s.reg.ReclaimForOwner(s.ownerUserID, s.id, s.handle)
	if !reclaimed {
		var err error
		snap, err = s.reg.CreateTunnel(s.ownerUserID, s.id, s.originIP(), s.handle, payload.BindAddr, int(payload.BindPort), s.httpPort)
		if err != nil {
			log.Printf("sshserver: session %s tcpip-forward rejected: %v", s.id, err)
			if req.WantReply {
				req.Reply(false, nil)
			}
			return
		}
	}

	s.subdomains[bindKey(payload.BindAddr, int(payload.BindPort))] = snap.Subdomain
	s.state = StateForwarding

	if req.WantReply {
		req.Reply(true, ssh.Marshal(&tcpipForwardReply{BoundPort: uint32(s.httpPort)}))
	}

	if s.interactiveChan != nil {
		fmt.Fprintf(s.interactiveChan, "Tunnel ready: https://%s.%s\r\n", snap.Subdomain, config.Cfg.TunnelURL)
	}

	if reclaimed {
		log.Printf("sshserver: session %s reclaimed %s -> %s", s.id, bindKey(payload.BindAddr, int(payload.BindPort)), snap.Subdomain)
	} else {
		log.Printf("sshserver: session %s bound %s -> %s", s.id, bindKey(payload.BindAddr, int(payload.BindPort)), snap.Subdomain)
	}
}

func (s *session) handleCancelTCPIPForward(req *ssh.Request) {
	var payload tcpipForwardRequest
	if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
		if req.WantReply {
			req.Reply(false, nil)
		}
		return
	}

	key := bindKey(payload.BindAddr, int(payload.BindPort))
	subdomain, ok := s.subdomains[key]
	if !ok {
		if req.WantReply {
			req.Reply(false, nil)
		}
		return
	}
	delete(s.subdomains, key)

	if err := s.reg.TerminateTunnel(subdomain, "client canceled forwarding"); err != nil {
		log.Printf("sshserver: session %s cancel-tcpip-forward for %s: %v", s.id, subdomain, err)
	}
	if len(s.subdomains) == 0 && s.state == StateForwarding {
		s.state = StateAuthorized
	}
	if req.WantReply {
		req.Reply(true, nil)
	}
}

// handleNewChannel accepts "session" channels for interactive banner
// rendering and rejects everything else — this server never offers a real
// shell, only the device-flow UI.
func (s *session) handleNewChannel(ctx context.Context, newChan ssh.NewChannel) {
	if newChan.ChannelType() != "session" {
		newChan.Reject(ssh.UnknownChannelType, "only session channels are supported")
		return
	}

	ch, requests, err := newChan.Accept()
	if err != nil {
		log.Printf("sshserver: session %s accept channel: %v", s.id, err)
		return
	}

	if s.interactiveChan == nil {
		s.interactiveChan = ch
		s.ptyDecided = make(chan struct{})
		go s.serveChannelRequests(ch, requests, s.ptyDecided)

		if s.state == StateAccepted {
			s.enterAwaitingAuthorization(ctx)
		}
		return
	}
	go s.serveChannelRequests(ch, requests, nil)
}

// serveChannelRequests answers in-channel requests on a session channel.
// There is no real shell behind it: shell/exec/subsystem are acknowledged
// so the client's interactive session doesn't hang, but no process is ever
// spawned.
func (s *session) serveChannelRequests(ch ssh.Channel, reqs <-chan *ssh.Request, decided chan struct{}) {
	closedDecided := false
	for req := range reqs {
		switch req.Type {
		case "pty-req":
			s.isPTY = true
			if req.WantReply {
				req.Reply(true, nil)
			}
		case "shell", "exec", "subsystem":
			if req.WantReply {
				req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
		if decided != nil && !closedDecided {
			close(decided)
			closedDecided = true
		}
	}
	if decided != nil && !closedDecided {
		close(decided)
	}
}

func (s *session) waitForPTYDecision() {
	if s.ptyDecided == nil {
		return
	}
	select {
	case <-s.ptyDecided:
	case <-time.After(ptyDecisionWindow):
	}
}

// enterAwaitingAuthorization issues device-flow authorization: either the
// session's public key already carries a verified identity (skip straight
// to Authorized, no code issued), or a fresh activation code is minted,
// registered with the control plane, rendered on the interactive channel,
// and a polling goroutine is started.
func (s *session) enterAwaitingAuthorization(ctx context.Context) {
	s.state = StateAwaitingAuthorization

	if s.ownerUserID != "" {
		s.state = StateAuthorized
		if s.interactiveChan != nil {
			s.waitForPTYDecision()
			terminal.RenderSuccess(s.interactiveChan, s.isPTY, s.ownerUserID)
		}
		return
	}

	code, err := deviceflow.GenerateCode()
	if err != nil {
		log.Printf("sshserver: session %s generate code: %v", s.id, err)
		s.state = StateClosed
		return
	}
	expiresAt := time.Now().Add(registry.PendingTunnelTTL)

	pollCtx, cancel := context.WithCancel(ctx)
	s.pollCancel = cancel
	s.reg.CreatePendingTunnel(s.id, code, cancel)

	if err := s.df.GenerateCode(pollCtx, code, s.id, expiresAt); err != nil {
		log.Printf("sshserver: session %s register activation code: %v", s.id, err)
	}

	if s.interactiveChan != nil {
		s.waitForPTYDecision()
		terminal.RenderBanner(s.interactiveChan, s.isPTY, s.baseURL+"/activate", code)
		go terminal.Spinner(pollCtx, s.interactiveChan, s.isPTY)
	} else {
		log.Printf("sshserver: session %s has no interactive channel; activation code %s issued headless", s.id, logutil.SanitizeForLog(code))
	}

	done := make(chan pollResult, 1)
	s.pollDone = done
	go func() {
		outcome, perr := s.df.Poll(pollCtx, code, s.id, expiresAt)
		done <- pollResult{outcome: outcome, err: perr}
	}()
}

// handlePollResult reports whether the session's run loop should keep
// going. A failed authorization renders a failure box and ends the session
// outright rather than leaving it idle in a state no further request can
// ever lift it out of.
func (s *session) handlePollResult(res pollResult) bool {
	s.pollCancel = nil
	s.reg.DeletePendingTunnel(s.id)

	if res.err != nil {
		log.Printf("sshserver: session %s authorization failed: %v", s.id, res.err)
		if s.interactiveChan != nil {
			terminal.RenderFailure(s.interactiveChan, s.isPTY, authFailureMessage(res.err))
		}
		s.state = StateClosed
		return false
	}

	s.ownerUserID = res.outcome.UserID
	s.ownerUserName = res.outcome.UserName

	if fp := s.permFingerprint(); fp != "" {
		s.reg.RecordVerifiedKey(fp, s.ownerUserID)
	}

	s.state = StateAuthorized
	if s.interactiveChan != nil {
		terminal.RenderSuccess(s.interactiveChan, s.isPTY, s.ownerUserName)
	}
	log.Printf("sshserver: session %s authorized as %s", s.id, s.ownerUserID)
	return true
}

func authFailureMessage(err error) string {
	if kind, ok := tunnelerr.KindOf(err); ok {
		return string(kind)
	}
	return "authorization failed"
}

func (s *session) permFingerprint() string {
	if s.conn.Permissions == nil {
		return ""
	}
	return s.conn.Permissions.Extensions[extFP]
}

func (s *session) handleCommand(cmd command) bool {
	switch cmd.kind {
	case cmdOpenForward:
		ch, err := s.openForwardedTCP(cmd)
		cmd.result <- cmdResult{channel: ch, err: err}
		return true
	case cmdClose:
		log.Printf("sshserver: session %s closing: %s", s.id, logutil.SanitizeForLog(cmd.reason))
		return false
	default:
		return true
	}
}

// openForwardedTCP opens a forwarded-tcpip channel back to the client so
// the proxy can splice an inbound public connection into the client's
// local service.
func (s *session) openForwardedTCP(cmd command) (io.ReadWriteCloser, error) {
	originHost, originPortStr, err := net.SplitHostPort(cmd.origin.String())
	if err != nil {
		originHost, originPortStr = cmd.origin.String(), "0"
	}
	originPort, _ := strconv.Atoi(originPortStr)

	payload := forwardedTCPPayload{
		Addr:       cmd.boundAddr,
		Port:       uint32(cmd.boundPort),
		OriginAddr: originHost,
		OriginPort: uint32(originPort),
	}

	ch, reqs, err := s.conn.OpenChannel("forwarded-tcpip", ssh.Marshal(&payload))
	if err != nil {
		return nil, tunnelerr.Wrap(tunnelerr.SshProtocolError, err, "open forwarded-tcpip channel")
	}
	go ssh.DiscardRequests(reqs)
	return ch, nil
}

// cleanup runs once when the session's run loop exits for any reason:
// transport loss, explicit Close, or a fatal state transition. A session
// with no verified user has nothing registered under its id, so marking it
// disconnected is a no-op — dropping an unauthorized session loses its
// tunnels immediately, with no grace window, without needing a special
// branch here.
func (s *session) cleanup() {
	if s.pollCancel != nil {
		s.pollCancel()
	}
	s.reg.DeletePendingTunnel(s.id)
	s.reg.MarkSessionDisconnected(s.id)
	s.conn.Close()
	if s.interactiveChan != nil {
		s.interactiveChan.Close()
	}
	log.Printf("sshserver: session %s closed", s.id)
}

func (s *session) originIP() string {
	host, _, err := net.SplitHostPort(s.conn.RemoteAddr().String())
	if err != nil {
		return s.conn.RemoteAddr().String()
	}
	return host
}

func bindKey(addr string, port int) string {
	return fmt.Sprintf("%s:%d", addr, port)
}
