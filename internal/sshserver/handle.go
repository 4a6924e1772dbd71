package sshserver

import (
	"context"
	"errors"
	"io"
	"net"
)

// cmdKind identifies which operation a command carries.
type cmdKind int

const (
	cmdOpenForward cmdKind = iota
	cmdClose
)

type cmdResult struct {
	channel io.ReadWriteCloser
	err     error
}

type command struct {
	kind      cmdKind
	origin    net.Addr
	boundAddr string
	boundPort int
	reason    string
	result    chan cmdResult
}

// commandQueueSize bounds how many outstanding commands a Handle may queue
// before OpenForwardedTCP/Close callers start blocking on the session's own
// run loop to drain it.
const commandQueueSize = 16

// Handle is the registry.SessionHandle implementation for a live SSH
// session: a reference carrying a bounded command channel, not the
// *ssh.ServerConn itself — the registry and the proxy only ever talk to a
// session through it, and the owning run loop is the only goroutine that
// ever touches the underlying connection.
type Handle struct {
	id   string
	cmds chan command
}

func newHandle(id string) *Handle {
	return &Handle{id: id, cmds: make(chan command, commandQueueSize)}
}

func (h *Handle) ID() string { return h.id }

// OpenForwardedTCP asks the owning run loop to open a forwarded-tcpip
// channel and blocks until it replies or ctx is canceled.
func (h *Handle) OpenForwardedTCP(ctx context.Context, origin net.Addr, boundAddr string, boundPort int) (io.ReadWriteCloser, error) {
	resultCh := make(chan cmdResult, 1)
	cmd := command{kind: cmdOpenForward, origin: origin, boundAddr: boundAddr, boundPort: boundPort, result: resultCh}

	select {
	case h.cmds <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-resultCh:
		return res.channel, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close asks the owning run loop to shut the session down. Best-effort and
// non-blocking: if the run loop already exited, the command channel may be
// full or abandoned, in which case this reports an error rather than
// blocking the caller (typically the management surface).
func (h *Handle) Close(reason string) error {
	select {
	case h.cmds <- command{kind: cmdClose, reason: reason}:
		return nil
	default:
		return errors.New("sshserver: session command queue full or session already gone")
	}
}
