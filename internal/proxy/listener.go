// Package proxy implements the subdomain-addressed TCP passthrough proxy: a
// single listener on the public HTTP port that peeks the Host header of
// each inbound connection, resolves it to a tunnel via the registry, and
// splices bytes bidirectionally into the owning SSH session's forwarded
// channel. No HTTP verb or body is ever interpreted.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"time"

	"github.com/tunnelgate/tunnelgate/internal/logutil"
	"github.com/tunnelgate/tunnelgate/internal/registry"
)

// peekDeadline bounds how long the proxy waits for enough bytes to locate
// the Host header before giving up.
const peekDeadline = 5 * time.Second

// Proxy owns the public listener and routes each accepted connection
// through the registry to an SSH forwarded channel.
type Proxy struct {
	reg      *registry.Registry
	listener net.Listener
}

// Listen opens the single public TCP listener on addr that every inbound
// HTTP(S) client connects through.
func Listen(reg *registry.Registry, addr string) (*Proxy, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Proxy{reg: reg, listener: ln}, nil
}

// Addr returns the bound listener address.
func (p *Proxy) Addr() net.Addr { return p.listener.Addr() }

// Close stops accepting new connections.
func (p *Proxy) Close() error { return p.listener.Close() }

// Serve accepts connections until ctx is canceled or the listener closes.
func (p *Proxy) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		p.listener.Close()
	}()

	for {
		conn, err := p.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Temporary() {
				continue
			}
			return err
		}
		go p.handleConn(ctx, conn)
	}
}

func (p *Proxy) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(peekDeadline))
	peeked, host, err := peekHost(conn)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		writeSynthetic400(conn)
		return
	}

	subdomain, err := subdomainFromHost(host)
	if err != nil {
		writeSynthetic404(conn, host)
		return
	}

	tunnel, err := p.reg.LookupTunnel(subdomain)
	if err != nil || tunnel.State != registry.StateConnected {
		writeSynthetic404(conn, subdomain)
		return
	}

	upstream, err := tunnel.Session.OpenForwardedTCP(ctx, conn.RemoteAddr(), tunnel.BindAddr, tunnel.BindPort)
	if err != nil {
		log.Printf("proxy: open forwarded channel for %s: %v", logutil.SanitizeForLog(subdomain), err)
		writeSynthetic502(conn)
		return
	}
	defer upstream.Close()

	prefixed := io.MultiReader(bytes.NewReader(peeked), conn)
	splice(ctx, prefixed, conn, upstream)
}

// peekHost reads from conn, without assuming any fixed request size, until
// either a complete Host header line is found, the headers end without one,
// peekLimit bytes have accumulated, or the read deadline/EOF is hit. The
// bytes read are returned alongside the header value so the caller can
// still forward them as the start of the proxied stream — this is a
// "peek" only in the routing sense; what actually happens is a consumed
// prefix that gets replayed downstream, since inspecting bytes without ever
// reading them off the wire isn't possible over a plain net.Conn.
func peekHost(conn net.Conn) ([]byte, string, error) {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)

	for {
		if host, err := extractHost(buf); err == nil {
			return buf, host, nil
		}
		if bytes.Contains(buf, []byte("\r\n\r\n")) {
			return buf, "", errNoHostHeader
		}
		if len(buf) >= peekLimit {
			return buf, "", errNoHostHeader
		}

		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			return buf, "", errNoHostHeader
		}
	}
}
