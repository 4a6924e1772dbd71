package sshserver

import (
	"context"
	"log"
	"net"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/tunnelgate/tunnelgate/internal/deviceflow"
	"github.com/tunnelgate/tunnelgate/internal/registry"
	"github.com/tunnelgate/tunnelgate/internal/tunnelerr"
)

// Server accepts SSH connections and hands each one off to its own session
// state machine.
type Server struct {
	listener net.Listener
	sshCfg   *ssh.ServerConfig
	reg      *registry.Registry
	df       *deviceflow.Client
	baseURL  string
	httpPort int
}

// Listen opens the SSH listener on addr. hostKey signs the server's
// identity; baseURL and httpPort are carried into every session to render
// activation banners and to acknowledge tcpip-forward requests with the
// virtual bound port.
func Listen(addr string, hostKey ssh.Signer, reg *registry.Registry, df *deviceflow.Client, baseURL string, httpPort int) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, tunnelerr.Wrap(tunnelerr.IoError, err, "listen on %s", addr)
	}
	return &Server{
		listener: ln,
		sshCfg:   buildServerConfig(hostKey, reg),
		reg:      reg,
		df:       df,
		baseURL:  baseURL,
		httpPort: httpPort,
	}, nil
}

func (srv *Server) Addr() net.Addr { return srv.listener.Addr() }

func (srv *Server) Close() error { return srv.listener.Close() }

// Serve runs the accept loop until ctx is canceled or the listener fails.
func (srv *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		srv.listener.Close()
	}()

	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return tunnelerr.Wrap(tunnelerr.IoError, err, "accept ssh connection")
		}
		go srv.handleConn(ctx, conn)
	}
}

// handleConn applies the per-IP rate limit, performs the SSH handshake, and
// then runs the resulting session to completion. One goroutine per
// connection, for the lifetime of that connection.
func (srv *Server) handleConn(ctx context.Context, conn net.Conn) {
	ip := remoteIP(conn)
	if srv.reg.ObserveConnectionAttempt(ip) == registry.Throttled {
		log.Printf("sshserver: rejecting connection from %s: rate limited", conn.RemoteAddr())
		conn.Close()
		return
	}

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, srv.sshCfg)
	if err != nil {
		log.Printf("sshserver: handshake failed from %s: %v", conn.RemoteAddr(), err)
		return
	}

	id := uuid.NewString()
	sess := newSession(id, sshConn, chans, reqs, srv.reg, srv.df, srv.baseURL, srv.httpPort)
	sess.run(ctx)
}

func remoteIP(conn net.Conn) net.IP {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return net.ParseIP(conn.RemoteAddr().String())
	}
	return net.ParseIP(host)
}
