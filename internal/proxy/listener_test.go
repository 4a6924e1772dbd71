package proxy

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/tunnelgate/tunnelgate/internal/registry"
)

// pipeSession is a fake registry.SessionHandle whose forwarded channel is
// the client half of an in-memory pipe, so tests can assert on exactly what
// the proxy wrote without a real SSH connection.
type pipeSession struct {
	id     string
	server net.Conn
}

func (p *pipeSession) ID() string { return p.id }
func (p *pipeSession) OpenForwardedTCP(ctx context.Context, origin net.Addr, addr string, port int) (io.ReadWriteCloser, error) {
	return p.server, nil
}
func (p *pipeSession) Close(reason string) error { return p.server.Close() }

func startTestProxy(t *testing.T, reg *registry.Registry) (*Proxy, func()) {
	t.Helper()
	p, err := Listen(reg, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go p.Serve(ctx)
	return p, func() {
		cancel()
		p.Close()
	}
}

func TestProxyHappyPathSplicesBytes(t *testing.T) {
	reg := registry.New(nil)
	serverSide, clientSide := net.Pipe()
	session := &pipeSession{id: "sess-1", server: serverSide}

	snap, err := reg.CreateTunnel("user-1", "sess-1", "203.0.113.1", session, "0.0.0.0", 80, 8080)
	if err != nil {
		t.Fatalf("CreateTunnel: %v", err)
	}

	p, stop := startTestProxy(t, reg)
	defer stop()

	go func() {
		buf := make([]byte, 4096)
		n, _ := clientSide.Read(buf)
		if !strings.Contains(string(buf[:n]), "Host: "+snap.Subdomain) {
			t.Errorf("upstream did not see forwarded Host header, got %q", string(buf[:n]))
		}
		clientSide.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nOK"))
		clientSide.Close()
	}()

	conn, err := net.Dial("tcp", p.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	req := "GET / HTTP/1.1\r\nHost: " + snap.Subdomain + ".localhost\r\n\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := io.ReadAll(conn)
	if err != nil && !strings.Contains(err.Error(), "EOF") {
		t.Fatalf("read response: %v", err)
	}
	if !bytes.Contains(resp, []byte("200 OK")) || !bytes.Contains(resp, []byte("OK")) {
		t.Fatalf("unexpected response: %q", resp)
	}
}

func TestProxyUnknownSubdomainReturns404(t *testing.T) {
	reg := registry.New(nil)
	p, stop := startTestProxy(t, reg)
	defer stop()

	conn, err := net.Dial("tcp", p.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("GET / HTTP/1.1\r\nHost: nope.localhost:8080\r\n\r\n"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, _ := io.ReadAll(conn)
	if !bytes.Contains(resp, []byte("404")) {
		t.Fatalf("expected 404 response, got %q", resp)
	}
	if !bytes.Contains(resp, []byte("text/html")) {
		t.Fatalf("expected html content type, got %q", resp)
	}
}

func TestProxyMalformedRequestReturns400(t *testing.T) {
	reg := registry.New(nil)
	p, stop := startTestProxy(t, reg)
	defer stop()

	conn, err := net.Dial("tcp", p.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	garbage := bytes.Repeat([]byte{0x01, 0x02, 0x03}, peekLimit)
	conn.Write(garbage)
	conn.SetReadDeadline(time.Now().Add(peekDeadline + 2*time.Second))
	resp, _ := io.ReadAll(conn)
	if !bytes.Contains(resp, []byte("400")) {
		t.Fatalf("expected 400 response, got %q", resp)
	}
}
