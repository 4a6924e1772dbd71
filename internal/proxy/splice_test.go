package proxy

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

func TestSpliceCopiesBothDirectionsUntilClose(t *testing.T) {
	downConn, downPeer := net.Pipe()
	upConn, upPeer := net.Pipe()

	go splice(context.Background(), downConn, downConn, upConn)

	go func() {
		downPeer.Write([]byte("ping"))
	}()
	buf := make([]byte, 4)
	if _, err := io.ReadFull(upPeer, buf); err != nil {
		t.Fatalf("upstream did not receive downstream bytes: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("unexpected upstream bytes: %q", buf)
	}

	go func() {
		upPeer.Write([]byte("pong"))
	}()
	buf2 := make([]byte, 4)
	if _, err := io.ReadFull(downPeer, buf2); err != nil {
		t.Fatalf("downstream did not receive upstream bytes: %v", err)
	}
	if string(buf2) != "pong" {
		t.Fatalf("unexpected downstream bytes: %q", buf2)
	}

	upPeer.Close()
	downPeer.Close()
}

func TestSpliceStopsOnContextCancel(t *testing.T) {
	downConn, downPeer := net.Pipe()
	upConn, upPeer := net.Pipe()
	defer downPeer.Close()
	defer upPeer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		splice(ctx, downConn, downConn, upConn)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("splice did not return after context cancellation")
	}
}

func TestWriteSyntheticResponsesIncludeStatusAndContentType(t *testing.T) {
	server, client := net.Pipe()
	go func() {
		writeSynthetic404(server, "tunnel-ghost1")
		server.Close()
	}()

	buf := make([]byte, 4096)
	n, _ := client.Read(buf)
	body := string(buf[:n])
	if !strings.Contains(body, "404") || !strings.Contains(body, "text/html") {
		t.Fatalf("unexpected synthetic response: %q", body)
	}
}
