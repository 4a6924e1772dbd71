package mgmt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tunnelgate/tunnelgate/internal/registry"
)

type fakeSession struct{ closed bool }

func (f *fakeSession) ID() string { return "sess-1" }
func (f *fakeSession) OpenForwardedTCP(ctx context.Context, origin net.Addr, addr string, port int) (io.ReadWriteCloser, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeSession) Close(reason string) error {
	f.closed = true
	return nil
}

func TestHealthz(t *testing.T) {
	reg := registry.New(nil)
	srv := httptest.NewServer(New(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestListTunnelsEmpty(t *testing.T) {
	reg := registry.New(nil)
	srv := httptest.NewServer(New(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/tunnels")
	if err != nil {
		t.Fatalf("GET /tunnels: %v", err)
	}
	defer resp.Body.Close()

	var views []tunnelView
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("expected no tunnels, got %+v", views)
	}
}

func TestDeleteTunnelNotFound(t *testing.T) {
	reg := registry.New(nil)
	srv := httptest.NewServer(New(reg))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/tunnels/tunnel-ghost1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDeleteTunnelTerminatesAndListReflectsIt(t *testing.T) {
	reg := registry.New(nil)
	session := &fakeSession{}
	snap, err := reg.CreateTunnel("user-1", "sess-1", "203.0.113.1", session, "0.0.0.0", 80, 8080)
	if err != nil {
		t.Fatalf("CreateTunnel: %v", err)
	}

	srv := httptest.NewServer(New(reg))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/tunnels/"+snap.Subdomain, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !session.closed {
		t.Fatal("expected terminated tunnel's session to be closed")
	}

	listResp, err := http.Get(srv.URL + "/tunnels")
	if err != nil {
		t.Fatalf("GET /tunnels: %v", err)
	}
	defer listResp.Body.Close()
	var views []tunnelView
	json.NewDecoder(listResp.Body).Decode(&views)
	if len(views) != 0 {
		t.Fatalf("expected terminated tunnel to be absent from listing, got %+v", views)
	}
}
