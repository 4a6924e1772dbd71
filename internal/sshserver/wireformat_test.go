package sshserver

import (
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestTCPIPForwardRequestRoundTrip(t *testing.T) {
	in := tcpipForwardRequest{BindAddr: "0.0.0.0", BindPort: 80}
	var out tcpipForwardRequest
	if err := ssh.Unmarshal(ssh.Marshal(&in), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestTCPIPForwardReplyRoundTrip(t *testing.T) {
	in := tcpipForwardReply{BoundPort: 8080}
	var out tcpipForwardReply
	if err := ssh.Unmarshal(ssh.Marshal(&in), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestForwardedTCPPayloadRoundTrip(t *testing.T) {
	in := forwardedTCPPayload{Addr: "0.0.0.0", Port: 80, OriginAddr: "203.0.113.9", OriginPort: 55221}
	var out forwardedTCPPayload
	if err := ssh.Unmarshal(ssh.Marshal(&in), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}
