package terminal

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestRenderBannerNonPTYDegradesToPlainLines(t *testing.T) {
	var buf bytes.Buffer
	RenderBanner(&buf, false, "https://example.com/activate", "AB12-CD34")

	out := buf.String()
	if !strings.Contains(out, "https://example.com/activate") {
		t.Fatalf("expected url in output, got %q", out)
	}
	if !strings.Contains(out, "AB12-CD34") {
		t.Fatalf("expected code in output, got %q", out)
	}
	if strings.Contains(out, "+--") {
		t.Fatalf("expected no box framing for non-pty output, got %q", out)
	}
}

func TestRenderBannerPTYFramesContent(t *testing.T) {
	var buf bytes.Buffer
	RenderBanner(&buf, true, "https://example.com/activate", "AB12-CD34")

	out := buf.String()
	if !strings.Contains(out, "+--") {
		t.Fatalf("expected box framing for pty output, got %q", out)
	}
	if !strings.Contains(out, "AB12-CD34") {
		t.Fatalf("expected code in framed output, got %q", out)
	}
}

func TestRenderSuccessAndFailure(t *testing.T) {
	var buf bytes.Buffer
	RenderSuccess(&buf, false, "alice")
	if !strings.Contains(buf.String(), "alice") {
		t.Fatalf("expected user name in success output, got %q", buf.String())
	}

	buf.Reset()
	RenderFailure(&buf, false, "activation code expired")
	if !strings.Contains(buf.String(), "expired") {
		t.Fatalf("expected reason in failure output, got %q", buf.String())
	}
}

func TestSpinnerStopsOnContextCancel(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		Spinner(ctx, &buf, true)
	}()

	time.Sleep(250 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("spinner did not stop after context cancellation")
	}
	if buf.Len() == 0 {
		t.Fatal("expected spinner to have written at least one frame")
	}
}

func TestSpinnerNonPTYWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	Spinner(ctx, &buf, false)
	if buf.Len() != 0 {
		t.Fatalf("expected no output for non-pty spinner, got %q", buf.String())
	}
}
