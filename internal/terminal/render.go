// Package terminal renders the device-flow activation banner, spinner, and
// success/failure boxes onto an SSH interactive channel. Output degrades to
// plain lines when the peer did not request a pty.
package terminal

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// spinnerInterval throttles the animation so redrawing it doesn't flood the
// channel.
const spinnerInterval = 100 * time.Millisecond

var spinnerFrames = []string{"|", "/", "-", "\\"}

const boxWidth = 50

// RenderBanner prints the activation banner: a framed box containing the
// authorization URL and code when isPTY, or two plain lines otherwise.
func RenderBanner(w io.Writer, isPTY bool, activationURL, code string) {
	if !isPTY {
		fmt.Fprintf(w, "To authorize this tunnel, open: %s\r\n", activationURL)
		fmt.Fprintf(w, "Enter code: %s\r\n", code)
		return
	}

	lines := []string{
		"Authorize this tunnel",
		"",
		activationURL,
		"",
		"Code: " + code,
	}
	writeBox(w, lines)
}

// RenderSuccess prints the post-authorization confirmation.
func RenderSuccess(w io.Writer, isPTY bool, userName string) {
	msg := fmt.Sprintf("Authorized as %s", userName)
	if !isPTY {
		fmt.Fprintf(w, "%s\r\n", msg)
		return
	}
	writeBox(w, []string{msg})
}

// RenderFailure prints an authorization failure/error box.
func RenderFailure(w io.Writer, isPTY bool, reason string) {
	msg := fmt.Sprintf("Authorization failed: %s", reason)
	if !isPTY {
		fmt.Fprintf(w, "%s\r\n", msg)
		return
	}
	writeBox(w, []string{msg})
}

func writeBox(w io.Writer, lines []string) {
	top := "+" + strings.Repeat("-", boxWidth-2) + "+\r\n"
	io.WriteString(w, top)
	for _, line := range lines {
		io.WriteString(w, padLine(line))
	}
	io.WriteString(w, top)
}

func padLine(line string) string {
	pad := boxWidth - 4 - len(line)
	if pad < 0 {
		pad = 0
		line = line[:boxWidth-4]
	}
	return "| " + line + strings.Repeat(" ", pad) + " |\r\n"
}

// Spinner drives a throttled animation on w until ctx is canceled. On a
// non-pty peer it renders nothing: a frame-by-frame spinner is meaningless
// without cursor control, and the caller already emitted plain status lines.
func Spinner(ctx context.Context, w io.Writer, isPTY bool) {
	if !isPTY {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()

	i := 0
	for {
		select {
		case <-ctx.Done():
			io.WriteString(w, "\r \r")
			return
		case <-ticker.C:
			frame := spinnerFrames[i%len(spinnerFrames)]
			fmt.Fprintf(w, "\r%s Waiting for authorization...", frame)
			i++
		}
	}
}
