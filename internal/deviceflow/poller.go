package deviceflow

import (
	"context"
	"log"
	"time"

	"github.com/tunnelgate/tunnelgate/internal/logutil"
	"github.com/tunnelgate/tunnelgate/internal/tunnelerr"
)

// pollInterval is the steady-state cadence of Check Code calls while a
// session waits for authorization.
const pollInterval = 2 * time.Second

// backoff schedule applied only to consecutive transport errors; normal
// Pending responses always wait exactly pollInterval.
var backoffSchedule = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// Outcome is the terminal result of a poll loop.
type Outcome struct {
	Verified bool
	UserID   string
	UserName string
}

// Poll drives the Check Code polling loop for a single activation code
// until it is verified, expires, is reported not found, or ctx is canceled
// — the caller cancels ctx the moment the owning SSH session closes, so the
// loop never outlives it.
//
// Transport errors are retried with capped exponential backoff and do not
// themselves end the loop; they only do so once expiresAt has passed.
func (c *Client) Poll(ctx context.Context, code, sessionID string, expiresAt time.Time) (Outcome, error) {
	backoffIdx := 0

	for {
		if time.Now().After(expiresAt) {
			return Outcome{}, tunnelerr.New(tunnelerr.AuthorizationError, "activation code expired")
		}

		result, err := c.CheckCode(ctx, code)
		if err != nil {
			log.Printf("deviceflow: check code %s failed: %v", logutil.SanitizeForLog(code), err)
			wait := backoffSchedule[backoffIdx]
			if backoffIdx < len(backoffSchedule)-1 {
				backoffIdx++
			}
			if !sleepOrDone(ctx, wait) {
				return Outcome{}, ctx.Err()
			}
			continue
		}
		backoffIdx = 0

		switch result.Status {
		case StatusVerified:
			return Outcome{Verified: true, UserID: result.UserID, UserName: result.UserName}, nil
		case StatusExpired:
			return Outcome{}, tunnelerr.New(tunnelerr.AuthorizationError, "activation code expired")
		case StatusNotFound:
			return Outcome{}, tunnelerr.New(tunnelerr.AuthorizationError, "activation code not found")
		case StatusPending:
			if !sleepOrDone(ctx, pollInterval) {
				return Outcome{}, ctx.Err()
			}
		default:
			return Outcome{}, tunnelerr.New(tunnelerr.AuthorizationError, "unrecognized check-code status: "+string(result.Status))
		}
	}
}

// sleepOrDone waits for d or ctx cancellation, whichever comes first.
// Returns false if ctx was canceled.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
