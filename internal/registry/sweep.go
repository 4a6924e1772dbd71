package registry

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// StartSweeper schedules the registry's periodic cleanup on the given cron
// instance: expired disconnect-grace tunnels are dropped, pending tunnels
// past their activation deadline are canceled and dropped, and idle
// per-IP rate-limit buckets are evicted. Returns the cron EntryID so the
// caller can stop it on shutdown. The job runs once the cron instance is
// started, whether before or after this call (cmd/tunnelgated/main.go
// schedules it first and then starts cron, and owns its lifecycle).
func (r *Registry) StartSweeper(c *cron.Cron, schedule string) (cron.EntryID, error) {
	return c.AddFunc(schedule, r.sweep)
}

func (r *Registry) sweep() {
	now := time.Now()

	var expiredTunnels []string
	var expiredPending []*PendingTunnel

	r.mu.Lock()
	for subdomain, t := range r.tunnels {
		if t.State == StateDisconnected && now.After(t.GraceDeadline) {
			expiredTunnels = append(expiredTunnels, subdomain)
			delete(r.tunnels, subdomain)
		}
	}
	for code, pt := range r.pending {
		if now.After(pt.ExpiresAt) {
			expiredPending = append(expiredPending, pt)
			delete(r.pending, code)
			delete(r.pendingBySession, pt.SessionID)
		}
	}
	r.mu.Unlock()

	for _, subdomain := range expiredTunnels {
		log.Printf("registry: grace window elapsed, dropping tunnel %s", subdomain)
		go r.hooks.NotifyUnregistered(subdomain)
	}
	for _, pt := range expiredPending {
		log.Printf("registry: pending tunnel for session %s expired unclaimed", pt.SessionID)
		if pt.cancel != nil {
			pt.cancel()
		}
	}

	if evicted := r.limiter.evictIdle(now, rateLimitIdleTTL); evicted > 0 {
		log.Printf("registry: evicted %d idle rate-limit buckets", evicted)
	}
}
