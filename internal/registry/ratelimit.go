package registry

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// defaultAttemptsPerMinute is the steady-state connection attempt budget per
// source IP. Bursts up to the same size are allowed so a client retrying a
// handful of times immediately after a blip isn't punished.
const defaultAttemptsPerMinute = 30

// rateLimitIdleTTL is how long a per-IP bucket can go untouched before the
// periodic sweep drops it. Chosen generously relative to the one-minute
// window the bucket itself enforces, so a legitimately slow reconnect never
// gets its history wiped out from under it.
const rateLimitIdleTTL = 10 * time.Minute

// ipRateLimiter keeps one token-bucket limiter per source IP, plus the time
// it was last consulted. The periodic sweep calls evictIdle to drop buckets
// for IPs that haven't connected in a while, so a long-running process
// doesn't accumulate one entry per distinct IP it has ever seen.
type ipRateLimiter struct {
	mu         sync.Mutex
	entries    map[string]*rateLimiterEntry
	ratePerMin int
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPRateLimiter(perMinute int) *ipRateLimiter {
	return &ipRateLimiter{
		entries:    make(map[string]*rateLimiterEntry),
		ratePerMin: perMinute,
	}
}

func (l *ipRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	e, ok := l.entries[ip]
	if !ok {
		e = &rateLimiterEntry{limiter: rate.NewLimiter(rate.Limit(float64(l.ratePerMin)/60.0), l.ratePerMin)}
		l.entries[ip] = e
	}
	e.lastSeen = time.Now()
	lim := e.limiter
	l.mu.Unlock()

	return lim.Allow()
}

// evictIdle drops every bucket whose IP hasn't been seen since idleTTL ago.
func (l *ipRateLimiter) evictIdle(now time.Time, idleTTL time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for ip, e := range l.entries {
		if now.Sub(e.lastSeen) >= idleTTL {
			delete(l.entries, ip)
			evicted++
		}
	}
	return evicted
}
