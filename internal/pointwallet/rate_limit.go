package pointwallet

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/twitchtv/twirp"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimitSnapshot struct {
	enabled bool
	rpm     int
	burst   int
}

// rateLimiter throttles commands per host. Limits follow the live config.
type rateLimiter struct {
	mu      sync.Mutex
	store   *ConfigStore
	limit   rate.Limit
	burst   int
	current rateLimitSnapshot
	ready   bool
	entries map[string]*limiterEntry
}

func newRateLimiter(store *ConfigStore) *rateLimiter {
	if store == nil {
		return nil
	}
	return &rateLimiter{
		store:   store,
		entries: map[string]*limiterEntry{},
	}
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allowRequest(r) {
			renderErr(w, twirp.NewError(twirp.ResourceExhausted, "too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowRequest spends one token for the caller of r. Websocket commands are
// charged against the upgrade request, so they share the HTTP budget.
func (rl *rateLimiter) allowRequest(r *http.Request) bool {
	if rl == nil {
		return true
	}
	snap := snapshotFromConfig(rl.store.Get())
	if !snap.enabled {
		return true
	}
	rl.refreshIfNeeded(snap)

	client := clientKey(r)
	if !rl.allow(client) {
		slog.Warn("rate limit exceeded", "client", client, "path", r.URL.Path)
		return false
	}
	return true
}

// clientKey prefers the authenticated subject over the remote address.
func clientKey(r *http.Request) string {
	if sub := subjectFromContext(r.Context()); sub != "" {
		return "sub:" + sub
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func snapshotFromConfig(cfg *Config) rateLimitSnapshot {
	return rateLimitSnapshot{
		enabled: cfg.RateLimit.EnabledOrDefault(),
		rpm:     cfg.RateLimit.RequestsPerMinute,
		burst:   cfg.RateLimit.Burst,
	}
}

func (rl *rateLimiter) refreshIfNeeded(next rateLimitSnapshot) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.ready && rl.current == next {
		return
	}
	rl.limit = rate.Limit(float64(next.rpm) / 60.0)
	rl.burst = next.burst
	rl.current = next
	rl.ready = true
	// Limits changed; start every client afresh.
	rl.entries = map[string]*limiterEntry{}
	slog.Info("rate limiter configuration updated", "rpm", next.rpm, "burst", next.burst)
}

func (rl *rateLimiter) allow(client string) bool {
	now := time.Now().UTC()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.entries[client]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.entries[client] = entry
	}
	entry.lastSeen = now

	if len(rl.entries) > 1024 {
		cutoff := now.Add(-10 * time.Minute)
		for k, v := range rl.entries {
			if v.lastSeen.Before(cutoff) {
				delete(rl.entries, k)
			}
		}
	}

	return entry.limiter.Allow()
}
