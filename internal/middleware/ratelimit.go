package middleware

import (
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a per-client token bucket for the read-only query surface.
// Buckets refill continuously at requestsPerMin/60 tokens per second and are
// dropped after an idle period so the map cannot grow without bound.
type RateLimiter struct {
	mu             sync.Mutex
	clients        map[string]*bucket
	requestsPerMin int
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter allowing requestsPerMin requests per
// client per minute.
func NewRateLimiter(requestsPerMin int) *RateLimiter {
	return &RateLimiter{
		clients:        make(map[string]*bucket),
		requestsPerMin: requestsPerMin,
	}
}

// Middleware enforces the limit, keyed by remote address.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(r.RemoteAddr) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.clients[client]
	if !ok {
		rl.clients[client] = &bucket{tokens: float64(rl.requestsPerMin) - 1, lastSeen: now}
		rl.prune(now)
		return true
	}

	refill := now.Sub(b.lastSeen).Seconds() * float64(rl.requestsPerMin) / 60.0
	b.tokens += refill
	if b.tokens > float64(rl.requestsPerMin) {
		b.tokens = float64(rl.requestsPerMin)
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// prune drops buckets idle for more than ten minutes. Caller holds the lock.
func (rl *RateLimiter) prune(now time.Time) {
	for client, b := range rl.clients {
		if now.Sub(b.lastSeen) > 10*time.Minute {
			delete(rl.clients, client)
		}
	}
}
