package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllow_WithinBudget(t *testing.T) {
	rl := NewRateLimiter(5)
	for i := 0; i < 5; i++ {
		if !rl.allow("10.0.0.1:1234") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.allow("10.0.0.1:1234") {
		t.Error("sixth request should be rejected")
	}
}

func TestAllow_PerClientBuckets(t *testing.T) {
	rl := NewRateLimiter(1)
	if !rl.allow("10.0.0.1:1234") {
		t.Fatal("first client should be allowed")
	}
	if !rl.allow("10.0.0.2:1234") {
		t.Error("a different client has its own bucket")
	}
	if rl.allow("10.0.0.1:1234") {
		t.Error("first client is out of tokens")
	}
}

func TestAllow_Refills(t *testing.T) {
	rl := NewRateLimiter(60) // one token per second
	for i := 0; i < 60; i++ {
		rl.allow("c")
	}
	if rl.allow("c") {
		t.Fatal("bucket should be empty")
	}

	// Backdate the bucket instead of sleeping.
	rl.mu.Lock()
	rl.clients["c"].lastSeen = time.Now().Add(-2 * time.Second)
	rl.mu.Unlock()

	if !rl.allow("c") {
		t.Error("bucket should refill over time")
	}
}

func TestMiddleware_Returns429(t *testing.T) {
	rl := NewRateLimiter(1)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", rec.Code)
	}
}

func TestPrune_DropsIdleClients(t *testing.T) {
	rl := NewRateLimiter(10)
	rl.allow("old")
	rl.mu.Lock()
	rl.clients["old"].lastSeen = time.Now().Add(-11 * time.Minute)
	rl.mu.Unlock()

	rl.allow("fresh")

	rl.mu.Lock()
	_, stillThere := rl.clients["old"]
	rl.mu.Unlock()
	if stillThere {
		t.Error("idle bucket should have been pruned")
	}
}
