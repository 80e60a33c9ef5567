package ratelimit

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiter_Allow(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 5, Enabled: true})

	for i := 0; i < 5; i++ {
		if !limiter.Allow("user1") {
			t.Errorf("request %d should be allowed", i)
		}
	}
	if limiter.Allow("user1") {
		t.Error("request after burst should be denied")
	}
	if !limiter.Allow("user2") {
		t.Error("user2 should have its own bucket")
	}
}

func TestLimiter_Refill(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 100, BurstSize: 2, Enabled: true})
	limiter.Allow("k")
	limiter.Allow("k")
	if limiter.Allow("k") {
		t.Error("should be denied after exhausting tokens")
	}
	time.Sleep(50 * time.Millisecond)
	if !limiter.Allow("k") {
		t.Error("should be allowed after refill")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1, Enabled: false})
	for i := 0; i < 100; i++ {
		if !limiter.Allow("user1") {
			t.Fatal("disabled limiter should allow all requests")
		}
	}
	if limiter.WaitTime("user1") != 0 {
		t.Fatal("disabled limiter should never wait")
	}
	var nilLimiter *Limiter
	if !nilLimiter.Allow("x") {
		t.Fatal("nil limiter should allow")
	}
}

func TestLimiter_WaitTime(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 1, Enabled: true})
	if wait := limiter.WaitTime("k"); wait != 0 {
		t.Errorf("wait with tokens = %v, want 0", wait)
	}
	limiter.Allow("k")
	wait := limiter.WaitTime("k")
	if wait <= 0 || wait > 150*time.Millisecond {
		t.Errorf("wait after exhausting = %v, want ~100ms", wait)
	}
	// WaitTime must not consume the token it reports on.
	if again := limiter.WaitTime("k"); again > 150*time.Millisecond {
		t.Errorf("second WaitTime() = %v, expected reservation to be cancelled", again)
	}
}

func TestLimiter_ResetAndPrune(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1, Enabled: true})
	limiter.Allow("k")
	limiter.Reset("k")
	if !limiter.Allow("k") {
		t.Fatal("expected fresh bucket after Reset")
	}

	now := time.Now()
	limiter.now = func() time.Time { return now }
	limiter.maxKeys = 3
	for i := 0; i < 3; i++ {
		limiter.Allow(fmt.Sprintf("old-%d", i))
	}
	now = now.Add(time.Hour)
	limiter.Allow("fresh")
	if limiter.Len() != 1 {
		t.Fatalf("expected idle keys to be pruned, have %d", limiter.Len())
	}
}

func TestCompositeKey(t *testing.T) {
	tests := []struct {
		parts []string
		want  string
	}{
		{[]string{"a"}, "a"},
		{[]string{"a", "b"}, "a:b"},
		{[]string{}, ""},
	}
	for _, tt := range tests {
		if got := CompositeKey(tt.parts...); got != tt.want {
			t.Errorf("CompositeKey(%v) = %q, want %q", tt.parts, got, tt.want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 2, Enabled: true})
	handler := Middleware(limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/canvas", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
			t.Fatal("expected Retry-After header")
		}
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	req := httptest.NewRequest(http.MethodPost, "/canvas", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected other client to pass, got %d", rec.Code)
	}
}
