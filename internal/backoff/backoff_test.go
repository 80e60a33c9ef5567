package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicyDelay(t *testing.T) {
	policy := Policy{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.5}
	tests := []struct {
		attempt int
		random  float64
		want    time.Duration
	}{
		{0, 0, 100 * time.Millisecond},
		{1, 0, 100 * time.Millisecond},
		{2, 0, 200 * time.Millisecond},
		{3, 0, 400 * time.Millisecond},
		{3, 1, 600 * time.Millisecond},
		{10, 0, time.Second},
	}
	for _, tt := range tests {
		if got := policy.delay(tt.attempt, tt.random); got != tt.want {
			t.Errorf("delay(%d, %v) = %v, want %v", tt.attempt, tt.random, got, tt.want)
		}
	}
}

func fastPolicy() Policy {
	return Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	value, err := Retry(context.Background(), fastPolicy(), 5, func(attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if value != "ok" || calls != 3 {
		t.Fatalf("unexpected value=%q calls=%d", value, calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	cause := errors.New("down")
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(), 3, func(int) (int, error) {
		calls++
		return 0, cause
	})
	if !errors.Is(err, ErrMaxAttemptsExhausted) || !errors.Is(err, cause) {
		t.Fatalf("expected exhausted error wrapping cause, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryStopsOnPermanent(t *testing.T) {
	cause := errors.New("bad request")
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(), 5, func(int) (int, error) {
		calls++
		return 0, Permanent(cause)
	})
	if err != cause || calls != 1 {
		t.Fatalf("expected immediate permanent failure, got err=%v calls=%d", err, calls)
	}
	if Permanent(nil) != nil {
		t.Fatalf("Permanent(nil) should be nil")
	}
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, fastPolicy(), 3, func(int) (int, error) {
		t.Fatalf("fn should not run with a cancelled context")
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Fatalf("Sleep(0) error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("Sleep did not return on cancellation")
	}
}
