// Package ratelimit throttles canvas mutations per caller.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config configures rate limiting behavior.
type Config struct {
	// RequestsPerSecond is the sustained rate allowed per key.
	RequestsPerSecond float64
	// BurstSize is the maximum number of requests allowed in a burst.
	BurstSize int
	Enabled   bool
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 20,
		BurstSize:         40,
		Enabled:           true,
	}
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter manages token buckets for many keys.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  Config
	maxKeys int
	idle    time.Duration
	now     func() time.Time
}

// NewLimiter creates a new keyed limiter.
func NewLimiter(config Config) *Limiter {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 10
	}
	if config.BurstSize <= 0 {
		config.BurstSize = int(config.RequestsPerSecond * 2)
	}
	return &Limiter{
		entries: make(map[string]*entry),
		config:  config,
		maxKeys: 10000,
		idle:    10 * time.Minute,
		now:     time.Now,
	}
}

// Enabled reports whether the limiter throttles at all.
func (l *Limiter) Enabled() bool {
	return l != nil && l.config.Enabled
}

// Allow reports whether a request for key may proceed and consumes a token if so.
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}
	return l.get(key).AllowN(l.now(), 1)
}

// WaitTime returns how long until key would be allowed one more request.
func (l *Limiter) WaitTime(key string) time.Duration {
	if !l.Enabled() {
		return 0
	}
	now := l.now()
	reservation := l.get(key).ReserveN(now, 1)
	defer reservation.CancelAt(now)
	return reservation.DelayFrom(now)
}

// Reset forgets the bucket for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.entries[key]; ok {
		e.lastSeen = now
		return e.limiter
	}
	if len(l.entries) >= l.maxKeys {
		l.prune(now)
	}
	e := &entry{
		limiter:  rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.BurstSize),
		lastSeen: now,
	}
	l.entries[key] = e
	return e.limiter
}

// prune drops keys idle for longer than the idle window. Must be called with the lock held.
func (l *Limiter) prune(now time.Time) {
	for key, e := range l.entries {
		if now.Sub(e.lastSeen) > l.idle {
			delete(l.entries, key)
		}
	}
}

// CompositeKey joins key parts with ":".
func CompositeKey(parts ...string) string {
	key := ""
	for i, part := range parts {
		if i > 0 {
			key += ":"
		}
		key += part
	}
	return key
}
