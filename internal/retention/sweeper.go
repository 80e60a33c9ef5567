// Package retention deletes canvases that have been idle past their TTL.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/crucial/internal/canvas"
)

// Expirer removes canvases whose last activity is older than ttl. canvas.Store satisfies it.
type Expirer interface {
	DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error)
}

// Config configures the sweeper.
type Config struct {
	TTL time.Duration
	// Schedule is a standard cron expression or descriptor.
	Schedule string
	// Timeout bounds a single sweep. Defaults to one minute.
	Timeout time.Duration
}

// Sweeper runs DeleteExpired on a cron schedule.
type Sweeper struct {
	store   Expirer
	config  Config
	logger  *slog.Logger
	metrics *canvas.Metrics

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the sweeper logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records swept canvases.
func WithMetrics(metrics *canvas.Metrics) Option {
	return func(s *Sweeper) { s.metrics = metrics }
}

// NewSweeper validates cfg and builds a sweeper. It does not start until Start.
func NewSweeper(store Expirer, cfg Config, opts ...Option) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("retention: store is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("retention: ttl must be positive")
	}
	cfg.Schedule = strings.TrimSpace(cfg.Schedule)
	if cfg.Schedule == "" {
		cfg.Schedule = "@hourly"
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("retention: invalid schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}

	s := &Sweeper{store: store, config: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "retention")
	return s, nil
}

// Sweep deletes expired canvases once and returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	start := time.Now()
	removed, err := s.store.DeleteExpired(ctx, s.config.TTL)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return 0, err
	}
	s.metrics.RecordExpired(removed)
	if removed > 0 {
		s.logger.Info("expired canvases removed", "count", removed, "ttl", s.config.TTL, "duration", time.Since(start))
	} else {
		s.logger.Debug("retention sweep found nothing", "ttl", s.config.TTL)
	}
	return removed, nil
}

// Start schedules sweeps until ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.config.Schedule, func() {
		_, _ = s.Sweep(ctx)
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()
	s.cron = c
	s.running = true
	s.logger.Info("retention sweeper started", "schedule", s.config.Schedule, "ttl", s.config.TTL)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts scheduling and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}
