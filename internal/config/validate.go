package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed: " + strings.Join(e.Issues, "; ")
}

// Validate checks cfg for inconsistent or out-of-range values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ValidationError{Issues: []string{"config is nil"}}
	}
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if err := ValidateVersion(cfg.Version); err != nil {
		add("version: %v", err)
	}
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		add("server.http_port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.Database.Path) == "" {
			add("database.path is required for the sqlite driver")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Database.URL) == "" {
			add("database.url is required for the postgres driver")
		}
	default:
		add("database.driver must be sqlite or postgres, got %q", cfg.Database.Driver)
	}

	if cfg.Canvas.DefaultWidth <= 0 || cfg.Canvas.DefaultHeight <= 0 {
		add("canvas.default_width and canvas.default_height must be positive")
	}
	if cfg.Canvas.SubscriberBuffer <= 0 {
		add("canvas.subscriber_buffer must be positive")
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.RequestsPerSecond <= 0 || cfg.RateLimit.BurstSize <= 0) {
		add("ratelimit.requests_per_second and ratelimit.burst_size must be positive when enabled")
	}

	if cfg.Retention.Enabled {
		if cfg.Retention.TTL <= 0 {
			add("retention.ttl must be positive when enabled")
		}
		if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
			add("retention.schedule: %v", err)
		}
	}

	if cfg.Broadcast.Redis.Enabled && strings.TrimSpace(cfg.Broadcast.Redis.Addr) == "" {
		add("broadcast.redis.addr is required when redis is enabled")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level must be debug, info, warn or error, got %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		add("logging.format must be json or text, got %q", cfg.Logging.Format)
	}

	if cfg.Tracing.Enabled && (cfg.Tracing.SamplingRate < 0 || cfg.Tracing.SamplingRate > 1) {
		add("tracing.sampling_rate must be between 0 and 1")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
