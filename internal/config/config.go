package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the main configuration structure for Crucial.
type Config struct {
	Version   int             `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Canvas    CanvasConfig    `yaml:"canvas"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Retention RetentionConfig `yaml:"retention"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" env:"CRUCIAL_HOST"`
	HTTPPort        int           `yaml:"http_port" env:"CRUCIAL_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"CRUCIAL_CORS_ORIGINS" envSeparator:","`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.HTTPPort)
}

type DatabaseConfig struct {
	// Driver selects the store: "sqlite" or "postgres".
	Driver          string        `yaml:"driver" env:"CRUCIAL_DB_DRIVER"`
	Path            string        `yaml:"path" env:"CRUCIAL_DB_PATH"`
	URL             string        `yaml:"url" env:"CRUCIAL_DATABASE_URL"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	BusyTimeout     time.Duration `yaml:"busy_timeout"`
}

// CanvasConfig holds create defaults and broadcast tuning.
type CanvasConfig struct {
	DefaultWidth      int    `yaml:"default_width" env:"CANVAS_WIDTH"`
	DefaultHeight     int    `yaml:"default_height" env:"CANVAS_HEIGHT"`
	DefaultBackground string `yaml:"default_background" env:"CANVAS_BACKGROUND"`

	// SubscriberBuffer is the per-viewer queue length before a slow viewer is dropped.
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// SchemaDir replaces the built-in action catalogue when set.
	SchemaDir string `yaml:"schema_dir" env:"CANVAS_SCHEMA_DIR"`
}

type AuthConfig struct {
	RequireAPIKey bool          `yaml:"require_api_key" env:"AUTH_REQUIRE_API_KEY"`
	KeysFile      string        `yaml:"keys_file" env:"AUTH_KEYS_FILE"`
	APIKeys       []string      `yaml:"api_keys" env:"CRUCIAL_API_KEYS" envSeparator:","`
	JWTSecret     string        `yaml:"jwt_secret" env:"CRUCIAL_JWT_SECRET"`
	TokenExpiry   time.Duration `yaml:"token_expiry"`
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" env:"CRUCIAL_RATELIMIT_ENABLED"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// RetentionConfig controls the expired canvas sweeper.
type RetentionConfig struct {
	Enabled bool `yaml:"enabled" env:"CRUCIAL_RETENTION_ENABLED"`

	// TTL is measured from the last activity on a canvas.
	TTL time.Duration `yaml:"ttl" env:"CRUCIAL_RETENTION_TTL"`

	// Schedule is a cron expression or descriptor such as "@hourly".
	Schedule string `yaml:"schedule"`
}

type BroadcastConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig enables fan-out across gateway instances.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"CRUCIAL_REDIS_ENABLED"`
	Addr     string `yaml:"addr" env:"CRUCIAL_REDIS_ADDR"`
	Password string `yaml:"password" env:"CRUCIAL_REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
	NodeID   string `yaml:"node_id" env:"CRUCIAL_NODE_ID"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"CRUCIAL_LOG_LEVEL"`
	Format string `yaml:"format" env:"CRUCIAL_LOG_FORMAT"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Server: ServerConfig{
			Host:            "0.0.0.0",
			HTTPPort:        8000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Path:            "crucial.db",
			MaxConnections:  25,
			ConnMaxLifetime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
		},
		Canvas: CanvasConfig{
			DefaultWidth:      800,
			DefaultHeight:     600,
			DefaultBackground: "#000000",
			SubscriberBuffer:  64,
		},
		Auth: AuthConfig{
			RequireAPIKey: true,
			KeysFile:      "keys.json",
			TokenExpiry:   24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			BurstSize:         40,
		},
		Retention: RetentionConfig{
			TTL:      30 * 24 * time.Hour,
			Schedule: "@hourly",
		},
		Broadcast: BroadcastConfig{
			Redis: RedisConfig{Addr: "localhost:6379"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			ServiceName:  "crucial",
			SamplingRate: 1.0,
		},
	}
}

// Load reads the configuration file at path, applies environment overrides and
// validates the result. An empty path loads defaults plus environment.
func Load(path string) (*Config, error) {
	raw := map[string]any{}
	if strings.TrimSpace(path) != "" {
		loaded, err := LoadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		raw = loaded
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	normalize(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	cfg.Auth.KeysFile = strings.TrimSpace(cfg.Auth.KeysFile)

	keys := cfg.Auth.APIKeys[:0]
	for _, key := range cfg.Auth.APIKeys {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	cfg.Auth.APIKeys = keys
}
