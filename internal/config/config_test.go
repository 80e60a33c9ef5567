package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 8000 || cfg.Database.Driver != "sqlite" || !cfg.Auth.RequireAPIKey {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Canvas.DefaultWidth != 800 || cfg.Canvas.DefaultHeight != 600 || cfg.Canvas.DefaultBackground != "#000000" {
		t.Fatalf("unexpected canvas defaults %+v", cfg.Canvas)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "crucial.yaml", `
server:
  host: 0.0.0.0
  extra: true
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, "crucial.yaml", `
version: 1
server:
  http_port: 9000
  read_timeout: 3s
database:
  driver: Postgres
  url: postgres://localhost/crucial
canvas:
  default_background: "#000"
retention:
  enabled: true
  ttl: 72h
  schedule: "*/15 * * * *"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 9000 || cfg.Server.ReadTimeout != 3*time.Second {
		t.Fatalf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("expected driver to be normalized, got %q", cfg.Database.Driver)
	}
	if cfg.Canvas.DefaultWidth != 800 || cfg.Canvas.DefaultBackground != "#000" {
		t.Fatalf("expected file values over defaults, got %+v", cfg.Canvas)
	}
	if cfg.Retention.TTL != 72*time.Hour {
		t.Fatalf("expected ttl 72h, got %v", cfg.Retention.TTL)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "base.json5"), []byte(`{
  // shared settings
  server: { host: "127.0.0.1", http_port: 7000 },
  canvas: { default_width: 1024 },
}`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	path := filepath.Join(dir, "crucial.yaml")
	if err := os.WriteFile(path, []byte(`
$include: base.json5
server:
  http_port: 7100
`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.HTTPPort != 7100 {
		t.Fatalf("expected include merged under the main file, got %+v", cfg.Server)
	}
	if cfg.Canvas.DefaultWidth != 1024 {
		t.Fatalf("expected included canvas width, got %d", cfg.Canvas.DefaultWidth)
	}
}

func TestLoadRawDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("$include: b.yaml\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(b, []byte("$include: [a.yaml]\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	_, err := LoadRaw(a)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected include cycle error, got %v", err)
	}
}

func TestLoadAppliesEnvironment(t *testing.T) {
	t.Setenv("CRUCIAL_PORT", "9100")
	t.Setenv("CANVAS_WIDTH", "320")
	t.Setenv("AUTH_REQUIRE_API_KEY", "false")
	t.Setenv("CRUCIAL_API_KEYS", "alpha, beta,")
	t.Setenv("CRUCIAL_DB_PATH", "/tmp/canvas.db")

	path := writeConfig(t, "crucial.yaml", `
server:
  http_port: 9000
auth:
  require_api_key: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 9100 {
		t.Fatalf("expected env to override file port, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Canvas.DefaultWidth != 320 || cfg.Database.Path != "/tmp/canvas.db" {
		t.Fatalf("expected env overrides, got %+v %+v", cfg.Canvas, cfg.Database)
	}
	if cfg.Auth.RequireAPIKey {
		t.Fatalf("expected AUTH_REQUIRE_API_KEY=false to win")
	}
	if !reflect.DeepEqual(cfg.Auth.APIKeys, []string{"alpha", "beta"}) {
		t.Fatalf("unexpected api keys %q", cfg.Auth.APIKeys)
	}
}

func TestLoadRejectsBadEnvironment(t *testing.T) {
	t.Setenv("CRUCIAL_PORT", "not-a-port")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}

func TestLoadExpandsVariables(t *testing.T) {
	t.Setenv("CRUCIAL_TEST_SECRET", "s3cret")
	path := writeConfig(t, "crucial.yaml", `
auth:
  jwt_secret: ${CRUCIAL_TEST_SECRET}
  keys_file: ${CRUCIAL_TEST_UNSET:-/etc/crucial/keys.json}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "s3cret" || cfg.Auth.KeysFile != "/etc/crucial/keys.json" {
		t.Fatalf("unexpected auth config %+v", cfg.Auth)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		contain string
	}{
		{"port", func(c *Config) { c.Server.HTTPPort = 0 }, "http_port"},
		{"driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"postgres url", func(c *Config) { c.Database.Driver = "postgres" }, "database.url"},
		{"buffer", func(c *Config) { c.Canvas.SubscriberBuffer = 0 }, "subscriber_buffer"},
		{"ratelimit", func(c *Config) { c.RateLimit.Enabled = true; c.RateLimit.BurstSize = 0 }, "ratelimit"},
		{"schedule", func(c *Config) { c.Retention.Enabled = true; c.Retention.Schedule = "whenever" }, "retention.schedule"},
		{"redis", func(c *Config) { c.Broadcast.Redis.Enabled = true; c.Broadcast.Redis.Addr = "" }, "redis.addr"},
		{"level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"sampling", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.SamplingRate = 2 }, "sampling_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.contain) {
				t.Fatalf("expected %q in %v", tt.contain, err)
			}
		})
	}

	if err := Validate(Default()); err != nil {
		t.Fatalf("Validate(Default()) error = %v", err)
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	for _, field := range []string{"http_port", "require_api_key", "subscriber_buffer"} {
		if !strings.Contains(string(data), field) {
			t.Fatalf("expected schema to mention %q", field)
		}
	}
}

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
