package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	flightvars "github.com/eugener/flightvars/internal"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  addr: ":9090"
  read_timeout: 10s
database:
  dsn: ":memory:"
worker:
  poll_interval: 50ms
  device: store
  watch:
    - kind: lvar
      name: GEAR_HANDLE
webhooks:
  endpoints:
    - name: panel
      url: https://panel.example.com/hook
      secret: s3cret
      vars:
        - kind: offset
          name: "0x0BC8"
          size: 2
vars:
  - kind: lvar
    name: GEAR_HANDLE
    value: true
  - kind: offset
    name: "0x0BC8"
    size: 2
    value: 0
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if cfg.Database.DSN != ":memory:" {
		t.Errorf("dsn = %q, want %q", cfg.Database.DSN, ":memory:")
	}
	if cfg.Worker.PollInterval != 50*time.Millisecond {
		t.Errorf("poll_interval = %v, want 50ms", cfg.Worker.PollInterval)
	}
	if cfg.Worker.Device != "store" {
		t.Errorf("device = %q, want store", cfg.Worker.Device)
	}
	if len(cfg.Webhooks.Endpoints) != 1 {
		t.Fatalf("webhooks count = %d, want 1", len(cfg.Webhooks.Endpoints))
	}
	if cfg.Webhooks.Endpoints[0].Vars[0].Size != 2 {
		t.Errorf("webhook var size = %d, want 2", cfg.Webhooks.Endpoints[0].Vars[0].Size)
	}
	if len(cfg.Vars) != 2 {
		t.Fatalf("vars count = %d, want 2", len(cfg.Vars))
	}
	v, val, err := cfg.Vars[0].Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if v != flightvars.LVar("GEAR_HANDLE") || !val.Equal(flightvars.Bool(true)) {
		t.Errorf("vars[0] = %v=%v", v, val)
	}
	watch, err := cfg.WatchVars()
	if err != nil {
		t.Fatal(err)
	}
	if len(watch) != 1 || watch[0] != flightvars.LVar("GEAR_HANDLE") {
		t.Errorf("watch = %v", watch)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestExpandEnv(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv
	t.Setenv("TEST_WRITE_KEY", "fv-secret-123")

	cfg, err := Load(writeConfig(t, "auth:\n  write_key: ${TEST_WRITE_KEY}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.WriteKey != "fv-secret-123" {
		t.Errorf("write_key = %q, want %q", cfg.Auth.WriteKey, "fv-secret-123")
	}

	// Unset variables are left as written.
	result := expandEnv([]byte("key: ${FLIGHTVARS_TEST_UNSET_VAR}"))
	if string(result) != "key: ${FLIGHTVARS_TEST_UNSET_VAR}" {
		t.Errorf("expandEnv = %q", string(result))
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr = %q, want %q", cfg.Server.Addr, ":8080")
	}
	if cfg.Database.DSN != "flightvars.db" {
		t.Errorf("default dsn = %q, want %q", cfg.Database.DSN, "flightvars.db")
	}
	if cfg.Worker.PollInterval != 100*time.Millisecond {
		t.Errorf("default poll_interval = %v", cfg.Worker.PollInterval)
	}
	if !cfg.Journal.Enabled {
		t.Error("journal disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func(t *testing.T) *Config {
		cfg, err := Load(writeConfig(t, `{}`))
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero poll interval", func(c *Config) { c.Worker.PollInterval = 0 }, "poll_interval"},
		{"unknown device", func(c *Config) { c.Worker.Device = "serial" }, "worker.device"},
		{"bad watch var", func(c *Config) { c.Worker.Watch = []VarRef{{Kind: "offset", Name: "0x10", Size: 3}} }, "worker.watch"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"sample rate", func(c *Config) { c.Telemetry.Tracing.SampleRate = 2 }, "sample_rate"},
		{"webhook url", func(c *Config) {
			c.Webhooks.Endpoints = []WebhookEntry{{Name: "a", URL: "ftp://x", Vars: []VarRef{{Kind: "lvar", Name: "X"}}}}
		}, "invalid url"},
		{"webhook duplicate", func(c *Config) {
			e := WebhookEntry{Name: "a", URL: "http://x", Vars: []VarRef{{Kind: "lvar", Name: "X"}}}
			c.Webhooks.Endpoints = []WebhookEntry{e, e}
		}, "duplicate"},
		{"webhook without vars", func(c *Config) {
			c.Webhooks.Endpoints = []WebhookEntry{{Name: "a", URL: "http://x"}}
		}, "no vars"},
		{"seed value", func(c *Config) {
			c.Vars = []VarEntry{{VarRef: VarRef{Kind: "lvar", Name: "X"}, Value: []any{1}}}
		}, "vars[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := (LogConfig{Level: tt.in}).SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
