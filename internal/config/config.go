// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	flightvars "github.com/eugener/flightvars/internal"
)

// Config is the top-level bridge configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Worker    WorkerConfig    `yaml:"worker"`
	Cache     CacheConfig     `yaml:"cache"`
	Journal   JournalConfig   `yaml:"journal"`
	Webhooks  WebhookConfig   `yaml:"webhooks"`
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
	Vars      []VarEntry      `yaml:"vars"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	KeepAlive       time.Duration `yaml:"keep_alive"`       // SSE keep-alive interval
	WriteRateLimit  int64         `yaml:"write_rate_limit"` // writes per minute per client, 0 = unlimited
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// WorkerConfig controls the bridge actor.
type WorkerConfig struct {
	Name         string        `yaml:"name"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Device       string        `yaml:"device"` // "memory" or "store"
	Watch        []VarRef      `yaml:"watch"`  // polled even without observers
}

// CacheConfig holds last-value cache settings.
type CacheConfig struct {
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"` // 0 = never expire
}

// JournalConfig holds change journal settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Retention     time.Duration `yaml:"retention"` // 0 = keep forever
	PruneInterval time.Duration `yaml:"prune_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// WebhookConfig holds outbound change notification settings.
type WebhookConfig struct {
	QueueSize       int            `yaml:"queue_size"`
	BreakerFailures int            `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration  `yaml:"breaker_timeout"`
	DNSRefresh      time.Duration  `yaml:"dns_refresh"`
	Endpoints       []WebhookEntry `yaml:"endpoints"`
}

// WebhookEntry is a single webhook receiver.
type WebhookEntry struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
	Vars    []VarRef      `yaml:"vars"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	WriteKey string `yaml:"write_key"` // bearer key for writes; empty disables the check
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// VarRef names a variable in the config file.
type VarRef struct {
	Kind string `yaml:"kind"`
	Name string `yaml:"name"`
	Size int    `yaml:"size"`
}

// Var resolves r into a normalized variable.
func (r VarRef) Var() (flightvars.Var, error) {
	return flightvars.ParseVar(r.Kind, r.Name, r.Size)
}

// VarEntry is a variable seed in the config file.
type VarEntry struct {
	VarRef `yaml:",inline"`
	Value  any `yaml:"value"`
}

// Resolve returns the variable and its seed value.
func (e VarEntry) Resolve() (flightvars.Var, flightvars.Value, error) {
	v, err := e.Var()
	if err != nil {
		return flightvars.Var{}, flightvars.Value{}, err
	}
	val, err := flightvars.ValueOf(e.Value)
	if err != nil {
		return flightvars.Var{}, flightvars.Value{}, fmt.Errorf("%s: %w", v, err)
	}
	return v, val, nil
}

// SlogLevel maps Level onto a slog.Level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WatchVars resolves the always-polled variables.
func (c *Config) WatchVars() ([]flightvars.Var, error) {
	out := make([]flightvars.Var, 0, len(c.Worker.Watch))
	for _, r := range c.Worker.Watch {
		v, err := r.Var()
		if err != nil {
			return nil, fmt.Errorf("worker.watch: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Validate reports every problem in c at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Worker.PollInterval <= 0 {
		errs = append(errs, errors.New("worker.poll_interval must be positive"))
	}
	switch c.Worker.Device {
	case "memory", "store":
	default:
		errs = append(errs, fmt.Errorf("worker.device: unknown device %q", c.Worker.Device))
	}
	if _, err := c.WatchVars(); err != nil {
		errs = append(errs, err)
	}
	if c.Cache.MaxSize <= 0 {
		errs = append(errs, errors.New("cache.max_size must be positive"))
	}
	if c.Server.WriteRateLimit < 0 {
		errs = append(errs, errors.New("server.write_rate_limit must not be negative"))
	}
	if c.Journal.Retention < 0 {
		errs = append(errs, errors.New("journal.retention must not be negative"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if c.Telemetry.Tracing.SampleRate < 0 || c.Telemetry.Tracing.SampleRate > 1 {
		errs = append(errs, errors.New("telemetry.tracing.sample_rate must be within [0, 1]"))
	}

	names := make(map[string]bool, len(c.Webhooks.Endpoints))
	for i, w := range c.Webhooks.Endpoints {
		if w.Name == "" {
			errs = append(errs, fmt.Errorf("webhooks.endpoints[%d]: name is required", i))
		} else if names[w.Name] {
			errs = append(errs, fmt.Errorf("webhooks.endpoints[%d]: duplicate name %q", i, w.Name))
		}
		names[w.Name] = true
		if u, err := url.Parse(w.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("webhooks.endpoints[%d]: invalid url %q", i, w.URL))
		}
		if len(w.Vars) == 0 {
			errs = append(errs, fmt.Errorf("webhooks.endpoints[%d]: no vars", i))
		}
		for _, r := range w.Vars {
			if _, err := r.Var(); err != nil {
				errs = append(errs, fmt.Errorf("webhooks.endpoints[%d]: %w", i, err))
			}
		}
	}

	for i, e := range c.Vars {
		if _, _, err := e.Resolve(); err != nil {
			errs = append(errs, fmt.Errorf("vars[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0, // SSE streams manage their own deadlines
			ShutdownTimeout: 30 * time.Second,
			KeepAlive:       15 * time.Second,
			WriteRateLimit:  600,
		},
		Database: DatabaseConfig{
			DSN: "flightvars.db",
		},
		Worker: WorkerConfig{
			Name:         "bridge",
			PollInterval: 100 * time.Millisecond,
			Device:       "memory",
		},
		Cache: CacheConfig{
			MaxSize: 10_000,
		},
		Journal: JournalConfig{
			Enabled:       true,
			Retention:     7 * 24 * time.Hour,
			PruneInterval: 10 * time.Minute,
			BufferSize:    1000,
			BatchSize:     100,
			FlushInterval: 5 * time.Second,
		},
		Webhooks: WebhookConfig{
			QueueSize:       256,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
			DNSRefresh:      5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
