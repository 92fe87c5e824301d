package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all daemon configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Kernel    KernelConfig    `yaml:"kernel" toml:"kernel"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Tracing   TracingConfig   `yaml:"tracing" toml:"tracing"`
}

// ServerConfig holds admin HTTP server configuration.
type ServerConfig struct {
	Port              string   `envconfig:"KCORE_PORT" yaml:"port" toml:"port"`
	Host              string   `envconfig:"KCORE_HOST" yaml:"host" toml:"host"`
	Enabled           bool     `envconfig:"KCORE_SERVER_ENABLED" yaml:"enabled" toml:"enabled"`
	AllowOrigins      []string `envconfig:"KCORE_ALLOW_ORIGINS" yaml:"allow_origins" toml:"allow_origins"`
	ShutdownTimeoutMS int      `envconfig:"KCORE_SHUTDOWN_TIMEOUT_MS" yaml:"shutdown_timeout_ms" toml:"shutdown_timeout_ms"`
	ReadTimeoutMS     int      `envconfig:"KCORE_PIPE_READ_TIMEOUT_MS" yaml:"pipe_read_timeout_ms" toml:"pipe_read_timeout_ms"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// KernelConfig holds the boot parameters of the kernel core.
type KernelConfig struct {
	SysWorkQStackSize int            `envconfig:"KCORE_SYSWORKQ_STACK_SIZE" yaml:"sysworkq_stack_size" toml:"sysworkq_stack_size"`
	SysWorkQPriority  int            `envconfig:"KCORE_SYSWORKQ_PRIORITY" yaml:"sysworkq_priority" toml:"sysworkq_priority"`
	SysWorkQNoYield   bool           `envconfig:"KCORE_SYSWORKQ_NO_YIELD" yaml:"sysworkq_no_yield" toml:"sysworkq_no_yield"`
	MaxThreads        int            `envconfig:"KCORE_MAX_THREADS" yaml:"max_threads" toml:"max_threads"`
	MinStackSize      int            `envconfig:"KCORE_MIN_STACK_SIZE" yaml:"min_stack_size" toml:"min_stack_size"`
	Pipes             map[string]int `envconfig:"KCORE_PIPES" yaml:"pipes" toml:"pipes"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"KCORE_LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"KCORE_LOG_DEV" yaml:"development" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"KCORE_RATE_LIMIT_RPS" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int  `envconfig:"KCORE_RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"KCORE_RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
}

// TracingConfig holds span tracer configuration.
type TracingConfig struct {
	Enabled bool `envconfig:"KCORE_TRACING_ENABLED" yaml:"enabled" toml:"enabled"`
	History int  `envconfig:"KCORE_TRACING_HISTORY" yaml:"history" toml:"history"`
}

// Load loads configuration from environment variables over the defaults.
func Load() (*Config, error) {
	cfg := Default()
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads a YAML or TOML file (chosen by extension) over the
// defaults, then applies environment variables on top. An empty path is
// the same as Load.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Load()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, cfg)
	case ".toml":
		err = toml.Unmarshal(b, cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              "8070",
			Host:              "127.0.0.1",
			Enabled:           true,
			AllowOrigins:      []string{"*"},
			ShutdownTimeoutMS: 5000,
			ReadTimeoutMS:     100,
		},
		Kernel: KernelConfig{
			SysWorkQStackSize: 1024,
			SysWorkQPriority:  -1,
			MaxThreads:        256,
			MinStackSize:      512,
			Pipes:             map[string]int{"console": 256},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Tracing: TracingConfig{
			Enabled: true,
			History: 256,
		},
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	k := c.Kernel
	switch {
	case k.MinStackSize < 0:
		return fmt.Errorf("invalid config: min stack size %d", k.MinStackSize)
	case k.SysWorkQStackSize < k.MinStackSize:
		return fmt.Errorf("invalid config: sysworkq stack %d below minimum %d", k.SysWorkQStackSize, k.MinStackSize)
	case k.MaxThreads < 0:
		return fmt.Errorf("invalid config: max threads %d", k.MaxThreads)
	case c.Tracing.History < 0:
		return fmt.Errorf("invalid config: tracing history %d", c.Tracing.History)
	case c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0:
		return fmt.Errorf("invalid config: rate limit %d rps", c.RateLimit.RequestsPerSecond)
	case c.Server.ShutdownTimeoutMS < 0 || c.Server.ReadTimeoutMS < 0:
		return fmt.Errorf("invalid config: negative server timeout")
	}
	for name, size := range k.Pipes {
		if name == "" || size < 0 {
			return fmt.Errorf("invalid config: pipe %q of %d bytes", name, size)
		}
	}
	return nil
}
