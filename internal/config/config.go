// Package config loads Carelink settings from defaults, an optional YAML or
// JSON file, a .env file and CARELINK_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/SmitUplenchwar2687/Carelink/internal/limiter"
	"github.com/SmitUplenchwar2687/Carelink/internal/observability"
	"github.com/SmitUplenchwar2687/Carelink/internal/queue"
	"github.com/SmitUplenchwar2687/Carelink/internal/storage"
)

// EnvPrefix prefixes every environment override, e.g. CARELINK_LIMITER_LIMIT.
const EnvPrefix = "CARELINK"

// Backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendHTTP   = "http"
	BackendEcho   = "echo"
)

// Config is the top-level configuration.
type Config struct {
	Server       ServerConfig                `mapstructure:"server"`
	Limiter      limiter.Config              `mapstructure:"limiter"`
	Storage      StorageConfig               `mapstructure:"storage"`
	Queue        QueueConfig                 `mapstructure:"queue"`
	Functions    FunctionsConfig             `mapstructure:"functions"`
	Connectivity ConnectivityConfig          `mapstructure:"connectivity"`
	Log          LogConfig                   `mapstructure:"log"`
	Tracing      observability.TracingConfig `mapstructure:"tracing"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	APIKeys      []string      `mapstructure:"api_keys"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RecordFile   string        `mapstructure:"record_file"` // export recorded calls here on shutdown
}

// StorageConfig selects where limiter state lives.
type StorageConfig struct {
	Backend string              `mapstructure:"backend"`
	Redis   storage.RedisConfig `mapstructure:"redis"`
}

type QueueConfig struct {
	Store          string        `mapstructure:"store"`
	SQLitePath     string        `mapstructure:"sqlite_path"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
}

type FunctionsConfig struct {
	Backend string        `mapstructure:"backend"`
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ConnectivityConfig struct {
	StartOnline   bool          `mapstructure:"start_online"`
	ForceOffline  bool          `mapstructure:"force_offline"`
	ProbeURL      string        `mapstructure:"probe_url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the built-in configuration: in-memory everything, echo
// functions, 100 calls per minute.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Limiter: limiter.DefaultConfig(),
		Storage: StorageConfig{
			Backend: BackendMemory,
			Redis:   storage.DefaultRedisConfig(),
		},
		Queue: QueueConfig{
			Store:          BackendMemory,
			SQLitePath:     "carelink-queue.db",
			MaxAttempts:    queue.DefaultMaxAttempts,
			HandlerTimeout: 30 * time.Second,
		},
		Functions: FunctionsConfig{
			Backend: BackendEcho,
			Timeout: 30 * time.Second,
		},
		Connectivity: ConnectivityConfig{
			StartOnline:   true,
			ProbeInterval: 15 * time.Second,
			ProbeTimeout:  5 * time.Second,
		},
		Log:     LogConfig{Level: "info", Format: "json"},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Validate checks that the config is usable.
func (c Config) Validate() error {
	var errs []error
	if err := c.Limiter.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("limiter: %w", err))
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendRedis:
		if _, err := storage.NormalizeRedisConfig(c.Storage.Redis); err != nil {
			errs = append(errs, fmt.Errorf("storage.redis: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be one of: memory, redis", c.Storage.Backend))
	}

	switch c.Queue.Store {
	case BackendMemory:
	case BackendSQLite:
		if strings.TrimSpace(c.Queue.SQLitePath) == "" {
			errs = append(errs, errors.New("queue.sqlite_path is required when queue.store=sqlite"))
		}
	case BackendRedis:
		if _, err := storage.NormalizeRedisConfig(c.Storage.Redis); err != nil {
			errs = append(errs, fmt.Errorf("storage.redis: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.store %q must be one of: memory, sqlite, redis", c.Queue.Store))
	}
	if c.Queue.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("queue.max_attempts must be >= 0, got %d", c.Queue.MaxAttempts))
	}

	switch c.Functions.Backend {
	case BackendEcho:
	case BackendHTTP:
		if strings.TrimSpace(c.Functions.BaseURL) == "" {
			errs = append(errs, errors.New("functions.base_url is required when functions.backend=http"))
		}
	default:
		errs = append(errs, fmt.Errorf("functions.backend %q must be one of: http, echo", c.Functions.Backend))
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or console", c.Log.Format))
	}
	return errors.Join(errs...)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
