package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr = %q, want %q", cfg.Server.Addr, ":8080")
	}
	if cfg.Limiter.Limit != 100 {
		t.Errorf("default limit = %d, want 100", cfg.Limiter.Limit)
	}
	if cfg.Limiter.Window != time.Minute {
		t.Errorf("default window = %s, want 1m", cfg.Limiter.Window)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Errorf("default storage backend = %q, want memory", cfg.Storage.Backend)
	}
	if cfg.Queue.MaxAttempts != 5 {
		t.Errorf("default max attempts = %d, want 5", cfg.Queue.MaxAttempts)
	}
	if cfg.Queue.HandlerTimeout != 30*time.Second {
		t.Errorf("default handler timeout = %v, want 30s", cfg.Queue.HandlerTimeout)
	}
	if !cfg.Connectivity.StartOnline {
		t.Error("default should start online")
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config should be valid, got %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero limit", func(c *Config) { c.Limiter.Limit = 0 }},
		{"negative window", func(c *Config) { c.Limiter.Window = -time.Second }},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "etcd" }},
		{"redis without host", func(c *Config) {
			c.Storage.Backend = BackendRedis
			c.Storage.Redis.Host = ""
		}},
		{"unknown queue store", func(c *Config) { c.Queue.Store = "bolt" }},
		{"sqlite without path", func(c *Config) {
			c.Queue.Store = BackendSQLite
			c.Queue.SQLitePath = " "
		}},
		{"negative attempts", func(c *Config) { c.Queue.MaxAttempts = -1 }},
		{"http without base url", func(c *Config) { c.Functions.Backend = BackendHTTP }},
		{"unknown functions backend", func(c *Config) { c.Functions.Backend = "grpc" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default().Limiter, cfg.Limiter)
	require.Equal(t, Default().Queue, cfg.Queue)
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "carelink.yaml")
	writeFile(t, path, `
server:
  addr: ":9090"
  api_keys: ["k1", "k2"]
limiter:
  limit: 2
  window: 1s
queue:
  store: sqlite
  sqlite_path: /tmp/q.db
  max_attempts: 0
functions:
  backend: http
  base_url: https://functions.example.com
  timeout: 10s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
	require.Equal(t, 2, cfg.Limiter.Limit)
	require.Equal(t, time.Second, cfg.Limiter.Window)
	require.Equal(t, BackendSQLite, cfg.Queue.Store)
	require.Equal(t, 0, cfg.Queue.MaxAttempts)
	require.Equal(t, 10*time.Second, cfg.Functions.Timeout)
	// untouched sections keep defaults
	require.Equal(t, Default().Connectivity, cfg.Connectivity)
}

func TestLoad_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "carelink.json")
	writeFile(t, path, `{"limiter": {"limit": 7, "window": "30s"}, "log": {"format": "console"}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Limiter.Limit)
	require.Equal(t, 30*time.Second, cfg.Limiter.Window)
	require.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "carelink.yaml")
	writeFile(t, path, "limiter:\n  limit: 2\n")

	t.Setenv("CARELINK_LIMITER_LIMIT", "9")
	t.Setenv("CARELINK_LIMITER_WINDOW", "2m")
	t.Setenv("CARELINK_SERVER_API_KEYS", "a, b")
	t.Setenv("CARELINK_CONNECTIVITY_FORCE_OFFLINE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Limiter.Limit)
	require.Equal(t, 2*time.Minute, cfg.Limiter.Window)
	require.Equal(t, []string{"a", "b"}, cfg.Server.APIKeys)
	require.True(t, cfg.Connectivity.ForceOffline)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	writeFile(t, bad, "{not json")
	_, err = Load(bad)
	require.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	writeFile(t, invalid, "limiter:\n  limit: 0\n")
	_, err = Load(invalid)
	require.ErrorContains(t, err, "limit must be positive")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	writeFile(t, envFile, "CARELINK_LIMITER_LIMIT=42\n")

	t.Setenv("CARELINK_LIMITER_LIMIT", "")
	os.Unsetenv("CARELINK_LIMITER_LIMIT")

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "absent.env"), envFile))
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 42, cfg.Limiter.Limit)
}

func TestWriteExample_RoundTrip(t *testing.T) {
	for _, name := range []string{"example.yaml", "example.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, WriteExample(path))

			cfg, err := Load(path)
			require.NoError(t, err)
			require.Equal(t, Default().Limiter, cfg.Limiter)
			require.Equal(t, Default().Storage.Redis.Host, cfg.Storage.Redis.Host)
			require.Equal(t, Default().Storage.Redis.DialTimeout, cfg.Storage.Redis.DialTimeout)
			require.Equal(t, Default().Connectivity, cfg.Connectivity)
			require.Equal(t, []string{"change-me"}, cfg.Server.APIKeys)
		})
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "carelink.yaml")
	writeFile(t, path, "connectivity:\n  force_offline: false\n")

	changes := make(chan Config, 4)
	require.NoError(t, Watch(path, zap.NewNop(), func(c Config) { changes <- c }))

	writeFile(t, path, "connectivity:\n  force_offline: true\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Connectivity.ForceOffline {
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestWatch_RequiresPath(t *testing.T) {
	require.Error(t, Watch("", nil, func(Config) {}))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
