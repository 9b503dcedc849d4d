package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if p == "" || !fileExists(p) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load merges defaults, the optional file at path and the environment, then
// validates the result.
func Load(path string) (Config, error) {
	v, err := newViper(path)
	if err != nil {
		return Default(), err
	}
	cfg, err := decode(v)
	if err != nil {
		return Default(), err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Watch reloads path on every change and passes each valid config to
// onChange. Invalid edits are logged and ignored.
func Watch(path string, logger *zap.Logger, onChange func(Config)) error {
	if path == "" {
		return errors.New("config path is required to watch")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	v, err := newViper(path)
	if err != nil {
		return err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			logger.Warn("ignoring invalid config change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info("config reloaded", zap.String("file", e.Name))
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		return v, nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return v, nil
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	for i, k := range cfg.Server.APIKeys {
		cfg.Server.APIKeys[i] = strings.TrimSpace(k)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d Config) {
	for key, value := range flatten(d) {
		v.SetDefault(key, value)
	}
}

// flatten renders c as dotted keys with durations as strings.
func flatten(c Config) map[string]interface{} {
	return map[string]interface{}{
		"server.addr":          c.Server.Addr,
		"server.api_keys":      c.Server.APIKeys,
		"server.read_timeout":  c.Server.ReadTimeout.String(),
		"server.write_timeout": c.Server.WriteTimeout.String(),
		"server.record_file":   c.Server.RecordFile,

		"limiter.limit":  c.Limiter.Limit,
		"limiter.window": c.Limiter.Window.String(),

		"storage.backend":             c.Storage.Backend,
		"storage.redis.host":          c.Storage.Redis.Host,
		"storage.redis.port":          c.Storage.Redis.Port,
		"storage.redis.password":      c.Storage.Redis.Password,
		"storage.redis.db":            c.Storage.Redis.DB,
		"storage.redis.cluster":       c.Storage.Redis.Cluster,
		"storage.redis.cluster_nodes": c.Storage.Redis.ClusterNodes,
		"storage.redis.pool_size":     c.Storage.Redis.PoolSize,
		"storage.redis.max_retries":   c.Storage.Redis.MaxRetries,
		"storage.redis.dial_timeout":  c.Storage.Redis.DialTimeout.String(),
		"storage.redis.key_prefix":    c.Storage.Redis.KeyPrefix,

		"queue.store":           c.Queue.Store,
		"queue.sqlite_path":     c.Queue.SQLitePath,
		"queue.max_attempts":    c.Queue.MaxAttempts,
		"queue.handler_timeout": c.Queue.HandlerTimeout.String(),

		"functions.backend":  c.Functions.Backend,
		"functions.base_url": c.Functions.BaseURL,
		"functions.token":    c.Functions.Token,
		"functions.timeout":  c.Functions.Timeout.String(),

		"connectivity.start_online":   c.Connectivity.StartOnline,
		"connectivity.force_offline":  c.Connectivity.ForceOffline,
		"connectivity.probe_url":      c.Connectivity.ProbeURL,
		"connectivity.probe_interval": c.Connectivity.ProbeInterval.String(),
		"connectivity.probe_timeout":  c.Connectivity.ProbeTimeout.String(),

		"log.level":  c.Log.Level,
		"log.format": c.Log.Format,

		"tracing.enabled":      c.Tracing.Enabled,
		"tracing.zipkin_url":   c.Tracing.ZipkinURL,
		"tracing.service_name": c.Tracing.ServiceName,
		"tracing.sample_ratio": c.Tracing.SampleRatio,
	}
}
