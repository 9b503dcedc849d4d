// Package storage builds the shared connections used by the Redis and SQLite
// backends of the limiter and the offline queue.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPoolSize    = 20
	defaultRedisMaxRetries  = 3
	defaultRedisDialTimeout = 5 * time.Second
)

// RedisConfig configures a standalone or cluster Redis connection.
type RedisConfig struct {
	Host         string        `json:"host" mapstructure:"host"`
	Port         int           `json:"port" mapstructure:"port"`
	Password     string        `json:"password" mapstructure:"password"`
	DB           int           `json:"db" mapstructure:"db"`
	Cluster      bool          `json:"cluster" mapstructure:"cluster"`
	ClusterNodes []string      `json:"cluster_nodes" mapstructure:"cluster_nodes"`
	PoolSize     int           `json:"pool_size" mapstructure:"pool_size"`
	MaxRetries   int           `json:"max_retries" mapstructure:"max_retries"`
	DialTimeout  time.Duration `json:"dial_timeout" mapstructure:"dial_timeout"`
	KeyPrefix    string        `json:"key_prefix" mapstructure:"key_prefix"`
}

// DefaultRedisConfig targets a local Redis on the default port.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Host:        "localhost",
		Port:        6379,
		PoolSize:    defaultRedisPoolSize,
		MaxRetries:  defaultRedisMaxRetries,
		DialTimeout: defaultRedisDialTimeout,
		KeyPrefix:   "carelink:",
	}
}

// NewRedisClient validates cfg, connects and pings with exponential backoff.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (redis.UniversalClient, error) {
	conf, err := NormalizeRedisConfig(cfg)
	if err != nil {
		return nil, err
	}

	var client redis.UniversalClient
	if conf.Cluster {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:       conf.ClusterNodes,
			Password:    conf.Password,
			PoolSize:    conf.PoolSize,
			MaxRetries:  conf.MaxRetries,
			DialTimeout: conf.DialTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:        net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port)),
			Password:    conf.Password,
			DB:          conf.DB,
			PoolSize:    conf.PoolSize,
			MaxRetries:  conf.MaxRetries,
			DialTimeout: conf.DialTimeout,
		})
	}

	if err := pingWithRetry(ctx, client, conf.MaxRetries); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// NormalizeRedisConfig fills defaults and splits a "host:port" Host.
func NormalizeRedisConfig(cfg RedisConfig) (RedisConfig, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultRedisPoolSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultRedisMaxRetries
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultRedisDialTimeout
	}

	if cfg.Cluster {
		if len(cfg.ClusterNodes) == 0 {
			return cfg, errors.New("cluster_nodes is required when cluster=true")
		}
		return cfg, nil
	}

	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return cfg, errors.New("redis host is required when cluster=false")
	}
	if h, p, err := net.SplitHostPort(host); err == nil {
		port, err := strconv.Atoi(p)
		if err != nil {
			return cfg, fmt.Errorf("invalid redis port in %q: %w", host, err)
		}
		host, cfg.Port = h, port
	}
	if cfg.Port <= 0 {
		return cfg, fmt.Errorf("redis port must be positive, got %d", cfg.Port)
	}
	cfg.Host = host
	return cfg, nil
}

func pingWithRetry(ctx context.Context, client redis.UniversalClient, maxRetries int) error {
	attempts := maxRetries + 1
	backoff := 100 * time.Millisecond

	var lastErr error
	for i := 0; i < attempts; i++ {
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}
