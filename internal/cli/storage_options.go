package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Carelink/internal/clock"
	"github.com/SmitUplenchwar2687/Carelink/internal/config"
	"github.com/SmitUplenchwar2687/Carelink/internal/functions"
	"github.com/SmitUplenchwar2687/Carelink/internal/limiter"
	"github.com/SmitUplenchwar2687/Carelink/internal/queue"
	"github.com/SmitUplenchwar2687/Carelink/internal/storage"
)

// storageOptions are the backend flags shared by serve, simulate and queue.
// A flag only overrides the config file when it was set explicitly.
type storageOptions struct {
	backend       string
	redisHost     string
	redisPort     int
	redisPassword string
	redisDB       int
	queueStore    string
	queuePath     string
	maxAttempts   int
}

func (o *storageOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.backend, "storage", config.BackendMemory, "limiter storage backend (memory, redis)")
	cmd.Flags().StringVar(&o.redisHost, "redis-host", "localhost", "redis host (or host:port)")
	cmd.Flags().IntVar(&o.redisPort, "redis-port", 6379, "redis port")
	cmd.Flags().StringVar(&o.redisPassword, "redis-password", "", "redis password")
	cmd.Flags().IntVar(&o.redisDB, "redis-db", 0, "redis database index")
	cmd.Flags().StringVar(&o.queueStore, "queue-store", config.BackendMemory, "offline queue store (memory, sqlite, redis)")
	cmd.Flags().StringVar(&o.queuePath, "queue-path", "carelink-queue.db", "sqlite file for --queue-store sqlite")
	cmd.Flags().IntVar(&o.maxAttempts, "max-attempts", queue.DefaultMaxAttempts, "drains before a failing request is dead-lettered (0 = never)")
}

func (o *storageOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("storage") {
		cfg.Storage.Backend = o.backend
	}
	if cmd.Flags().Changed("redis-host") {
		cfg.Storage.Redis.Host = o.redisHost
	}
	if cmd.Flags().Changed("redis-port") {
		cfg.Storage.Redis.Port = o.redisPort
	}
	if cmd.Flags().Changed("redis-password") {
		cfg.Storage.Redis.Password = o.redisPassword
	}
	if cmd.Flags().Changed("redis-db") {
		cfg.Storage.Redis.DB = o.redisDB
	}
	if cmd.Flags().Changed("queue-store") {
		cfg.Queue.Store = o.queueStore
	}
	if cmd.Flags().Changed("queue-path") {
		cfg.Queue.SQLitePath = o.queuePath
	}
	if cmd.Flags().Changed("max-attempts") {
		cfg.Queue.MaxAttempts = o.maxAttempts
	}
	return cfg.Validate()
}

// backends holds the connections opened for one command run.
type backends struct {
	redis  redis.UniversalClient
	sqlite *queue.SQLiteStore
	logger *zap.Logger
}

func openBackends(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backends, error) {
	b := &backends{logger: logger}
	if cfg.Storage.Backend == config.BackendRedis || cfg.Queue.Store == config.BackendRedis {
		client, err := storage.NewRedisClient(ctx, cfg.Storage.Redis)
		if err != nil {
			return nil, err
		}
		b.redis = client
	}
	if cfg.Queue.Store == config.BackendSQLite {
		st, err := queue.OpenSQLiteStore(ctx, cfg.Queue.SQLitePath)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.sqlite = st
	}
	return b, nil
}

func (b *backends) limiter(cfg config.Config, clk clock.Clock) (limiter.Limiter, error) {
	switch cfg.Storage.Backend {
	case config.BackendRedis:
		rw, err := limiter.NewRedisWindow(b.redis, cfg.Limiter, clk,
			limiter.WithRedisLogger(b.logger.Named("limiter")),
			limiter.WithKeyPrefix(cfg.Storage.Redis.KeyPrefix),
		)
		if err != nil {
			return nil, err
		}
		return rw, nil
	case config.BackendMemory:
		if err := cfg.Limiter.Validate(); err != nil {
			return nil, err
		}
		return limiter.NewSlidingWindow(cfg.Limiter, clk), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func (b *backends) queueStore(cfg config.Config) queue.Store {
	switch cfg.Queue.Store {
	case config.BackendSQLite:
		return b.sqlite
	case config.BackendRedis:
		return queue.NewRedisStore(b.redis, cfg.Storage.Redis.KeyPrefix)
	default:
		return queue.NewMemoryStore()
	}
}

// openQueue loads the configured store into a new queue.
func (b *backends) openQueue(ctx context.Context, cfg config.Config, clk clock.Clock) (*queue.Queue, error) {
	return queue.New(ctx,
		queue.WithClock(clk),
		queue.WithLogger(b.logger.Named("queue")),
		queue.WithStore(b.queueStore(cfg)),
		queue.WithMaxAttempts(cfg.Queue.MaxAttempts),
	)
}

func (b *backends) Close() error {
	var errs []error
	if b.sqlite != nil {
		errs = append(errs, b.sqlite.Close())
	}
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	return errors.Join(errs...)
}

// buildHandlers returns the function handlers for the configured backend.
func buildHandlers(cfg config.Config, logger *zap.Logger) (queue.Handlers, error) {
	var handlers queue.Handlers
	switch cfg.Functions.Backend {
	case config.BackendHTTP:
		client, err := functions.NewClient(cfg.Functions.BaseURL,
			functions.WithToken(cfg.Functions.Token),
			functions.WithLogger(logger.Named("functions")),
			functions.WithHTTPClient(httpClient(cfg.Functions.Timeout)),
		)
		if err != nil {
			return nil, err
		}
		handlers = client.Handlers()
	case config.BackendEcho:
		handlers = functions.Echo()
	default:
		return nil, fmt.Errorf("unknown functions backend %q", cfg.Functions.Backend)
	}

	if d := cfg.Queue.HandlerTimeout; d > 0 {
		for name, h := range handlers {
			handlers[name] = queue.WithTimeout(h, d)
		}
	}
	return handlers, nil
}

func httpClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
