package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Carelink/internal/clock"
	"github.com/SmitUplenchwar2687/Carelink/internal/config"
	"github.com/SmitUplenchwar2687/Carelink/internal/connectivity"
	"github.com/SmitUplenchwar2687/Carelink/internal/notify"
	"github.com/SmitUplenchwar2687/Carelink/internal/observability"
	"github.com/SmitUplenchwar2687/Carelink/internal/recorder"
	"github.com/SmitUplenchwar2687/Carelink/internal/server"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr       string
		apiKeys    []string
		recordFile string
		offline    bool
		notifyOn   bool
		storage    storageOptions
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		Short:   "Start the Carelink HTTP API",
		Long: `Starts the HTTP API that rate limits cloud-function calls, queues them
while offline and drains the queue when connectivity returns.

Endpoints:
  GET    /health                                     Health check
  GET    /api/v1/status                              Connection status and queue depth
  GET    /api/v1/functions                           Known function names
  POST   /api/v1/functions/{name}                    Invoke a function
  GET    /api/v1/queue                               Pending requests
  POST   /api/v1/queue/drain                         Replay pending requests now
  DELETE /api/v1/queue/{id}                          Drop a pending request
  GET    /api/v1/queue/dead-letters                  Requests that exhausted their attempts
  POST   /api/v1/queue/dead-letters/{id}/requeue     Retry a dead letter
  PUT    /api/v1/connectivity                        Force online/offline
  WS     /ws                                         Live decisions and queue events

When a config file is given it is watched: toggling
connectivity.force_offline takes effect without a restart.`,
		Example: `  carelink serve
  carelink serve --addr :9090 --api-key secret --queue-store sqlite
  carelink serve --config carelink.yaml --notify --record calls.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("api-key") {
				cfg.Server.APIKeys = apiKeys
			}
			if cmd.Flags().Changed("record") {
				cfg.Server.RecordFile = recordFile
			}
			if cmd.Flags().Changed("offline") {
				cfg.Connectivity.ForceOffline = offline
			}
			if err := storage.apply(cmd, &cfg); err != nil {
				return err
			}

			logger, err := root.logger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, root.configPath, notifyOn, logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	cmd.Flags().StringSliceVar(&apiKeys, "api-key", nil, "accepted API keys (empty disables auth)")
	cmd.Flags().StringVar(&recordFile, "record", "", "record calls to a JSON file (exported on shutdown)")
	cmd.Flags().BoolVar(&offline, "offline", false, "start in forced offline mode")
	cmd.Flags().BoolVar(&notifyOn, "notify", false, "show desktop notifications for dead letters and connectivity changes")
	storage.addFlags(cmd)

	return cmd
}

func serve(ctx context.Context, cfg config.Config, configPath string, notifyOn bool, logger *zap.Logger) error {
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flushing traces", zap.Error(err))
		}
	}()

	clk := clock.NewRealClock()
	a, err := newApp(ctx, cfg, clk, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing backends", zap.Error(err))
		}
	}()

	var rec *recorder.Recorder
	if cfg.Server.RecordFile != "" {
		rec = recorder.New(nil)
	}

	srv, err := server.New(server.Options{
		Addr:         cfg.Server.Addr,
		Service:      a.service,
		Limiter:      a.limiter,
		Clock:        clk,
		Logger:       logger.Named("http"),
		APIKeys:      cfg.Server.APIKeys,
		Recorder:     rec,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})
	if err != nil {
		return err
	}

	if notifyOn {
		n := notify.New(notify.WithLogger(logger.Named("notify")))
		a.queue.Subscribe(n.QueueEvent)
		a.monitor.OnChange(n.Connectivity)
		go n.Run(ctx)
	}

	a.startSweeper(ctx, cfg.Limiter.Window)

	var forced atomic.Bool
	forced.Store(cfg.Connectivity.ForceOffline)
	probing := startProbe(ctx, a.monitor, cfg.Connectivity, &forced)

	if configPath != "" {
		err := config.Watch(configPath, logger.Named("config"), func(next config.Config) {
			was := forced.Swap(next.Connectivity.ForceOffline)
			if was == next.Connectivity.ForceOffline {
				return
			}
			logger.Info("forced offline mode changed", zap.Bool("force_offline", next.Connectivity.ForceOffline))
			if next.Connectivity.ForceOffline || !probing {
				a.monitor.SetOnline(ctx, !next.Connectivity.ForceOffline)
			}
		})
		if err != nil {
			logger.Warn("config hot reload disabled", zap.Error(err))
		}
	}

	logger.Info("starting carelink",
		zap.String("addr", cfg.Server.Addr),
		zap.Int("limit", cfg.Limiter.Limit),
		zap.Duration("window", cfg.Limiter.Window),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("queue_store", cfg.Queue.Store),
		zap.String("functions", cfg.Functions.Backend),
		zap.Bool("auth", len(cfg.Server.APIKeys) > 0),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		if rec != nil {
			logger.Info("exporting records", zap.Int("count", rec.Len()), zap.String("file", cfg.Server.RecordFile))
			if err := rec.ExportFile(cfg.Server.RecordFile); err != nil {
				logger.Error("exporting records", zap.Error(err))
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	}
}

// startProbe runs the HTTP probe loop when a probe URL is configured and
// reports whether it did. While forced is set the probe reports offline.
func startProbe(ctx context.Context, m *connectivity.Monitor, cfg config.ConnectivityConfig, forced *atomic.Bool) bool {
	if cfg.ProbeURL == "" {
		return false
	}
	probe := connectivity.HTTPProbe(httpClient(cfg.ProbeTimeout), cfg.ProbeURL, cfg.ProbeTimeout)
	go m.Run(ctx, func(ctx context.Context) bool {
		if forced.Load() {
			return false
		}
		return probe(ctx)
	}, cfg.ProbeInterval)
	return true
}
