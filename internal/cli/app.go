package cli

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Carelink/internal/clock"
	"github.com/SmitUplenchwar2687/Carelink/internal/config"
	"github.com/SmitUplenchwar2687/Carelink/internal/connectivity"
	"github.com/SmitUplenchwar2687/Carelink/internal/limiter"
	"github.com/SmitUplenchwar2687/Carelink/internal/queue"
	"github.com/SmitUplenchwar2687/Carelink/internal/service"
)

// closeTimeout bounds how long Close waits for a reconnect drain.
const closeTimeout = 10 * time.Second

// app is the wired core shared by serve and simulate.
type app struct {
	limiter  limiter.Limiter
	queue    *queue.Queue
	monitor  *connectivity.Monitor
	service  *service.Service
	backends *backends
}

// newApp opens the configured backends and wires the service. A nil handlers
// map is built from cfg.Functions.
func newApp(ctx context.Context, cfg config.Config, clk clock.Clock, logger *zap.Logger, handlers queue.Handlers) (*app, error) {
	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &app{backends: b}

	if a.limiter, err = b.limiter(cfg, clk); err != nil {
		b.Close()
		return nil, err
	}
	if a.queue, err = b.openQueue(ctx, cfg, clk); err != nil {
		b.Close()
		return nil, err
	}
	if handlers == nil {
		if handlers, err = buildHandlers(cfg, logger); err != nil {
			b.Close()
			return nil, err
		}
	}

	online := cfg.Connectivity.StartOnline && !cfg.Connectivity.ForceOffline
	a.monitor = connectivity.New(online,
		connectivity.WithClock(clk),
		connectivity.WithLogger(logger.Named("connectivity")),
	)

	a.service, err = service.New(service.Options{
		Limiter:  a.limiter,
		Queue:    a.queue,
		Monitor:  a.monitor,
		Handlers: handlers,
		Clock:    clk,
		Logger:   logger.Named("service"),
	})
	if err != nil {
		b.Close()
		return nil, err
	}

	if a.service.Resume(ctx) {
		logger.Info("draining restored queue", zap.Int("pending", a.queue.Len()))
	}
	return a, nil
}

// startSweeper prunes idle keys from an in-memory limiter every window until
// ctx is done. Redis expires its own keys, so it reports false there.
func (a *app) startSweeper(ctx context.Context, window time.Duration) bool {
	sw, ok := a.limiter.(*limiter.SlidingWindow)
	if !ok {
		return false
	}
	go sw.RunSweeper(ctx, window)
	return true
}

// Close cancels a running reconnect drain, waits up to closeTimeout for it to
// return, then releases backends.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.monitor.Close(ctx); err != nil {
		a.backends.logger.Warn("reconnect drain still running at shutdown", zap.Error(err))
	}
	return a.backends.Close()
}
