// Package service ties the limiter, the offline queue and the connectivity
// monitor into the single entry point used by the HTTP API and the CLI.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Carelink/internal/clock"
	"github.com/SmitUplenchwar2687/Carelink/internal/connectivity"
	"github.com/SmitUplenchwar2687/Carelink/internal/limiter"
	"github.com/SmitUplenchwar2687/Carelink/internal/observability"
	"github.com/SmitUplenchwar2687/Carelink/internal/queue"
)

// ErrRateLimited is returned by Invoke when the caller's quota is exhausted.
var ErrRateLimited = errors.New("rate limit exceeded")

// Outcome describes what Invoke did with a call.
type Outcome struct {
	Queued    bool             `json:"queued"`
	RequestID int64            `json:"request_id,omitempty"`
	Result    json.RawMessage  `json:"result,omitempty"`
	Decision  limiter.Decision `json:"rate_limit"`
}

// Status mirrors the connection status shown to users.
type Status struct {
	Online          bool       `json:"online"`
	LastSync        *time.Time `json:"last_sync"`
	PendingRequests int        `json:"pending_requests"`
	DeadLetters     int        `json:"dead_letters"`
	Draining        bool       `json:"draining"`
}

// Options wires a Service. Limiter, Queue and Monitor are required.
type Options struct {
	Limiter  limiter.Limiter
	Queue    *queue.Queue
	Monitor  *connectivity.Monitor
	Handlers queue.Handlers
	Clock    clock.Clock
	Logger   *zap.Logger
}

// Service gates calls, executes them when online and queues them otherwise.
type Service struct {
	limiter  limiter.Limiter
	queue    *queue.Queue
	monitor  *connectivity.Monitor
	handlers queue.Handlers
	clock    clock.Clock
	logger   *zap.Logger
	tracer   trace.Tracer

	mu          sync.Mutex
	lastSync    time.Time
	lastResults []queue.Result
}

// New builds a service and registers the queue drain as the monitor's
// reconnect action.
func New(opts Options) (*Service, error) {
	if opts.Limiter == nil {
		return nil, errors.New("limiter is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if opts.Monitor == nil {
		return nil, errors.New("connectivity monitor is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Handlers == nil {
		opts.Handlers = queue.Handlers{}
	}

	s := &Service{
		limiter:  opts.Limiter,
		queue:    opts.Queue,
		monitor:  opts.Monitor,
		handlers: opts.Handlers,
		clock:    clock.OrReal(opts.Clock),
		logger:   opts.Logger,
		tracer:   otel.Tracer(observability.TracerName),
	}

	s.monitor.OnReconnect(func(ctx context.Context) {
		if _, err := s.Drain(ctx); err != nil && !errors.Is(err, queue.ErrDrainInProgress) {
			s.logger.Error("drain after reconnect failed", zap.Error(err))
		}
	})
	return s, nil
}

// Invoke checks the (caller, function) quota, then runs the function when
// online or queues it when offline. A rejected call returns ErrRateLimited
// together with the decision in the outcome.
func (s *Service) Invoke(ctx context.Context, caller, function string, payload json.RawMessage) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "service.Invoke")
	defer span.End()

	function = strings.TrimSpace(function)
	span.SetAttributes(attribute.String("function.name", function), attribute.String("caller", caller))

	if function == "" {
		return Outcome{}, queue.ErrEmptyFunctionName
	}
	handler, ok := s.handlers[function]
	if !ok || handler == nil {
		return Outcome{}, fmt.Errorf("%w: %s", queue.ErrUnknownFunction, function)
	}

	decision := s.limiter.Allow(ctx, limiter.NewKey(caller, function))
	out := Outcome{Decision: decision}
	if !decision.Allowed {
		span.SetAttributes(attribute.Bool("rate_limited", true))
		s.logger.Info("call rate limited",
			zap.String("caller", caller),
			zap.String("function", function),
			zap.Time("retry_at", decision.RetryAt),
		)
		return out, ErrRateLimited
	}

	if !s.monitor.Online() {
		id, err := s.queue.Enqueue(function, payload)
		if err != nil {
			return out, fmt.Errorf("queueing %s: %w", function, err)
		}
		span.SetAttributes(attribute.Bool("queued", true), attribute.Int64("request.id", id))
		out.Queued = true
		out.RequestID = id
		return out, nil
	}

	result, err := handler(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, fmt.Errorf("executing %s: %w", function, err)
	}
	out.Result = result
	return out, nil
}

// Drain replays the offline queue through the live handlers.
func (s *Service) Drain(ctx context.Context) ([]queue.Result, error) {
	ctx, span := s.tracer.Start(ctx, "service.Drain")
	defer span.End()

	results, err := s.queue.Drain(ctx, s.handlers)
	if err != nil {
		span.RecordError(err)
		return results, err
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("drain.processed", len(results)), attribute.Int("drain.failed", failed))

	s.mu.Lock()
	s.lastSync = s.clock.Now()
	s.lastResults = results
	s.mu.Unlock()
	return results, nil
}

// Resume drains requests restored from a persistent queue when the service
// starts online, since no offline to online transition will trigger it.
func (s *Service) Resume(ctx context.Context) bool {
	if s.queue.Len() == 0 {
		return false
	}
	return s.monitor.Resync(ctx)
}

// LastResults returns the results of the most recent completed drain.
func (s *Service) LastResults() []queue.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]queue.Result(nil), s.lastResults...)
}

// Status reports connectivity and queue depth.
func (s *Service) Status() Status {
	st := Status{
		Online:          s.monitor.Online(),
		PendingRequests: s.queue.Len(),
		DeadLetters:     len(s.queue.DeadLetters()),
		Draining:        s.queue.Draining(),
	}
	s.mu.Lock()
	if !s.lastSync.IsZero() {
		ls := s.lastSync
		st.LastSync = &ls
	}
	s.mu.Unlock()
	return st
}

// SetOnline forwards a connectivity change to the monitor.
func (s *Service) SetOnline(ctx context.Context, online bool) bool {
	return s.monitor.SetOnline(ctx, online)
}

// Functions lists the function names the service can execute.
func (s *Service) Functions() []string {
	return s.handlers.Names()
}

func (s *Service) Queue() *queue.Queue { return s.queue }

func (s *Service) Monitor() *connectivity.Monitor { return s.monitor }
