// Package connectivity tracks whether the backend is reachable and runs a
// single reconnect action on every offline to online transition.
package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Carelink/internal/clock"
)

// Probe reports whether the backend is reachable.
type Probe func(ctx context.Context) bool

// Monitor holds the online flag. Listeners run synchronously on every
// transition; the reconnect action runs in the background, at most once at a
// time. A reconnect requested while the action is running makes it run again
// once it returns.
type Monitor struct {
	clock  clock.Clock
	logger *zap.Logger

	mu          sync.Mutex
	online      bool
	changedAt   time.Time
	listeners   []func(online bool)
	onReconnect func(ctx context.Context)

	reconnecting bool
	rerun        bool
	wg           sync.WaitGroup

	// closed is cancelled by Close and aborts running reconnect actions.
	closed context.Context
	close  context.CancelFunc
}

// Option configures a Monitor.
type Option func(*Monitor)

func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = clock.OrReal(c) }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a monitor in the given initial state.
func New(online bool, opts ...Option) *Monitor {
	m := &Monitor{
		clock:  clock.NewRealClock(),
		logger: zap.NewNop(),
		online: online,
	}
	m.closed, m.close = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(m)
	}
	m.changedAt = m.clock.Now()
	return m
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// ChangedAt returns the time of the last transition (or construction).
func (m *Monitor) ChangedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changedAt
}

// OnChange registers fn for every transition.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// OnReconnect sets the action run after each offline to online transition,
// typically draining the offline queue.
func (m *Monitor) OnReconnect(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnect = fn
}

// SetOnline records the new state and reports whether it changed. Going
// online starts the reconnect action, or schedules another pass when one is
// still running.
func (m *Monitor) SetOnline(ctx context.Context, online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	m.changedAt = m.clock.Now()
	listeners := append([]func(bool){}, m.listeners...)
	m.mu.Unlock()

	if online {
		m.logger.Info("connection restored")
	} else {
		m.logger.Warn("connection lost, requests will be queued")
	}
	for _, fn := range listeners {
		fn(online)
	}

	if online {
		m.Resync(ctx)
	}
	return true
}

// Resync runs the reconnect action if the monitor is online, without waiting
// for a transition. It is used at startup to replay requests restored from a
// persistent queue. It reports whether a pass was started or scheduled.
func (m *Monitor) Resync(ctx context.Context) bool {
	m.mu.Lock()
	reconnect := m.onReconnect
	if !m.online || reconnect == nil || m.closed.Err() != nil {
		m.mu.Unlock()
		return false
	}
	if m.reconnecting {
		m.rerun = true
		m.mu.Unlock()
		m.logger.Debug("reconnect action running, scheduling another pass")
		return true
	}
	m.reconnecting = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.runReconnect(context.WithoutCancel(ctx), reconnect)
	return true
}

func (m *Monitor) runReconnect(ctx context.Context, fn func(context.Context)) {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.closed, cancel)
	defer stop()

	for {
		fn(ctx)

		m.mu.Lock()
		again := m.rerun && m.online && ctx.Err() == nil
		m.rerun = false
		if !again {
			m.reconnecting = false
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		m.logger.Debug("running reconnect action again")
	}
}

// Wait blocks until any running reconnect action returns.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// Close cancels the context of a running reconnect action and prevents new
// ones, then waits for it to return or for ctx to end.
func (m *Monitor) Close(ctx context.Context) error {
	m.mu.Lock()
	m.close()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for reconnect action: %w", ctx.Err())
	}
}

// Run polls probe every interval until ctx is done, updating the state from
// each result.
func (m *Monitor) Run(ctx context.Context, probe Probe, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	for {
		m.SetOnline(ctx, probe(ctx))
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(interval):
		}
	}
}

// HTTPProbe treats any response below 500 from url as online.
func HTTPProbe(client *http.Client, url string, timeout time.Duration) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) bool {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode < http.StatusInternalServerError
	}
}
