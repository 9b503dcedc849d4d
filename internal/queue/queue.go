package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Carelink/internal/clock"
)

// EventType names a queue state change.
type EventType string

const (
	EventEnqueued      EventType = "enqueued"
	EventSucceeded     EventType = "succeeded"
	EventFailed        EventType = "failed"
	EventDeadLettered  EventType = "dead_lettered"
	EventRemoved       EventType = "removed"
	EventRequeued      EventType = "requeued"
	EventDrainStarted  EventType = "drain_started"
	EventDrainFinished EventType = "drain_finished"
)

// Event is delivered to subscribers after each state change.
type Event struct {
	Type         EventType `json:"type"`
	ID           int64     `json:"id,omitempty"`
	FunctionName string    `json:"function_name,omitempty"`
	Error        string    `json:"error,omitempty"`
	Pending      int       `json:"pending"`
	At           time.Time `json:"at"`
}

// Queue is a FIFO of pending requests plus a dead-letter list.
//
// Enqueue never waits on a running drain: handlers execute outside the lock.
type Queue struct {
	clock       clock.Clock
	logger      *zap.Logger
	store       Store
	maxAttempts int

	mu      sync.Mutex
	pending []Request
	dead    []Request
	lastID  int64
	subs    []func(Event)

	draining atomic.Bool
}

// Option configures a Queue.
type Option func(*Queue)

func WithClock(c clock.Clock) Option {
	return func(q *Queue) { q.clock = clock.OrReal(c) }
}

func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithStore persists the queue after every mutation.
func WithStore(s Store) Option {
	return func(q *Queue) { q.store = s }
}

// WithMaxAttempts sets the dead-letter cutoff. Zero disables it.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.maxAttempts = n
		}
	}
}

// New builds a queue and restores any snapshot held by the configured store.
func New(ctx context.Context, opts ...Option) (*Queue, error) {
	q := &Queue{
		clock:       clock.NewRealClock(),
		logger:      zap.NewNop(),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(q)
	}

	if q.store != nil {
		snap, err := q.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading queue snapshot: %w", err)
		}
		q.pending = cloneRequests(snap.Pending)
		q.dead = cloneRequests(snap.DeadLetters)
		sortByID(q.pending)
		q.lastID = maxID(q.pending, maxID(q.dead, 0))
		if n := len(q.pending) + len(q.dead); n > 0 {
			q.logger.Info("restored offline queue",
				zap.Int("pending", len(q.pending)),
				zap.Int("dead_letters", len(q.dead)),
			)
		}
	}
	return q, nil
}

// Subscribe registers fn to receive every subsequent event. fn runs on the
// goroutine that caused the change and must not call back into the queue.
func (q *Queue) Subscribe(fn func(Event)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subs = append(q.subs, fn)
}

// Enqueue appends a pending request and returns its ID. IDs are the current
// time in milliseconds, bumped to last+1 when that would not be increasing.
func (q *Queue) Enqueue(functionName string, payload json.RawMessage) (int64, error) {
	functionName = strings.TrimSpace(functionName)
	if functionName == "" {
		return 0, ErrEmptyFunctionName
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	id := clock.Millis(now)
	if id <= q.lastID {
		id = q.lastID + 1
	}
	q.lastID = id

	req := Request{
		ID:           id,
		FunctionName: functionName,
		Payload:      append(json.RawMessage(nil), payload...),
		EnqueuedAt:   now,
		Status:       StatusPending,
	}
	q.pending = append(q.pending, req)

	q.logger.Info("request queued",
		zap.Int64("id", id),
		zap.String("function", functionName),
		zap.Int("pending", len(q.pending)),
	)
	q.persistLocked()
	q.emitLocked(Event{Type: EventEnqueued, ID: id, FunctionName: functionName})
	return id, nil
}

// Drain replays the pending entries present when it starts, in ID order and
// one at a time. Successful entries are removed; failures, panics and unknown
// function names leave the entry pending and are reported in the results.
//
// A concurrent call returns ErrDrainInProgress without touching the queue.
// Cancelling ctx stops before the next entry and returns the results so far.
func (q *Queue) Drain(ctx context.Context, handlers Handlers) ([]Result, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return nil, ErrDrainInProgress
	}
	defer q.draining.Store(false)

	q.mu.Lock()
	batch := cloneRequests(q.pending)
	if len(batch) > 0 {
		q.emitLocked(Event{Type: EventDrainStarted})
	}
	q.mu.Unlock()

	results := make([]Result, 0, len(batch))
	if len(batch) == 0 {
		return results, nil
	}

	start := q.clock.Now()
	for _, req := range batch {
		if err := ctx.Err(); err != nil {
			q.finishDrain(results, start)
			return results, err
		}
		if !q.stillPending(req.ID) {
			continue
		}
		results = append(results, q.replay(ctx, handlers, req))
	}

	q.finishDrain(results, start)
	return results, nil
}

func (q *Queue) replay(ctx context.Context, handlers Handlers, req Request) Result {
	res := Result{ID: req.ID, FunctionName: req.FunctionName}

	var (
		out json.RawMessage
		err error
	)
	if h, ok := handlers[req.FunctionName]; ok && h != nil {
		out, err = call(ctx, h, req.Payload)
	} else {
		err = fmt.Errorf("%w: %s", ErrUnknownFunction, req.FunctionName)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	idx := indexOf(q.pending, req.ID)
	if err == nil {
		res.Success = true
		res.Result = out
		if idx >= 0 {
			q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
		}
		q.logger.Info("queued request replayed",
			zap.Int64("id", req.ID),
			zap.String("function", req.FunctionName),
		)
		q.persistLocked()
		q.emitLocked(Event{Type: EventSucceeded, ID: req.ID, FunctionName: req.FunctionName})
		return res
	}

	res.Error = err.Error()
	if idx < 0 {
		// Removed while its handler was running.
		return res
	}

	entry := &q.pending[idx]
	entry.Attempts++
	entry.LastError = res.Error

	if q.maxAttempts > 0 && entry.Attempts >= q.maxAttempts {
		dead := *entry
		dead.Status = StatusFailed
		q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
		q.dead = append(q.dead, dead)
		res.DeadLettered = true

		q.logger.Warn("queued request moved to dead letters",
			zap.Int64("id", req.ID),
			zap.String("function", req.FunctionName),
			zap.Int("attempts", dead.Attempts),
			zap.Error(err),
		)
		q.persistLocked()
		q.emitLocked(Event{Type: EventDeadLettered, ID: req.ID, FunctionName: req.FunctionName, Error: res.Error})
		return res
	}

	q.logger.Warn("queued request failed, keeping for retry",
		zap.Int64("id", req.ID),
		zap.String("function", req.FunctionName),
		zap.Int("attempts", entry.Attempts),
		zap.Error(err),
	)
	q.persistLocked()
	q.emitLocked(Event{Type: EventFailed, ID: req.ID, FunctionName: req.FunctionName, Error: res.Error})
	return res
}

func (q *Queue) finishDrain(results []Result, start time.Time) {
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.logger.Info("drain finished",
		zap.Int("processed", len(results)),
		zap.Int("succeeded", succeeded),
		zap.Int("remaining", len(q.pending)),
		zap.Duration("elapsed", q.clock.Since(start)),
	)
	q.emitLocked(Event{Type: EventDrainFinished})
}

// Draining reports whether a drain is running.
func (q *Queue) Draining() bool {
	return q.draining.Load()
}

// Pending returns a copy of the pending entries in enqueue order.
func (q *Queue) Pending() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return cloneRequests(q.pending)
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DeadLetters returns a copy of the entries that exhausted their attempts.
func (q *Queue) DeadLetters() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return cloneRequests(q.dead)
}

// Get looks an entry up in the pending and dead-letter lists.
func (q *Queue) Get(id int64) (Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i := indexOf(q.pending, id); i >= 0 {
		return q.pending[i].clone(), nil
	}
	if i := indexOf(q.dead, id); i >= 0 {
		return q.dead[i].clone(), nil
	}
	return Request{}, fmt.Errorf("request %d: %w", id, ErrNotFound)
}

// Remove deletes an entry from either list.
func (q *Queue) Remove(id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed Request
	if i := indexOf(q.pending, id); i >= 0 {
		removed = q.pending[i]
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
	} else if i := indexOf(q.dead, id); i >= 0 {
		removed = q.dead[i]
		q.dead = append(q.dead[:i], q.dead[i+1:]...)
	} else {
		return fmt.Errorf("request %d: %w", id, ErrNotFound)
	}

	q.persistLocked()
	q.emitLocked(Event{Type: EventRemoved, ID: id, FunctionName: removed.FunctionName})
	return nil
}

// Requeue moves a dead letter back to pending with a fresh attempt count.
// It keeps its original ID and therefore its place in enqueue order.
func (q *Queue) Requeue(id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := indexOf(q.dead, id)
	if i < 0 {
		return fmt.Errorf("dead letter %d: %w", id, ErrNotFound)
	}
	req := q.dead[i]
	q.dead = append(q.dead[:i], q.dead[i+1:]...)

	req.Status = StatusPending
	req.Attempts = 0
	req.LastError = ""

	pos := sort.Search(len(q.pending), func(j int) bool { return q.pending[j].ID > req.ID })
	q.pending = append(q.pending, Request{})
	copy(q.pending[pos+1:], q.pending[pos:])
	q.pending[pos] = req

	q.persistLocked()
	q.emitLocked(Event{Type: EventRequeued, ID: id, FunctionName: req.FunctionName})
	return nil
}

// MaxAttempts returns the dead-letter cutoff; zero means unlimited.
func (q *Queue) MaxAttempts() int {
	return q.maxAttempts
}

func (q *Queue) stillPending(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return indexOf(q.pending, id) >= 0
}

// persistLocked saves a snapshot. Errors are logged; the in-memory queue stays
// authoritative.
func (q *Queue) persistLocked() {
	if q.store == nil {
		return
	}
	snap := Snapshot{Pending: cloneRequests(q.pending), DeadLetters: cloneRequests(q.dead)}
	if err := q.store.Save(context.Background(), snap); err != nil {
		q.logger.Error("saving queue snapshot", zap.Error(err))
	}
}

func (q *Queue) emitLocked(ev Event) {
	if len(q.subs) == 0 {
		return
	}
	ev.Pending = len(q.pending)
	ev.At = q.clock.Now()
	for _, fn := range q.subs {
		fn(ev)
	}
}

func indexOf(reqs []Request, id int64) int {
	for i := range reqs {
		if reqs[i].ID == id {
			return i
		}
	}
	return -1
}

func maxID(reqs []Request, floor int64) int64 {
	for _, r := range reqs {
		if r.ID > floor {
			floor = r.ID
		}
	}
	return floor
}

func sortByID(reqs []Request) {
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].ID < reqs[j].ID })
}
