// Package queue exposes the offline request queue for embedding.
package queue

import (
	"context"
	"time"

	internalqueue "github.com/SmitUplenchwar2687/Carelink/internal/queue"
)

const DefaultMaxAttempts = internalqueue.DefaultMaxAttempts

var (
	ErrDrainInProgress   = internalqueue.ErrDrainInProgress
	ErrNotFound          = internalqueue.ErrNotFound
	ErrUnknownFunction   = internalqueue.ErrUnknownFunction
	ErrEmptyFunctionName = internalqueue.ErrEmptyFunctionName
)

type (
	Queue       = internalqueue.Queue
	Option      = internalqueue.Option
	Request     = internalqueue.Request
	Result      = internalqueue.Result
	Status      = internalqueue.Status
	Event       = internalqueue.Event
	EventType   = internalqueue.EventType
	Handler     = internalqueue.Handler
	Handlers    = internalqueue.Handlers
	Store       = internalqueue.Store
	Snapshot    = internalqueue.Snapshot
	MemoryStore = internalqueue.MemoryStore
	SQLiteStore = internalqueue.SQLiteStore
	RedisStore  = internalqueue.RedisStore
)

var (
	WithClock       = internalqueue.WithClock
	WithLogger      = internalqueue.WithLogger
	WithStore       = internalqueue.WithStore
	WithMaxAttempts = internalqueue.WithMaxAttempts
	NewMemoryStore  = internalqueue.NewMemoryStore
	NewRedisStore   = internalqueue.NewRedisStore
)

// New creates a queue, loading any snapshot from the configured store.
func New(ctx context.Context, opts ...Option) (*Queue, error) {
	return internalqueue.New(ctx, opts...)
}

// OpenSQLiteStore opens (or creates) a SQLite-backed store at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	return internalqueue.OpenSQLiteStore(ctx, path)
}

// WithTimeout bounds each call of h to d.
func WithTimeout(h Handler, d time.Duration) Handler {
	return internalqueue.WithTimeout(h, d)
}
