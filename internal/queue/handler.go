package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Handler executes one cloud function with a JSON payload.
type Handler func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Handlers maps function names to their handlers.
type Handlers map[string]Handler

// Names returns the registered function names, sorted.
func (h Handlers) Names() []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithTimeout bounds every call to h by d. A non-positive d returns h unchanged.
func WithTimeout(h Handler, d time.Duration) Handler {
	if d <= 0 {
		return h
	}
	return func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return h(ctx, payload)
	}
}

// call runs h and converts a panic into an error.
func call(ctx context.Context, h Handler, payload json.RawMessage) (out json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, payload)
}
