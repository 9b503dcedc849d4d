// Package queue buffers cloud-function calls made while offline and replays
// them in enqueue order once connectivity returns.
package queue

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrDrainInProgress is returned when Drain is called while another drain runs.
	ErrDrainInProgress = errors.New("drain already in progress")
	// ErrNotFound is returned when no entry has the requested ID.
	ErrNotFound = errors.New("request not found")
	// ErrUnknownFunction is recorded when no handler exists for an entry.
	ErrUnknownFunction = errors.New("unknown function")
	// ErrEmptyFunctionName is returned by Enqueue for a blank function name.
	ErrEmptyFunctionName = errors.New("function name is required")
)

// DefaultMaxAttempts is the number of failed drains after which an entry is
// moved to the dead-letter list.
const DefaultMaxAttempts = 5

// Status is the lifecycle state of a queued request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Request is one buffered call.
type Request struct {
	ID           int64           `json:"id"`
	FunctionName string          `json:"function_name"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	Status       Status          `json:"status"`
	Attempts     int             `json:"attempts"`
	LastError    string          `json:"last_error,omitempty"`
}

func (r Request) clone() Request {
	if r.Payload != nil {
		r.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	return r
}

// Result reports the outcome of replaying one entry.
type Result struct {
	ID           int64           `json:"id"`
	FunctionName string          `json:"function_name"`
	Success      bool            `json:"success"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	DeadLettered bool            `json:"dead_lettered,omitempty"`
}

// Snapshot is the persisted state of a queue.
type Snapshot struct {
	Pending     []Request `json:"pending"`
	DeadLetters []Request `json:"dead_letters"`
}

func cloneRequests(in []Request) []Request {
	out := make([]Request, len(in))
	for i, r := range in {
		out[i] = r.clone()
	}
	return out
}
