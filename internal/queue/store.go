package queue

import (
	"context"
	"sync"
)

// Store persists queue snapshots between process restarts.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// MemoryStore keeps the last saved snapshot in memory. Useful in tests and
// for handing a queue's state to a new Queue in the same process.
type MemoryStore struct {
	mu    sync.Mutex
	snap  Snapshot
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Pending: cloneRequests(m.snap.Pending), DeadLetters: cloneRequests(m.snap.DeadLetters)}, nil
}

func (m *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = Snapshot{Pending: cloneRequests(snap.Pending), DeadLetters: cloneRequests(snap.DeadLetters)}
	m.saves++
	return nil
}

// Saves returns how many snapshots were written.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
