package state

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRepository keeps the snapshot in process memory.
// Values are copied on the way in and out.
type MemoryRepository[T any] struct {
	data   []byte
	mu     sync.RWMutex
	lockMu sync.Mutex
	saves  int
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository[T any]() *MemoryRepository[T] {
	return &MemoryRepository[T]{}
}

// Load returns a copy of the stored snapshot.
func (r *MemoryRepository[T]) Load(_ context.Context) (T, error) {
	r.mu.RLock()
	data := r.data
	r.mu.RUnlock()

	var v T
	if data == nil {
		return v, ErrNotFound
	}
	if err := decode(data, &v); err != nil {
		return v, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return v, nil
}

// Save stores a copy of v.
func (r *MemoryRepository[T]) Save(_ context.Context, v T) error {
	data, err := encode(v)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = data
	r.saves++
	return nil
}

// WithLock runs a read-modify-write cycle.
func (r *MemoryRepository[T]) WithLock(ctx context.Context, fn func(v *T) error) error {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()

	v, err := loadOrZero(ctx, r.Load)
	if err != nil {
		return err
	}
	if err := fn(&v); err != nil {
		return err
	}
	return r.Save(ctx, v)
}

// Saves returns how many times the snapshot has been written.
func (r *MemoryRepository[T]) Saves() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.saves
}

// Close is a no-op.
func (*MemoryRepository[T]) Close() error {
	return nil
}
