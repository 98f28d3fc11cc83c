// Package state provides persistent snapshot storage for the bot.
package state

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Load when nothing has been persisted yet.
	ErrNotFound = errors.New("snapshot not found")

	// ErrCorrupt is returned by Load when the persisted snapshot cannot be decoded.
	ErrCorrupt = errors.New("snapshot corrupt")
)

// Repository persists a whole snapshot of type T.
//
// Every Save rewrites the snapshot wholesale. WithLock serializes
// read-modify-write cycles within the process; concurrent processes sharing
// the same backing storage are not coordinated.
type Repository[T any] interface {
	// Load returns the persisted snapshot, ErrNotFound if none exists, or an
	// error wrapping ErrCorrupt if it cannot be decoded.
	Load(ctx context.Context) (T, error)

	// Save overwrites the persisted snapshot.
	Save(ctx context.Context, v T) error

	// WithLock loads the snapshot (zero value when missing or corrupt), passes
	// it to fn and saves the result if fn returns nil.
	WithLock(ctx context.Context, fn func(v *T) error) error

	Close() error
}

// clone deep-copies v through its YAML form so callers never share maps or
// slices with the repository.
func clone[T any](v T) (T, error) {
	var out T
	data, err := encode(v)
	if err != nil {
		return out, err
	}
	if err := decode(data, &out); err != nil {
		return out, fmt.Errorf("decode snapshot: %w", err)
	}
	return out, nil
}

// loadOrZero is the WithLock starting point shared by all repositories.
func loadOrZero[T any](ctx context.Context, load func(context.Context) (T, error)) (T, error) {
	v, err := load(ctx)
	if err == nil {
		return v, nil
	}
	var zero T
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorrupt) {
		return zero, nil
	}
	return zero, err
}
