package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/fido"
	"github.com/codeGROOVE-dev/fido/pkg/store/cloudrun"
)

// snapshotTTL keeps snapshots effectively forever; every mutation rewrites them.
const snapshotTTL = 365 * 24 * time.Hour

// FidoRepository implements Repository using fido with a CloudRun backend.
//
// The whole snapshot lives under a single key in the named Datastore
// database, which must exist before use.
type FidoRepository[T any] struct {
	cache  *fido.TieredCache[string, T]
	logger *slog.Logger
	key    string
	mu     sync.Mutex
}

// FidoOption configures a FidoRepository.
type FidoOption[T any] func(*fidoOptions[T])

type fidoOptions[T any] struct {
	store  fido.Store[string, T]
	logger *slog.Logger
}

// WithStore sets a custom persistence store, typically a null store in tests.
func WithStore[T any](s fido.Store[string, T]) FidoOption[T] {
	return func(o *fidoOptions[T]) { o.store = s }
}

// WithLogger sets the repository logger.
func WithLogger[T any](l *slog.Logger) FidoOption[T] {
	return func(o *fidoOptions[T]) { o.logger = l }
}

// NewFidoRepository creates a fido-backed repository storing its snapshot
// under key in the given database.
func NewFidoRepository[T any](ctx context.Context, database, key string, opts ...FidoOption[T]) (*FidoRepository[T], error) {
	var o fidoOptions[T]
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	store := o.store
	if store == nil {
		var err error
		store, err = cloudrun.New[string, T](ctx, database)
		if err != nil {
			return nil, fmt.Errorf("create %s store: %w", database, err)
		}
	}

	cache, err := fido.NewTiered(store, fido.TTL(snapshotTTL))
	if err != nil {
		return nil, fmt.Errorf("create %s cache: %w", database, err)
	}

	o.logger.Info("initialized fido repository", "database", database, "key", key)
	return &FidoRepository[T]{
		cache:  cache,
		logger: o.logger,
		key:    key,
	}, nil
}

// Load returns a copy of the stored snapshot.
func (r *FidoRepository[T]) Load(ctx context.Context) (T, error) {
	v, found, err := r.cache.Get(ctx, r.key)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("fetch snapshot %s: %w", r.key, err)
	}
	if !found {
		var zero T
		return zero, ErrNotFound
	}
	return clone(v)
}

// Save stores a copy of v.
func (r *FidoRepository[T]) Save(ctx context.Context, v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(ctx, v)
}

func (r *FidoRepository[T]) save(ctx context.Context, v T) error {
	c, err := clone(v)
	if err != nil {
		return err
	}
	if err := r.cache.Set(ctx, r.key, c); err != nil {
		return fmt.Errorf("store snapshot %s: %w", r.key, err)
	}
	return nil
}

// WithLock runs a read-modify-write cycle.
func (r *FidoRepository[T]) WithLock(ctx context.Context, fn func(v *T) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, err := loadOrZero(ctx, r.Load)
	if err != nil {
		return err
	}
	if err := fn(&v); err != nil {
		return err
	}
	return r.save(ctx, v)
}

// Close releases the underlying cache.
func (r *FidoRepository[T]) Close() error {
	if err := r.cache.Close(); err != nil {
		return fmt.Errorf("close %s: %w", r.key, err)
	}
	return nil
}
