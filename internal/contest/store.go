package contest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/codeGROOVE-dev/contestian/internal/state"
)

// Feed fetches the current upstream contest list.
type Feed interface {
	Contests(ctx context.Context) ([]Contest, error)
}

// ErrEmptyFeed is returned by Refresh when upstream yields no usable contests.
var ErrEmptyFeed = errors.New("contest feed returned no contests")

// Store owns the contest snapshot. It is the only writer of the
// thread_created and result_sent flags.
type Store struct {
	repo     state.Repository[[]Contest]
	feed     Feed
	logger   *slog.Logger
	contests []Contest
	mu       sync.RWMutex
}

// StoreConfig configures a Store.
type StoreConfig struct {
	Repository state.Repository[[]Contest]
	Feed       Feed
	Logger     *slog.Logger
}

// NewStore creates a contest store. Call Load to populate it from disk.
func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:   cfg.Repository,
		feed:   cfg.Feed,
		logger: logger,
	}
}

// Load reads the persisted snapshot. A missing or corrupt snapshot yields an
// empty list; only storage I/O failures are returned.
func (s *Store) Load(ctx context.Context) ([]Contest, error) {
	contests, err := s.repo.Load(ctx)
	switch {
	case err == nil:
	case errors.Is(err, state.ErrNotFound):
		s.logger.Info("no contest snapshot found, starting empty")
		contests = nil
	case errors.Is(err, state.ErrCorrupt):
		s.logger.Warn("contest snapshot corrupt, starting empty", "error", err)
		contests = nil
	default:
		return nil, fmt.Errorf("load contests: %w", err)
	}

	contests = s.validated(contests)

	s.mu.Lock()
	s.contests = contests
	s.mu.Unlock()

	s.logger.Info("loaded contest snapshot", "contests", len(contests))
	return slices.Clone(contests), nil
}

// Refresh fetches a fresh snapshot and replaces the in-memory list.
// Fired flags are carried forward by contest id. On failure the previous list
// is kept.
func (s *Store) Refresh(ctx context.Context) ([]Contest, error) {
	fetched, err := s.feed.Contests(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch contests: %w", err)
	}
	fetched = s.validated(fetched)
	if len(fetched) == 0 {
		return nil, ErrEmptyFeed
	}

	s.mu.Lock()
	previous := make(map[string]Contest, len(s.contests))
	for _, c := range s.contests {
		previous[c.ID] = c
	}
	for i := range fetched {
		if old, ok := previous[fetched[i].ID]; ok {
			fetched[i].ThreadCreated = fetched[i].ThreadCreated || old.ThreadCreated
			fetched[i].ResultSent = fetched[i].ResultSent || old.ResultSent
		}
	}
	s.contests = fetched
	s.mu.Unlock()

	s.logger.Info("refreshed contest snapshot", "contests", len(fetched))
	return slices.Clone(fetched), nil
}

// Save persists the in-memory snapshot.
func (s *Store) Save(ctx context.Context) error {
	contests := s.Contests()
	if err := s.repo.Save(ctx, contests); err != nil {
		return fmt.Errorf("save contests: %w", err)
	}
	return nil
}

// Contests returns a copy of the in-memory snapshot.
func (s *Store) Contests() []Contest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.contests)
}

// Contest returns one contest by id.
func (s *Store) Contest(id string) (Contest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.contests {
		if c.ID == id {
			return c, true
		}
	}
	return Contest{}, false
}

// MarkThreadCreated sets thread_created for a contest and persists the snapshot.
func (s *Store) MarkThreadCreated(ctx context.Context, id string) error {
	return s.mark(ctx, id, func(c *Contest) { c.ThreadCreated = true })
}

// MarkResultSent sets result_sent for a contest and persists the snapshot.
func (s *Store) MarkResultSent(ctx context.Context, id string) error {
	return s.mark(ctx, id, func(c *Contest) { c.ResultSent = true })
}

func (s *Store) mark(ctx context.Context, id string, set func(*Contest)) error {
	s.mu.Lock()
	found := false
	for i := range s.contests {
		if s.contests[i].ID == id {
			set(&s.contests[i])
			found = true
		}
	}
	s.mu.Unlock()
	if !found {
		return fmt.Errorf("contest %s not in snapshot", id)
	}

	// Flags already on disk are never cleared.
	err := s.repo.WithLock(ctx, func(persisted *[]Contest) error {
		current := s.Contests()
		flags := make(map[string]Contest, len(*persisted))
		for _, c := range *persisted {
			flags[c.ID] = c
		}
		for i := range current {
			if old, ok := flags[current[i].ID]; ok {
				current[i].ThreadCreated = current[i].ThreadCreated || old.ThreadCreated
				current[i].ResultSent = current[i].ResultSent || old.ResultSent
			}
		}
		*persisted = current
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist contest %s: %w", id, err)
	}
	return nil
}

func (s *Store) validated(in []Contest) []Contest {
	out := make([]Contest, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, c := range in {
		if err := c.Validate(); err != nil {
			s.logger.Warn("skipping invalid contest record", "name", c.Name, "error", err)
			continue
		}
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}
