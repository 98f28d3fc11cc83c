// Package scheduler runs independent polling loops.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds a single tick when a job sets no timeout.
const DefaultTimeout = time.Minute

// Job is one polling loop.
type Job struct {
	Run      func(ctx context.Context) error
	Name     string
	Interval time.Duration
	// Timeout bounds each tick. Zero uses DefaultTimeout.
	Timeout time.Duration
}

// Status summarizes a job's recent ticks.
type Status struct {
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
}

// Config configures a Manager.
type Config struct {
	Logger *slog.Logger
	// Ready gates the first tick of every job. Nil starts immediately.
	Ready <-chan struct{}
	Jobs  []Job
}

// Manager runs each job on its own ticker.
type Manager struct {
	logger   *slog.Logger
	ready    <-chan struct{}
	status   map[string]Status
	stopCh   chan struct{}
	jobs     []Job
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopOnce sync.Once
}

// New creates a scheduler. Jobs with a non-positive interval are rejected.
func New(cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	seen := make(map[string]bool, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		if j.Name == "" || j.Run == nil {
			return nil, errors.New("job needs a name and a run function")
		}
		if j.Interval <= 0 {
			return nil, fmt.Errorf("job %s: interval must be positive", j.Name)
		}
		if seen[j.Name] {
			return nil, fmt.Errorf("job %s registered twice", j.Name)
		}
		seen[j.Name] = true
	}
	return &Manager{
		logger: cfg.Logger,
		ready:  cfg.Ready,
		jobs:   cfg.Jobs,
		status: make(map[string]Status, len(cfg.Jobs)),
		stopCh: make(chan struct{}),
	}, nil
}

// Start launches one goroutine per job.
func (m *Manager) Start(ctx context.Context) {
	for _, j := range m.jobs {
		m.wg.Go(func() {
			m.loop(ctx, j)
		})
	}
}

// Stop stops every loop and waits for in-flight ticks.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Status returns a snapshot of every job's status keyed by name.
func (m *Manager) Status() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.status)
}

func (m *Manager) loop(ctx context.Context, j Job) {
	if m.ready != nil {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-m.ready:
		}
	}

	m.logger.Info("starting job", "job", j.Name, "interval", j.Interval)
	m.tick(ctx, j)

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.tick(ctx, j)
		}
	}
}

func (m *Manager) tick(ctx context.Context, j Job) {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tickCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := m.logger.With("job", j.Name, "tick_id", uuid.NewString())
	started := time.Now()

	err := m.runGuarded(tickCtx, j)
	m.record(j.Name, started, err)

	if err != nil {
		log.Warn("job tick failed", "error", err, "duration", time.Since(started))
		return
	}
	log.Debug("job tick complete", "duration", time.Since(started))
}

// runGuarded keeps a panicking tick from killing its loop.
func (m *Manager) runGuarded(ctx context.Context, j Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job %s: %v", j.Name, r)
		}
	}()
	return j.Run(ctx)
}

func (m *Manager) record(name string, at time.Time, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.status[name]
	s.LastRun = at
	s.Runs++
	s.LastError = ""
	if err != nil {
		s.Failures++
		s.LastError = err.Error()
	}
	m.status[name] = s
}
