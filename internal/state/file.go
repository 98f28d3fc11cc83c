package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileRepository stores the snapshot as a YAML file.
//
// Writes go to a temp file in the same directory followed by a rename, so a
// crash mid-write leaves the previous snapshot intact.
type FileRepository[T any] struct {
	logger *slog.Logger
	path   string
	mu     sync.Mutex // serializes WithLock and Save
}

// NewFileRepository creates a repository backed by path.
// The file and its directory are created on first Save.
func NewFileRepository[T any](path string, logger *slog.Logger) *FileRepository[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileRepository[T]{path: path, logger: logger}
}

// Path returns the backing file path.
func (r *FileRepository[T]) Path() string {
	return r.path
}

// Load reads and decodes the snapshot file.
func (r *FileRepository[T]) Load(_ context.Context) (T, error) {
	var v T
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return v, ErrNotFound
	}
	if err != nil {
		return v, fmt.Errorf("read %s: %w", r.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return v, ErrNotFound
	}
	if err := decode(data, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %w", ErrCorrupt, r.path, err)
	}
	return v, nil
}

// Save rewrites the snapshot file.
func (r *FileRepository[T]) Save(ctx context.Context, v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(ctx, v)
}

func (r *FileRepository[T]) save(_ context.Context, v T) error {
	data, err := encode(v)
	if err != nil {
		return err
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(r.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if _, statErr := os.Stat(tmpName); statErr == nil {
			os.Remove(tmpName) //nolint:errcheck,gosec // best-effort cleanup of failed write
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec // already failing
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("replace %s: %w", r.path, err)
	}

	r.logger.Debug("saved snapshot", "path", r.path, "bytes", len(data))
	return nil
}

// WithLock runs a read-modify-write cycle against the file.
func (r *FileRepository[T]) WithLock(ctx context.Context, fn func(v *T) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, err := r.Load(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
	case errors.Is(err, ErrCorrupt):
		r.logger.Warn("snapshot corrupt, starting from empty state", "path", r.path, "error", err)
	default:
		return err
	}

	if err := fn(&v); err != nil {
		return err
	}
	return r.save(ctx, v)
}

// Close is a no-op; files are not held open.
func (*FileRepository[T]) Close() error {
	return nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	return yaml.Unmarshal(data, v)
}
