package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// FileRepo stores each entity as a JSON file named after its id.
type FileRepo[T any] struct {
	dir string
	mu  sync.RWMutex
}

// NewFileRepo creates dir if needed and returns a repository rooted there.
func NewFileRepo[T any](dir string) (*FileRepo[T], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("repo: mkdir %s: %w", dir, err)
	}
	return &FileRepo[T]{dir: dir}, nil
}

var _ Repository[any, string] = (*FileRepo[any])(nil)

func (r *FileRepo[T]) path(id string) string {
	return filepath.Join(r.dir, url.PathEscape(id)+".json")
}

func (r *FileRepo[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	r.mu.RLock()
	data, err := os.ReadFile(r.path(id))
	r.mu.RUnlock()
	if errors.Is(err, fs.ErrNotExist) {
		return zero, fmt.Errorf("repo: %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return zero, fmt.Errorf("repo: read %s: %w", id, err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, fmt.Errorf("repo: decode %s: %w", id, err)
	}
	return v, nil
}

// Put writes the entity atomically through a temporary file.
func (r *FileRepo[T]) Put(ctx context.Context, id string, entity T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(entity, "", "  ")
	if err != nil {
		return fmt.Errorf("repo: encode %s: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	tmp, err := os.CreateTemp(r.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("repo: write %s: %w", id, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("repo: write %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("repo: write %s: %w", id, err)
	}
	if err := os.Rename(tmp.Name(), r.path(id)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("repo: write %s: %w", id, err)
	}
	return nil
}

func (r *FileRepo[T]) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := os.Remove(r.path(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("repo: delete %s: %w", id, err)
	}
	return nil
}
