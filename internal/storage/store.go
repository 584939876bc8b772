package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrInvalidID = errors.New("storage: invalid record id")

const (
	recordExt = ".json"
	tmpExt    = ".tmp"
)

// Store is the data directory. Every record file lives under Root and is
// guarded by Locks keyed on its path.
type Store struct {
	Root  string
	Locks *Locks
}

func New(root string, locks *Locks) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{Root: root, Locks: locks}, nil
}

// Collection is one entity type: a subdirectory of Root holding one JSON
// file per record.
type Collection[T any] struct {
	store *Store
	name  string
}

func NewCollection[T any](s *Store, name string) *Collection[T] {
	return &Collection[T]{store: s, name: name}
}

func (c *Collection[T]) Name() string { return c.name }

// Path returns the file backing id. Ids may contain forward slashes to
// nest records (handle/project) but may not escape the collection.
func (c *Collection[T]) Path(id string) (string, error) {
	if id == "" || strings.HasPrefix(id, "/") || strings.ContainsAny(id, "\\\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	for _, part := range strings.Split(id, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	return filepath.Join(c.store.Root, c.name, filepath.FromSlash(id)+recordExt), nil
}

// WithLock runs fn holding the lock for id. Inside fn use only the
// WithoutLocking methods for that id.
func (c *Collection[T]) WithLock(ctx context.Context, id string, fn func() error) error {
	file, err := c.Path(id)
	if err != nil {
		return err
	}
	return c.store.Locks.WithLock(ctx, file, fn)
}

// Read returns nil, nil when the record does not exist.
func (c *Collection[T]) Read(ctx context.Context, id string) (*T, error) {
	var record *T
	err := c.WithLock(ctx, id, func() error {
		var err error
		record, err = c.ReadWithoutLocking(id)
		return err
	})
	return record, err
}

func (c *Collection[T]) ReadWithoutLocking(id string) (*T, error) {
	file, err := c.Path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", c.name, id, err)
	}
	record := new(T)
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", c.name, id, err)
	}
	return record, nil
}

// Write creates the record. It reports false, and writes nothing, when a
// record with that id already exists.
func (c *Collection[T]) Write(ctx context.Context, id string, record *T) (bool, error) {
	var created bool
	err := c.WithLock(ctx, id, func() error {
		var err error
		created, err = c.WriteWithoutLocking(id, record)
		return err
	})
	return created, err
}

func (c *Collection[T]) WriteWithoutLocking(id string, record *T) (bool, error) {
	file, err := c.Path(id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(file)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat %s/%s: %w", c.name, id, err)
	}
	if err := c.save(file, record); err != nil {
		return false, err
	}
	return true, nil
}

// ReplaceWithoutLocking overwrites or creates the record.
func (c *Collection[T]) ReplaceWithoutLocking(id string, record *T) error {
	file, err := c.Path(id)
	if err != nil {
		return err
	}
	return c.save(file, record)
}

// Update applies mutate to the stored record and persists the result. It
// returns nil, nil when the record does not exist. An error from mutate
// leaves the file untouched.
func (c *Collection[T]) Update(ctx context.Context, id string, mutate func(*T) error) (*T, error) {
	var record *T
	err := c.WithLock(ctx, id, func() error {
		var err error
		record, err = c.UpdateWithoutLocking(id, mutate)
		return err
	})
	return record, err
}

func (c *Collection[T]) UpdateWithoutLocking(id string, mutate func(*T) error) (*T, error) {
	record, err := c.ReadWithoutLocking(id)
	if err != nil || record == nil {
		return nil, err
	}
	if err := mutate(record); err != nil {
		return nil, err
	}
	if err := c.ReplaceWithoutLocking(id, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Delete removes the record. Deleting a missing record is not an error.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.WithLock(ctx, id, func() error {
		return c.DeleteWithoutLocking(id)
	})
}

func (c *Collection[T]) DeleteWithoutLocking(id string) error {
	file, err := c.Path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s/%s: %w", c.name, id, err)
	}
	return nil
}

// Exists reports whether id has a record, holding its lock while it looks.
func (c *Collection[T]) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := c.WithLock(ctx, id, func() error {
		var err error
		exists, err = c.ExistsWithoutLocking(id)
		return err
	})
	return exists, err
}

func (c *Collection[T]) ExistsWithoutLocking(id string) (bool, error) {
	file, err := c.Path(id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(file)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s/%s: %w", c.name, id, err)
}

// List returns every record id in the collection, sorted. It spans every
// key, so it takes no lock; records written by tmp+rename are never seen
// half-written.
func (c *Collection[T]) List() ([]string, error) {
	dir := filepath.Join(c.store.Root, c.name)
	ids := []string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, recordExt) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		ids = append(ids, filepath.ToSlash(strings.TrimSuffix(rel, recordExt)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c.name, err)
	}
	sort.Strings(ids)
	return ids, nil
}

// save writes through a sibling temp file so readers never see a partial record.
func (c *Collection[T]) save(file string, record *T) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s record: %w", c.name, err)
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("create %s directory: %w", c.name, err)
	}
	tmp := file + tmpExt
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s record: %w", c.name, err)
	}
	if err := os.Rename(tmp, file); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit %s record: %w", c.name, err)
	}
	return nil
}
