// Package statefile keeps the applied migration set in a YAML file, for
// setups where the target database should not carry a tracking table.
package statefile

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"gomigrator/internal/migrator"
)

var (
	_ migrator.StateStore    = (*Store)(nil)
	_ migrator.AppliedLister = (*Store)(nil)
	_ migrator.Locker        = (*Store)(nil)
)

type entry struct {
	Version     int64     `yaml:"version"`
	Name        string    `yaml:"name"`
	Checksum    string    `yaml:"checksum,omitempty"`
	BatchID     string    `yaml:"batch_id,omitempty"`
	AppliedAt   time.Time `yaml:"applied_at"`
	ExecutionMs int64     `yaml:"execution_ms"`
}

type document struct {
	Applied []entry `yaml:"applied"`
}

// Store is a StateStore backed by a YAML file. Every write replaces the file
// atomically, so a crash leaves either the old or the new content.
//
// Writes hold <path>.lock, created exclusively, for the read-modify-write so
// processes sharing one file cannot both record a version. WithLock only
// serialises batches inside this process.
type Store struct {
	path        string
	mu          sync.Mutex
	lockMu      sync.Mutex
	lockTimeout time.Duration
}

// ErrFileLocked is returned when <path>.lock stays held past the lock timeout.
var ErrFileLocked = errors.New("state file is locked by another process")

func New(path string) *Store { return &Store{path: path, lockTimeout: 10 * time.Second} }

func (s *Store) Path() string { return s.path }

func (s *Store) WithLock(ctx context.Context, fn func(context.Context) error) error {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	return fn(ctx)
}

func (s *Store) IsApplied(_ context.Context, version int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return false, err
	}
	return doc.index(version) >= 0, nil
}

func (s *Store) MarkApplied(_ context.Context, version int64, m migrator.Marker) error {
	return s.update(func(doc *document) (bool, error) {
		if doc.index(version) >= 0 {
			return false, migrator.ErrAlreadyApplied
		}
		doc.Applied = append(doc.Applied, entry{
			Version:     version,
			Name:        m.Name,
			Checksum:    m.Checksum,
			BatchID:     m.BatchID,
			AppliedAt:   m.AppliedAt.UTC(),
			ExecutionMs: m.Duration.Milliseconds(),
		})
		return true, nil
	})
}

func (s *Store) MarkRolledBack(_ context.Context, version int64) error {
	return s.update(func(doc *document) (bool, error) {
		i := doc.index(version)
		if i < 0 {
			return false, nil
		}
		doc.Applied = slices.Delete(doc.Applied, i, i+1)
		return true, nil
	})
}

func (s *Store) AppliedDescending(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(doc.Applied))
	for i := len(doc.Applied) - 1; i >= 0; i-- {
		out = append(out, doc.Applied[i].Version)
	}
	return out, nil
}

func (s *Store) ListApplied(_ context.Context) ([]migrator.AppliedVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]migrator.AppliedVersion, 0, len(doc.Applied))
	for _, e := range doc.Applied {
		out = append(out, migrator.AppliedVersion{Version: e.Version, Marker: migrator.Marker{
			Name:      e.Name,
			Checksum:  e.Checksum,
			BatchID:   e.BatchID,
			AppliedAt: e.AppliedAt,
			Duration:  time.Duration(e.ExecutionMs) * time.Millisecond,
		}})
	}
	return out, nil
}

// update runs fn on the current document under both locks and saves it when fn reports a change.
func (s *Store) update(fn func(*document) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lockFile()
	if err != nil {
		return err
	}
	defer unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	changed, err := fn(doc)
	if err != nil || !changed {
		return err
	}
	return s.save(doc)
}

// lockFile creates <path>.lock exclusively, polling until lockTimeout.
func (s *Store) lockFile() (func(), error) {
	name := s.path + ".lock"
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(s.lockTimeout)
	for {
		f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			return func() { _ = os.Remove(name) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("lock state file: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: remove %s if no migration is running", ErrFileLocked, name)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// load reads the file; a missing file is an empty applied set. Entries come back sorted by version.
func (s *Store) load() (*document, error) {
	doc := &document{}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if err := yaml.Unmarshal(b, doc); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", s.path, err)
	}
	slices.SortFunc(doc.Applied, func(a, b entry) int { return cmp.Compare(a.Version, b.Version) })
	return doc, nil
}

func (s *Store) save(doc *document) error {
	b, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".gomigrator-state-*")
	if err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (d *document) index(version int64) int {
	for i, e := range d.Applied {
		if e.Version == version {
			return i
		}
	}
	return -1
}
