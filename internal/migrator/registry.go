// Package migrator applies and rolls back versioned migrations against a StateStore.
package migrator

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
)

// Registry stores registered migrations keyed by version.
// It is frozen on first use by an Engine; later registrations fail.
type Registry struct {
	mu        sync.RWMutex
	byVersion map[int64]Migration
	frozen    bool
}

// NewRegistry creates a new Registry instance.
func NewRegistry() *Registry { return &Registry{byVersion: map[int64]Migration{}} }

// Validate checks the shape of a migration without registering it.
func Validate(m Migration) error {
	if m.Version <= 0 {
		return fmt.Errorf("%w: version must be positive, got %d", ErrInvalidMigration, m.Version)
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: migration %d has no name", ErrInvalidMigration, m.Version)
	}
	if m.Up == nil || m.Down == nil {
		return fmt.Errorf("%w: migration %d_%s needs both up and down", ErrInvalidMigration, m.Version, m.Name)
	}
	return nil
}

// Register adds a migration. A duplicate version is rejected and the registry is left unchanged.
func (r *Registry) Register(m Migration) error {
	if err := Validate(m); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("%w: cannot register %d_%s", ErrRegistryFrozen, m.Version, m.Name)
	}
	if existing, exists := r.byVersion[m.Version]; exists {
		return &DuplicateVersionError{Version: m.Version, Existing: existing.Name, New: m.Name}
	}
	r.byVersion[m.Version] = m
	return nil
}

// All yields migrations in ascending version order, whatever order they were registered in.
func (r *Registry) All() iter.Seq[Migration] {
	return func(yield func(Migration) bool) {
		for _, m := range r.sorted() {
			if !yield(m) {
				return
			}
		}
	}
}

// Lookup returns the migration for version or ErrNotFound.
func (r *Registry) Lookup(version int64) (Migration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byVersion[version]
	if !ok {
		return Migration{}, fmt.Errorf("%w: version %d", ErrNotFound, version)
	}
	return m, nil
}

// Len returns the number of registered migrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byVersion)
}

// Freeze stops further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) sorted() []Migration {
	r.mu.RLock()
	out := make([]Migration, 0, len(r.byVersion))
	for _, m := range r.byVersion {
		out = append(out, m)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return out
}
