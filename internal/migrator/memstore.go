package migrator

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// MemoryStore is an in-process StateStore. It does not survive restarts and
// is meant for tests and embedding.
type MemoryStore struct {
	mu      sync.Mutex
	applied map[int64]Marker
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{applied: map[int64]Marker{}} }

// IsApplied reports whether version is recorded.
func (s *MemoryStore) IsApplied(_ context.Context, version int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.applied[version]
	return ok, nil
}

// MarkApplied records version, or returns ErrAlreadyApplied.
func (s *MemoryStore) MarkApplied(_ context.Context, version int64, m Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.applied[version]; ok {
		return ErrAlreadyApplied
	}
	s.applied[version] = m
	return nil
}

// MarkRolledBack forgets version; an unknown version is not an error.
func (s *MemoryStore) MarkRolledBack(_ context.Context, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.applied, version)
	return nil
}

// AppliedDescending returns recorded versions, highest first.
func (s *MemoryStore) AppliedDescending(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.applied))
	for v := range s.applied {
		out = append(out, v)
	}
	slices.Sort(out)
	slices.Reverse(out)
	return out, nil
}

// ListApplied returns recorded versions with their markers, ascending.
func (s *MemoryStore) ListApplied(_ context.Context) ([]AppliedVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AppliedVersion, 0, len(s.applied))
	for v, m := range s.applied {
		out = append(out, AppliedVersion{Version: v, Marker: m})
	}
	slices.SortFunc(out, func(a, b AppliedVersion) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}
