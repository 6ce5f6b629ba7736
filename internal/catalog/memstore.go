package catalog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"
	"sync"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// The zero value is ready to use.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		entries: make(map[string]Entry),
	}
}

// Add implements [Store.Add].
func (s *MemStore) Add(ctx context.Context, entry Entry) (Entry, error) {
	if entry.ID == "" {
		id, err := generateID()
		if err != nil {
			return Entry{}, fmt.Errorf("catalog: generate id: %w", err)
		}
		entry.ID = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries == nil {
		s.entries = make(map[string]Entry)
	}

	if _, exists := s.entries[entry.ID]; exists {
		return Entry{}, ErrDuplicateID
	}

	s.entries[entry.ID] = entry
	return entry, nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(ctx context.Context, id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// List implements [Store.List].
func (s *MemStore) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if !matchesOpts(e, opts) {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

// Update implements [Store.Update].
func (s *MemStore) Update(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entry.ID]; !ok {
		return ErrNotFound
	}

	s.entries[entry.ID] = entry
	return nil
}

// Remove implements [Store.Remove].
func (s *MemStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return ErrNotFound
	}

	delete(s.entries, id)
	return nil
}

// BulkImport implements [Store.BulkImport].
// The import is best-effort: entries are added one at a time and the count of
// successfully added entries is returned along with the first error encountered.
func (s *MemStore) BulkImport(ctx context.Context, entries []Entry) (int, error) {
	count := 0
	for _, e := range entries {
		if _, err := s.Add(ctx, e); err != nil {
			return count, fmt.Errorf("catalog: bulk import at index %d (name %q): %w", count, e.Name, err)
		}
		count++
	}
	return count, nil
}

// generateID produces a random 16-byte hex string using crypto/rand.
// The resulting string is 32 hex characters and is statistically unique.
func generateID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// matchesOpts reports whether e satisfies all conditions in opts.
func matchesOpts(e Entry, opts ListOptions) bool {
	if opts.Type != "" && e.Type != opts.Type {
		return false
	}
	for _, want := range opts.Tags {
		if !slices.Contains(e.Tags, want) {
			return false
		}
	}
	return true
}
