package prefs

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store implementation for unit tests and
// single-process development runs. Similarity search is exact (brute-force
// cosine distance) rather than approximate.
//
// All methods are safe for concurrent use.
type MemStore struct {
	mu       sync.Mutex
	feedback []Feedback
	patterns map[string]SearchPattern // by pattern ID
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{patterns: make(map[string]SearchPattern)}
}

// RecordFeedback implements [Store].
func (m *MemStore) RecordFeedback(_ context.Context, fb Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	m.feedback = append(m.feedback, fb)
	return nil
}

// Preferences implements [Store].
func (m *MemStore) Preferences(_ context.Context, userID string) (*UserPreferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []Feedback
	for _, fb := range m.feedback {
		if fb.UserID == userID {
			rows = append(rows, fb)
		}
	}
	return Derive(userID, rows), nil
}

// IndexSearchPattern implements [Store].
func (m *MemStore) IndexSearchPattern(_ context.Context, pattern SearchPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pattern.CreatedAt.IsZero() {
		pattern.CreatedAt = time.Now().UTC()
	}
	cp := pattern
	cp.Embedding = append([]float32(nil), pattern.Embedding...)
	m.patterns[cp.ID] = cp
	return nil
}

// SimilarPatterns implements [Store].
func (m *MemStore) SimilarPatterns(_ context.Context, userID string, embedding []float32, topK int) ([]PatternMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []PatternMatch
	for _, p := range m.patterns {
		if p.UserID != userID {
			continue
		}
		matches = append(matches, PatternMatch{Pattern: p, Distance: cosineDistance(embedding, p.Embedding)})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if topK >= 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// cosineDistance returns 1 - cosine similarity. Mismatched or zero-magnitude
// vectors are treated as maximally distant.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
