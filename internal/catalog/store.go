package catalog

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and Update when the requested entry does not exist.
var ErrNotFound = errors.New("catalog entry not found")

// ErrDuplicateID is returned by Add when an entry with the same ID already exists.
var ErrDuplicateID = errors.New("catalog entry with that ID already exists")

// Store manages lexicon entries.
//
// All implementations must be safe for concurrent use.
type Store interface {
	// Add creates a new entry. Returns the entry with a generated ID if
	// the provided entry's ID is empty.
	// Returns [ErrDuplicateID] if an entry with the same non-empty ID exists.
	Add(ctx context.Context, entry Entry) (Entry, error)

	// Get retrieves an entry by ID.
	// Returns [ErrNotFound] when no entry with that ID exists.
	Get(ctx context.Context, id string) (Entry, error)

	// List returns all entries, optionally filtered by type and/or tags.
	// An empty [ListOptions] returns all entries.
	// Results order is not guaranteed.
	List(ctx context.Context, opts ListOptions) ([]Entry, error)

	// Update replaces an existing entry.
	// The entry's ID must be non-empty.
	// Returns [ErrNotFound] when no entry with that ID exists.
	Update(ctx context.Context, entry Entry) error

	// Remove deletes an entry by ID.
	// Returns [ErrNotFound] when no entry with that ID exists.
	Remove(ctx context.Context, id string) error

	// BulkImport adds multiple entries atomically.
	// Each entry without an ID gets one auto-generated.
	// Returns the number of entries successfully imported and any error
	// that caused the import to abort early.
	BulkImport(ctx context.Context, entries []Entry) (int, error)
}

// ListOptions narrows the result set of [Store.List].
// All non-zero fields are applied as AND conditions.
type ListOptions struct {
	// Type restricts results to entries of this type.
	// An empty value matches all types.
	Type EntryType

	// Tags restricts results to entries that carry all of the specified tags.
	// An empty slice matches all entries regardless of their tags.
	Tags []string
}

// Names returns the canonical name of every entry plus all aliases, filtered
// by opts. This is the flat list the transcript corrector matches against and
// the capture layer boosts as STT keywords.
func Names(ctx context.Context, store Store, opts ListOptions) ([]string, error) {
	entries, err := store.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
		names = append(names, e.Aliases...)
	}
	return names, nil
}
