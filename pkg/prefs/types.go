// Package prefs stores per-user listening preference signals and makes them
// available to candidate re-ranking: weighted artist and genre preferences
// derived from feedback rows, the set of artists the user has rejected, and
// embedded search patterns for similar-query lookup.
//
// The Store interface is implemented by [MemStore] for tests and by the
// pgx/pgvector-backed store in the postgres subpackage for production.
package prefs

import "time"

// Verdict is the user's reaction to a recall result.
type Verdict string

const (
	VerdictAccepted Verdict = "accepted"
	VerdictRejected Verdict = "rejected"
)

// IsValid reports whether v is a recognised verdict.
func (v Verdict) IsValid() bool {
	return v == VerdictAccepted || v == VerdictRejected
}

// Feedback is one user reaction to an identified song. Feedback rows are
// append-only; preference bundles are derived from them on read.
type Feedback struct {
	UserID    string
	RequestID string
	Title     string
	Artist    string
	Genre     string
	Verdict   Verdict
	CreatedAt time.Time
}

// UserPreferences is the derived preference bundle for one user.
//
// ArtistWeights and GenreWeights carry positive affinity scores (higher is
// stronger); RejectedArtists lists artists whose rejections outweigh their
// acceptances. Re-ranking halves the confidence of candidates by a rejected
// artist and boosts candidates matching a preferred artist or genre.
type UserPreferences struct {
	UserID          string
	ArtistWeights   map[string]float64
	GenreWeights    map[string]float64
	RejectedArtists []string
}

// PrefersArtist reports whether artist carries a positive weight.
func (p *UserPreferences) PrefersArtist(artist string) bool {
	return p.ArtistWeights[artist] > 0
}

// HasRejected reports whether the user has net-rejected artist.
func (p *UserPreferences) HasRejected(artist string) bool {
	for _, a := range p.RejectedArtists {
		if a == artist {
			return true
		}
	}
	return false
}

// SearchPattern is one embedded user query, stored for similar-query lookup.
// Embedding length must match the dimension the store was created with.
type SearchPattern struct {
	ID        string
	UserID    string
	Query     string
	Embedding []float32
	CreatedAt time.Time
}

// PatternMatch is a search pattern with its cosine distance to the query
// embedding. Smaller distance means more similar.
type PatternMatch struct {
	Pattern  SearchPattern
	Distance float64
}
