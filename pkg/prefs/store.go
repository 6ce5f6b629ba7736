package prefs

import (
	"context"
	"errors"
	"sort"
)

// ErrNotFound is returned when a search pattern does not exist.
var ErrNotFound = errors.New("prefs: not found")

// Store persists feedback rows and embedded search patterns.
// Implementations must be safe for concurrent use.
type Store interface {
	// RecordFeedback appends one feedback row.
	RecordFeedback(ctx context.Context, fb Feedback) error

	// Preferences derives the current preference bundle for userID from all
	// recorded feedback. A user with no feedback gets an empty bundle, not an
	// error.
	Preferences(ctx context.Context, userID string) (*UserPreferences, error)

	// IndexSearchPattern upserts one embedded search pattern by ID.
	IndexSearchPattern(ctx context.Context, pattern SearchPattern) error

	// SimilarPatterns returns up to topK of the user's stored patterns ordered
	// by ascending cosine distance to embedding.
	SimilarPatterns(ctx context.Context, userID string, embedding []float32, topK int) ([]PatternMatch, error)
}

// Derive folds feedback rows into a preference bundle. Both store
// implementations share it so they agree on the weighting scheme: each accept
// adds 1.0 to the artist and genre weights, each reject subtracts 1.0 from
// the artist weight, and an artist with a negative net weight is rejected.
func Derive(userID string, rows []Feedback) *UserPreferences {
	p := &UserPreferences{
		UserID:        userID,
		ArtistWeights: make(map[string]float64),
		GenreWeights:  make(map[string]float64),
	}

	for _, fb := range rows {
		switch fb.Verdict {
		case VerdictAccepted:
			if fb.Artist != "" {
				p.ArtistWeights[fb.Artist]++
			}
			if fb.Genre != "" {
				p.GenreWeights[fb.Genre]++
			}
		case VerdictRejected:
			if fb.Artist != "" {
				p.ArtistWeights[fb.Artist]--
			}
		}
	}

	for artist, w := range p.ArtistWeights {
		if w < 0 {
			p.RejectedArtists = append(p.RejectedArtists, artist)
			delete(p.ArtistWeights, artist)
		}
	}
	sort.Strings(p.RejectedArtists)
	return p
}
