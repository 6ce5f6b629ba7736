// Package fingerprint defines the Provider interface for acoustic
// fingerprinting backends.
//
// A fingerprint provider wraps a song identification service (e.g., AudD or
// ACRCloud): it takes a short audio sample and returns ranked song matches
// with confidence scores. The identification cascade queries providers in
// configured order and gates on confidence, so implementations must normalise
// their service's native scoring into the [0.0, 1.0] range.
//
// A provider that answers "no match" returns an empty slice and a nil error;
// an error return means the provider itself failed (network, auth, quota) and
// lets the cascade treat the source as errored rather than low-confidence.
//
// Implementations must be safe for concurrent use.
package fingerprint

import "context"

// Sample is one audio excerpt submitted for identification.
type Sample struct {
	// Audio is the encoded audio payload (WAV or MP3 container, not raw PCM;
	// see Format).
	Audio []byte

	// Format names the container of Audio, e.g. "wav", "mp3".
	Format string

	// DurationSeconds is the sample length. Services reject very short
	// samples; callers should send at least 3 seconds.
	DurationSeconds float64
}

// Match is one identified song candidate, normalised across services.
type Match struct {
	Title  string
	Artist string
	Album  string

	// Confidence is the provider's score normalised into [0.0, 1.0].
	Confidence float64

	// URL links to the song on the provider's preferred platform, when given.
	URL string

	// ReleaseDate is the release date string as reported, when given.
	ReleaseDate string

	// Evidence is a short human-readable note on why this match was proposed,
	// carried into the recall ledger's candidate rows.
	Evidence string
}

// Provider is the abstraction over any fingerprinting backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Identify submits the sample and returns matches ordered best-first.
	// An empty slice with nil error means the service answered but found
	// nothing.
	Identify(ctx context.Context, sample Sample) ([]Match, error)

	// Name returns the provider's short identifier ("audd", "acrcloud"),
	// used in logs, audit rows, and candidate evidence.
	Name() string
}
