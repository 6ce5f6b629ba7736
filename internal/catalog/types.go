// Package catalog manages the music name lexicon: the artists, tracks,
// albums, and genres the system should recognise by name.
//
// The lexicon feeds two consumers. The transcript correction pipeline uses
// the name list to fix misheard music vocabulary in voice queries and lyric
// transcripts, and the capture layer boosts the same names as STT keywords.
//
// Entries are defined ahead of time via YAML lexicon files
// ([LoadLexiconFile], [LoadLexiconFromReader]) or added individually through
// a [Store]. All store operations are safe for concurrent use.
package catalog

// Entry is the declarative format for one known music name.
type Entry struct {
	// ID is a unique identifier. Auto-generated if empty during import.
	ID string `yaml:"id" json:"id"`

	// Name is the canonical spelling ("Sigur Rós", "Paranoid Android").
	Name string `yaml:"name" json:"name"`

	// Type classifies the entry (artist, track, album, genre, label).
	Type EntryType `yaml:"type" json:"type"`

	// Artist names the performing artist for track and album entries.
	Artist string `yaml:"artist,omitempty" json:"artist,omitempty"`

	// Aliases are alternative spellings and common mishearings that should
	// resolve to Name ("Sigur Ros", "ACDC").
	Aliases []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`

	// Tags are searchable labels for categorisation ("icelandic", "post-rock").
	Tags []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// EntryType classifies a lexicon entry.
type EntryType string

const (
	// EntryArtist represents a performing artist or band.
	EntryArtist EntryType = "artist"

	// EntryTrack represents a single recording.
	EntryTrack EntryType = "track"

	// EntryAlbum represents an album or EP.
	EntryAlbum EntryType = "album"

	// EntryGenre represents a genre name.
	EntryGenre EntryType = "genre"

	// EntryLabel represents a record label.
	EntryLabel EntryType = "label"
)

// IsValid reports whether t is a recognised entry type.
func (t EntryType) IsValid() bool {
	switch t {
	case EntryArtist, EntryTrack, EntryAlbum, EntryGenre, EntryLabel:
		return true
	}
	return false
}
