package catalog

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LexiconFile is the top-level structure of a tonearm lexicon YAML file.
//
// Example:
//
//	lexicon:
//	  name: "icelandic essentials"
//	entries:
//	  - name: "Sigur Rós"
//	    type: artist
//	    aliases: ["Sigur Ros", "seeger rose"]
type LexiconFile struct {
	Lexicon LexiconMeta `yaml:"lexicon"`
	Entries []Entry     `yaml:"entries"`
}

// LexiconMeta holds top-level metadata for a lexicon file.
type LexiconMeta struct {
	// Name is the lexicon's display name.
	Name string `yaml:"name"`

	// Description is a free-text summary of the lexicon.
	Description string `yaml:"description"`
}

// LoadLexiconFile reads and parses a lexicon YAML file from disk.
// Returns a descriptive error if the file cannot be opened or parsed.
func LoadLexiconFile(path string) (*LexiconFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open lexicon file %q: %w", path, err)
	}
	defer f.Close()

	lf, err := LoadLexiconFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse lexicon file %q: %w", path, err)
	}
	return lf, nil
}

// LoadLexiconFromReader parses lexicon YAML from an [io.Reader].
// The reader is consumed entirely; the caller is responsible for closing it.
func LoadLexiconFromReader(r io.Reader) (*LexiconFile, error) {
	var lf LexiconFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown top-level keys to catch typos
	if err := dec.Decode(&lf); err != nil {
		return nil, fmt.Errorf("catalog: decode lexicon yaml: %w", err)
	}
	return &lf, nil
}

// ImportLexicon imports all entries from a parsed [LexiconFile] into store.
// Returns the number of entries successfully imported.
// An error from the store aborts the import and returns the count so far.
func ImportLexicon(ctx context.Context, store Store, lexicon *LexiconFile) (int, error) {
	if lexicon == nil {
		return 0, fmt.Errorf("catalog: lexicon must not be nil")
	}
	n, err := store.BulkImport(ctx, lexicon.Entries)
	if err != nil {
		return n, fmt.Errorf("catalog: import lexicon %q: %w", lexicon.Lexicon.Name, err)
	}
	return n, nil
}
