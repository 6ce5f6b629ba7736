package cascade

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/tonearm/tonearm/pkg/ledger"
	"github.com/tonearm/tonearm/pkg/prefs"
	"github.com/tonearm/tonearm/pkg/provider/fingerprint"
)

// duplicateThreshold is the Jaro-Winkler similarity above which two
// title+artist strings are treated as the same recording. Catches service
// spelling variants ("feat." vs "ft.", trailing remaster tags).
const duplicateThreshold = 0.92

// Rerank turns provider matches into persisted candidate rows: near-duplicate
// matches are merged keeping the higher confidence, preference adjustments
// are applied (rejected artist halves the confidence, preferred artist boosts
// it by 1.2 capped at 1.0), and the top three survivors get contiguous ranks
// starting at 1. Matches without both title and artist are unusable and
// dropped first. All returned confidences lie in [0, 1].
func Rerank(requestID string, matches []fingerprint.Match, bundle *prefs.UserPreferences) []ledger.Candidate {
	merged := mergeDuplicates(matches)

	candidates := make([]ledger.Candidate, 0, len(merged))
	for _, m := range merged {
		candidates = append(candidates, ledger.Candidate{
			RequestID:   requestID,
			Title:       m.Title,
			Artist:      m.Artist,
			Album:       m.Album,
			Confidence:  adjustConfidence(m, bundle),
			URL:         m.URL,
			Evidence:    m.Evidence,
			ReleaseDate: m.ReleaseDate,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
	return candidates
}

// adjustConfidence applies the preference signal to one match. Rejection
// takes precedence over preference: a rejected artist is halved even when it
// also carries a positive weight.
func adjustConfidence(m fingerprint.Match, bundle *prefs.UserPreferences) float64 {
	conf := m.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	if bundle == nil {
		return conf
	}
	switch {
	case bundle.HasRejected(m.Artist):
		conf *= 0.5
	case bundle.PrefersArtist(m.Artist):
		conf *= 1.2
		if conf > 1 {
			conf = 1
		}
	}
	return conf
}

// mergeDuplicates drops unusable matches and folds near-duplicates into the
// higher-confidence occurrence, preserving first-seen order otherwise.
func mergeDuplicates(matches []fingerprint.Match) []fingerprint.Match {
	var out []fingerprint.Match
	for _, m := range matches {
		if m.Title == "" || m.Artist == "" {
			continue
		}
		dup := -1
		for i, kept := range out {
			if sameRecording(kept, m) {
				dup = i
				break
			}
		}
		if dup < 0 {
			out = append(out, m)
			continue
		}
		if m.Confidence > out[dup].Confidence {
			keep := m
			if keep.Evidence == "" {
				keep.Evidence = out[dup].Evidence
			}
			out[dup] = keep
		}
	}
	return out
}

func sameRecording(a, b fingerprint.Match) bool {
	return matchr.JaroWinkler(normalise(a), normalise(b), false) >= duplicateThreshold
}

// normalise lowercases and drops parenthesised title suffixes ("(Remastered
// 2011)", "(Live)") so variant pressings compare as the base recording.
func normalise(m fingerprint.Match) string {
	title := m.Title
	if i := strings.IndexByte(title, '('); i > 0 {
		title = title[:i]
	}
	return strings.Join(strings.Fields(strings.ToLower(title+" "+m.Artist)), " ")
}
