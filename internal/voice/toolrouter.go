package voice

import (
	"errors"
	"strings"

	"github.com/tonearm/tonearm/pkg/ledger"
	"github.com/tonearm/tonearm/pkg/provider/audioclass"
)

// Tool router rejection reasons. All are recovered locally and surfaced to
// the user as a non-fatal message; none of them reach the network.
var (
	// ErrEmptyTranscript rejects a speech utterance whose transcript is
	// empty or whitespace-only.
	ErrEmptyTranscript = errors.New("voice: transcript is empty, nothing to submit")

	// ErrMissingMediaPath rejects a music or humming utterance that has no
	// recorded media to fingerprint.
	ErrMissingMediaPath = errors.New("voice: music detected but no media path was supplied")

	// ErrNoiseIgnored short-circuits utterances classified as noise. This is
	// a deliberate drop, not a failure the user needs to act on.
	ErrNoiseIgnored = errors.New("voice: audio classified as noise, ignoring")
)

// Utterance is one finalized capture handed to the tool router.
type Utterance struct {
	// Transcript is the final transcript text. Empty for music and humming.
	Transcript string

	// Class is the audio classifier verdict for the utterance.
	Class audioclass.Class

	// MediaPath points at the recorded utterance audio, when retained.
	MediaPath string
}

// Submission is a validated recall payload ready for the network client.
type Submission struct {
	InputType ledger.InputType
	QueryText string
	AudioPath string
}

// RouteUtterance validates an utterance and maps it onto a recall
// submission, or rejects it with a typed error before any network round
// trip is spent:
//
//   - noise is dropped with [ErrNoiseIgnored]
//   - music and humming need a media path or fail with [ErrMissingMediaPath]
//   - speech needs a non-blank transcript or fails with [ErrEmptyTranscript]
func RouteUtterance(u Utterance) (Submission, error) {
	switch u.Class {
	case audioclass.ClassNoise:
		return Submission{}, ErrNoiseIgnored

	case audioclass.ClassMusic:
		if u.MediaPath == "" {
			return Submission{}, ErrMissingMediaPath
		}
		return Submission{InputType: ledger.InputBackground, AudioPath: u.MediaPath}, nil

	case audioclass.ClassHumming:
		if u.MediaPath == "" {
			return Submission{}, ErrMissingMediaPath
		}
		return Submission{InputType: ledger.InputHum, AudioPath: u.MediaPath}, nil
	}

	if strings.TrimSpace(u.Transcript) == "" {
		return Submission{}, ErrEmptyTranscript
	}
	return Submission{
		InputType: ledger.InputVoice,
		QueryText: strings.TrimSpace(u.Transcript),
		AudioPath: u.MediaPath,
	}, nil
}
