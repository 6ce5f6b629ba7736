// Package audioclass defines the Classifier interface for audio content
// classification backends.
//
// A classifier looks at a captured clip and decides what kind of sound it is:
// spoken words, recorded music playing in the background, the user humming a
// melody, or plain noise. The capture orchestration uses the verdict to pick
// the identification route (transcription for speech, fingerprinting for
// music, melody matching for humming) and to drop clips that carry nothing
// identifiable.
//
// Implementations must be safe for concurrent use.
package audioclass

import "context"

// Class is the content category assigned to a clip.
type Class string

const (
	// ClassSpeech means the clip is dominated by spoken words.
	ClassSpeech Class = "speech"

	// ClassMusic means the clip is dominated by recorded music.
	ClassMusic Class = "music"

	// ClassHumming means the clip is a sung or hummed melody without
	// accompaniment.
	ClassHumming Class = "humming"

	// ClassNoise means the clip carries no identifiable content.
	ClassNoise Class = "noise"
)

// Result is the classifier's verdict for one clip.
type Result struct {
	// Class is the assigned category.
	Class Class

	// Confidence is the classifier's confidence in Class, range [0.0, 1.0].
	Confidence float64
}

// Clip is one captured audio segment handed to the classifier.
type Clip struct {
	// PCM is raw little-endian 16-bit mono audio.
	PCM []byte

	// SampleRate is the sample rate of PCM in Hz.
	SampleRate int
}

// Classifier assigns a content class to captured clips.
//
// Implementations must be safe for concurrent use.
type Classifier interface {
	// Classify returns the content class of the clip or an error if the clip
	// is malformed or ctx is cancelled.
	Classify(ctx context.Context, clip Clip) (Result, error)
}
