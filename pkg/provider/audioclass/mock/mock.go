// Package mock provides a test double for the audioclass.Classifier
// interface. Inject Results to script verdicts and inspect ClassifyCalls to
// verify the clips that were submitted.
package mock

import (
	"context"
	"sync"

	"github.com/tonearm/tonearm/pkg/provider/audioclass"
)

// Ensure Classifier implements audioclass.Classifier at compile time.
var _ audioclass.Classifier = (*Classifier)(nil)

// ClassifyCall records a single invocation of Classify.
type ClassifyCall struct {
	// Clip is the clip passed to Classify. PCM is not copied.
	Clip audioclass.Clip
}

// Classifier is a mock implementation of audioclass.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Result is returned by every Classify call unless Results is set.
	Result audioclass.Result

	// Results, if non-empty, is returned one element per Classify call in
	// order; after the last element Result is returned.
	Results []audioclass.Result

	// ClassifyErr, if non-nil, is returned by every Classify call.
	ClassifyErr error

	// ClassifyCalls records every call to Classify in order.
	ClassifyCalls []ClassifyCall
}

// Classify records the call and returns the next scripted result.
func (c *Classifier) Classify(_ context.Context, clip audioclass.Clip) (audioclass.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ClassifyCalls = append(c.ClassifyCalls, ClassifyCall{Clip: clip})
	if c.ClassifyErr != nil {
		return audioclass.Result{}, c.ClassifyErr
	}
	idx := len(c.ClassifyCalls) - 1
	if idx < len(c.Results) {
		return c.Results[idx], nil
	}
	return c.Result, nil
}

// Reset clears all recorded calls. Thread-safe.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ClassifyCalls = nil
}
