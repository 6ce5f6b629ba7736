// Package mock provides a test double for the fingerprint.Provider interface.
// Inject Matches or IdentifyErr to script outcomes and inspect IdentifyCalls
// to verify the samples that were submitted.
package mock

import (
	"context"
	"sync"

	"github.com/tonearm/tonearm/pkg/provider/fingerprint"
)

// Ensure Provider implements fingerprint.Provider at compile time.
var _ fingerprint.Provider = (*Provider)(nil)

// IdentifyCall records a single invocation of Identify.
type IdentifyCall struct {
	// Sample is the sample passed to Identify. Audio is not copied.
	Sample fingerprint.Sample
}

// Provider is a mock implementation of fingerprint.Provider.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// Matches is returned by every Identify call.
	Matches []fingerprint.Match

	// IdentifyErr, if non-nil, is returned by every Identify call.
	IdentifyErr error

	// IdentifyCalls records every call to Identify in order.
	IdentifyCalls []IdentifyCall
}

// Identify records the call and returns Matches, IdentifyErr.
func (p *Provider) Identify(_ context.Context, sample fingerprint.Sample) ([]fingerprint.Match, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.IdentifyCalls = append(p.IdentifyCalls, IdentifyCall{Sample: sample})
	if p.IdentifyErr != nil {
		return nil, p.IdentifyErr
	}
	out := make([]fingerprint.Match, len(p.Matches))
	copy(out, p.Matches)
	return out, nil
}

// Name returns ProviderName, or "mock" when unset.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// IdentifyCallCount returns the number of Identify calls. Thread-safe.
func (p *Provider) IdentifyCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.IdentifyCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.IdentifyCalls = nil
}
