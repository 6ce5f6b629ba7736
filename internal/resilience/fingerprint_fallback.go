package resilience

import (
	"context"

	"github.com/tonearm/tonearm/pkg/provider/fingerprint"
)

// FingerprintFallback implements [fingerprint.Provider] with automatic
// failover across multiple fingerprinting backends. Each backend has its own
// circuit breaker. A backend that answers "no match" (empty slice, nil error)
// counts as a success and is NOT failed over — no-match is an answer, not an
// outage.
type FingerprintFallback struct {
	name  string
	group *FallbackGroup[fingerprint.Provider]
}

// Compile-time interface assertion.
var _ fingerprint.Provider = (*FingerprintFallback)(nil)

// NewFingerprintFallback creates a [FingerprintFallback] with primary as the
// preferred backend. name labels the composite in logs and candidate
// evidence.
func NewFingerprintFallback(name string, primary fingerprint.Provider, primaryName string, cfg FallbackConfig) *FingerprintFallback {
	return &FingerprintFallback{
		name:  name,
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional fingerprint provider as a fallback.
func (f *FingerprintFallback) AddFallback(name string, provider fingerprint.Provider) {
	f.group.AddFallback(name, provider)
}

// Identify submits the sample to the first healthy provider.
func (f *FingerprintFallback) Identify(ctx context.Context, sample fingerprint.Sample) ([]fingerprint.Match, error) {
	return ExecuteWithResult(f.group, func(p fingerprint.Provider) ([]fingerprint.Match, error) {
		return p.Identify(ctx, sample)
	})
}

// Name implements [fingerprint.Provider].
func (f *FingerprintFallback) Name() string { return f.name }
