// Package cascade implements the multi-provider song identification pipeline
// for identify jobs: an ordered fingerprint cascade with confidence gating, a
// lyric-transcription fallback, preference-based re-ranking, and persistence
// of the ranked candidates into the recall ledger.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tonearm/tonearm/internal/catalog"
	"github.com/tonearm/tonearm/internal/observe"
	"github.com/tonearm/tonearm/internal/resilience"
	"github.com/tonearm/tonearm/internal/transcript"
	"github.com/tonearm/tonearm/pkg/ledger"
	"github.com/tonearm/tonearm/pkg/prefs"
	"github.com/tonearm/tonearm/pkg/provider/fingerprint"
	"github.com/tonearm/tonearm/pkg/provider/llm"
	"github.com/tonearm/tonearm/pkg/provider/stt"
)

// ErrNoProviders is returned when the cascade has no fingerprint provider to
// call.
var ErrNoProviders = errors.New("cascade: no fingerprint providers configured")

// Gates are the confidence thresholds of the cascade. A match at or above
// Accept short-circuits the provider chain; a best match below Fallback
// triggers the lyric fallback. Matches in between are accepted as-is.
type Gates struct {
	Accept   float64
	Fallback float64
}

// DefaultGates mirrors the thresholds the cascade was tuned with.
var DefaultGates = Gates{Accept: 0.7, Fallback: 0.6}

const (
	defaultCallTimeout = 15 * time.Second
	maxCandidates      = 3

	// noCandidatesNote marks the explicit empty-but-successful terminal
	// outcome on the request row.
	noCandidatesNote = "no candidates found"
)

// Cascade runs identification for one request at a time. A single Cascade is
// safe for concurrent use; only the gates may change after construction, via
// [Cascade.SetGates].
type Cascade struct {
	primary   fingerprint.Provider
	secondary fingerprint.Provider
	stt       stt.Provider
	llm       llm.Provider
	prefs     prefs.Store
	store     ledger.Store
	corrector transcript.Pipeline
	lexicon   catalog.Store

	gates       Gates
	callTimeout time.Duration
	retry       resilience.RetryConfig
	breakerCfg  resilience.CircuitBreakerConfig
	metrics     *observe.Metrics
	logger      *slog.Logger
	readFile    func(string) ([]byte, error)

	gateMu sync.RWMutex

	primaryBreaker   *resilience.CircuitBreaker
	secondaryBreaker *resilience.CircuitBreaker
}

// Option configures a [Cascade].
type Option func(*Cascade)

// WithSecondary sets the alternate fingerprint provider tried when the
// primary does not clear the accept gate.
func WithSecondary(p fingerprint.Provider) Option {
	return func(c *Cascade) { c.secondary = p }
}

// WithLyricFallback enables the transcription-based fallback: the clip is
// transcribed and the model infers the song from lyrical content. Both
// providers are required; the fallback stays disabled if either is nil.
func WithLyricFallback(sttProvider stt.Provider, llmProvider llm.Provider) Option {
	return func(c *Cascade) {
		c.stt = sttProvider
		c.llm = llmProvider
	}
}

// WithTranscriptCorrection attaches a correction pipeline and a name lexicon
// to the lyric fallback. The clip transcript is corrected against the known
// artist, track, and album names before the model is asked for a verdict.
// Both arguments are required; correction stays disabled if either is nil.
func WithTranscriptCorrection(pipeline transcript.Pipeline, lexicon catalog.Store) Option {
	return func(c *Cascade) {
		c.corrector = pipeline
		c.lexicon = lexicon
	}
}

// WithPreferences sets the preference store used for re-ranking. Without it
// candidates keep their provider confidences.
func WithPreferences(store prefs.Store) Option {
	return func(c *Cascade) { c.prefs = store }
}

// WithGates overrides [DefaultGates].
func WithGates(g Gates) Option {
	return func(c *Cascade) { c.gates = g }
}

// WithBreaker tunes the per-provider circuit breakers that guard the
// fingerprint calls. Zero-value fields keep the breaker defaults.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *Cascade) { c.breakerCfg = cfg }
}

// WithCallTimeout bounds each provider call. Default 15s.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Cascade) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithRetry sets the per-provider retry policy. Default is a single attempt:
// the cascade's fallback chain is itself the retry strategy, so per-call
// retries are opt-in.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Cascade) { c.retry = cfg }
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Cascade) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cascade) {
		if l != nil {
			c.logger = l
		}
	}
}

// withFileReader overrides clip loading in tests.
func withFileReader(read func(string) ([]byte, error)) Option {
	return func(c *Cascade) { c.readFile = read }
}

// New creates a Cascade over the given primary fingerprint provider and
// ledger store.
func New(primary fingerprint.Provider, store ledger.Store, opts ...Option) *Cascade {
	c := &Cascade{
		primary:     primary,
		store:       store,
		gates:       DefaultGates,
		callTimeout: defaultCallTimeout,
		retry:       resilience.RetryConfig{Attempts: 1},
		metrics:     observe.DefaultMetrics(),
		logger:      slog.Default(),
		readFile:    os.ReadFile,
	}
	for _, opt := range opts {
		opt(c)
	}

	// One breaker per provider slot so a dead primary stops burning its
	// quota while the secondary keeps answering.
	primaryCfg := c.breakerCfg
	primaryCfg.Name = "fingerprint-primary"
	c.primaryBreaker = resilience.NewCircuitBreaker(primaryCfg)
	secondaryCfg := c.breakerCfg
	secondaryCfg.Name = "fingerprint-secondary"
	c.secondaryBreaker = resilience.NewCircuitBreaker(secondaryCfg)
	return c
}

// SetGates replaces the confidence gates at runtime. Used by the config
// hot-reload path; safe to call while identifications are in flight.
func (c *Cascade) SetGates(g Gates) {
	c.gateMu.Lock()
	c.gates = g
	c.gateMu.Unlock()
}

func (c *Cascade) currentGates() Gates {
	c.gateMu.RLock()
	defer c.gateMu.RUnlock()
	return c.gates
}

// Identify runs the full cascade for one identify job: load the clip, walk
// the provider chain, re-rank, persist candidates and sources, and mark the
// request done. An empty candidate list is a valid terminal outcome and still
// resolves to done with an explicit note; the returned error is reserved for
// system failures the worker must record as failed.
func (c *Cascade) Identify(ctx context.Context, req *ledger.RecallRequest) error {
	if c.primary == nil {
		return ErrNoProviders
	}
	start := time.Now()

	clip, err := c.readFile(req.AudioPath)
	if err != nil {
		return fmt.Errorf("cascade: read clip %s: %w", req.AudioPath, err)
	}
	sample := fingerprint.Sample{Audio: clip, Format: formatFromPath(req.AudioPath)}

	matches, source := c.runProviders(ctx, sample, clip)

	bundle := c.loadPreferences(ctx, req.UserID)
	candidates := Rerank(req.ID, matches, bundle)

	if err := c.persist(ctx, req, candidates, source); err != nil {
		return err
	}

	outcome := source
	if len(candidates) == 0 {
		outcome = "no_candidates"
	}
	c.metrics.CascadeDuration.Record(ctx, time.Since(start).Seconds())
	c.metrics.RecordCascadeOutcome(ctx, outcome)
	c.logger.Info("cascade: identification finished",
		"request", req.ID, "source", source, "candidates", len(candidates),
		"elapsed", time.Since(start))
	return nil
}

// runProviders walks the fingerprint chain and, when the surviving confidence
// is below the fallback gate, the lyric fallback. It returns the winning
// match list (possibly empty) and the name of the stage that produced it.
//
// Precedence, in order: primary at or above the accept gate wins outright;
// otherwise the secondary is consulted and wins at or above the gate — or at
// any confidence when the primary failed outright. A provider answering "no
// match" (empty slice, nil error) is an answer, not a failure, and does not
// hand its slot to the fallback rules. Timeouts count as provider failure.
func (c *Cascade) runProviders(ctx context.Context, sample fingerprint.Sample, clip []byte) ([]fingerprint.Match, string) {
	gates := c.currentGates()

	primaryMatches, primaryErr := c.callFingerprint(ctx, c.primary, c.primaryBreaker, sample)
	if primaryErr == nil && bestConfidence(primaryMatches) >= gates.Accept {
		return primaryMatches, "primary"
	}

	best, source := primaryMatches, "primary"
	if primaryErr != nil {
		best, source = nil, ""
	}

	if c.secondary != nil {
		secondaryMatches, secondaryErr := c.callFingerprint(ctx, c.secondary, c.secondaryBreaker, sample)
		switch {
		case secondaryErr == nil && bestConfidence(secondaryMatches) >= gates.Accept:
			return secondaryMatches, "secondary"
		case secondaryErr == nil && primaryErr != nil && len(secondaryMatches) > 0:
			// Primary failed outright; any answer from the secondary beats
			// nothing, regardless of confidence.
			return secondaryMatches, "secondary"
		case secondaryErr == nil && bestConfidence(secondaryMatches) > bestConfidence(best):
			best, source = secondaryMatches, "secondary"
		}
	}

	if bestConfidence(best) >= gates.Fallback {
		return best, source
	}

	if lyricMatches, err := c.lyricFallback(ctx, clip); err == nil && len(lyricMatches) > 0 {
		if bestConfidence(lyricMatches) > bestConfidence(best) {
			return lyricMatches, "lyrics"
		}
	} else if err != nil {
		c.logger.Warn("cascade: lyric fallback failed", "err", err)
	}

	if len(best) == 0 {
		return nil, "none"
	}
	return best, source
}

// callFingerprint runs one provider with the per-call timeout and retry
// policy, behind its circuit breaker. An open breaker rejects the call
// without touching the provider; that rejection counts as provider failure
// for the caller's fallthrough decision, the same as any other error.
func (c *Cascade) callFingerprint(ctx context.Context, p fingerprint.Provider, breaker *resilience.CircuitBreaker, sample fingerprint.Sample) ([]fingerprint.Match, error) {
	var matches []fingerprint.Match
	start := time.Now()
	err := breaker.Execute(func() error {
		return resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
			var callErr error
			matches, callErr = p.Identify(callCtx, sample)
			return callErr
		})
	})
	c.metrics.FingerprintDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordProviderError(ctx, p.Name(), "fingerprint")
		c.metrics.RecordProviderRequest(ctx, p.Name(), "fingerprint", "error")
		c.logger.Warn("cascade: fingerprint provider failed", "provider", p.Name(), "err", err)
		return nil, err
	}
	c.metrics.RecordProviderRequest(ctx, p.Name(), "fingerprint", "ok")
	return matches, nil
}

// loadPreferences fetches the user's preference bundle; on any failure the
// cascade proceeds unpersonalised rather than failing the job.
func (c *Cascade) loadPreferences(ctx context.Context, userID string) *prefs.UserPreferences {
	if c.prefs == nil {
		return nil
	}
	bundle, err := c.prefs.Preferences(ctx, userID)
	if err != nil {
		c.logger.Warn("cascade: preference load failed", "user", userID, "err", err)
		return nil
	}
	return bundle
}

// persist writes candidates, their citation rows, and the result summary, and
// advances the request to done.
func (c *Cascade) persist(ctx context.Context, req *ledger.RecallRequest, candidates []ledger.Candidate, source string) error {
	if err := c.store.PutCandidates(ctx, req.ID, candidates); err != nil {
		return fmt.Errorf("cascade: persist candidates: %w", err)
	}

	var sources []ledger.Source
	for _, cand := range candidates {
		if cand.URL == "" {
			continue
		}
		sources = append(sources, ledger.Source{
			RequestID: req.ID,
			Title:     cand.Title,
			URL:       cand.URL,
			Publisher: source,
		})
	}
	if len(sources) > 0 {
		if err := c.store.PutSources(ctx, req.ID, sources); err != nil {
			return fmt.Errorf("cascade: persist sources: %w", err)
		}
	}

	result := &ledger.RecallRequest{}
	auditMsg := noCandidatesNote
	if len(candidates) > 0 {
		top := candidates[0]
		result.ResultTitle = top.Title
		result.ResultArtist = top.Artist
		result.ResultConfidence = top.Confidence
		result.ResultURL = top.URL
		auditMsg = fmt.Sprintf("top candidate %q by %q (%.2f) via %s",
			top.Title, top.Artist, top.Confidence, source)
	} else {
		result.ResultNote = noCandidatesNote
	}
	if err := c.store.SetRequestResult(ctx, req.ID, result); err != nil {
		return fmt.Errorf("cascade: write result: %w", err)
	}
	if err := c.store.AdvanceRequest(ctx, req.ID, ledger.RequestDone); err != nil {
		return fmt.Errorf("cascade: advance request: %w", err)
	}
	if err := c.store.AppendAudit(ctx, ledger.AuditEntry{
		RequestID: req.ID,
		Stage:     "cascade",
		Message:   auditMsg,
	}); err != nil {
		c.logger.Warn("cascade: audit append failed", "request", req.ID, "err", err)
	}
	return nil
}

// bestConfidence returns the highest confidence in matches, or 0 when empty.
func bestConfidence(matches []fingerprint.Match) float64 {
	best := 0.0
	for _, m := range matches {
		if m.Confidence > best {
			best = m.Confidence
		}
	}
	return best
}

// formatFromPath maps a clip path to the container name services expect.
func formatFromPath(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "wav"
	}
	return ext
}
