package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tonearm/tonearm/internal/observe"
	"github.com/tonearm/tonearm/pkg/ledger"
	"github.com/tonearm/tonearm/pkg/prefs"
	"github.com/tonearm/tonearm/pkg/provider/embeddings"
	"github.com/tonearm/tonearm/pkg/provider/llm"
)

const knowledgePrompt = `You are a music knowledge assistant. Answer the user's question about
songs, artists, albums, or music history concisely and factually. If you are
not sure, say so rather than guessing.`

const recommendPrompt = `You are a music recommendation assistant. Suggest songs or artists
matching the user's request. Give 3-5 suggestions as a short list, each with
one line on why it fits. Lean on the user's taste signals when provided.`

// Answerer handles knowledge and recommend jobs with an LLM completion and,
// when an embeddings provider is wired, records the query as a search pattern
// for later similar-query personalisation.
type Answerer struct {
	llm   llm.Provider
	prefs prefs.Store
	embed embeddings.Provider

	timeout time.Duration
	metrics *observe.Metrics
	logger  *slog.Logger
}

// AnswererOption configures an [Answerer].
type AnswererOption func(*Answerer)

// WithSearchPatterns enables search-pattern indexing: every answered query is
// embedded and stored for the user. Both arguments are required.
func WithSearchPatterns(store prefs.Store, embed embeddings.Provider) AnswererOption {
	return func(a *Answerer) {
		a.prefs = store
		a.embed = embed
	}
}

// WithAnswerTimeout bounds each LLM call. Default 30s.
func WithAnswerTimeout(d time.Duration) AnswererOption {
	return func(a *Answerer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithAnswererMetrics sets the metrics sink.
func WithAnswererMetrics(m *observe.Metrics) AnswererOption {
	return func(a *Answerer) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithAnswererLogger sets the logger.
func WithAnswererLogger(l *slog.Logger) AnswererOption {
	return func(a *Answerer) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAnswerer creates an Answerer over the given LLM provider.
func NewAnswerer(provider llm.Provider, opts ...AnswererOption) *Answerer {
	a := &Answerer{
		llm:     provider,
		timeout: 30 * time.Second,
		metrics: observe.DefaultMetrics(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Answer drafts the reply for one knowledge or recommend job and returns it;
// the worker persists it onto the request. As a side effect the query is
// indexed as a search pattern when pattern indexing is enabled.
func (a *Answerer) Answer(ctx context.Context, req *ledger.RecallRequest, jobType ledger.JobType) (string, error) {
	query := strings.TrimSpace(req.QueryText)
	if query == "" {
		return "", fmt.Errorf("worker: %s job without query text", jobType)
	}

	prompt := knowledgePrompt
	if jobType == ledger.JobRecommend {
		prompt = recommendPrompt
	}

	llmCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	start := time.Now()
	resp, err := a.llm.Complete(llmCtx, llm.CompletionRequest{
		SystemPrompt: prompt,
		Messages:     []llm.Message{{Role: "user", Content: query}},
		Temperature:  0.4,
		MaxTokens:    600,
	})
	a.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		a.metrics.RecordProviderError(ctx, "llm", "llm")
		return "", fmt.Errorf("worker: draft answer: %w", err)
	}
	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return "", fmt.Errorf("worker: model returned an empty answer")
	}

	a.indexPattern(ctx, req.UserID, query)
	return answer, nil
}

// indexPattern embeds the query and stores it as a search pattern.
// Best-effort: the answer already succeeded, so indexing failures only log.
func (a *Answerer) indexPattern(ctx context.Context, userID, query string) {
	if a.prefs == nil || a.embed == nil {
		return
	}
	vec, err := a.embed.Embed(ctx, query)
	if err != nil {
		a.logger.Warn("worker: embed search pattern", "err", err)
		return
	}
	if err := a.prefs.IndexSearchPattern(ctx, prefs.SearchPattern{
		ID:        uuid.NewString(),
		UserID:    userID,
		Query:     query,
		Embedding: vec,
	}); err != nil {
		a.logger.Warn("worker: index search pattern", "err", err)
	}
}
