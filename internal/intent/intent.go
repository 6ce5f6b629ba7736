// Package intent classifies recall queries into the action the server should
// take. Keyword heuristics answer the common cases without a model call; a
// language model breaks ties for longer free-text queries. Audio inputs skip
// classification entirely because the only sensible action for a clip is to
// identify it.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tonearm/tonearm/pkg/ledger"
	"github.com/tonearm/tonearm/pkg/provider/llm"
)

// Intent is the classified purpose of a recall query.
type Intent string

const (
	// IntentIdentify asks to name a specific song.
	IntentIdentify Intent = "identify"

	// IntentKnowledge asks a factual question about music.
	IntentKnowledge Intent = "knowledge"

	// IntentRecommend asks for suggestions.
	IntentRecommend Intent = "recommend"

	// IntentConversation is general chat without a concrete ask.
	IntentConversation Intent = "conversation"

	// IntentGenerate asks to create something (a playlist, a mix).
	IntentGenerate Intent = "generate"
)

// IsValid reports whether i is a recognised intent.
func (i Intent) IsValid() bool {
	switch i {
	case IntentIdentify, IntentKnowledge, IntentRecommend, IntentConversation, IntentGenerate:
		return true
	}
	return false
}

// JobType maps the intent onto a scheduled job type. Conversation folds into
// knowledge and generate folds into recommend; neither has a dedicated job
// type yet.
func (i Intent) JobType() ledger.JobType {
	switch i {
	case IntentIdentify:
		return ledger.JobIdentify
	case IntentRecommend, IntentGenerate:
		return ledger.JobRecommend
	default:
		return ledger.JobKnowledge
	}
}

// Result is one classification outcome.
type Result struct {
	Intent Intent

	// Confidence is the classifier's own estimate in [0, 1].
	Confidence float64

	// Reasoning is a short human-readable explanation, written to the audit
	// trail alongside the enqueued job.
	Reasoning string

	// Source names which path produced the result: "forced", "keyword", or
	// "llm".
	Source string
}

// minLLMQueryWords is the length below which an ambiguous query is not worth
// a model call; short fragments default to conversation.
const minLLMQueryWords = 4

// keywordRules maps trigger phrases to intents, checked in order. First
// match wins, so the more specific phrases come first.
var keywordRules = []struct {
	phrase string
	intent Intent
}{
	{"what song is this", IntentIdentify},
	{"what's this song", IntentIdentify},
	{"what is this song", IntentIdentify},
	{"name of this song", IntentIdentify},
	{"name this song", IntentIdentify},
	{"who sings", IntentIdentify},
	{"who performs", IntentIdentify},
	{"identify", IntentIdentify},
	{"shazam", IntentIdentify},

	{"recommend", IntentRecommend},
	{"suggest", IntentRecommend},
	{"similar to", IntentRecommend},
	{"something like", IntentRecommend},
	{"more like", IntentRecommend},

	{"make me a playlist", IntentGenerate},
	{"create a playlist", IntentGenerate},
	{"build a playlist", IntentGenerate},
	{"make a mix", IntentGenerate},

	{"who is", IntentKnowledge},
	{"who are", IntentKnowledge},
	{"when did", IntentKnowledge},
	{"when was", IntentKnowledge},
	{"what album", IntentKnowledge},
	{"what year", IntentKnowledge},
	{"tell me about", IntentKnowledge},
}

// classifyPrompt instructs the model to answer with a single JSON object.
const classifyPrompt = `You classify music-app queries. Reply with ONLY a JSON object:
{"intent": "identify"|"knowledge"|"recommend"|"conversation"|"generate",
 "confidence": <0.0-1.0>, "reasoning": "<one short sentence>"}
identify = the user wants a specific song named.
knowledge = a factual question about music, artists, or albums.
recommend = the user wants suggestions.
generate = the user wants a playlist or mix created.
conversation = anything else.`

// llmVerdict is the strict shape of the model's reply. Unknown fields are
// rejected so malformed upstream JSON fails here, not deep in routing.
type llmVerdict struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Detector classifies recall queries. The LLM provider is optional; without
// one, ambiguous queries settle on conversation.
type Detector struct {
	llm    llm.Provider
	logger *slog.Logger
}

// Option configures a [Detector].
type Option func(*Detector)

// WithLLM sets the model used for ambiguous text queries.
func WithLLM(p llm.Provider) Option {
	return func(d *Detector) { d.llm = p }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDetector creates a [Detector].
func NewDetector(opts ...Option) *Detector {
	d := &Detector{logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect classifies one recall submission. Audio input types are always
// identify — no heuristic or model call is made for them.
func (d *Detector) Detect(ctx context.Context, inputType ledger.InputType, query string) Result {
	if inputType.IsAudio() {
		return Result{
			Intent:     IntentIdentify,
			Confidence: 1,
			Reasoning:  fmt.Sprintf("input type %q always identifies", inputType),
			Source:     "forced",
		}
	}

	normalized := strings.ToLower(strings.TrimSpace(query))
	for _, rule := range keywordRules {
		if strings.Contains(normalized, rule.phrase) {
			return Result{
				Intent:     rule.intent,
				Confidence: 0.9,
				Reasoning:  fmt.Sprintf("matched keyword %q", rule.phrase),
				Source:     "keyword",
			}
		}
	}

	if d.llm != nil && len(strings.Fields(normalized)) >= minLLMQueryWords {
		if res, err := d.classifyWithLLM(ctx, query); err == nil {
			return res
		} else {
			d.logger.Warn("intent: llm classification failed, defaulting to conversation", "err", err)
		}
	}

	return Result{
		Intent:     IntentConversation,
		Confidence: 0.5,
		Reasoning:  "no keyword matched",
		Source:     "keyword",
	}
}

// classifyWithLLM asks the model for a verdict and validates it strictly.
func (d *Detector) classifyWithLLM(ctx context.Context, query string) (Result, error) {
	resp, err := d.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: classifyPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: query},
		},
		Temperature: 0,
		MaxTokens:   200,
	})
	if err != nil {
		return Result{}, fmt.Errorf("intent: complete: %w", err)
	}

	var verdict llmVerdict
	dec := json.NewDecoder(strings.NewReader(extractJSON(resp.Content)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&verdict); err != nil {
		return Result{}, fmt.Errorf("intent: parse verdict %q: %w", resp.Content, err)
	}
	if !verdict.Intent.IsValid() {
		return Result{}, fmt.Errorf("intent: model returned unknown intent %q", verdict.Intent)
	}
	if verdict.Confidence < 0 || verdict.Confidence > 1 {
		return Result{}, fmt.Errorf("intent: confidence %v out of range", verdict.Confidence)
	}

	return Result{
		Intent:     verdict.Intent,
		Confidence: verdict.Confidence,
		Reasoning:  verdict.Reasoning,
		Source:     "llm",
	}, nil
}

// extractJSON strips markdown fences and surrounding prose from a model
// reply, returning the first {...} block.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
