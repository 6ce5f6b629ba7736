package llmcorrect_test

import (
	"context"
	"strings"
	"testing"

	"github.com/tonearm/tonearm/internal/transcript/llmcorrect"
	"github.com/tonearm/tonearm/pkg/provider/llm"
	"github.com/tonearm/tonearm/pkg/provider/llm/mock"
)

func TestCorrector_CallsLLMWithNames(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"corrected_text": "play some Sigur Rós for me", "corrections": []}`,
		},
	}
	c := llmcorrect.New(provider)

	names := []string{"Sigur Rós", "Boards of Canada"}
	_, _, err := c.Correct(context.Background(), "play some seeger rose for me", names, nil)
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}

	if len(provider.CompleteCalls) != 1 {
		t.Fatalf("expected 1 Complete call, got %d", len(provider.CompleteCalls))
	}

	req := provider.CompleteCalls[0].Req
	// System prompt must contain each known name.
	for _, name := range names {
		if !strings.Contains(req.SystemPrompt, name) {
			t.Errorf("system prompt missing name %q\nprompt:\n%s", name, req.SystemPrompt)
		}
	}

	// User message must contain the original transcript text.
	if len(req.Messages) == 0 {
		t.Fatal("request has no messages")
	}
	if !strings.Contains(req.Messages[0].Content, "seeger rose") {
		t.Errorf("user message missing original text, got: %s", req.Messages[0].Content)
	}
}

func TestCorrector_ParsesJSONCorrections(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{
  "corrected_text": "Hoppípolla by Sigur Rós",
  "corrections": [
    {"original": "hoppy polla", "corrected": "Hoppípolla", "confidence": 0.9}
  ]
}`,
		},
	}
	c := llmcorrect.New(provider)

	correctedText, corrections, err := c.Correct(
		context.Background(),
		"hoppy polla by seeger rose",
		[]string{"Hoppípolla", "Sigur Rós"},
		[]string{"hoppy", "polla"},
	)
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}

	if correctedText != "Hoppípolla by Sigur Rós" {
		t.Errorf("correctedText=%q, want %q", correctedText, "Hoppípolla by Sigur Rós")
	}

	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1", len(corrections))
	}
	if corrections[0].Original != "hoppy polla" {
		t.Errorf("corrections[0].Original=%q, want %q", corrections[0].Original, "hoppy polla")
	}
	if corrections[0].Corrected != "Hoppípolla" {
		t.Errorf("corrections[0].Corrected=%q, want %q", corrections[0].Corrected, "Hoppípolla")
	}
	if corrections[0].Confidence != 0.9 {
		t.Errorf("corrections[0].Confidence=%f, want 0.9", corrections[0].Confidence)
	}
}

func TestCorrector_FallbackOnUnparseable(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			// Intentionally invalid JSON.
			Content: "I cannot correct this transcript because it's ambiguous.",
		},
	}
	c := llmcorrect.New(provider)

	originalText := "something by seeger rose maybe"
	correctedText, corrections, err := c.Correct(
		context.Background(),
		originalText,
		[]string{"Sigur Rós"},
		nil,
	)
	if err != nil {
		t.Fatalf("Correct returned error on unparseable response: %v", err)
	}

	// Must return original text unchanged.
	if correctedText != originalText {
		t.Errorf("correctedText=%q, want original %q", correctedText, originalText)
	}
	if corrections != nil {
		t.Errorf("corrections=%v, want nil on fallback", corrections)
	}
}

func TestCorrector_MarkdownStripping(t *testing.T) {
	t.Parallel()

	// Some models wrap JSON in markdown fences.
	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: "```json\n" + `{"corrected_text": "Nirvana plays.", "corrections": []}` + "\n```",
		},
	}
	c := llmcorrect.New(provider)

	correctedText, _, err := c.Correct(
		context.Background(),
		"nervana plays.",
		[]string{"Nirvana"},
		nil,
	)
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}
	if correctedText != "Nirvana plays." {
		t.Errorf("correctedText=%q, want %q", correctedText, "Nirvana plays.")
	}
}

func TestCorrector_EmptyNames(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	c := llmcorrect.New(provider)

	text := "some text"
	correctedText, corrections, err := c.Correct(context.Background(), text, nil, nil)
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}
	if correctedText != text {
		t.Errorf("correctedText=%q, want original %q when no names", correctedText, text)
	}
	if len(corrections) != 0 {
		t.Errorf("expected no corrections when names is nil, got %d", len(corrections))
	}
	// LLM should not be called.
	if len(provider.CompleteCalls) != 0 {
		t.Errorf("expected 0 LLM calls for empty names, got %d", len(provider.CompleteCalls))
	}
}

func TestCorrector_LLMError(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		CompleteErr: context.DeadlineExceeded,
	}
	c := llmcorrect.New(provider)

	_, _, err := c.Correct(
		context.Background(),
		"some transcript",
		[]string{"Nirvana"},
		nil,
	)
	if err == nil {
		t.Fatal("expected error from LLM failure, got nil")
	}
}

func TestCorrector_WithTemperature(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"corrected_text": "hello", "corrections": []}`,
		},
	}
	c := llmcorrect.New(provider, llmcorrect.WithTemperature(0.5))

	_, _, err := c.Correct(context.Background(), "hello", []string{"Nirvana"}, nil)
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}

	if len(provider.CompleteCalls) == 0 {
		t.Fatal("no Complete calls recorded")
	}
	req := provider.CompleteCalls[0].Req
	if req.Temperature != 0.5 {
		t.Errorf("Temperature=%f, want 0.5", req.Temperature)
	}
}

func TestCorrector_LowConfidenceSpansInUserMessage(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"corrected_text": "Sigur Rós sings.", "corrections": []}`,
		},
	}
	c := llmcorrect.New(provider)

	spans := []string{"seeger", "rose"}
	_, _, err := c.Correct(
		context.Background(),
		"seeger rose sings.",
		[]string{"Sigur Rós"},
		spans,
	)
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}

	if len(provider.CompleteCalls) == 0 {
		t.Fatal("no Complete calls recorded")
	}
	userMsg := provider.CompleteCalls[0].Req.Messages[0].Content
	for _, span := range spans {
		if !strings.Contains(userMsg, span) {
			t.Errorf("user message missing low-confidence span %q; got:\n%s", span, userMsg)
		}
	}
}
