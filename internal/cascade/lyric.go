package cascade

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tonearm/tonearm/internal/catalog"
	"github.com/tonearm/tonearm/pkg/provider/fingerprint"
	"github.com/tonearm/tonearm/pkg/provider/llm"
	"github.com/tonearm/tonearm/pkg/provider/stt"
)

// lyricPrompt asks the model for exactly one JSON object; anything else fails
// the strict decode below and the fallback yields nothing.
const lyricPrompt = `You identify songs from transcribed lyrics or sung/hummed descriptions.
Given the transcript, name the most likely song. Reply with ONLY a JSON object:
{"title": "...", "artist": "...", "album": "...", "confidence": 0.0-1.0, "reasoning": "..."}
Set confidence to your honest estimate; use 0 and empty strings if you cannot tell.`

// lyricGuess is the model's verdict, validated at this adapter boundary.
type lyricGuess struct {
	Title      string  `json:"title"`
	Artist     string  `json:"artist"`
	Album      string  `json:"album"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// lyricFallback transcribes the clip and asks the model to infer the song
// from lyrical content. Disabled (nil, nil) unless both providers are
// configured. A transcript with no usable content or a guess without
// title+artist also yields (nil, nil): the fallback answering "no idea" is
// not a failure.
func (c *Cascade) lyricFallback(ctx context.Context, clip []byte) ([]fingerprint.Match, error) {
	if c.stt == nil || c.llm == nil {
		return nil, nil
	}

	sttCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	start := time.Now()
	transcript, err := stt.TranscribeClip(sttCtx, c.stt, stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Keywords:   c.keywordBoosts(sttCtx),
	}, stripWAVHeader(clip))
	c.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordProviderError(ctx, "stt", "stt")
		return nil, fmt.Errorf("cascade: transcribe clip: %w", err)
	}

	text := strings.TrimSpace(transcript.Text)
	if text == "" {
		return nil, nil
	}
	text = c.correctTranscript(ctx, transcript, text)

	llmCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	start = time.Now()
	resp, err := c.llm.Complete(llmCtx, llm.CompletionRequest{
		SystemPrompt: lyricPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf("Transcript: %q", text)},
		},
		Temperature: 0.1,
		MaxTokens:   300,
	})
	c.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordProviderError(ctx, "llm", "llm")
		return nil, fmt.Errorf("cascade: lyric inference: %w", err)
	}

	guess, err := parseLyricGuess(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("cascade: lyric verdict: %w", err)
	}
	if guess.Title == "" || guess.Artist == "" {
		return nil, nil
	}

	excerpt := text
	if len(excerpt) > 80 {
		excerpt = excerpt[:80] + "…"
	}
	evidence := fmt.Sprintf("lyric match on transcript %q", excerpt)
	if guess.Reasoning != "" {
		evidence = fmt.Sprintf("%s: %s", evidence, guess.Reasoning)
	}
	return []fingerprint.Match{{
		Title:      guess.Title,
		Artist:     guess.Artist,
		Album:      guess.Album,
		Confidence: guess.Confidence,
		Evidence:   evidence,
	}}, nil
}

// keywordBoosts turns the lexicon into recognition hints so the STT provider
// favours known artist and track names over homophones.
func (c *Cascade) keywordBoosts(ctx context.Context) []stt.KeywordBoost {
	if c.lexicon == nil {
		return nil
	}
	names, err := catalog.Names(ctx, c.lexicon, catalog.ListOptions{})
	if err != nil {
		c.logger.Warn("cascade: lexicon load failed", "err", err)
		return nil
	}
	boosts := make([]stt.KeywordBoost, 0, len(names))
	for _, n := range names {
		boosts = append(boosts, stt.KeywordBoost{Keyword: n, Boost: 2})
	}
	return boosts
}

// correctTranscript runs the correction pipeline over the raw transcript
// using the lexicon's known names. Any failure leaves text untouched: a
// miscorrected transcript is worse than a misheard one.
func (c *Cascade) correctTranscript(ctx context.Context, tr stt.Transcript, text string) string {
	if c.corrector == nil || c.lexicon == nil {
		return text
	}
	names, err := catalog.Names(ctx, c.lexicon, catalog.ListOptions{})
	if err != nil {
		c.logger.Warn("cascade: lexicon load failed", "err", err)
		return text
	}
	if len(names) == 0 {
		return text
	}
	corrected, err := c.corrector.Correct(ctx, tr, names)
	if err != nil {
		c.logger.Warn("cascade: transcript correction failed", "err", err)
		return text
	}
	if len(corrected.Corrections) > 0 {
		c.logger.Debug("cascade: transcript corrected",
			"corrections", len(corrected.Corrections))
	}
	return corrected.Corrected
}

// parseLyricGuess decodes the model reply strictly; unknown fields or an
// out-of-range confidence fail fast rather than propagating a malformed
// verdict into ranking.
func parseLyricGuess(content string) (lyricGuess, error) {
	raw := extractJSONObject(content)
	if raw == "" {
		return lyricGuess{}, fmt.Errorf("no JSON object in reply %q", content)
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	var guess lyricGuess
	if err := dec.Decode(&guess); err != nil {
		return lyricGuess{}, err
	}
	if guess.Confidence < 0 || guess.Confidence > 1 {
		return lyricGuess{}, fmt.Errorf("confidence %v out of range", guess.Confidence)
	}
	return guess, nil
}

// extractJSONObject strips markdown fencing and prose around the first JSON
// object in s.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// stripWAVHeader removes a RIFF/WAVE header so the clip can be replayed as
// raw PCM into a streaming transcription session. Anything else is passed
// through untouched.
func stripWAVHeader(clip []byte) []byte {
	const headerLen = 44
	if len(clip) > headerLen && string(clip[:4]) == "RIFF" && string(clip[8:12]) == "WAVE" {
		return clip[headerLen:]
	}
	return clip
}
