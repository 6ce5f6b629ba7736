package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":         {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":         {"deepgram"},
	"embeddings":  {"openai", "ollama"},
	"vad":         {"energy"},
	"audio_class": {"heuristic"},
	"fingerprint": {"audd", "acrcloud"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("audio_class", cfg.Providers.AudioClass.Name)
	validateProviderName("fingerprint", cfg.Providers.FingerprintPrimary.Name)
	validateProviderName("fingerprint", cfg.Providers.FingerprintSecondary.Name)

	// Provider availability
	if cfg.Providers.FingerprintPrimary.Name == "" {
		errs = append(errs, errors.New("providers.fingerprint_primary is required; the identification cascade has no source without it"))
	}
	if cfg.Providers.FingerprintSecondary.Name == "" {
		slog.Warn("providers.fingerprint_secondary is empty; the cascade will run single-source")
	}
	if cfg.Providers.FingerprintSecondary.Name != "" &&
		cfg.Providers.FingerprintSecondary.Name == cfg.Providers.FingerprintPrimary.Name {
		errs = append(errs, fmt.Errorf("providers.fingerprint_secondary %q duplicates the primary; the cascade needs distinct sources", cfg.Providers.FingerprintSecondary.Name))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; lyric fallback, intent detection, and knowledge answers are disabled")
	}
	if cfg.Providers.STT.Name == "" && cfg.Providers.LLM.Name != "" {
		slog.Warn("providers.stt is empty; the lyric fallback cannot transcribe low-confidence clips")
	}

	// Embeddings ↔ ledger dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Ledger.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but ledger.embedding_dimensions is not set; defaulting to 1536")
	}

	// Ledger availability
	if cfg.Ledger.PostgresDSN == "" {
		slog.Warn("ledger.postgres_dsn is empty; recalls and preferences will not survive a restart")
	}

	// Cascade gates
	if cfg.Cascade.AcceptThreshold != 0 {
		if cfg.Cascade.AcceptThreshold < 0 || cfg.Cascade.AcceptThreshold > 1 {
			errs = append(errs, fmt.Errorf("cascade.accept_threshold %.2f is out of range [0, 1]", cfg.Cascade.AcceptThreshold))
		}
	}
	if cfg.Cascade.FallbackThreshold != 0 {
		if cfg.Cascade.FallbackThreshold < 0 || cfg.Cascade.FallbackThreshold > 1 {
			errs = append(errs, fmt.Errorf("cascade.fallback_threshold %.2f is out of range [0, 1]", cfg.Cascade.FallbackThreshold))
		}
	}
	if cfg.Cascade.AcceptThreshold != 0 && cfg.Cascade.FallbackThreshold != 0 &&
		cfg.Cascade.FallbackThreshold > cfg.Cascade.AcceptThreshold {
		errs = append(errs, fmt.Errorf("cascade.fallback_threshold %.2f must not exceed cascade.accept_threshold %.2f", cfg.Cascade.FallbackThreshold, cfg.Cascade.AcceptThreshold))
	}

	// Rate limits
	if cfg.RateLimit.PerUser < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.per_user %d must not be negative", cfg.RateLimit.PerUser))
	}
	if cfg.RateLimit.PerAddr < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.per_addr %d must not be negative", cfg.RateLimit.PerAddr))
	}
	if cfg.RateLimit.WindowSeconds < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.window_seconds %d must not be negative", cfg.RateLimit.WindowSeconds))
	}

	// Workers
	if cfg.Worker.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("worker.concurrency %d must not be negative", cfg.Worker.Concurrency))
	}

	// Capture
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", cfg.Capture.SampleRate))
	}
	if cfg.Capture.MaxDurationMs != 0 && cfg.Capture.SilenceTimeoutMs > cfg.Capture.MaxDurationMs {
		errs = append(errs, fmt.Errorf("capture.silence_timeout_ms %d must not exceed capture.max_duration_ms %d", cfg.Capture.SilenceTimeoutMs, cfg.Capture.MaxDurationMs))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
