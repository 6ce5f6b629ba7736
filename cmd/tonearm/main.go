// Command tonearm is the main entry point for the tonearm song recall server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/tonearm/tonearm/internal/auth"
	"github.com/tonearm/tonearm/internal/cascade"
	"github.com/tonearm/tonearm/internal/catalog"
	"github.com/tonearm/tonearm/internal/config"
	"github.com/tonearm/tonearm/internal/health"
	"github.com/tonearm/tonearm/internal/intent"
	"github.com/tonearm/tonearm/internal/observe"
	"github.com/tonearm/tonearm/internal/resilience"
	"github.com/tonearm/tonearm/internal/router"
	"github.com/tonearm/tonearm/internal/server"
	"github.com/tonearm/tonearm/internal/transcript"
	"github.com/tonearm/tonearm/internal/transcript/llmcorrect"
	"github.com/tonearm/tonearm/internal/transcript/phonetic"
	"github.com/tonearm/tonearm/internal/worker"
	"github.com/tonearm/tonearm/pkg/ledger"
	ledgerpg "github.com/tonearm/tonearm/pkg/ledger/postgres"
	"github.com/tonearm/tonearm/pkg/prefs"
	prefspg "github.com/tonearm/tonearm/pkg/prefs/postgres"
	"github.com/tonearm/tonearm/pkg/provider/audioclass"
	"github.com/tonearm/tonearm/pkg/provider/audioclass/heuristic"
	"github.com/tonearm/tonearm/pkg/provider/embeddings"
	ollamaembed "github.com/tonearm/tonearm/pkg/provider/embeddings/ollama"
	oaembed "github.com/tonearm/tonearm/pkg/provider/embeddings/openai"
	"github.com/tonearm/tonearm/pkg/provider/fingerprint"
	"github.com/tonearm/tonearm/pkg/provider/fingerprint/acrcloud"
	"github.com/tonearm/tonearm/pkg/provider/fingerprint/audd"
	"github.com/tonearm/tonearm/pkg/provider/llm"
	"github.com/tonearm/tonearm/pkg/provider/llm/anyllm"
	oallm "github.com/tonearm/tonearm/pkg/provider/llm/openai"
	"github.com/tonearm/tonearm/pkg/provider/stt"
	"github.com/tonearm/tonearm/pkg/provider/stt/deepgram"
	"github.com/tonearm/tonearm/pkg/provider/vad"
	"github.com/tonearm/tonearm/pkg/provider/vad/energy"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "tonearm: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "tonearm: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("tonearm starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "tonearm"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if providers.FingerprintPrimary == nil {
		slog.Error("no fingerprint provider configured; identify jobs cannot run")
		return 1
	}

	// ── Stores ────────────────────────────────────────────────────────────────
	var (
		store     ledger.Store
		prefStore prefs.Store
		checkers  []health.Checker
	)
	if dsn := cfg.Ledger.PostgresDSN; dsn != "" {
		pgStore, err := ledgerpg.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to open ledger store", "err", err)
			return 1
		}
		defer pgStore.Close()
		store = pgStore
		checkers = append(checkers, health.PingChecker("ledger-db", pgStore.Pool()))

		pgPrefs, err := prefspg.NewStore(ctx, dsn, cfg.Ledger.EmbeddingDimensions)
		if err != nil {
			slog.Error("failed to open preference store", "err", err)
			return 1
		}
		defer pgPrefs.Close()
		prefStore = pgPrefs
		slog.Info("ledger backend", "kind", "postgres")
	} else {
		store = ledger.NewMemStore()
		prefStore = prefs.NewMemStore()
		slog.Warn("ledger backend is in-memory; recalls will not survive a restart")
	}

	// ── Catalog lexicon ───────────────────────────────────────────────────────
	var lexicon catalog.Store
	if files := cfg.Catalog.LexiconFiles; len(files) > 0 {
		mem := catalog.NewMemStore()
		for _, path := range files {
			lex, err := catalog.LoadLexiconFile(path)
			if err != nil {
				slog.Error("failed to load lexicon", "path", path, "err", err)
				return 1
			}
			n, err := catalog.ImportLexicon(ctx, mem, lex)
			if err != nil {
				slog.Error("failed to import lexicon", "path", path, "err", err)
				return 1
			}
			slog.Info("lexicon loaded", "path", path, "entries", n)
		}
		lexicon = mem
	}

	// ── Identification cascade ────────────────────────────────────────────────
	cascadeOpts := []cascade.Option{
		cascade.WithPreferences(prefStore),
		cascade.WithMetrics(metrics),
	}
	if providers.FingerprintSecondary != nil {
		cascadeOpts = append(cascadeOpts, cascade.WithSecondary(providers.FingerprintSecondary))
	}
	if providers.STT != nil && providers.LLM != nil {
		cascadeOpts = append(cascadeOpts, cascade.WithLyricFallback(providers.STT, providers.LLM))
		if lexicon != nil {
			pipeline := transcript.NewPipeline(
				transcript.WithPhoneticMatcher(phonetic.New()),
				transcript.WithLLMCorrector(llmcorrect.New(providers.LLM)),
			)
			cascadeOpts = append(cascadeOpts, cascade.WithTranscriptCorrection(pipeline, lexicon))
		}
	}
	cascadeOpts = append(cascadeOpts, cascade.WithGates(gatesFromConfig(cfg.Cascade)))
	casc := cascade.New(providers.FingerprintPrimary, store, cascadeOpts...)

	// ── Worker ────────────────────────────────────────────────────────────────
	workerOpts := []worker.Option{worker.WithMetrics(metrics)}
	if providers.LLM != nil {
		answererOpts := []worker.AnswererOption{worker.WithAnswererMetrics(metrics)}
		if providers.Embeddings != nil {
			answererOpts = append(answererOpts, worker.WithSearchPatterns(prefStore, providers.Embeddings))
		}
		workerOpts = append(workerOpts, worker.WithAnswerer(worker.NewAnswerer(providers.LLM, answererOpts...)))
	} else {
		slog.Warn("no llm provider configured; knowledge and recommend jobs will fail")
	}
	if cfg.Worker.Concurrency > 0 {
		workerOpts = append(workerOpts, worker.WithConcurrency(cfg.Worker.Concurrency))
	}
	if cfg.Worker.PollIntervalMs > 0 {
		workerOpts = append(workerOpts, worker.WithPollInterval(time.Duration(cfg.Worker.PollIntervalMs)*time.Millisecond))
	}
	wrk := worker.New(store, casc, workerOpts...)

	// ── HTTP surface ──────────────────────────────────────────────────────────
	detectorOpts := []intent.Option{}
	if providers.LLM != nil {
		detectorOpts = append(detectorOpts, intent.WithLLM(providers.LLM))
	}
	detector := intent.NewDetector(detectorOpts...)

	routerOpts := []router.Option{
		router.WithMetrics(metrics),
		router.WithFeedback(prefStore),
	}
	if cfg.RateLimit.PerUser > 0 || cfg.RateLimit.PerAddr > 0 || cfg.RateLimit.WindowSeconds > 0 {
		routerOpts = append(routerOpts, router.WithLimits(limitsFromConfig(cfg.RateLimit)))
	}
	rt := router.New(store, auth.NewStaticVerifier(cfg.Auth.Tokens), detector, routerOpts...)

	srv := server.New(cfg.Server, rt, health.New(checkers...), metrics)

	// ── Config hot reload ─────────────────────────────────────────────────────
	// The watcher polls the config file and applies the restart-free subset of
	// changes: log level, cascade gates, and rate limits.
	watcher, err := config.NewWatcher(*configPath, func(old, updated *config.Config) {
		d := config.Diff(old, updated)
		if !d.Any() {
			return
		}
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("config reload: log level applied", "level", d.NewLogLevel)
		}
		if d.CascadeChanged {
			casc.SetGates(gatesFromConfig(d.NewCascade))
			slog.Info("config reload: cascade gates applied",
				"accept", d.NewCascade.AcceptThreshold, "fallback", d.NewCascade.FallbackThreshold)
		}
		if d.RateLimitChanged {
			rt.SetLimits(limitsFromConfig(d.NewRateLimit))
			slog.Info("config reload: rate limits applied",
				"per_user", d.NewRateLimit.PerUser, "per_addr", d.NewRateLimit.PerAddr)
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return wrk.Run(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with tonearm. Used for startup logging.
var builtinProviders = map[string][]string{
	"llm":         {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":         {"deepgram"},
	"embeddings":  {"openai", "ollama"},
	"fingerprint": {"audd", "acrcloud"},
	"vad":         {"energy"},
	"audio_class": {"heuristic"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai uses the native SDK-backed provider; it requires an API key and
	// a model.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile all go
	// through the any-llm adapter: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New("ollama", entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})

	// ── Fingerprint ───────────────────────────────────────────────────────────

	reg.RegisterFingerprint("audd", func(entry config.ProviderEntry) (fingerprint.Provider, error) {
		var opts []audd.Option
		if entry.BaseURL != "" {
			opts = append(opts, audd.WithEndpoint(entry.BaseURL))
		}
		return audd.New(entry.APIKey, opts...)
	})

	reg.RegisterFingerprint("acrcloud", func(entry config.ProviderEntry) (fingerprint.Provider, error) {
		host := optString(entry.Options, "host")
		if host == "" {
			host = entry.BaseURL
		}
		return acrcloud.New(host, entry.APIKey, entry.APISecret)
	})

	// ── Capture-side engines ──────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	reg.RegisterAudioClass("heuristic", func(config.ProviderEntry) (audioclass.Classifier, error) {
		return heuristic.New(), nil
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// providerSet holds the instantiated providers the server consumes.
type providerSet struct {
	LLM                  llm.Provider
	STT                  stt.Provider
	Embeddings           embeddings.Provider
	FingerprintPrimary   fingerprint.Provider
	FingerprintSecondary fingerprint.Provider
}

// buildProviders instantiates all providers named in cfg using the registry.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providerSet, error) {
	ps := &providerSet{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		ps.LLM = p
		slog.Info("provider created", "kind", "llm", "name", name)

		if entries := cfg.Providers.LLMFallbacks; len(entries) > 0 {
			group := resilience.NewLLMFallback(p, name, resilience.FallbackConfig{})
			for _, entry := range entries {
				fb, err := reg.CreateLLM(entry)
				if err != nil {
					return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
				}
				group.AddFallback(entry.Name, fb)
				slog.Info("provider created", "kind", "llm", "role", "fallback", "name", entry.Name)
			}
			ps.LLM = group
		}
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		ps.STT = p
		slog.Info("provider created", "kind", "stt", "name", name)

		if entries := cfg.Providers.STTFallbacks; len(entries) > 0 {
			group := resilience.NewSTTFallback(p, name, resilience.FallbackConfig{})
			for _, entry := range entries {
				fb, err := reg.CreateSTT(entry)
				if err != nil {
					return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
				}
				group.AddFallback(entry.Name, fb)
				slog.Info("provider created", "kind", "stt", "role", "fallback", "name", entry.Name)
			}
			ps.STT = group
		}
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	if name := cfg.Providers.FingerprintPrimary.Name; name != "" {
		p, err := reg.CreateFingerprint(cfg.Providers.FingerprintPrimary)
		if err != nil {
			return nil, fmt.Errorf("create fingerprint provider %q: %w", name, err)
		}
		ps.FingerprintPrimary = p
		slog.Info("provider created", "kind", "fingerprint", "role", "primary", "name", name)

		if entries := cfg.Providers.FingerprintFallbacks; len(entries) > 0 {
			group := resilience.NewFingerprintFallback(name, p, name, resilience.FallbackConfig{})
			for _, entry := range entries {
				fb, err := reg.CreateFingerprint(entry)
				if err != nil {
					return nil, fmt.Errorf("create fingerprint fallback %q: %w", entry.Name, err)
				}
				group.AddFallback(entry.Name, fb)
				slog.Info("provider created", "kind", "fingerprint", "role", "fallback", "name", entry.Name)
			}
			ps.FingerprintPrimary = group
		}
	}

	if name := cfg.Providers.FingerprintSecondary.Name; name != "" {
		p, err := reg.CreateFingerprint(cfg.Providers.FingerprintSecondary)
		if err != nil {
			return nil, fmt.Errorf("create fingerprint provider %q: %w", name, err)
		}
		ps.FingerprintSecondary = p
		slog.Info("provider created", "kind", "fingerprint", "role", "secondary", "name", name)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         tonearm — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Fingerprint", cfg.Providers.FingerprintPrimary.Name, cfg.Providers.FingerprintPrimary.Model)
	printProvider("Fallback", cfg.Providers.FingerprintSecondary.Name, cfg.Providers.FingerprintSecondary.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	backend := "in-memory"
	if cfg.Ledger.PostgresDSN != "" {
		backend = "postgres"
	}
	fmt.Printf("║  Ledger          : %-19s ║\n", backend)
	fmt.Printf("║  API tokens      : %-19d ║\n", len(cfg.Auth.Tokens))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger around a LevelVar so the level can be
// changed on config reload without rebuilding the handler.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// gatesFromConfig maps the cascade section onto confidence gates, keeping the
// defaults for unset fields.
func gatesFromConfig(cfg config.CascadeConfig) cascade.Gates {
	gates := cascade.DefaultGates
	if cfg.AcceptThreshold > 0 {
		gates.Accept = cfg.AcceptThreshold
	}
	if cfg.FallbackThreshold > 0 {
		gates.Fallback = cfg.FallbackThreshold
	}
	return gates
}

func limitsFromConfig(cfg config.RateLimitConfig) router.Limits {
	return router.Limits{
		PerUser: cfg.PerUser,
		PerAddr: cfg.PerAddr,
		Window:  time.Duration(cfg.WindowSeconds) * time.Second,
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
