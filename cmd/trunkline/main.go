// Command trunkline is the main entry point for the Trunkline voice agent
// platform.
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

	"github.com/trunkline-ai/trunkline/internal/app"
	"github.com/trunkline-ai/trunkline/internal/config"
	"github.com/trunkline-ai/trunkline/internal/observe"
	"github.com/trunkline-ai/trunkline/internal/resilience"
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
			fmt.Fprintf(os.Stderr, "trunkline: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "trunkline: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	slog.Info("trunkline starting",
		"config", *configPath,
		"listen_addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"public_host", cfg.Server.PublicHost,
		"log_level", cfg.Log.Level,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry (OTel metrics + traces) ─────────────────────────────────────
	// The Prometheus exporter registers into the default registerer, so this
	// must happen exactly once per process.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "trunkline",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, config.DefaultRegistry())
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProviders instantiates the providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. When a fallback provider is configured for a stage, the primary is
// wrapped in the matching resilience group so stream setup fails over
// transparently.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	stt, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	ps.STT = stt
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	if entry := cfg.Providers.STTFallback; entry != nil {
		fallback, err := reg.CreateSTT(*entry)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback provider %q: %w", entry.Name, err)
		}
		group := resilience.NewSTTFallback(stt, cfg.Providers.STT.Name, resilience.FallbackConfig{})
		group.AddFallback(entry.Name, fallback)
		ps.STT = group
		slog.Info("stt fallback enabled", "primary", cfg.Providers.STT.Name, "fallback", entry.Name)
	}

	llm, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	ps.LLM = llm
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	if entry := cfg.Providers.LLMFallback; entry != nil {
		fallback, err := reg.CreateLLM(*entry)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback provider %q: %w", entry.Name, err)
		}
		group := resilience.NewLLMFallback(llm, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
		group.AddFallback(entry.Name, fallback)
		ps.LLM = group
		slog.Info("llm fallback enabled", "primary", cfg.Providers.LLM.Name, "fallback", entry.Name)
	}

	tts, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	ps.TTS = tts
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)

	if entry := cfg.Providers.TTSFallback; entry != nil {
		fallback, err := reg.CreateTTS(*entry)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback provider %q: %w", entry.Name, err)
		}
		group := resilience.NewTTSFallback(tts, cfg.Providers.TTS.Name, resilience.FallbackConfig{})
		group.AddFallback(entry.Name, fallback)
		ps.TTS = group
		slog.Info("tts fallback enabled", "primary", cfg.Providers.TTS.Name, "fallback", entry.Name)
	}

	emb, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Providers.Embeddings.Name, err)
	}
	ps.Embeddings = emb
	slog.Info("provider created", "kind", "embeddings", "name", cfg.Providers.Embeddings.Name)

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       Trunkline — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	if fb := cfg.Providers.STTFallback; fb != nil {
		printProvider("STT fallback", fb.Name, fb.Model)
	}
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	if fb := cfg.Providers.LLMFallback; fb != nil {
		printProvider("LLM fallback", fb.Name, fb.Model)
	}
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	if fb := cfg.Providers.TTSFallback; fb != nil {
		printProvider("TTS fallback", fb.Name, fb.Model)
	}
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	fmt.Printf("║  Public host     : %-19s ║\n", trim(cfg.Server.PublicHost))
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.Tools.MCPServers))
	fmt.Printf("║  Event stream    : %-19s ║\n", trim(cfg.Telemetry.Stream))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, trim(value))
}

func trim(value string) string {
	if len(value) > 19 {
		return value[:16] + "…"
	}
	return value
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
