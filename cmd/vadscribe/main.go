// Command vadscribe segments a live audio stream into speech utterances and
// transcribes them to JSON lines, or writes them to numbered WAV files.
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

	"github.com/google/uuid"

	"github.com/MrWong99/vadscribe/internal/app"
	"github.com/MrWong99/vadscribe/internal/config"
	"github.com/MrWong99/vadscribe/internal/observe"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "path to an optional .env file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "vadscribe: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vadscribe: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vadscribe: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	runID := uuid.NewString()
	slog.Info("vadscribe starting",
		"version", version,
		"config", *configPath,
		"run_id", runID,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceVersion: version,
		InstanceID:     runID,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(d.NewLogLevel.Level())
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config changes take effect after restart", "sections", d.RestartRequired)
		}
	})
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, reg, app.WithRunID(runID))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("stream open, press Ctrl+C to stop")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}
	st := application.Stats()
	slog.Info("stream finished", "chunks", st.Chunks, "segments", st.Segments)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Startup summary ───────────────────────────────────────────────────────────

// printStartupSummary writes to stderr; stdout carries the transcript.
func printStartupSummary(cfg *config.Config) {
	w := os.Stderr
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        vadscribe startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printField("Source", string(cfg.Stream.Source))
	printField("Stream", cfg.Stream.URL)
	printField("Rate / chunk", fmt.Sprintf("%d Hz / %d", cfg.Stream.SampleRate, cfg.Stream.ChunkSize))
	printField("VAD", cfg.Providers.VAD.Name)
	if cfg.Output.Mode == config.OutputTranscribe {
		printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
		for _, fb := range cfg.Providers.STTFallbacks {
			printProvider("STT fallback", fb.Name, fb.Model)
		}
	} else {
		printField("Output dir", cfg.Output.Dir)
	}
	printField("Mode", string(cfg.Output.Mode))
	printField("On error", string(cfg.Output.OnError))
	if cfg.Storage.PostgresDSN != "" {
		printField("Storage", "postgres")
	} else {
		printField("Storage", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		printField("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printField(kind, value)
}

func printField(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Fprintf(os.Stderr, "║  %-12s    : %-19s ║\n", label, value)
}
