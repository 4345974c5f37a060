// Package app wires the vadscribe subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the stream and builds
// the scorer, sink and pipeline, Run segments the stream while serving the
// operational HTTP endpoints, and Shutdown tears everything down in order.
//
// For testing, inject collaborators via functional options (WithSource,
// WithVAD, WithTranscriber, WithStore, WithOutput). When an option is not
// provided, New creates the real implementation from the config through the
// [config.Registry].
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vadscribe/internal/config"
	"github.com/MrWong99/vadscribe/internal/health"
	"github.com/MrWong99/vadscribe/internal/observe"
	"github.com/MrWong99/vadscribe/internal/pipeline"
	"github.com/MrWong99/vadscribe/internal/resilience"
	"github.com/MrWong99/vadscribe/internal/segment"
	"github.com/MrWong99/vadscribe/internal/sink"
	"github.com/MrWong99/vadscribe/internal/transcript"
	"github.com/MrWong99/vadscribe/internal/transcript/postgres"
	"github.com/MrWong99/vadscribe/pkg/audio/source"
	"github.com/MrWong99/vadscribe/pkg/provider/stt"
	"github.com/MrWong99/vadscribe/pkg/provider/vad"
)

const (
	// streamStaleAfter fails readiness when no chunk arrived for this long.
	streamStaleAfter = 30 * time.Second

	// serverShutdownTimeout bounds the HTTP server's graceful shutdown.
	serverShutdownTimeout = 5 * time.Second
)

// App owns all subsystem lifetimes for one stream.
type App struct {
	cfg     *config.Config
	reg     *config.Registry
	runID   string
	metrics *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	src         source.Source
	scorer      vad.Engine
	transcriber stt.Transcriber
	fallback    *resilience.TranscriberFallback
	store       transcript.Store
	output      io.Writer
	runner      *pipeline.Runner
	server      *http.Server
	handler     http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects the chunk source instead of opening cfg.Stream.
func WithSource(s source.Source) Option {
	return func(a *App) { a.src = s }
}

// WithVAD injects the speech scorer instead of creating providers.vad.
func WithVAD(e vad.Engine) Option {
	return func(a *App) { a.scorer = e }
}

// WithTranscriber injects the transcriber instead of creating providers.stt
// and its fallbacks.
func WithTranscriber(t stt.Transcriber) Option {
	return func(a *App) { a.transcriber = t }
}

// WithStore injects a transcript store instead of connecting to
// storage.postgres_dsn.
func WithStore(s transcript.Store) Option {
	return func(a *App) { a.store = s }
}

// WithOutput sets where JSON transcript lines are printed. Default: stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.output = w }
}

// WithMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRunID fixes the run identifier stored with transcripts. Default: a
// random UUID.
func WithRunID(id string) Option {
	return func(a *App) { a.runID = id }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Providers that are
// not injected are created through reg. On error every subsystem opened so
// far is closed again.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (_ *App, err error) {
	a := &App{
		cfg:    cfg,
		reg:    reg,
		output: os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.runID == "" {
		a.runID = uuid.NewString()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	defer func() {
		if err != nil {
			_ = a.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	// ── 1. Speech scorer ─────────────────────────────────────────────────
	if a.scorer == nil {
		if a.scorer, err = reg.CreateVAD(cfg.Providers.VAD); err != nil {
			return nil, fmt.Errorf("app: create vad %q: %w", cfg.Providers.VAD.Name, err)
		}
	}

	// ── 2. Segment sink ──────────────────────────────────────────────────
	out, err := a.initSink(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: init sink: %w", err)
	}
	out = sink.Retry(out, cfg.Output.Retries, 0)

	// ── 3. Chunk source ──────────────────────────────────────────────────
	if a.src == nil {
		if a.src, err = a.openSource(ctx); err != nil {
			return nil, &segment.SourceError{Err: fmt.Errorf("open %s stream: %w", cfg.Stream.Source, err)}
		}
	}

	// ── 4. Pipeline ──────────────────────────────────────────────────────
	a.runner, err = pipeline.New(pipeline.Config{
		Segment:        cfg.SegmentConfig(),
		SinkKind:       string(cfg.Output.Mode),
		SkipSinkErrors: cfg.Output.OnError == config.PolicySkip,
	}, a.src, a.scorer, out, pipeline.WithMetrics(a.metrics))
	if err != nil {
		a.closers = append(a.closers, a.src.Close)
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 5. Operational HTTP endpoints ────────────────────────────────────
	a.initHTTP()

	slog.Info("app initialised",
		"run_id", a.runID,
		"mode", cfg.Output.Mode,
		"source", cfg.Stream.Source,
		"sample_rate", cfg.Stream.SampleRate,
		"chunk_size", cfg.Stream.ChunkSize,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSink builds the segment sink for the configured output mode.
func (a *App) initSink(ctx context.Context) (segment.Sink, error) {
	switch a.cfg.Output.Mode {
	case config.OutputFiles:
		return sink.NewFileSink(a.cfg.Output.Dir, a.cfg.Output.FilePrefix)
	case config.OutputTranscribe:
	default:
		return nil, fmt.Errorf("unknown output mode %q", a.cfg.Output.Mode)
	}

	if err := a.initTranscriber(); err != nil {
		return nil, err
	}
	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	normalizer, err := transcript.NewScriptNormalizer(a.cfg.Storage.Script)
	if err != nil {
		return nil, err
	}
	return sink.NewTranscriptionSink(sink.TranscribeConfig{
		Transcriber: a.transcriber,
		Output:      a.output,
		Store:       a.store,
		Normalizer:  normalizer,
		Language:    a.cfg.Transcription.Language,
		RunID:       a.runID,

		StoreRetries: a.cfg.Output.Retries,
	})
}

// openSource opens the configured stream, wrapped to reopen it on failure
// when stream.reconnect.attempts is set.
func (a *App) openSource(ctx context.Context) (source.Source, error) {
	open := func(ctx context.Context) (source.Source, error) {
		return a.reg.OpenSource(ctx, a.cfg.Stream)
	}
	rc := a.cfg.Stream.Reconnect
	if rc.Attempts <= 0 {
		return open(ctx)
	}
	src, err := source.NewReconnecting(ctx, open, source.ReconnectConfig{
		MaxRetries: rc.Attempts,
		Backoff:    rc.Backoff,
		MaxBackoff: rc.MaxBackoff,
		OnReconnect: func(attempt int) {
			slog.Info("stream reopened", "url", a.cfg.Stream.URL, "attempt", attempt)
		},
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}

// initTranscriber creates the primary transcriber and its fallbacks. With
// fallbacks configured, every backend sits behind its own circuit breaker.
func (a *App) initTranscriber() error {
	if a.transcriber != nil {
		return nil
	}
	params := a.cfg.Transcription.Params()
	create := func(entry config.ProviderEntry) (stt.Transcriber, error) {
		t, err := a.reg.CreateSTT(entry, params)
		if err != nil {
			return nil, fmt.Errorf("create stt %q: %w", entry.Name, err)
		}
		if c, ok := t.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
		return pipeline.InstrumentTranscriber(t, entry.Name, a.metrics), nil
	}

	primary, err := create(a.cfg.Providers.STT)
	if err != nil {
		return err
	}
	if len(a.cfg.Providers.STTFallbacks) == 0 {
		a.transcriber = primary
		return nil
	}

	a.fallback = resilience.NewTranscriberFallback(primary, a.cfg.Providers.STT.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("transcriber circuit breaker changed state", "provider", name, "from", from, "to", to)
			},
		},
	})
	for i, entry := range a.cfg.Providers.STTFallbacks {
		t, err := create(entry)
		if err != nil {
			return fmt.Errorf("stt_fallbacks[%d]: %w", i, err)
		}
		a.fallback.AddFallback(entry.Name, t)
	}
	a.transcriber = a.fallback
	return nil
}

// initStore connects the Postgres transcript store when a DSN is configured.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil || a.cfg.Storage.PostgresDSN == "" {
		return nil
	}
	store, err := postgres.NewStore(ctx, a.cfg.Storage.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect transcript store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initHTTP builds the handler serving /healthz, /readyz and /metrics, and
// the server when a listen address is configured.
func (a *App) initHTTP() {
	checkers := []health.Checker{health.Stream(a.runner.Status, streamStaleAfter)}
	if p, ok := a.store.(health.Pinger); ok {
		checkers = append(checkers, health.Database(p))
	}
	if a.fallback != nil {
		checkers = append(checkers, health.Transcribers(func() map[string]bool {
			open := make(map[string]bool)
			for name, st := range a.fallback.States() {
				open[name] = st == resilience.StateOpen
			}
			return open
		}))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.handler = observe.Middleware(a.metrics)(mux)

	if a.cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              a.cfg.Server.ListenAddr,
			Handler:           a.handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// RunID returns the identifier stored with every transcript of this run.
func (a *App) RunID() string { return a.runID }

// Handler returns the operational HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Stats returns the segmentation counters. Call it after Run returns.
func (a *App) Stats() segment.Stats { return a.runner.Stats() }

// Run segments the stream until it ends, fails or ctx is cancelled, serving
// the HTTP endpoints alongside. A clean end of stream returns nil; a
// cancelled ctx returns ctx.Err() after the last segment was flushed.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.runner.Run(gctx)
		if a.server != nil {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
			defer cancel()
			if serr := a.server.Shutdown(sctx); serr != nil {
				slog.Warn("http server shutdown", "error", serr)
			}
		}
		return err
	})

	if a.server != nil {
		g.Go(func() error {
			slog.Info("http server listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
