// Package pipeline drives one audio stream through the segmentation engine.
//
// A [Runner] pulls chunks from a source.Source one at a time, hands each to
// a segment.Engine and decides what a failure means for the run:
//
//   - io.EOF from the source finishes the engine and ends the run cleanly.
//   - Context cancellation still finishes the engine, on a detached context
//     bounded by the finish timeout, so the last segment is not lost. Run
//     then returns the context's error.
//   - Any other source failure is wrapped in *segment.SourceError.
//   - A *segment.SinkError aborts the run, or is logged and counted when
//     sink errors are skipped.
//   - Every other engine error (scorer failure, wrong chunk size) aborts.
//
// The scorer and sink are wrapped for metrics and tracing before the engine
// sees them, so the engine itself stays free of observability concerns.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vadscribe/internal/health"
	"github.com/MrWong99/vadscribe/internal/observe"
	"github.com/MrWong99/vadscribe/internal/segment"
	"github.com/MrWong99/vadscribe/pkg/audio/source"
	"github.com/MrWong99/vadscribe/pkg/provider/vad"
)

// DefaultFinishTimeout bounds the final flush after cancellation.
const DefaultFinishTimeout = 30 * time.Second

// Config describes one pipeline run.
type Config struct {
	// Segment holds the engine thresholds and stream framing.
	Segment segment.Config

	// SinkKind labels sink metrics and spans (e.g. "files", "transcribe").
	SinkKind string

	// SkipSinkErrors keeps the run going when the sink rejects a segment.
	SkipSinkErrors bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithMetrics sets the metrics instruments. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithFinishTimeout bounds the final flush performed after cancellation.
func WithFinishTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.finishTimeout = d
		}
	}
}

// Runner drives a single stream. Run may be called once.
type Runner struct {
	cfg           Config
	src           source.Source
	session       vad.SessionHandle
	engine        *segment.Engine
	metrics       *observe.Metrics
	log           *slog.Logger
	finishTimeout time.Duration

	mu        sync.Mutex
	running   bool
	lastChunk time.Time
	runErr    error
	skipped   int
}

// New opens a scoring session on scorer and builds the engine. The runner
// owns src and the session and closes both when Run returns.
func New(cfg Config, src source.Source, scorer vad.Engine, sink segment.Sink, opts ...Option) (*Runner, error) {
	if src == nil {
		return nil, &segment.ConfigurationError{Err: errors.New("source must not be nil")}
	}
	if scorer == nil {
		return nil, &segment.ConfigurationError{Err: errors.New("scorer must not be nil")}
	}
	if sink == nil {
		return nil, &segment.ConfigurationError{Err: errors.New("sink must not be nil")}
	}
	if cfg.SinkKind == "" {
		cfg.SinkKind = "sink"
	}
	r := &Runner{
		cfg:           cfg,
		src:           src,
		metrics:       observe.DefaultMetrics(),
		log:           slog.Default(),
		finishTimeout: DefaultFinishTimeout,
	}
	for _, o := range opts {
		o(r)
	}

	session, err := scorer.NewSession(vad.Config{
		SampleRate: cfg.Segment.SampleRate,
		ChunkSize:  cfg.Segment.ChunkSize,
	})
	if err != nil {
		return nil, &segment.ConfigurationError{Err: fmt.Errorf("open scorer session: %w", err)}
	}

	engine, err := segment.New(cfg.Segment,
		&timedScorer{next: session, threshold: cfg.Segment.ProbabilityThreshold, metrics: r.metrics},
		&instrumentedSink{next: sink, kind: cfg.SinkKind, metrics: r.metrics},
		segment.WithLogger(r.log),
	)
	if err != nil {
		session.Close()
		return nil, err
	}
	r.session = session
	r.engine = engine
	return r, nil
}

// Run processes the stream until it ends, fails or ctx is cancelled. A
// clean end of stream returns nil.
func (r *Runner) Run(ctx context.Context) (retErr error) {
	r.metrics.ActiveStreams.Add(ctx, 1)
	r.setRunning(true)
	defer func() {
		r.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)
		if cerr := r.close(); cerr != nil {
			r.log.Warn("pipeline: close", "error", cerr)
		}
		r.mu.Lock()
		r.running = false
		r.runErr = retErr
		r.mu.Unlock()
	}()

	for {
		chunk, err := r.src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return r.finish(ctx)
			case ctx.Err() != nil:
				return errors.Join(ctx.Err(), r.finishDetached(ctx))
			default:
				return errors.Join(&segment.SourceError{Err: err}, r.finishDetached(ctx))
			}
		}

		if err := r.engine.Process(ctx, chunk); err != nil {
			if !r.handle(err) {
				return err
			}
		}
		r.touch()
	}
}

// Stats returns the engine counters. It must not be called concurrently
// with Run.
func (r *Runner) Stats() segment.Stats { return r.engine.Stats() }

// Skipped returns how many segments were dropped because the sink failed
// and sink errors are skipped.
func (r *Runner) Skipped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped
}

// Status reports the runner for readiness checks. Safe for concurrent use.
func (r *Runner) Status() health.StreamStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return health.StreamStatus{Running: r.running, LastChunk: r.lastChunk, Err: r.runErr}
}

// handle reports whether the run may continue after err.
func (r *Runner) handle(err error) bool {
	var sinkErr *segment.SinkError
	if !r.cfg.SkipSinkErrors || !errors.As(err, &sinkErr) {
		return false
	}
	r.mu.Lock()
	r.skipped++
	r.mu.Unlock()
	r.log.Warn("pipeline: segment dropped", "segment", sinkErr.Segment, "error", sinkErr.Err)
	return true
}

func (r *Runner) finish(ctx context.Context) error {
	err := r.engine.Finish(ctx)
	if err != nil && r.handle(err) {
		err = nil
	}
	st := r.engine.Stats()
	r.log.Info("pipeline: stream finished",
		"chunks", st.Chunks,
		"speech_chunks", st.SpeechChunks,
		"segments", st.Segments,
		"sink_errors", st.SinkErrors,
	)
	return err
}

// finishDetached flushes the open segment after the run context is done.
func (r *Runner) finishDetached(ctx context.Context) error {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.finishTimeout)
	defer cancel()
	return r.finish(fctx)
}

func (r *Runner) close() error {
	return errors.Join(r.src.Close(), r.session.Close())
}

func (r *Runner) setRunning(v bool) {
	r.mu.Lock()
	r.running = v
	r.lastChunk = time.Now()
	r.mu.Unlock()
}

func (r *Runner) touch() {
	r.mu.Lock()
	r.lastChunk = time.Now()
	r.mu.Unlock()
}
