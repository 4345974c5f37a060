// Package segment implements the speech segmentation state machine.
//
// An Engine consumes fixed-size chunks of mono int16 audio in arrival order,
// asks a speech scorer for a per-chunk speech probability and groups
// consecutive speech chunks into bounded segments that it hands to a Sink.
//
// The machine has two states. In NoSpeech the engine remembers only the most
// recent non-speech chunk (the lookback chunk) so that speech onsets are not
// clipped. When a chunk scores above the threshold the lookback and the chunk
// start a new segment and the engine moves to HasSpeech. In HasSpeech every
// chunk is appended; the first non-speech chunk is appended as a trailing
// tail and the segment is flushed, unless the segment is still shorter than
// the minimum speech duration, in which case the chunk is treated as speech.
// An optional maximum segment duration forces a cut whenever appending the
// next chunk would cross a multiple of that duration.
//
// An Engine is driven from a single goroutine. Scorer and sink calls run
// synchronously inside Process, so the next chunk is not requested until the
// previous one has been fully handled.
package segment

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/MrWong99/vadscribe/pkg/audio"
	"github.com/MrWong99/vadscribe/pkg/provider/vad"
)

// State is the engine's speech state.
type State int

const (
	// NoSpeech means no segment is open.
	NoSpeech State = iota
	// HasSpeech means a segment is open and accumulating chunks.
	HasSpeech
)

func (s State) String() string {
	switch s {
	case NoSpeech:
		return "no_speech"
	case HasSpeech:
		return "has_speech"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Reason tells why a segment was cut.
type Reason int

const (
	// ReasonSilence means a non-speech chunk ended the segment.
	ReasonSilence Reason = iota
	// ReasonMaxDuration means the maximum segment duration forced a cut.
	ReasonMaxDuration
	// ReasonEndOfStream means Finish flushed the remaining buffer.
	ReasonEndOfStream
)

func (r Reason) String() string {
	switch r {
	case ReasonSilence:
		return "silence"
	case ReasonMaxDuration:
		return "max_duration"
	case ReasonEndOfStream:
		return "end_of_stream"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Segment is a finalized run of speech.
type Segment struct {
	// Index is the 1-based position of the segment in the stream.
	Index int

	// Samples holds the segment audio in order. It aliases engine storage
	// and is only valid for the duration of Sink.WriteSegment.
	Samples []int16

	// SampleRate is the sample rate of Samples in Hz.
	SampleRate int

	// Offset is the stream position of the first sample.
	Offset time.Duration

	// Duration is the playback length of Samples.
	Duration time.Duration

	// Reason tells why the segment was cut.
	Reason Reason
}

// Sink consumes finalized segments. WriteSegment is called synchronously,
// once per segment, and must copy or fully consume seg.Samples before it
// returns.
type Sink interface {
	WriteSegment(ctx context.Context, seg Segment) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, seg Segment) error

// WriteSegment implements Sink.
func (f SinkFunc) WriteSegment(ctx context.Context, seg Segment) error { return f(ctx, seg) }

// Stats is a snapshot of engine counters.
type Stats struct {
	// Chunks is the number of chunks accepted by Process.
	Chunks int64
	// SpeechChunks is the number of chunks whose score exceeded the
	// threshold.
	SpeechChunks int64
	// Segments is the number of segments handed to the sink.
	Segments int
	// SinkErrors is the number of segments the sink rejected.
	SinkErrors int
	// EmittedSamples is the total sample count of all segments.
	EmittedSamples int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for per-chunk debug output. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// Engine is the segmentation state machine for one stream.
type Engine struct {
	cfg    Config
	scorer vad.SessionHandle
	sink   Sink
	log    *slog.Logger

	state  State
	buf    []int16
	bufPos int64 // stream sample position of buf[0]

	lookback    []int16
	lookbackPos int64
	hasLookback bool

	pos      int64 // samples consumed so far
	finished bool
	stats    Stats
}

// New returns an engine in the NoSpeech state with an empty buffer. It
// returns a *ConfigurationError if cfg is invalid or a collaborator is nil.
func New(cfg Config, scorer vad.SessionHandle, sink Sink, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if scorer == nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("scorer must not be nil")}
	}
	if sink == nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("sink must not be nil")}
	}
	e := &Engine{
		cfg:      cfg,
		scorer:   scorer,
		sink:     sink,
		log:      slog.Default(),
		lookback: make([]int16, 0, cfg.ChunkSize),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Process scores chunk and advances the state machine, flushing a segment to
// the sink when one completes. chunk is not retained after Process returns.
//
// Errors are *ConfigurationError for a chunk of the wrong length,
// *ScorerError when scoring fails, *SinkError when the sink rejects a
// segment (the buffer is released regardless) and ErrFinished after Finish.
func (e *Engine) Process(ctx context.Context, chunk []int16) error {
	if e.finished {
		return ErrFinished
	}
	if len(chunk) != e.cfg.ChunkSize {
		return &ConfigurationError{Err: fmt.Errorf("chunk has %d samples, want %d", len(chunk), e.cfg.ChunkSize)}
	}

	idx := e.stats.Chunks
	pos := e.pos
	e.stats.Chunks++
	e.pos += int64(len(chunk))

	p, err := e.scorer.Score(chunk)
	if err != nil {
		return &ScorerError{Chunk: idx, Err: err}
	}
	hasSpeech := p > e.cfg.ProbabilityThreshold
	if hasSpeech {
		e.stats.SpeechChunks++
	}

	if e.crossesMax(len(chunk)) {
		e.log.Debug("segment: max duration reached", "chunk", idx, "probability", p, "buffered_seconds", e.bufferedSeconds())
		e.appendLookback()
		e.appendChunk(chunk, pos)
		e.state = NoSpeech
		return e.flush(ctx, ReasonMaxDuration)
	}

	var flushErr error
	switch e.state {
	case NoSpeech:
		if hasSpeech {
			e.appendLookback()
			e.appendChunk(chunk, pos)
		} else {
			e.setLookback(chunk, pos)
		}
	case HasSpeech:
		if !hasSpeech && e.bufferedSeconds() < e.cfg.MinSpeechSeconds {
			hasSpeech = true
		}
		e.appendChunk(chunk, pos)
		if !hasSpeech {
			flushErr = e.flush(ctx, ReasonSilence)
			// The trailing tail is also the pre-roll of the next segment.
			e.setLookback(chunk, pos)
		}
	}

	prev := e.state
	if hasSpeech {
		e.state = HasSpeech
	} else {
		e.state = NoSpeech
	}
	e.log.Debug("segment: chunk",
		"chunk", idx,
		"probability", p,
		"from", prev,
		"to", e.state,
		"buffered_seconds", e.bufferedSeconds(),
	)
	return flushErr
}

// Finish flushes a non-empty buffer as a final segment and marks the engine
// finished. Subsequent Process calls return ErrFinished; subsequent Finish
// calls are no-ops.
func (e *Engine) Finish(ctx context.Context) error {
	if e.finished {
		return nil
	}
	e.finished = true
	e.hasLookback = false
	e.lookback = e.lookback[:0]
	e.state = NoSpeech
	if len(e.buf) == 0 {
		return nil
	}
	return e.flush(ctx, ReasonEndOfStream)
}

// State returns the current speech state.
func (e *Engine) State() State { return e.state }

// Buffered returns the number of samples in the open segment.
func (e *Engine) Buffered() int { return len(e.buf) }

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats { return e.stats }

// Finished reports whether Finish has been called.
func (e *Engine) Finished() bool { return e.finished }

// crossesMax reports whether appending n samples to a non-empty buffer
// crosses a multiple of the maximum segment duration.
func (e *Engine) crossesMax(n int) bool {
	if e.cfg.MaxSegmentSeconds <= 0 || len(e.buf) == 0 {
		return false
	}
	before := math.Floor(audio.Seconds(len(e.buf), e.cfg.SampleRate) / e.cfg.MaxSegmentSeconds)
	after := math.Floor(audio.Seconds(len(e.buf)+n, e.cfg.SampleRate) / e.cfg.MaxSegmentSeconds)
	return after > before
}

func (e *Engine) bufferedSeconds() float64 {
	return audio.Seconds(len(e.buf), e.cfg.SampleRate)
}

func (e *Engine) appendLookback() {
	if !e.hasLookback {
		return
	}
	e.appendChunk(e.lookback, e.lookbackPos)
	e.lookback = e.lookback[:0]
	e.hasLookback = false
}

func (e *Engine) setLookback(chunk []int16, pos int64) {
	e.lookback = append(e.lookback[:0], chunk...)
	e.lookbackPos = pos
	e.hasLookback = true
}

func (e *Engine) appendChunk(chunk []int16, pos int64) {
	if len(e.buf) == 0 {
		e.bufPos = pos
	}
	e.buf = append(e.buf, chunk...)
}

// flush hands the buffer to the sink and clears it whether or not the sink
// succeeds.
func (e *Engine) flush(ctx context.Context, reason Reason) error {
	e.stats.Segments++
	seg := Segment{
		Index:      e.stats.Segments,
		Samples:    e.buf,
		SampleRate: e.cfg.SampleRate,
		Offset:     audio.Duration(int(e.bufPos), e.cfg.SampleRate),
		Duration:   audio.Duration(len(e.buf), e.cfg.SampleRate),
		Reason:     reason,
	}
	e.stats.EmittedSamples += int64(len(e.buf))

	e.log.Debug("segment: flush",
		"index", seg.Index,
		"reason", reason,
		"offset", seg.Offset,
		"duration", seg.Duration,
	)
	err := e.sink.WriteSegment(ctx, seg)
	e.buf = e.buf[:0]
	if err != nil {
		e.stats.SinkErrors++
		return &SinkError{Segment: seg.Index, Err: err}
	}
	return nil
}
