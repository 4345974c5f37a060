package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vadscribe/internal/segment"
	"github.com/MrWong99/vadscribe/internal/transcript"
	"github.com/MrWong99/vadscribe/pkg/provider/stt"
)

// Line is one JSON-lines record printed per transcribed piece. Timestamps
// are centiseconds from the start of the segment; CurTS is the wall-clock
// time in Unix seconds.
type Line struct {
	Start int64   `json:"start_timestamp"`
	End   int64   `json:"end_timestamp"`
	CurTS float64 `json:"cur_ts"`
	Text  string  `json:"text"`
}

// TranscribeConfig configures a TranscriptionSink.
type TranscribeConfig struct {
	// Transcriber decodes each segment. Required.
	Transcriber stt.Transcriber

	// Output receives one JSON object per line per piece. Nil disables
	// printing.
	Output io.Writer

	// Store, if set, receives one entry per piece.
	Store transcript.Store

	// Normalizer converts stored text; printed text is never modified.
	Normalizer *transcript.ScriptNormalizer

	// Language is the spoken language, used to decide whether to normalize.
	Language string

	// RunID is stored with every entry.
	RunID string

	// StoreRetries is how many more times a failed store write is attempted
	// before the piece is reported as lost.
	StoreRetries int

	// StoreBackoff is the wait before the first store retry; it doubles on
	// every further attempt.
	StoreBackoff time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// TranscriptionSink transcribes segments, prints each piece as a JSON line
// and optionally persists it.
type TranscriptionSink struct {
	cfg TranscribeConfig

	mu  sync.Mutex // serialises writes to cfg.Output
	enc *json.Encoder
}

// NewTranscriptionSink validates cfg and returns the sink.
func NewTranscriptionSink(cfg TranscribeConfig) (*TranscriptionSink, error) {
	if cfg.Transcriber == nil {
		return nil, errors.New("sink: transcriber must not be nil")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &TranscriptionSink{cfg: cfg}
	if cfg.Output != nil {
		s.enc = json.NewEncoder(cfg.Output)
		s.enc.SetEscapeHTML(false)
	}
	return s, nil
}

// WriteSegment implements segment.Sink. Pieces are printed as they arrive.
// A failed print or store write does not stop transcription; those errors are
// returned joined in a [DeliveredError] once the segment is done, since the
// transcription itself must not be repeated.
func (s *TranscriptionSink) WriteSegment(ctx context.Context, seg segment.Segment) error {
	var errs []error
	pieces := 0
	err := s.cfg.Transcriber.Transcribe(ctx, seg.Samples, seg.SampleRate, func(p stt.Segment) {
		pieces++
		now := s.cfg.Now()
		if err := s.print(p, now); err != nil {
			errs = append(errs, err)
		}
		if s.cfg.Store == nil {
			return
		}
		if err := s.store(ctx, seg.Index, p, now); err != nil {
			errs = append(errs, err)
		}
	})
	if err != nil {
		return fmt.Errorf("sink: transcribe segment %d: %w", seg.Index, err)
	}
	slog.Debug("segment transcribed", "index", seg.Index, "pieces", pieces, "duration", seg.Duration)
	if len(errs) > 0 {
		return &DeliveredError{Err: errors.Join(errs...)}
	}
	return nil
}

func (s *TranscriptionSink) print(p stt.Segment, now time.Time) error {
	if s.enc == nil {
		return nil
	}
	line := Line{
		Start: centiseconds(p.Start),
		End:   centiseconds(p.End),
		CurTS: float64(now.UnixNano()) / float64(time.Second),
		Text:  p.Text,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(line); err != nil {
		return fmt.Errorf("sink: print transcript: %w", err)
	}
	return nil
}

func (s *TranscriptionSink) store(ctx context.Context, index int, p stt.Segment, now time.Time) error {
	content, err := s.cfg.Normalizer.Normalize(s.cfg.Language, p.Text)
	if err != nil {
		slog.Warn("script normalization failed, storing original text", "error", err)
	}
	entry := transcript.Entry{
		RunID:        s.cfg.RunID,
		Timestamp:    now,
		Content:      content,
		SegmentIndex: index,
		Start:        p.Start,
		End:          p.End,
	}
	err = retry(ctx, s.cfg.StoreRetries, s.cfg.StoreBackoff, func() error {
		return s.cfg.Store.WriteEntry(ctx, entry)
	}, "transcript store failed, retrying", "index", index)
	if err != nil {
		return fmt.Errorf("sink: store transcript: %w", err)
	}
	return nil
}

func centiseconds(d time.Duration) int64 {
	return int64(d / (10 * time.Millisecond))
}

var _ segment.Sink = (*TranscriptionSink)(nil)
