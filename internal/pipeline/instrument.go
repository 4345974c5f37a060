package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/vadscribe/internal/observe"
	"github.com/MrWong99/vadscribe/internal/segment"
	"github.com/MrWong99/vadscribe/pkg/provider/stt"
	"github.com/MrWong99/vadscribe/pkg/provider/vad"
)

// timedScorer records scoring latency and the per-chunk speech decision.
type timedScorer struct {
	next      vad.SessionHandle
	threshold float64
	metrics   *observe.Metrics
}

func (s *timedScorer) Score(chunk []int16) (float64, error) {
	ctx := context.Background()
	start := time.Now()
	p, err := s.next.Score(chunk)
	s.metrics.ScorerDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return p, err
	}
	s.metrics.RecordChunk(ctx, p > s.threshold)
	return p, nil
}

func (s *timedScorer) Reset()       { s.next.Reset() }
func (s *timedScorer) Close() error { return s.next.Close() }

// instrumentedSink wraps every delivery in a span and records segment and
// delivery metrics.
type instrumentedSink struct {
	next    segment.Sink
	kind    string
	metrics *observe.Metrics
}

func (s *instrumentedSink) WriteSegment(ctx context.Context, seg segment.Segment) error {
	seconds := seg.Duration.Seconds()
	ctx, span := observe.StartSegmentSpan(ctx, s.kind, seg.Index, seg.Reason.String(), seconds)
	defer span.End()

	s.metrics.RecordSegment(ctx, seg.Reason.String(), seconds)
	start := time.Now()
	err := s.next.WriteSegment(ctx, seg)
	s.metrics.SinkDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(observe.Attr("kind", s.kind)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordSinkError(ctx, s.kind)
	}
	return err
}

// InstrumentTranscriber wraps t so that every call records transcription
// latency and provider request and error counters under name.
func InstrumentTranscriber(t stt.Transcriber, name string, m *observe.Metrics) stt.Transcriber {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &instrumentedTranscriber{next: t, name: name, metrics: m}
}

type instrumentedTranscriber struct {
	next    stt.Transcriber
	name    string
	metrics *observe.Metrics
}

func (t *instrumentedTranscriber) Transcribe(ctx context.Context, samples []int16, sampleRate int, onSegment func(stt.Segment)) error {
	start := time.Now()
	err := t.next.Transcribe(ctx, samples, sampleRate, onSegment)
	t.metrics.STTDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(observe.Attr("provider", t.name)))
	status := "ok"
	if err != nil {
		status = "error"
		t.metrics.RecordProviderError(ctx, t.name, "stt")
	}
	t.metrics.RecordProviderRequest(ctx, t.name, "stt", status)
	return err
}

var (
	_ vad.SessionHandle = (*timedScorer)(nil)
	_ segment.Sink      = (*instrumentedSink)(nil)
	_ stt.Transcriber   = (*instrumentedTranscriber)(nil)
)
