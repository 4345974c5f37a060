package segment_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/vadscribe/internal/segment"
	vadmock "github.com/MrWong99/vadscribe/pkg/provider/vad/mock"
)

// Tests use a 10 Hz stream with 5-sample chunks so every chunk lasts exactly
// half a second and chunk n is filled with the value n.
const (
	testRate  = 10
	testChunk = 5
)

func testConfig() segment.Config {
	return segment.Config{
		ProbabilityThreshold: 0.5,
		SampleRate:           testRate,
		ChunkSize:            testChunk,
	}
}

func chunkOf(n int) []int16 {
	c := make([]int16, testChunk)
	for i := range c {
		c[i] = int16(n)
	}
	return c
}

// concat returns the samples of chunks ns in order.
func concat(ns ...int) []int16 {
	var out []int16
	for _, n := range ns {
		out = append(out, chunkOf(n)...)
	}
	return out
}

type recordingSink struct {
	segments []segment.Segment
	err      error
}

func (r *recordingSink) WriteSegment(_ context.Context, seg segment.Segment) error {
	seg.Samples = slices.Clone(seg.Samples)
	r.segments = append(r.segments, seg)
	return r.err
}

// run feeds chunks 1..len(probs) with the given scores, then finishes.
func run(t *testing.T, cfg segment.Config, probs []float64) (*segment.Engine, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	eng, err := segment.New(cfg, &vadmock.Session{Probabilities: probs}, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	for i := range probs {
		if err := eng.Process(ctx, chunkOf(i+1)); err != nil {
			t.Fatalf("Process chunk %d: %v", i+1, err)
		}
	}
	if err := eng.Finish(ctx); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return eng, sink
}

func assertSamples(t *testing.T, seg segment.Segment, want []int16) {
	t.Helper()
	if !slices.Equal(seg.Samples, want) {
		t.Fatalf("segment %d samples = %v, want %v", seg.Index, seg.Samples, want)
	}
}

func TestProcess_AllSilenceEmitsNothing(t *testing.T) {
	eng, sink := run(t, testConfig(), []float64{0.1, 0.2, 0.5, 0.0, 0.3})
	if len(sink.segments) != 0 {
		t.Fatalf("got %d segments, want 0", len(sink.segments))
	}
	if eng.State() != segment.NoSpeech {
		t.Errorf("state = %v, want no_speech", eng.State())
	}
}

func TestProcess_ThresholdIsStrict(t *testing.T) {
	_, sink := run(t, testConfig(), []float64{0.5, 0.5})
	if len(sink.segments) != 0 {
		t.Fatalf("probability equal to threshold produced %d segments", len(sink.segments))
	}
}

func TestProcess_PreRollAndTrailingTail(t *testing.T) {
	_, sink := run(t, testConfig(), []float64{0.1, 0.9, 0.9, 0.1})
	if len(sink.segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(sink.segments))
	}
	seg := sink.segments[0]
	assertSamples(t, seg, concat(1, 2, 3, 4))
	if seg.Reason != segment.ReasonSilence {
		t.Errorf("reason = %v, want silence", seg.Reason)
	}
	if seg.Index != 1 || seg.Offset != 0 || seg.Duration != 2*time.Second {
		t.Errorf("metadata = index %d offset %v duration %v, want 1 0s 2s", seg.Index, seg.Offset, seg.Duration)
	}
}

func TestProcess_LookbackIsOnlyMostRecentChunk(t *testing.T) {
	_, sink := run(t, testConfig(), []float64{0.1, 0.1, 0.1, 0.9, 0.1})
	if len(sink.segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(sink.segments))
	}
	seg := sink.segments[0]
	assertSamples(t, seg, concat(3, 4, 5))
	if seg.Offset != time.Second {
		t.Errorf("offset = %v, want 1s", seg.Offset)
	}
}

func TestProcess_TrailingTailBecomesNextPreRoll(t *testing.T) {
	_, sink := run(t, testConfig(), []float64{0.9, 0.1, 0.9, 0.1})
	if len(sink.segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(sink.segments))
	}
	assertSamples(t, sink.segments[0], concat(1, 2))
	assertSamples(t, sink.segments[1], concat(2, 3, 4))
	if sink.segments[1].Offset != 500*time.Millisecond {
		t.Errorf("second segment offset = %v, want 500ms", sink.segments[1].Offset)
	}
}

func TestProcess_SpeechAtStreamStartHasNoPreRoll(t *testing.T) {
	_, sink := run(t, testConfig(), []float64{0.9, 0.1})
	if len(sink.segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(sink.segments))
	}
	assertSamples(t, sink.segments[0], concat(1, 2))
}

func TestProcess_LookbackIsCopied(t *testing.T) {
	sink := &recordingSink{}
	eng, err := segment.New(testConfig(), &vadmock.Session{Probabilities: []float64{0.1, 0.9, 0.1}}, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Sources reuse one buffer for every chunk.
	shared := make([]int16, testChunk)
	for n := 1; n <= 3; n++ {
		copy(shared, chunkOf(n))
		if err := eng.Process(context.Background(), shared); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if len(sink.segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(sink.segments))
	}
	assertSamples(t, sink.segments[0], concat(1, 2, 3))
}

func TestProcess_MinSpeechOverride(t *testing.T) {
	cfg := testConfig()
	cfg.MinSpeechSeconds = 1.5
	eng, sink := run(t, cfg, []float64{0.9, 0.1, 0.1, 0.1, 0.1})
	if len(sink.segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(sink.segments))
	}
	// Chunks 2 and 3 are forced to speech while the buffer is under 1.5s;
	// chunk 4 is the trailing tail and chunk 5 becomes lookback.
	assertSamples(t, sink.segments[0], concat(1, 2, 3, 4))
	if eng.State() != segment.NoSpeech {
		t.Errorf("state = %v, want no_speech", eng.State())
	}
}

func TestProcess_MinSpeechKeepsSegmentOpenAcrossGap(t *testing.T) {
	cfg := testConfig()
	cfg.MinSpeechSeconds = 1.0
	_, sink := run(t, cfg, []float64{0.9, 0.1, 0.9, 0.9, 0.1})
	if len(sink.segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(sink.segments))
	}
	assertSamples(t, sink.segments[0], concat(1, 2, 3, 4, 5))
}

func TestProcess_MaxDurationForcedCut(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSegmentSeconds = 1.0
	_, sink := run(t, cfg, []float64{0.9, 0.9, 0.9, 0.9, 0.9})

	want := [][]int16{concat(1, 2), concat(3, 4), concat(5)}
	reasons := []segment.Reason{segment.ReasonMaxDuration, segment.ReasonMaxDuration, segment.ReasonEndOfStream}
	if len(sink.segments) != len(want) {
		t.Fatalf("got %d segments, want %d", len(sink.segments), len(want))
	}
	for i, seg := range sink.segments {
		assertSamples(t, seg, want[i])
		if seg.Reason != reasons[i] {
			t.Errorf("segment %d reason = %v, want %v", seg.Index, seg.Reason, reasons[i])
		}
		if seg.Duration > time.Second {
			t.Errorf("segment %d duration %v exceeds max", seg.Index, seg.Duration)
		}
	}
}

func TestProcess_MaxDurationCutsAtFirstCrossingChunk(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSegmentSeconds = 1.2
	_, sink := run(t, cfg, []float64{0.9, 0.9, 0.9, 0.9, 0.9, 0.9})

	// 1.2s falls inside chunk 3, so the cut happens once that chunk is
	// appended and segments run 1.5s.
	want := [][]int16{concat(1, 2, 3), concat(4, 5, 6)}
	if len(sink.segments) != len(want) {
		t.Fatalf("got %d segments, want %d", len(sink.segments), len(want))
	}
	for i, seg := range sink.segments {
		assertSamples(t, seg, want[i])
		if seg.Reason != segment.ReasonMaxDuration {
			t.Errorf("segment %d reason = %v, want max_duration", seg.Index, seg.Reason)
		}
		if seg.Duration != 1500*time.Millisecond {
			t.Errorf("segment %d duration = %v, want 1.5s", seg.Index, seg.Duration)
		}
	}
}

func TestProcess_MaxDurationResetsToNoSpeech(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSegmentSeconds = 1.0
	sink := &recordingSink{}
	eng, err := segment.New(cfg, &vadmock.Session{Probabilities: []float64{0.9, 0.9, 0.1}}, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	for n := 1; n <= 2; n++ {
		if err := eng.Process(ctx, chunkOf(n)); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if eng.State() != segment.NoSpeech || eng.Buffered() != 0 {
		t.Fatalf("after cut: state %v buffered %d, want no_speech 0", eng.State(), eng.Buffered())
	}
	// A silent chunk after a cut becomes lookback, not a trailing tail.
	if err := eng.Process(ctx, chunkOf(3)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(sink.segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(sink.segments))
	}
}

func TestProcess_MaxDurationDisabledByDefault(t *testing.T) {
	probs := make([]float64, 40)
	for i := range probs {
		probs[i] = 0.9
	}
	_, sink := run(t, testConfig(), probs)
	if len(sink.segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(sink.segments))
	}
	if sink.segments[0].Duration != 20*time.Second {
		t.Errorf("duration = %v, want 20s", sink.segments[0].Duration)
	}
}

func TestFinish_FlushesOpenSegment(t *testing.T) {
	eng, sink := run(t, testConfig(), []float64{0.1, 0.9, 0.9})
	if len(sink.segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(sink.segments))
	}
	seg := sink.segments[0]
	assertSamples(t, seg, concat(1, 2, 3))
	if seg.Reason != segment.ReasonEndOfStream {
		t.Errorf("reason = %v, want end_of_stream", seg.Reason)
	}
	if !eng.Finished() {
		t.Error("Finished() = false after Finish")
	}
}

func TestFinish_DiscardsLookback(t *testing.T) {
	_, sink := run(t, testConfig(), []float64{0.9, 0.1, 0.1})
	if len(sink.segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(sink.segments))
	}
	assertSamples(t, sink.segments[0], concat(1, 2))
}

func TestFinish_ThenProcess(t *testing.T) {
	eng, sink := run(t, testConfig(), []float64{0.9})
	if err := eng.Finish(context.Background()); err != nil {
		t.Fatalf("second Finish: %v", err)
	}
	if len(sink.segments) != 1 {
		t.Fatalf("second Finish emitted again: %d segments", len(sink.segments))
	}
	if err := eng.Process(context.Background(), chunkOf(9)); !errors.Is(err, segment.ErrFinished) {
		t.Fatalf("Process after Finish = %v, want ErrFinished", err)
	}
}

func TestProcess_BufferReusedWithoutLeakage(t *testing.T) {
	var addrs []*int16
	sink := segment.SinkFunc(func(_ context.Context, seg segment.Segment) error {
		addrs = append(addrs, &seg.Samples[0])
		return nil
	})
	rec := &recordingSink{}
	both := segment.SinkFunc(func(ctx context.Context, seg segment.Segment) error {
		_ = sink(ctx, seg)
		return rec.WriteSegment(ctx, seg)
	})
	eng, err := segment.New(testConfig(), &vadmock.Session{Probabilities: []float64{0.9, 0.9, 0.1, 0.9, 0.1}}, both)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	for n := 1; n <= 3; n++ {
		if err := eng.Process(ctx, chunkOf(n)); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if eng.Buffered() != 0 {
		t.Fatalf("buffered after flush = %d, want 0", eng.Buffered())
	}
	for n := 4; n <= 5; n++ {
		if err := eng.Process(ctx, chunkOf(n)); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if len(rec.segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(rec.segments))
	}
	assertSamples(t, rec.segments[0], concat(1, 2, 3))
	assertSamples(t, rec.segments[1], concat(3, 4, 5))
	if addrs[0] != addrs[1] {
		t.Error("segment storage was reallocated instead of reused")
	}
}

func TestProcess_SegmentsInOrder(t *testing.T) {
	_, sink := run(t, testConfig(), []float64{0.9, 0.1, 0.1, 0.9, 0.1, 0.1, 0.9, 0.9})
	if len(sink.segments) != 3 {
		t.Fatalf("got %d segments, want 3", len(sink.segments))
	}
	for i, seg := range sink.segments {
		if seg.Index != i+1 {
			t.Errorf("segment %d has index %d", i, seg.Index)
		}
		if i > 0 && seg.Offset <= sink.segments[i-1].Offset {
			t.Errorf("segment %d offset %v not after %v", seg.Index, seg.Offset, sink.segments[i-1].Offset)
		}
	}
	assertSamples(t, sink.segments[1], concat(3, 4, 5))
	if sink.segments[1].Offset != time.Second {
		t.Errorf("second segment offset = %v, want 1s", sink.segments[1].Offset)
	}
}

func TestProcess_WrongChunkLength(t *testing.T) {
	eng, err := segment.New(testConfig(), &vadmock.Session{}, &recordingSink{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = eng.Process(context.Background(), make([]int16, testChunk+1))
	var cfgErr *segment.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want *ConfigurationError", err)
	}
	if eng.Stats().Chunks != 0 {
		t.Error("rejected chunk was counted")
	}
}

func TestProcess_ScorerError(t *testing.T) {
	boom := errors.New("model exploded")
	eng, err := segment.New(testConfig(), &vadmock.Session{ScoreErr: boom, ErrAt: 2}, &recordingSink{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	for n := 1; n <= 2; n++ {
		if err := eng.Process(ctx, chunkOf(n)); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	err = eng.Process(ctx, chunkOf(3))
	var scoreErr *segment.ScorerError
	if !errors.As(err, &scoreErr) {
		t.Fatalf("err = %v, want *ScorerError", err)
	}
	if scoreErr.Chunk != 2 || !errors.Is(err, boom) {
		t.Errorf("ScorerError = %+v, want chunk 2 wrapping boom", scoreErr)
	}
}

func TestProcess_SinkErrorReleasesBuffer(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	eng, err := segment.New(testConfig(), &vadmock.Session{Probabilities: []float64{0.9, 0.1, 0.9, 0.1}}, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := eng.Process(ctx, chunkOf(1)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	err = eng.Process(ctx, chunkOf(2))
	var sinkErr *segment.SinkError
	if !errors.As(err, &sinkErr) || sinkErr.Segment != 1 {
		t.Fatalf("err = %v, want *SinkError for segment 1", err)
	}
	if eng.Buffered() != 0 || eng.State() != segment.NoSpeech {
		t.Fatalf("after sink error: buffered %d state %v", eng.Buffered(), eng.State())
	}

	sink.err = nil
	for n := 3; n <= 4; n++ {
		if err := eng.Process(ctx, chunkOf(n)); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if len(sink.segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(sink.segments))
	}
	// The tail of the failed segment still serves as pre-roll.
	assertSamples(t, sink.segments[1], concat(2, 3, 4))
	if st := eng.Stats(); st.Segments != 2 || st.SinkErrors != 1 {
		t.Errorf("stats = %+v, want 2 segments 1 sink error", st)
	}
}

func TestStats(t *testing.T) {
	eng, _ := run(t, testConfig(), []float64{0.1, 0.9, 0.9, 0.1, 0.1})
	st := eng.Stats()
	if st.Chunks != 5 || st.SpeechChunks != 2 || st.Segments != 1 || st.EmittedSamples != 4*testChunk {
		t.Errorf("stats = %+v", st)
	}
}

func TestNew_RejectsNilCollaborators(t *testing.T) {
	var cfgErr *segment.ConfigurationError
	if _, err := segment.New(testConfig(), nil, &recordingSink{}); !errors.As(err, &cfgErr) {
		t.Errorf("nil scorer: err = %v, want *ConfigurationError", err)
	}
	if _, err := segment.New(testConfig(), &vadmock.Session{}, nil); !errors.As(err, &cfgErr) {
		t.Errorf("nil sink: err = %v, want *ConfigurationError", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*segment.Config)
		wantErr bool
	}{
		{"default", func(*segment.Config) {}, false},
		{"threshold above one", func(c *segment.Config) { c.ProbabilityThreshold = 1.1 }, true},
		{"negative threshold", func(c *segment.Config) { c.ProbabilityThreshold = -0.1 }, true},
		{"negative min speech", func(c *segment.Config) { c.MinSpeechSeconds = -1 }, true},
		{"negative max", func(c *segment.Config) { c.MaxSegmentSeconds = -1 }, true},
		{"max shorter than chunk", func(c *segment.Config) { c.MaxSegmentSeconds = 0.01 }, true},
		{"max ten seconds", func(c *segment.Config) { c.MaxSegmentSeconds = 10 }, false},
		{"zero rate", func(c *segment.Config) { c.SampleRate = 0 }, true},
		{"zero chunk", func(c *segment.Config) { c.ChunkSize = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := segment.DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var cfgErr *segment.ConfigurationError
				if !errors.As(err, &cfgErr) {
					t.Errorf("err type = %T, want *ConfigurationError", err)
				}
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := segment.DefaultConfig()
	if cfg.ProbabilityThreshold != 0.5 || cfg.MinSpeechSeconds != 3 || cfg.MaxSegmentSeconds != 0 {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
	if cfg.ChunkDuration() != 64*time.Millisecond {
		t.Errorf("ChunkDuration() = %v, want 64ms", cfg.ChunkDuration())
	}
}
