package resilience

import (
	"context"

	"github.com/MrWong99/vadscribe/pkg/provider/stt"
)

// TranscriberFallback implements [stt.Transcriber] with automatic failover
// across multiple backends. Each backend has its own circuit breaker.
//
// Pieces from an attempt are held back until that attempt succeeds, so a
// backend that fails halfway never delivers a partial transcript followed by
// the fallback's full one.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional backend.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// States returns the breaker state of every backend keyed by name.
func (f *TranscriberFallback) States() map[string]State {
	return f.group.States()
}

// Transcribe runs the first healthy backend and delivers its pieces once it
// succeeds.
func (f *TranscriberFallback) Transcribe(ctx context.Context, samples []int16, sampleRate int, onSegment func(stt.Segment)) error {
	segs, err := ExecuteWithResult(f.group, func(t stt.Transcriber) ([]stt.Segment, error) {
		return stt.Collect(ctx, t, samples, sampleRate)
	})
	if err != nil {
		return err
	}
	for _, s := range segs {
		onSegment(s)
	}
	return nil
}
