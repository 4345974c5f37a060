// This file contains the NativeTranscriber implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/vadscribe/pkg/audio"
	"github.com/MrWong99/vadscribe/pkg/provider/stt"
)

// Compile-time assertion that NativeTranscriber satisfies stt.Transcriber.
var _ stt.Transcriber = (*NativeTranscriber)(nil)

// modelSampleRate is the only rate whisper models accept.
const modelSampleRate = 16000

// NativeTranscriber implements stt.Transcriber using whisper.cpp Go bindings
// (CGO). The model is loaded once at startup and shared across calls; each
// call gets its own inference context.
type NativeTranscriber struct {
	model  whisperlib.Model
	params stt.Params

	// pool recycles float32 conversion buffers between calls.
	pool sync.Pool
}

// NativeOption is a functional option for configuring a NativeTranscriber.
type NativeOption func(*NativeTranscriber)

// WithNativeParams sets the decoding parameters. Defaults to
// stt.DefaultParams().
func WithNativeParams(p stt.Params) NativeOption {
	return func(n *NativeTranscriber) { n.params = p }
}

// NewNative creates a NativeTranscriber that loads the whisper.cpp model
// from the given file path. The caller must call Close when the transcriber
// is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeTranscriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	n := &NativeTranscriber{
		model:  model,
		params: stt.DefaultParams(),
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Close releases the whisper model.
func (n *NativeTranscriber) Close() error {
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}

// Transcribe implements stt.Transcriber. Audio at rates other than 16 kHz is
// resampled first. Pieces are delivered from inside whisper.cpp's segment
// callback as soon as each one is decoded.
func (n *NativeTranscriber) Transcribe(ctx context.Context, samples []int16, sampleRate int, onSegment func(stt.Segment)) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("whisper: %w", err)
	}
	if len(samples) == 0 {
		return nil
	}
	if sampleRate != modelSampleRate {
		samples = audio.ResampleMono(samples, sampleRate, modelSampleRate)
	}

	var buf []float32
	if b, ok := n.pool.Get().(*[]float32); ok {
		buf = *b
	}
	buf = audio.ToFloat32(samples, buf)
	defer n.pool.Put(&buf)

	// A context is not thread-safe, but the model can be shared.
	wctx, err := n.model.NewContext()
	if err != nil {
		return fmt.Errorf("whisper: create context: %w", err)
	}
	n.configure(wctx)

	cb := func(seg whisperlib.Segment) {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			return
		}
		onSegment(stt.Segment{Start: seg.Start, End: seg.End, Text: text})
	}
	if err := wctx.Process(buf, continueWhileLive(ctx), cb, nil); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("whisper: process audio: %w", ctxErr)
		}
		return fmt.Errorf("whisper: process audio: %w", err)
	}
	return nil
}

// continueWhileLive returns an encoder-begin callback that aborts inference
// at the next encoder pass once ctx is done.
func continueWhileLive(ctx context.Context) func() bool {
	return func() bool { return ctx.Err() == nil }
}

func (n *NativeTranscriber) configure(wctx whisperlib.Context) {
	p := n.params
	if p.Language != "" {
		if err := wctx.SetLanguage(p.Language); err != nil {
			slog.Warn("whisper: failed to set language, using default", "language", p.Language, "error", err)
		}
	}
	if p.Threads > 0 {
		wctx.SetThreads(uint(p.Threads))
	}
	wctx.SetTranslate(p.Translate)
	wctx.SetTokenTimestamps(p.TokenTimestamps)
	if p.MaxTextContext > 0 {
		wctx.SetMaxContext(p.MaxTextContext)
	}
}
