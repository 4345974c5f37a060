// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A transcriber wraps a batch transcription engine (a whisper.cpp model
// loaded in-process, a whisper.cpp HTTP server, or a cloud API) and turns
// one bounded speech segment into a sequence of timed text pieces. Pieces
// are delivered through a callback as the engine produces them, so callers
// can print or persist them without waiting for the whole segment.
//
// Implementations must be safe for concurrent use. The samples passed to
// Transcribe are only valid for the duration of the call.
package stt

import (
	"context"
	"time"
)

// Segment is one timed piece of transcribed text.
type Segment struct {
	// Start is the offset of the piece from the beginning of the transcribed
	// audio.
	Start time.Duration

	// End is the offset at which the piece ends.
	End time.Duration

	// Text is the transcribed content with surrounding whitespace trimmed.
	Text string
}

// Params holds the decoding parameters shared by all backends. Backends
// ignore fields they cannot honour.
type Params struct {
	// Language is the ISO 639-1 code of the spoken language (e.g. "en",
	// "zh"). "auto" or empty asks the backend to detect it.
	Language string

	// Threads is the number of CPU threads used for decoding. Zero keeps the
	// backend default.
	Threads int

	// Translate asks the backend to translate the speech to English.
	Translate bool

	// TokenTimestamps enables per-token timing, which sharpens segment
	// boundaries.
	TokenTimestamps bool

	// MaxTextContext bounds how many tokens of previous text condition the
	// decoder. Zero keeps the backend default.
	MaxTextContext int
}

// DefaultParams returns the decoding parameters used when none are
// configured.
func DefaultParams() Params {
	return Params{
		Language:        "en",
		Threads:         4,
		TokenTimestamps: true,
		MaxTextContext:  64,
	}
}

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe decodes mono 16-bit samples recorded at sampleRate and calls
	// onSegment once per transcribed piece, in order. onSegment is called on
	// the caller's goroutine or on a goroutine owned by the backend, but
	// never concurrently with itself and never after Transcribe returns.
	//
	// Returns an error if the backend cannot decode the audio or ctx is
	// cancelled.
	Transcribe(ctx context.Context, samples []int16, sampleRate int, onSegment func(Segment)) error
}

// Collect runs t and returns every piece it produced.
func Collect(ctx context.Context, t Transcriber, samples []int16, sampleRate int) ([]Segment, error) {
	var out []Segment
	err := t.Transcribe(ctx, samples, sampleRate, func(s Segment) {
		out = append(out, s)
	})
	return out, err
}
