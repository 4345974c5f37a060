// Package vad defines the Engine interface for speech scorers.
//
// A speech scorer wraps a chunk-level speech detector (an energy model, an
// ONNX Silero model, or anything else) and surfaces it as a stateful,
// per-stream session that maps each fixed-size chunk to a speech
// probability in [0, 1]. Each session keeps its own internal state
// (smoothing history, recurrent model state) so that multiple streams can be
// scored independently.
//
// Scoring is synchronous: Score returns as soon as the chunk has been
// evaluated. The caller decides what a probability means; thresholds live in
// the segmentation engine, not here.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrUnsupportedSampleRate is returned for sample rates other than 8000
	// and 16000 Hz.
	ErrUnsupportedSampleRate = errors.New("vad: unsupported sample rate")

	// ErrUnsupportedChunkSize is returned when the chunk size is not one the
	// scorer was trained on for the configured sample rate.
	ErrUnsupportedChunkSize = errors.New("vad: unsupported chunk size")
)

// trainedChunkSizes lists the window sizes, in samples, that speech models
// are trained on per sample rate.
var trainedChunkSizes = map[int][]int{
	8000:  {256, 512, 768},
	16000: {512, 768, 1024},
}

// SupportedChunkSizes returns the chunk sizes accepted at sampleRate, or nil
// if the rate itself is unsupported.
func SupportedChunkSizes(sampleRate int) []int {
	return slices.Clone(trainedChunkSizes[sampleRate])
}

// Config holds the parameters for a scoring session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Only 8000 and 16000 are
	// supported.
	SampleRate int

	// ChunkSize is the number of samples in every chunk passed to Score. It
	// must be one of SupportedChunkSizes(SampleRate).
	ChunkSize int
}

// Validate reports whether cfg describes a window the scorer can evaluate.
// The returned error wraps ErrUnsupportedSampleRate or
// ErrUnsupportedChunkSize.
func (c Config) Validate() error {
	sizes, ok := trainedChunkSizes[c.SampleRate]
	if !ok {
		return fmt.Errorf("%w: %d Hz (want 8000 or 16000)", ErrUnsupportedSampleRate, c.SampleRate)
	}
	if !slices.Contains(sizes, c.ChunkSize) {
		return fmt.Errorf("%w: %d samples at %d Hz (want one of %v)", ErrUnsupportedChunkSize, c.ChunkSize, c.SampleRate, sizes)
	}
	return nil
}

// SessionHandle represents an active scoring session for a single audio
// stream. It is an interface so that test code can supply mock
// implementations without a live engine.
type SessionHandle interface {
	// Score evaluates one chunk and returns the probability that it contains
	// speech. The chunk must have exactly Config.ChunkSize samples. Score
	// must not retain chunk after returning.
	Score(chunk []int16) (float64, error)

	// Reset clears accumulated state without closing the session.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// Score must return an error. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Engine is the factory for scoring sessions. It is the top-level interface
// implemented by each scorer backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a session for cfg. Returns an error if the
	// configuration is invalid or the engine cannot allocate resources.
	NewSession(cfg Config) (SessionHandle, error)
}
