package segment

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/vadscribe/pkg/audio"
)

// Default thresholds.
const (
	DefaultProbabilityThreshold = 0.5
	DefaultMinSpeechSeconds     = 3.0
)

// Config holds every threshold the engine uses. The zero value is not
// valid; start from DefaultConfig.
type Config struct {
	// ProbabilityThreshold is the score strictly above which a chunk counts
	// as speech. Range: [0, 1].
	ProbabilityThreshold float64

	// MinSpeechSeconds is the minimum segment length. While the buffered
	// speech is shorter than this, non-speech chunks are treated as speech.
	MinSpeechSeconds float64

	// MaxSegmentSeconds caps segment length. A segment is cut as soon as
	// appending the next chunk would cross a multiple of this value. Zero
	// disables the cap.
	MaxSegmentSeconds float64

	// SampleRate is the stream sample rate in Hz.
	SampleRate int

	// ChunkSize is the number of samples every chunk must have.
	ChunkSize int
}

// DefaultConfig returns the thresholds for a 16 kHz stream in 1024-sample
// chunks with no maximum segment length.
func DefaultConfig() Config {
	return Config{
		ProbabilityThreshold: DefaultProbabilityThreshold,
		MinSpeechSeconds:     DefaultMinSpeechSeconds,
		SampleRate:           audio.DefaultSampleRate,
		ChunkSize:            audio.DefaultChunkSize,
	}
}

// Validate checks cfg and returns a *ConfigurationError listing every
// problem, or nil.
func (c Config) Validate() error {
	var errs []error
	if c.ProbabilityThreshold < 0 || c.ProbabilityThreshold > 1 {
		errs = append(errs, fmt.Errorf("probability threshold %v outside [0, 1]", c.ProbabilityThreshold))
	}
	if c.MinSpeechSeconds < 0 {
		errs = append(errs, fmt.Errorf("min speech seconds %v is negative", c.MinSpeechSeconds))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate %d must be positive", c.SampleRate))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk size %d must be positive", c.ChunkSize))
	}
	switch {
	case c.MaxSegmentSeconds < 0:
		errs = append(errs, fmt.Errorf("max segment seconds %v is negative", c.MaxSegmentSeconds))
	case c.MaxSegmentSeconds > 0 && c.SampleRate > 0 && c.ChunkSize > 0 &&
		c.MaxSegmentSeconds < audio.Seconds(c.ChunkSize, c.SampleRate):
		errs = append(errs, fmt.Errorf("max segment seconds %v shorter than one chunk (%v s)",
			c.MaxSegmentSeconds, audio.Seconds(c.ChunkSize, c.SampleRate)))
	}
	if len(errs) > 0 {
		return &ConfigurationError{Err: errors.Join(errs...)}
	}
	return nil
}

// ChunkDuration returns the playback length of one chunk.
func (c Config) ChunkDuration() time.Duration {
	return audio.Duration(c.ChunkSize, c.SampleRate)
}
