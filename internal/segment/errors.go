package segment

import (
	"errors"
	"fmt"
)

// ErrFinished is returned by Process once Finish has been called.
var ErrFinished = errors.New("segment: engine finished")

// SourceError reports that the chunk source failed to decode or deliver the
// next chunk. The engine never produces it; drivers wrap source failures in
// it so callers can classify every run failure with errors.As.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string { return "segment: source: " + e.Err.Error() }
func (e *SourceError) Unwrap() error { return e.Err }

// ScorerError reports that the speech scorer failed on a chunk. It is fatal
// to the run and never retried.
type ScorerError struct {
	// Chunk is the zero-based index of the chunk being scored.
	Chunk int64
	Err   error
}

func (e *ScorerError) Error() string {
	return fmt.Sprintf("segment: score chunk %d: %v", e.Chunk, e.Err)
}
func (e *ScorerError) Unwrap() error { return e.Err }

// SinkError reports that the sink rejected a finalized segment. The engine
// has already released the segment's buffer when it is returned, so the
// driver may continue with the next chunk.
type SinkError struct {
	// Segment is the 1-based index of the segment that failed.
	Segment int
	Err     error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("segment: sink segment %d: %v", e.Segment, e.Err)
}
func (e *SinkError) Unwrap() error { return e.Err }

// ConfigurationError reports an invalid engine configuration or a chunk
// whose length does not match the configured chunk size.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string { return "segment: configuration: " + e.Err.Error() }
func (e *ConfigurationError) Unwrap() error { return e.Err }
