// Package sink provides the segment.Sink implementations: numbered WAV
// files, transcription with JSON-lines output and optional persistence, and
// a bounded retry wrapper.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MrWong99/vadscribe/internal/segment"
	"github.com/MrWong99/vadscribe/pkg/audio/wavio"
)

// DefaultFilePrefix names segment files when no prefix is configured.
const DefaultFilePrefix = "predict.stream.speech"

// FileSink writes every segment to <dir>/<prefix>.NNN.wav as mono 16-bit
// PCM, where NNN is the segment's 1-based index zero-padded to three digits.
type FileSink struct {
	dir    string
	prefix string
}

// NewFileSink creates dir if necessary and returns a sink writing into it.
func NewFileSink(dir, prefix string) (*FileSink, error) {
	if dir == "" {
		dir = "."
	}
	if prefix == "" {
		prefix = DefaultFilePrefix
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create output dir: %w", err)
	}
	return &FileSink{dir: dir, prefix: prefix}, nil
}

// Path returns the file the segment with the given index is written to.
func (f *FileSink) Path(index int) string {
	return filepath.Join(f.dir, fmt.Sprintf("%s.%03d.wav", f.prefix, index))
}

// WriteSegment implements segment.Sink.
func (f *FileSink) WriteSegment(_ context.Context, seg segment.Segment) error {
	path := f.Path(seg.Index)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("sink: create %s: %w", path, err)
	}
	if err := wavio.Encode(file, seg.Samples, seg.SampleRate); err != nil {
		file.Close()
		return fmt.Errorf("sink: write %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("sink: close %s: %w", path, err)
	}
	slog.Info("segment written",
		"path", path,
		"duration", seg.Duration,
		"offset", seg.Offset,
		"reason", seg.Reason,
	)
	return nil
}

var _ segment.Sink = (*FileSink)(nil)
