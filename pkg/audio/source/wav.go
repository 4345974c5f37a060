package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MrWong99/vadscribe/pkg/audio"
	"github.com/MrWong99/vadscribe/pkg/audio/wavio"
)

// WAV reads a local WAV file, down-mixing to mono and resampling to the
// configured rate when the file's format differs.
type WAV struct {
	f       *os.File
	dec     *wavio.Decoder
	srcRate int
	cfg     Config

	pending []int16
	chunk   []int16
	eof     bool
}

// OpenWAV opens path for streaming.
func OpenWAV(path string, cfg Config) (*WAV, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open wav %q: %w", path, err)
	}
	dec, err := wavio.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("source: %q: %w", path, err)
	}
	format := dec.Format()
	if format.SampleRate != cfg.SampleRate || format.Channels != 1 {
		slog.Warn("wav source format differs from stream format, converting",
			"path", path,
			"file_sample_rate", format.SampleRate,
			"file_channels", format.Channels,
			"sample_rate", cfg.SampleRate,
		)
	}
	return &WAV{
		f:       f,
		dec:     dec,
		srcRate: format.SampleRate,
		cfg:     cfg,
		chunk:   make([]int16, cfg.ChunkSize),
	}, nil
}

// Next implements Source. The final partial chunk is zero-padded.
func (w *WAV) Next(ctx context.Context) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for len(w.pending) < w.cfg.ChunkSize && !w.eof {
		samples, err := w.dec.Read(w.cfg.ChunkSize)
		if errors.Is(err, io.EOF) {
			w.eof = true
			break
		}
		if err != nil {
			return nil, fmt.Errorf("source: %w", err)
		}
		w.pending = append(w.pending, audio.ResampleMono(samples, w.srcRate, w.cfg.SampleRate)...)
	}
	if len(w.pending) == 0 {
		return nil, io.EOF
	}

	n := copy(w.chunk, w.pending)
	clear(w.chunk[n:])
	w.pending = w.pending[n:]
	return w.chunk, nil
}

// Close implements Source.
func (w *WAV) Close() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

var _ Source = (*WAV)(nil)
