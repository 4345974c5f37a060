// Package source provides chunk sources: ordered, pull-based suppliers of
// fixed-size mono int16 chunks at a known sample rate.
//
// A Source reports the end of its stream by returning io.EOF from Next.
// Any other error is a decode or transport failure. Chunks returned by Next
// are only valid until the following call; consumers that retain a chunk
// must copy it.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Source is the chunk supplier consumed by the segmentation pipeline.
type Source interface {
	// Next blocks until the next chunk is available. It returns io.EOF at
	// end of stream and ctx.Err() if ctx is cancelled first.
	Next(ctx context.Context) ([]int16, error)

	// Close stops the stream and releases its resources. Calling Close more
	// than once is safe.
	Close() error
}

// Config describes the framing shared by all sources.
type Config struct {
	// SampleRate is the output sample rate in Hz.
	SampleRate int

	// ChunkSize is the number of samples in every chunk.
	ChunkSize int
}

func (c Config) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("source: sample rate must be positive, got %d", c.SampleRate)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("source: chunk size must be positive, got %d", c.ChunkSize)
	}
	return nil
}

// Reader frames a little-endian 16-bit mono PCM byte stream into chunks.
// A trailing partial chunk is zero-padded to the full chunk size so that
// every chunk handed downstream has the configured length.
type Reader struct {
	r      io.Reader
	buf    []byte
	chunk  []int16
	closer io.Closer
	done   bool
}

// NewReader returns a Reader producing chunkSize-sample chunks from r. If r
// implements io.Closer it is closed by Close.
func NewReader(r io.Reader, chunkSize int) *Reader {
	rd := &Reader{
		r:     r,
		buf:   make([]byte, chunkSize*2),
		chunk: make([]int16, chunkSize),
	}
	if c, ok := r.(io.Closer); ok {
		rd.closer = c
	}
	return rd
}

// Next implements Source. The returned slice is reused on the next call.
func (rd *Reader) Next(ctx context.Context) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if rd.done {
		return nil, io.EOF
	}

	n, err := io.ReadFull(rd.r, rd.buf)
	switch {
	case errors.Is(err, io.EOF):
		rd.done = true
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		rd.done = true
		clear(rd.buf[n:])
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	for i := range rd.chunk {
		rd.chunk[i] = int16(uint16(rd.buf[2*i]) | uint16(rd.buf[2*i+1])<<8)
	}
	return rd.chunk, nil
}

// Close implements Source.
func (rd *Reader) Close() error {
	rd.done = true
	if rd.closer != nil {
		c := rd.closer
		rd.closer = nil
		return c.Close()
	}
	return nil
}

var _ Source = (*Reader)(nil)
