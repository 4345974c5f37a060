package wavio

import (
	"errors"
	"io"
)

// Buffer is an in-memory io.WriteSeeker. The WAV encoder seeks back to patch
// chunk sizes, which bytes.Buffer cannot do.
type Buffer struct {
	data []byte
	pos  int
}

// Write writes p at the current position, growing the buffer as needed.
func (b *Buffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.data) {
		if end > cap(b.data) {
			grown := make([]byte, end, max(end, 2*cap(b.data)))
			copy(grown, b.data)
			b.data = grown
		} else {
			b.data = b.data[:end]
		}
	}
	copy(b.data[b.pos:], p)
	b.pos = end
	return len(p), nil
}

// Seek sets the position for the next Write.
func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.data)) + offset
	default:
		return 0, errors.New("wavio: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("wavio: negative position")
	}
	b.pos = int(abs)
	return abs, nil
}

// Bytes returns the written contents.
func (b *Buffer) Bytes() []byte { return b.data }
