// Package silero provides a speech scorer backed by the Silero VAD ONNX model
// through github.com/streamer45/silero-vad-go. The ONNX Runtime shared
// library and headers must be available at build and run time.
//
// The detector reports speech regions rather than raw probabilities, so a
// session scores each chunk as 1 when the model finds speech in any of its
// windows and 0 otherwise. The detector is reset before every chunk.
package silero

import (
	"errors"
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/MrWong99/vadscribe/pkg/audio"
	"github.com/MrWong99/vadscribe/pkg/provider/vad"
)

// DefaultThreshold is the model probability at or above which a window
// counts as speech.
const DefaultThreshold = 0.5

var errClosed = errors.New("silero: session closed")

// detector is the subset of *speech.Detector a session uses.
type detector interface {
	Detect(pcm []float32) ([]speech.Segment, error)
	Reset() error
	Destroy() error
}

// newDetector is replaced in tests.
var newDetector = func(cfg speech.DetectorConfig) (detector, error) {
	return speech.NewDetector(cfg)
}

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold sets the model probability a window needs to count as
// speech. Values outside (0, 1) are ignored.
func WithThreshold(p float64) Option {
	return func(e *Engine) {
		if p > 0 && p < 1 {
			e.threshold = p
		}
	}
}

// Engine creates Silero scoring sessions. Every session loads its own copy
// of the model.
type Engine struct {
	modelPath string
	threshold float64
}

// New returns an Engine that loads the model at modelPath.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("silero: model path must not be empty")
	}
	e := &Engine{modelPath: modelPath, threshold: DefaultThreshold}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d, err := newDetector(speech.DetectorConfig{
		ModelPath:  e.modelPath,
		SampleRate: cfg.SampleRate,
		Threshold:  float32(e.threshold),
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}
	window := 512
	if cfg.SampleRate == 8000 {
		window = 256
	}
	return &session{
		det:   d,
		chunk: cfg.ChunkSize,
		// The detector skips its last full window, so the buffer is padded
		// to whole windows plus one sample.
		buf: make([]float32, (cfg.ChunkSize+window-1)/window*window+1),
	}, nil
}

type session struct {
	mu     sync.Mutex
	det    detector
	chunk  int
	buf    []float32
	closed bool
}

func (s *session) Score(chunk []int16) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}
	if len(chunk) != s.chunk {
		return 0, fmt.Errorf("silero: chunk has %d samples, want %d", len(chunk), s.chunk)
	}
	if err := s.det.Reset(); err != nil {
		return 0, fmt.Errorf("silero: reset detector: %w", err)
	}
	audio.ToFloat32(chunk, s.buf[:0])
	clear(s.buf[len(chunk):])

	segments, err := s.det.Detect(s.buf)
	if err != nil {
		return 0, fmt.Errorf("silero: detect: %w", err)
	}
	if len(segments) > 0 {
		return 1, nil
	}
	return 0, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		_ = s.det.Reset()
	}
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.det.Destroy(); err != nil {
		return fmt.Errorf("silero: destroy detector: %w", err)
	}
	return nil
}

var _ vad.Engine = (*Engine)(nil)
