// Package energy provides a pure-Go speech scorer based on short-term signal
// energy.
//
// Each chunk's RMS level is converted to dBFS and mapped through a logistic
// curve centred on a configurable speech level, then exponentially smoothed
// with the previous chunk's probability. It carries no model weights and no
// CGO dependency, which makes it the default scorer for environments where
// a neural model is not available.
package energy

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/vadscribe/pkg/audio"
	"github.com/MrWong99/vadscribe/pkg/provider/vad"
)

// Defaults tuned for 16 kHz speech captured at typical broadcast levels.
const (
	DefaultSpeechLevelDB = -40.0
	DefaultSlopeDB       = 4.0
	DefaultSmoothing     = 0.3
)

// silenceFloorDB is the level reported for digital silence.
const silenceFloorDB = -120.0

var errClosed = errors.New("energy: session closed")

// Option configures an Engine.
type Option func(*Engine)

// WithSpeechLevel sets the dBFS level at which the probability is 0.5.
func WithSpeechLevel(db float64) Option {
	return func(e *Engine) { e.speechLevel = db }
}

// WithSlope sets the logistic slope in dB. Smaller values give a sharper
// transition. Non-positive values are ignored.
func WithSlope(db float64) Option {
	return func(e *Engine) {
		if db > 0 {
			e.slope = db
		}
	}
}

// WithSmoothing sets the weight in [0, 1) given to the previous chunk's
// probability. 0 disables smoothing.
func WithSmoothing(alpha float64) Option {
	return func(e *Engine) {
		if alpha >= 0 && alpha < 1 {
			e.smoothing = alpha
		}
	}
}

// Engine creates energy scoring sessions. It is safe for concurrent use.
type Engine struct {
	speechLevel float64
	slope       float64
	smoothing   float64
}

// New returns an Engine with the given options applied over the defaults.
func New(opts ...Option) *Engine {
	e := &Engine{
		speechLevel: DefaultSpeechLevelDB,
		slope:       DefaultSlopeDB,
		smoothing:   DefaultSmoothing,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		chunkSize:   cfg.ChunkSize,
		speechLevel: e.speechLevel,
		slope:       e.slope,
		smoothing:   e.smoothing,
	}, nil
}

// Session scores chunks for one stream. It is safe for concurrent use but
// scores are only meaningful when chunks arrive in stream order.
type Session struct {
	mu sync.Mutex

	chunkSize   int
	speechLevel float64
	slope       float64
	smoothing   float64

	prev   float64
	primed bool
	closed bool
}

// Score implements vad.SessionHandle.
func (s *Session) Score(chunk []int16) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}
	if len(chunk) != s.chunkSize {
		return 0, fmt.Errorf("energy: chunk has %d samples, want %d", len(chunk), s.chunkSize)
	}

	p := logistic((levelDB(chunk) - s.speechLevel) / s.slope)
	if s.primed {
		p = s.smoothing*s.prev + (1-s.smoothing)*p
	}
	s.prev = p
	s.primed = true
	return p, nil
}

// Reset implements vad.SessionHandle.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prev = 0
	s.primed = false
}

// Close implements vad.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// levelDB returns the RMS level of chunk in dBFS, floored at silenceFloorDB.
func levelDB(chunk []int16) float64 {
	rms := audio.RMS(chunk)
	if rms <= 0 {
		return silenceFloorDB
	}
	return max(20*math.Log10(rms), silenceFloorDB)
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)
