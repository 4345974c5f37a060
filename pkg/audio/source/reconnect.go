package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Opener opens a fresh connection to the stream.
type Opener func(ctx context.Context) (Source, error)

// ReconnectConfig configures a [Reconnecting] source.
type ReconnectConfig struct {
	// MaxRetries is the number of reopen attempts per drop before giving up.
	// Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial wait between attempts. Doubles each attempt up to
	// MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// OnReconnect is called after the stream was reopened. May be nil.
	OnReconnect func(attempt int)
}

// Reconnecting wraps a live stream and reopens it with exponential backoff
// when it fails mid-run. io.EOF and context errors end the stream as usual;
// only other read errors trigger a reconnect. Samples lost while the stream
// was down are not replayed.
//
// Next must not be called concurrently; Close may be called at any time.
type Reconnecting struct {
	open        Opener
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onReconnect func(int)

	mu     sync.Mutex
	cur    Source
	closed bool
}

var _ Source = (*Reconnecting)(nil)

// NewReconnecting opens the stream once and returns a source that reopens it
// on failure. The initial open is not retried.
func NewReconnecting(ctx context.Context, open Opener, cfg ReconnectConfig) (*Reconnecting, error) {
	r := &Reconnecting{
		open:        open,
		maxRetries:  cfg.MaxRetries,
		backoff:     cfg.Backoff,
		maxBackoff:  cfg.MaxBackoff,
		onReconnect: cfg.OnReconnect,
	}
	if r.maxRetries <= 0 {
		r.maxRetries = defaultMaxRetries
	}
	if r.backoff <= 0 {
		r.backoff = defaultBackoff
	}
	if r.maxBackoff <= 0 {
		r.maxBackoff = defaultMaxBackoff
	}
	src, err := open(ctx)
	if err != nil {
		return nil, fmt.Errorf("source: initial open: %w", err)
	}
	r.cur = src
	return r, nil
}

// Next implements Source.
func (r *Reconnecting) Next(ctx context.Context) ([]int16, error) {
	for {
		r.mu.Lock()
		cur, closed := r.cur, r.closed
		r.mu.Unlock()
		if closed {
			return nil, io.ErrClosedPipe
		}
		if cur == nil {
			return nil, errors.New("source: stream lost")
		}

		chunk, err := cur.Next(ctx)
		if err == nil {
			return chunk, nil
		}
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil, err
		}
		slog.Warn("stream dropped, reconnecting", "error", err)
		if rerr := r.reconnect(ctx, cur); rerr != nil {
			return nil, errors.Join(err, rerr)
		}
	}
}

// reconnect replaces failed with a freshly opened source.
func (r *Reconnecting) reconnect(ctx context.Context, failed Source) error {
	r.mu.Lock()
	r.cur = nil
	r.mu.Unlock()
	_ = failed.Close()
	currentBackoff := r.backoff

	var lastErr error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		slog.Info("attempting reconnection",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", currentBackoff,
		)

		src, err := r.open(ctx)
		if err == nil {
			r.mu.Lock()
			if r.closed {
				r.mu.Unlock()
				_ = src.Close()
				return io.ErrClosedPipe
			}
			r.cur = src
			r.mu.Unlock()

			slog.Info("reconnection successful", "attempt", attempt)
			if r.onReconnect != nil {
				r.onReconnect(attempt)
			}
			return nil
		}
		lastErr = err
		slog.Warn("reconnection attempt failed", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(currentBackoff):
		}

		currentBackoff *= 2
		if currentBackoff > r.maxBackoff {
			currentBackoff = r.maxBackoff
		}
	}
	return fmt.Errorf("source: reconnect failed after %d attempts: %w", r.maxRetries, lastErr)
}

// Close implements Source. Safe to call multiple times.
func (r *Reconnecting) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.cur == nil {
		return nil
	}
	return r.cur.Close()
}
