package sink

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/vadscribe/internal/segment"
)

const defaultRetryBackoff = 200 * time.Millisecond

// DeliveredError is returned by a sink that already delivered part of a
// segment before failing. Retry passes it through without repeating the
// segment.
type DeliveredError struct {
	Err error
}

func (e *DeliveredError) Error() string { return e.Err.Error() }
func (e *DeliveredError) Unwrap() error { return e.Err }

// Retry wraps next so that a failed WriteSegment is retried up to retries
// more times, doubling the wait between attempts starting at backoff. The
// last error is returned if every attempt fails. Retries stop early when ctx
// is cancelled or next reports a [DeliveredError].
func Retry(next segment.Sink, retries int, backoff time.Duration) segment.Sink {
	if retries <= 0 {
		return next
	}
	return segment.SinkFunc(func(ctx context.Context, seg segment.Segment) error {
		return retry(ctx, retries, backoff, func() error {
			return next.WriteSegment(ctx, seg)
		}, "segment sink failed, retrying", "index", seg.Index)
	})
}

// retry calls fn until it succeeds, returns a DeliveredError, or has been
// retried retries times.
func retry(ctx context.Context, retries int, backoff time.Duration, fn func() error, msg string, logArgs ...any) error {
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	wait := backoff
	err := fn()
	for attempt := 1; err != nil && attempt <= retries; attempt++ {
		var delivered *DeliveredError
		if errors.As(err, &delivered) {
			return err
		}
		slog.Warn(msg, append(logArgs,
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)...)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
		wait *= 2
		err = fn()
	}
	return err
}
