package health

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Pinger is implemented by dependencies that can report reachability, such
// as the Postgres transcript store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database returns a Checker named "database" that pings p.
func Database(p Pinger) Checker {
	return Checker{
		Name: "database",
		Check: func(ctx context.Context) error {
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			return nil
		},
	}
}

// StreamStatus is a snapshot of the segmentation pipeline for readiness
// reporting.
type StreamStatus struct {
	// Running is true between the first pulled chunk and the end of the
	// stream.
	Running bool

	// LastChunk is when the most recent chunk was processed.
	LastChunk time.Time

	// Err is the error that stopped the pipeline, if any.
	Err error
}

// Stream returns a Checker named "stream". It fails when the pipeline has
// stopped with an error, has not started yet, or has not processed a chunk
// within stale. A non-positive stale disables the staleness test.
func Stream(status func() StreamStatus, stale time.Duration) Checker {
	return Checker{
		Name: "stream",
		Check: func(context.Context) error {
			st := status()
			switch {
			case st.Err != nil:
				return st.Err
			case !st.Running:
				return errors.New("not running")
			case stale > 0 && time.Since(st.LastChunk) > stale:
				return fmt.Errorf("no audio for %s", time.Since(st.LastChunk).Round(time.Second))
			}
			return nil
		},
	}
}

// Transcribers returns a Checker named "transcriber" for a failover chain.
// open reports, per backend name, whether its circuit breaker is open. The
// check fails only when every backend is unavailable.
func Transcribers(open func() map[string]bool) Checker {
	return Checker{
		Name: "transcriber",
		Check: func(context.Context) error {
			states := open()
			if len(states) == 0 {
				return errors.New("no transcriber configured")
			}
			names := make([]string, 0, len(states))
			for name, isOpen := range states {
				if !isOpen {
					return nil
				}
				names = append(names, name)
			}
			slices.Sort(names)
			return fmt.Errorf("circuit open for %s", strings.Join(names, ", "))
		},
	}
}
