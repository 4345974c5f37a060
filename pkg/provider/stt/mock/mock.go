// Package mock provides test doubles for the stt package interfaces.
//
// Example:
//
//	tr := &mock.Transcriber{
//	    Segments: []stt.Segment{{Start: 0, End: time.Second, Text: "hello"}},
//	}
//	err := tr.Transcribe(ctx, samples, 16000, func(s stt.Segment) { ... })
//	// tr.Calls[0].Samples holds a copy of samples.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vadscribe/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Samples is a copy of the samples passed to Transcribe.
	Samples []int16

	// SampleRate is the sample rate passed to Transcribe.
	SampleRate int
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Segments are delivered to onSegment on every call.
	Segments []stt.Segment

	// Err, if non-nil, is returned by Transcribe instead of delivering
	// Segments.
	Err error

	// FailTimes, if positive, makes only the first FailTimes calls return
	// Err.
	FailTimes int

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call, delivers Segments and returns Err.
func (m *Transcriber) Transcribe(ctx context.Context, samples []int16, sampleRate int, onSegment func(stt.Segment)) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, TranscribeCall{
		Samples:    append([]int16(nil), samples...),
		SampleRate: sampleRate,
	})
	n := len(m.Calls)
	segs := m.Segments
	err := m.Err
	if m.FailTimes > 0 && n > m.FailTimes {
		err = nil
	}
	m.mu.Unlock()

	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if err != nil {
		return err
	}
	for _, s := range segs {
		onSegment(s)
	}
	return nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
