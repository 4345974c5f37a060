// Package audio holds the PCM primitives shared by chunk sources, speech
// scorers and segment sinks.
//
// All audio flowing through vadscribe is signed 16-bit mono PCM at a fixed
// sample rate (16 kHz by default). Raw byte streams are converted to []int16
// at the source boundary; everything downstream works on samples.
package audio

import "time"

// Canonical stream parameters. Chunk sizes must match what the speech scorer
// was trained on for the active sample rate.
const (
	DefaultSampleRate = 16000
	DefaultChunkSize  = 1024
	BitsPerSample     = 16
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Duration returns the playback length of n mono samples at sampleRate.
// It returns 0 for a non-positive sampleRate.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

// Seconds returns the length of n mono samples at sampleRate in seconds.
func Seconds(n, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(n) / float64(sampleRate)
}
