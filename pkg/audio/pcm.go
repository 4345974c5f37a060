package audio

import (
	"encoding/binary"
	"math"
)

// BytesToSamples decodes little-endian 16-bit PCM into samples. A trailing
// odd byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := range n {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// ToFloat32 converts samples to float32 normalised to [-1.0, 1.0) by
// dividing by 32768, the layout whisper.cpp expects. dst is reused when it
// has enough capacity.
func ToFloat32(samples []int16, dst []float32) []float32 {
	if cap(dst) < len(samples) {
		dst = make([]float32, len(samples))
	}
	dst = dst[:len(samples)]
	for i, s := range samples {
		dst[i] = float32(s) / 32768.0
	}
	return dst
}

// RMS returns the root-mean-square level of samples normalised to [0, 1].
// An empty slice has level 0.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
