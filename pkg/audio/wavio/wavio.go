// Package wavio reads and writes mono 16-bit PCM WAV files using
// github.com/go-audio/wav.
package wavio

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/vadscribe/pkg/audio"
)

// formatPCM is the WAVE_FORMAT_PCM audio format tag.
const formatPCM = 1

// Encode writes samples as a mono 16-bit linear PCM WAV stream to w.
func Encode(w io.WriteSeeker, samples []int16, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("wavio: invalid sample rate %d", sampleRate)
	}
	enc := wav.NewEncoder(w, sampleRate, audio.BitsPerSample, 1, formatPCM)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: audio.BitsPerSample,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("wavio: write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wavio: finalize: %w", err)
	}
	return nil
}

// EncodeBytes is Encode into memory. Used for uploading segments to HTTP
// transcription backends.
func EncodeBytes(samples []int16, sampleRate int) ([]byte, error) {
	var b Buffer
	if err := Encode(&b, samples, sampleRate); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Decoder streams samples out of a WAV file, down-mixed to mono and scaled
// to 16 bits. It does not resample.
type Decoder struct {
	dec      *wav.Decoder
	format   audio.Format
	bitDepth int
	buf      *goaudio.IntBuffer
}

// NewDecoder validates the WAV header of r and prepares to stream PCM data.
func NewDecoder(r io.ReadSeeker) (*Decoder, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("wavio: not a valid WAV file")
	}
	if dec.WavAudioFormat != formatPCM {
		return nil, fmt.Errorf("wavio: unsupported audio format %d (want linear PCM)", dec.WavAudioFormat)
	}
	return &Decoder{
		dec:      dec,
		format:   audio.Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)},
		bitDepth: int(dec.BitDepth),
	}, nil
}

// Format returns the sample rate and channel count stored in the header.
func (d *Decoder) Format() audio.Format { return d.format }

// Read decodes up to frames mono samples. It returns io.EOF once the PCM
// data is exhausted.
func (d *Decoder) Read(frames int) ([]int16, error) {
	ch := max(d.format.Channels, 1)
	if d.buf == nil || len(d.buf.Data) != frames*ch {
		d.buf = &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: ch, SampleRate: d.format.SampleRate},
			Data:   make([]int, frames*ch),
		}
	}
	n, err := d.dec.PCMBuffer(d.buf)
	if err != nil {
		return nil, fmt.Errorf("wavio: read PCM: %w", err)
	}
	if n == 0 {
		return nil, io.EOF
	}
	data := d.buf.Data[:n]
	scaleTo16(data, d.bitDepth)
	return audio.Downmix(data, ch), nil
}

// scaleTo16 rescales decoded integer samples of the given bit depth into the
// int16 range in place. go-audio delivers 8-bit samples unsigned.
func scaleTo16(data []int, bitDepth int) {
	switch {
	case bitDepth == 8:
		for i, v := range data {
			data[i] = (v - 128) << 8
		}
	case bitDepth > 16:
		shift := uint(bitDepth - 16)
		for i, v := range data {
			data[i] = v >> shift
		}
	}
}
