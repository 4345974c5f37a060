package audio

// Downmix averages interleaved multi-channel samples into mono int16. Values
// are taken as produced by a 16-bit decoder and clamped to the int16 range.
// With channels <= 1 the samples are narrowed to int16 unchanged.
func Downmix(interleaved []int, channels int) []int16 {
	if channels <= 1 {
		out := make([]int16, len(interleaved))
		for i, v := range interleaved {
			out[i] = clamp16(int32(v))
		}
		return out
	}
	frames := len(interleaved) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(interleaved[i*channels+ch])
		}
		out[i] = clamp16(sum / int32(channels))
	}
	return out
}

// ResampleMono resamples mono samples from srcRate to dstRate using linear
// interpolation. If the rates match, or either is non-positive, the input is
// returned unchanged.
func ResampleMono(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstN := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstN == 0 {
		return nil
	}

	out := make([]int16, dstN)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstN {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
