package audio

// SpeedScale time-scales the buffer by factor using linear
// interpolation: factor 2.0 halves the duration, 0.5 doubles it.
// Factor 1.0 (or an empty buffer) returns the input unchanged.
func SpeedScale(samples []float32, factor float64) []float32 {
	if len(samples) == 0 || factor == 1.0 {
		return samples
	}
	return lerpStride(samples, factor)
}

// TrimSilence drops leading and trailing samples whose magnitude does
// not exceed threshold. An entirely silent buffer trims to empty.
func TrimSilence(samples []float32, threshold float64) []float32 {
	first := -1
	last := -1
	for i, s := range samples {
		if abs(s) > float32(threshold) {
			if first == -1 {
				first = i
			}
			last = i
		}
	}
	if first == -1 {
		return samples[:0]
	}
	return samples[first : last+1]
}

// FixInternalSilence caps every silent run at maxSilenceMS worth of
// samples, leaving shorter pauses untouched.
func FixInternalSilence(samples []float32, sampleRate, maxSilenceMS int, threshold float64) []float32 {
	if len(samples) == 0 || maxSilenceMS <= 0 || sampleRate <= 0 {
		return samples
	}
	maxRun := sampleRate * maxSilenceMS / 1000
	if maxRun <= 0 {
		return samples
	}
	out := make([]float32, 0, len(samples))
	run := 0
	for _, s := range samples {
		if abs(s) <= float32(threshold) {
			run++
			if run > maxRun {
				continue
			}
		} else {
			run = 0
		}
		out = append(out, s)
	}
	return out
}

// lerpStride reads the input at the given stride, interpolating
// linearly between neighbours. Shared by speed scaling and resampling.
func lerpStride(samples []float32, stride float64) []float32 {
	outLen := int(float64(len(samples)) / stride)
	if outLen < 1 {
		outLen = 1
	}
	out := make([]float32, outLen)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * stride
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

func abs(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}
