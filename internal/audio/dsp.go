package audio

import "math"

// PeakNormalize scales samples so the peak absolute amplitude reaches 1.0.
// Silence (zero peak) is returned unchanged.
func PeakNormalize(samples []float32) []float32 {
	var peak float32
	for _, v := range samples {
		if a := float32(math.Abs(float64(v))); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return samples
	}

	out := make([]float32, len(samples))
	scale := 1.0 / peak
	for i, v := range samples {
		out[i] = v * scale
	}
	return out
}

// DCBlock removes DC offset with a one-pole high-pass filter,
// y[n] = x[n] - x[n-1] + r*y[n-1], r chosen for a cutoff well below audible
// content so tonal material is left intact.
func DCBlock(samples []float32, sampleRate int) []float32 {
	if len(samples) == 0 {
		return samples
	}

	const cutoffHz = 20.0
	r := float32(1.0 - (2 * math.Pi * cutoffHz / float64(sampleRate)))

	out := make([]float32, len(samples))
	var prevIn, prevOut float32
	for i, x := range samples {
		y := x - prevIn + r*prevOut
		out[i] = y
		prevIn = x
		prevOut = y
	}
	return out
}

// FadeIn applies a linear fade-in ramp over the first ms milliseconds.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	fadeSamples := int(ms / 1000.0 * float64(sampleRate))
	if fadeSamples <= 0 || len(samples) == 0 {
		return samples
	}
	if fadeSamples > len(samples) {
		fadeSamples = len(samples)
	}

	out := append([]float32(nil), samples...)
	for i := 0; i < fadeSamples; i++ {
		gain := float32(i) / float32(fadeSamples)
		out[i] *= gain
	}
	return out
}

// FadeOut applies a linear fade-out ramp over the last ms milliseconds.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	fadeSamples := int(ms / 1000.0 * float64(sampleRate))
	if fadeSamples <= 0 || len(samples) == 0 {
		return samples
	}
	if fadeSamples > len(samples) {
		fadeSamples = len(samples)
	}

	out := append([]float32(nil), samples...)
	start := len(out) - fadeSamples
	for i := start; i < len(out); i++ {
		gain := float32(len(out)-1-i) / float32(fadeSamples)
		out[i] *= gain
	}
	return out
}
