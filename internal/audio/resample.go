package audio

import "math"

// sincTaps is the half-width of the windowed-sinc kernel used by Resample,
// in input samples on each side of the interpolated point. Larger values
// trade CPU time for less aliasing/ripple.
const sincTaps = 16

// Resample converts samples from srcRate to dstRate using windowed-sinc
// interpolation (a Lanczos-style kernel: sinc windowed by sinc), the
// standard band-limited approach for arbitrary-ratio rate conversion. Used
// to bring the diffusion backend's native 44.1kHz vocoder output up to the
// daemon's 48kHz track rate.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 {
		return nil
	}
	if srcRate == dstRate || len(samples) == 0 {
		return append([]float32(nil), samples...)
	}

	ratio := float64(dstRate) / float64(srcRate)
	outLen := int(math.Ceil(float64(len(samples)) * ratio))
	out := make([]float32, outLen)

	// When downsampling, widen the kernel support in input-sample units so
	// the filter's cutoff tracks the lower of the two rates (anti-aliasing).
	scale := 1.0
	taps := sincTaps
	if ratio < 1.0 {
		scale = ratio
		taps = int(math.Ceil(float64(sincTaps) / ratio))
	}

	step := float64(srcRate) / float64(dstRate)
	for i := range out {
		srcPos := float64(i) * step

		left := int(math.Floor(srcPos)) - taps
		right := int(math.Floor(srcPos)) + taps + 1

		var sum, weightSum float64
		for k := left; k <= right; k++ {
			if k < 0 || k >= len(samples) {
				continue
			}
			x := (srcPos - float64(k)) * scale
			w := lanczosKernel(x, sincTaps)
			sum += w * float64(samples[k])
			weightSum += w
		}

		if weightSum != 0 {
			out[i] = float32(sum / weightSum)
		}
	}

	return out
}

// lanczosKernel evaluates sinc(x)*sinc(x/a) for |x| < a, and 0 elsewhere.
func lanczosKernel(x float64, a int) float64 {
	af := float64(a)
	if x <= -af || x >= af {
		return 0
	}
	if x == 0 {
		return 1
	}
	piX := math.Pi * x
	return (math.Sin(piX) / piX) * (math.Sin(piX/af) / (piX / af))
}
