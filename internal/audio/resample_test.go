package audio

import (
	"math"
	"testing"
)

func TestResample_SameRateIsNoOp(t *testing.T) {
	in := []float32{0.1, 0.2, -0.3}
	out := Resample(in, 44100, 44100)
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestResample_LengthMatchesRatio(t *testing.T) {
	in := make([]float32, 4410) // 100ms at 44.1kHz
	out := Resample(in, 44100, 48000)

	wantLen := int(math.Ceil(float64(len(in)) * 48000.0 / 44100.0))
	if len(out) != wantLen {
		t.Fatalf("len = %d, want %d", len(out), wantLen)
	}
}

func TestResample_PreservesLowFrequencySine(t *testing.T) {
	const srcRate = 44100
	const dstRate = 48000
	const freq = 440.0
	const n = srcRate // 1 second

	in := make([]float32, n)
	for i := range in {
		in[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / float64(srcRate)))
	}

	out := Resample(in, srcRate, dstRate)

	// Compare peak amplitude mid-buffer, away from edge transients.
	mid := len(out) / 2
	window := out[mid-100 : mid+100]
	var peak float32
	for _, v := range window {
		if a := float32(math.Abs(float64(v))); a > peak {
			peak = a
		}
	}
	if peak < 0.9 || peak > 1.05 {
		t.Errorf("mid-buffer peak = %f, want close to 1.0", peak)
	}
}

func TestResample_EmptyInput(t *testing.T) {
	out := Resample(nil, 44100, 48000)
	if len(out) != 0 {
		t.Errorf("len = %d, want 0", len(out))
	}
}

func TestResample_InvalidRate(t *testing.T) {
	out := Resample([]float32{1, 2, 3}, 0, 48000)
	if out != nil {
		t.Errorf("expected nil for invalid src rate, got %v", out)
	}
}
