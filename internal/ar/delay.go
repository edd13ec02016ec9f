// Package ar implements the autoregressive 4-codebook decoder backend
// (musicgen): text-conditioned frame-by-frame token generation with a
// delay-pattern codebook interleave, decoded to a mono waveform by the
// codec decoder.
package ar

// numCodebooks is fixed at 4 for the EnCodec-style codebook layout this
// backend's decoder and codec sessions were exported with.
const numCodebooks = 4

// DelayPatternMask buffers per-codebook token sequences with MusicGen's
// progressive delay: codebook k's stream is offset by k positions so a
// single forward step can read causally across all codebooks at once.
//
//	  0 1 2 3 4 5 6 7 8 9 10
//	0 x x x x x x x x x x ...
//	1 P x x x x x x x x x ...
//	2 P P x x x x x x x x ...
//	3 P P P x x x x x x x ...
type DelayPatternMask struct {
	batches [numCodebooks][]int64
}

// Push appends one frame's worth of codebook tokens, one entry per codebook.
func (m *DelayPatternMask) Push(frame [numCodebooks]int64) {
	for k, id := range frame {
		m.batches[k] = append(m.batches[k], id)
	}
}

// LastDelayedMasked returns the next step's input_ids: codebook k contributes
// padID until it has accumulated more than k tokens, after which it
// contributes its own most recent token.
func (m *DelayPatternMask) LastDelayedMasked(padID int64) [numCodebooks]int64 {
	seqLen := len(m.batches[0])
	var out [numCodebooks]int64
	for k := range out {
		if seqLen-k <= 0 {
			out[k] = padID
		} else {
			out[k] = m.batches[k][len(m.batches[k])-1]
		}
	}
	return out
}

// LastDeDelayed extracts the most recently completed diagonal of
// non-padding tokens across all codebooks, once at least numCodebooks
// frames have been pushed. ok is false while the buffer is still filling.
func (m *DelayPatternMask) LastDeDelayed() (frame [numCodebooks]int64, ok bool) {
	if len(m.batches[0]) < numCodebooks {
		return frame, false
	}
	for k := range frame {
		frame[k] = m.batches[k][len(m.batches[k])-numCodebooks+k]
	}
	return frame, true
}

// Len reports the number of frames pushed so far.
func (m *DelayPatternMask) Len() int {
	return len(m.batches[0])
}
