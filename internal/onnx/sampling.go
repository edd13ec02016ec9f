package onnx

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Softmax1D normalizes a flat logits vector into a probability distribution,
// the same stabilized max-subtraction shift used across every softmax axis
// in this codebase's tensor primitives.
func Softmax1D(logits []float32) ([]float32, error) {
	if len(logits) == 0 {
		return nil, errors.New("onnx: softmax1d on empty logits")
	}

	maxV := float32(math.Inf(-1))
	for _, v := range logits {
		if v > maxV {
			maxV = v
		}
	}

	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxV))
		out[i] = float32(e)
		sum += e
	}

	if sum == 0 {
		return nil, errors.New("onnx: softmax1d encountered zero normalization sum")
	}

	inv := float32(1.0 / sum)
	for i := range out {
		out[i] *= inv
	}

	return out, nil
}

// ArgMax returns the index of the largest logit. Ties resolve to the first
// occurrence, matching ONNX Runtime's ArgMax default tie-breaking.
func ArgMax(logits []float32) (int, error) {
	if len(logits) == 0 {
		return 0, errors.New("onnx: argmax on empty logits")
	}

	best := 0
	for i, v := range logits[1:] {
		if v > logits[best] {
			best = i + 1
		}
	}
	return best, nil
}

// TopK returns the k largest logits and their original indices, sorted
// descending by value. k is clamped to len(logits).
func TopK(logits []float32, k int) (indices []int, values []float32, err error) {
	if len(logits) == 0 {
		return nil, nil, errors.New("onnx: topk on empty logits")
	}
	if k <= 0 {
		return nil, nil, fmt.Errorf("onnx: topk requires k > 0, got %d", k)
	}
	if k > len(logits) {
		k = len(logits)
	}

	order := make([]int, len(logits))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return logits[order[a]] > logits[order[b]]
	})

	indices = order[:k]
	values = make([]float32, k)
	for i, idx := range indices {
		values[i] = logits[idx]
	}
	return indices, values, nil
}

// SampleMultinomial draws one index from indices weighted by the
// corresponding probs (need not be pre-normalized), using rng for the draw.
// Used after TopK + Softmax1D to restrict AR decoding to the top-k logits.
func SampleMultinomial(rng *rand.Rand, indices []int, probs []float32) (int, error) {
	if len(indices) != len(probs) {
		return 0, fmt.Errorf("onnx: SampleMultinomial indices/probs length mismatch: %d vs %d", len(indices), len(probs))
	}
	if len(indices) == 0 {
		return 0, errors.New("onnx: SampleMultinomial on empty distribution")
	}

	var total float64
	for _, p := range probs {
		total += float64(p)
	}
	if total <= 0 {
		return 0, errors.New("onnx: SampleMultinomial distribution has non-positive mass")
	}

	draw := rng.Float64() * total
	var cum float64
	for i, p := range probs {
		cum += float64(p)
		if draw <= cum {
			return indices[i], nil
		}
	}
	// Floating point rounding may leave a sliver of mass unconsumed; fall
	// back to the last candidate rather than erroring.
	return indices[len(indices)-1], nil
}
