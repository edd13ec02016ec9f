package ar

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/example/musicd/internal/onnx"
	"github.com/example/musicd/internal/tokenizer"
)

// framesPerSecond is the EnCodec-style codec's frame rate at 32kHz, fixing
// the total step count for a requested duration.
const framesPerSecond = 50

// GraphRunner runs a single loaded ONNX graph. Satisfied by *onnx.Runner;
// named separately here so tests can substitute a fake without touching
// the onnx package.
type GraphRunner interface {
	Run(ctx context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error)
}

// Sessions names the four ONNX graphs this backend's pinned manifest
// requires (see model.RequiredGraphs("musicgen")).
type Sessions struct {
	TextEncoder      GraphRunner
	DecoderFirstStep GraphRunner
	DecoderWithPast  GraphRunner
	CodecDecoder     GraphRunner
}

// Engine drives one end-to-end musicgen generation: text encoding, delay
// pattern AR decoding with KV caching and classifier-free guidance, and
// codec decoding to a waveform.
type Engine struct {
	sessions  Sessions
	tokenizer tokenizer.Tokenizer
	cfg       Config
}

// New builds an Engine from already-loaded sessions and a tokenizer pointed
// at this backend's SentencePiece vocabulary.
func New(sessions Sessions, tok tokenizer.Tokenizer, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{sessions: sessions, tokenizer: tok, cfg: cfg}, nil
}

// ProgressFunc reports one newly completed output frame out of totalSteps.
type ProgressFunc func(currentStep, totalSteps int)

// TotalSteps returns N = ceil(durationSec * 50), the progress-contract
// denominator and the number of post-delay-pattern output frames generated.
func TotalSteps(durationSec int) int {
	return int(math.Ceil(float64(durationSec) * framesPerSecond))
}

// Generate runs the full musicgen pipeline for prompt/durationSec/seed and
// returns a mono float32 waveform at the engine's configured sample rate.
// cancelled is polled between frames for cooperative cancellation; ctx
// cancellation is honored at the same checkpoints.
func (e *Engine) Generate(ctx context.Context, prompt string, durationSec int, seed uint64, cancelled func() bool, progress ProgressFunc) ([]float32, int, error) {
	totalSteps := TotalSteps(durationSec)
	if totalSteps <= 0 {
		return nil, 0, fmt.Errorf("ar: duration_sec %d produces zero frames", durationSec)
	}

	ids, _, err := e.tokenizer.Encode(prompt)
	if err != nil {
		return nil, 0, fmt.Errorf("ar: tokenize prompt: %w", err)
	}
	if len(ids) == 0 {
		return nil, 0, fmt.Errorf("ar: empty token sequence for prompt")
	}
	seqLen := int64(len(ids))

	inputIDs, err := onnx.NewTensor(ids, []int64{1, seqLen})
	if err != nil {
		return nil, 0, fmt.Errorf("ar: build input_ids: %w", err)
	}
	attnMask, err := onnx.NewTensor(ones(len(ids)), []int64{1, seqLen})
	if err != nil {
		return nil, 0, fmt.Errorf("ar: build attention_mask: %w", err)
	}

	encOut, err := e.sessions.TextEncoder.Run(ctx, map[string]*onnx.Tensor{
		"input_ids":      inputIDs,
		"attention_mask": attnMask,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("ar: text encoder: %w", err)
	}
	hiddenStates, ok := encOut["last_hidden_state"]
	if !ok {
		return nil, 0, fmt.Errorf("ar: text encoder output missing last_hidden_state")
	}

	hiddenCFG, err := duplicateFloatCFG(hiddenStates)
	if err != nil {
		return nil, 0, fmt.Errorf("ar: duplicate hidden states for guidance: %w", err)
	}
	maskCFG, err := duplicateIntCFG(attnMask)
	if err != nil {
		return nil, 0, fmt.Errorf("ar: duplicate attention mask for guidance: %w", err)
	}

	// Generation runs numCodebooks-1 extra steps to fill the delay pattern's
	// warmup diagonal before any de-delayed frame becomes available.
	generationLen := totalSteps + (numCodebooks - 1)

	rng := rand.New(rand.NewSource(int64(seed)))
	mask := &DelayPatternMask{}

	initialIDs, err := onnx.NewTensor(repeatPad(e.cfg.PadTokenID, 2*numCodebooks), []int64{int64(2 * numCodebooks), 1})
	if err != nil {
		return nil, 0, fmt.Errorf("ar: build initial input_ids: %w", err)
	}

	firstOut, err := e.sessions.DecoderFirstStep.Run(ctx, map[string]*onnx.Tensor{
		"input_ids":              initialIDs,
		"encoder_attention_mask": maskCFG,
		"encoder_hidden_states":  hiddenCFG,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("ar: decoder first step: %w", err)
	}

	frame, err := e.sampleFrame(firstOut, rng)
	if err != nil {
		return nil, 0, fmt.Errorf("ar: sample first frame: %w", err)
	}
	mask.Push(frame)

	kv, err := initKVCache(firstOut, e.cfg.NumHiddenLayers)
	if err != nil {
		return nil, 0, fmt.Errorf("ar: extract initial KV cache: %w", err)
	}

	tokenGrid := make([][numCodebooks]int64, 0, totalSteps)

	for step := 1; step < generationLen; step++ {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		if cancelled != nil && cancelled() {
			return nil, 0, context.Canceled
		}

		delayed := mask.LastDelayedMasked(e.cfg.PadTokenID)
		stepIDs, err := onnx.NewTensor(cfgDuplicateFrame(delayed), []int64{int64(2 * numCodebooks), 1})
		if err != nil {
			return nil, 0, fmt.Errorf("ar: build step input_ids: %w", err)
		}

		inputs := map[string]*onnx.Tensor{
			"input_ids":              stepIDs,
			"encoder_attention_mask": maskCFG,
		}
		for name, t := range kv {
			inputs[pastName(name)] = t
		}

		out, err := e.sessions.DecoderWithPast.Run(ctx, inputs)
		if err != nil {
			return nil, 0, fmt.Errorf("ar: decoder with past (step %d): %w", step, err)
		}

		frame, err := e.sampleFrame(out, rng)
		if err != nil {
			return nil, 0, fmt.Errorf("ar: sample frame %d: %w", step, err)
		}
		mask.Push(frame)

		if deDelayed, ok := mask.LastDeDelayed(); ok {
			tokenGrid = append(tokenGrid, deDelayed)
			if progress != nil {
				progress(len(tokenGrid), totalSteps)
			}
		}

		if err := updateDecoderKV(kv, out, e.cfg.NumHiddenLayers); err != nil {
			return nil, 0, fmt.Errorf("ar: update KV cache (step %d): %w", step, err)
		}
	}

	samples, err := e.decodeCodec(ctx, tokenGrid)
	if err != nil {
		return nil, 0, fmt.Errorf("ar: codec decode: %w", err)
	}

	return samples, e.cfg.SampleRate, nil
}

// sampleFrame applies classifier-free guidance and top-k sampling to a
// decoder output's logits, returning one token per codebook.
func (e *Engine) sampleFrame(out map[string]*onnx.Tensor, rng *rand.Rand) ([numCodebooks]int64, error) {
	var frame [numCodebooks]int64

	logitsTensor, ok := out["logits"]
	if !ok {
		return frame, fmt.Errorf("decoder output missing logits")
	}
	shape := logitsTensor.Shape()
	if len(shape) != 3 {
		return frame, fmt.Errorf("expected 3D logits, got shape %v", shape)
	}
	batch, vocab := int(shape[0]), int(shape[2])
	if batch != 2*numCodebooks {
		return frame, fmt.Errorf("expected logits batch %d, got %d", 2*numCodebooks, batch)
	}

	data, err := onnx.ExtractFloat32(logitsTensor)
	if err != nil {
		return frame, err
	}

	for k := 0; k < numCodebooks; k++ {
		cond := data[k*vocab : (k+1)*vocab]
		uncond := data[(numCodebooks+k)*vocab : (numCodebooks+k+1)*vocab]

		guided := make([]float32, vocab)
		for i := range guided {
			guided[i] = uncond[i] + float32(e.cfg.GuidanceScale)*(cond[i]-uncond[i])
		}

		probs, err := onnx.Softmax1D(guided)
		if err != nil {
			return frame, err
		}
		topIdx, topVals, err := onnx.TopK(probs, e.cfg.TopK)
		if err != nil {
			return frame, err
		}
		sampled, err := onnx.SampleMultinomial(rng, topIdx, topVals)
		if err != nil {
			return frame, err
		}
		frame[k] = int64(sampled)
	}

	return frame, nil
}

// decodeCodec reshapes the de-delayed token grid to [1,1,numCodebooks,seqLen]
// and runs the codec decoder to obtain a mono waveform.
func (e *Engine) decodeCodec(ctx context.Context, grid [][numCodebooks]int64) ([]float32, error) {
	seqLen := len(grid)
	if seqLen == 0 {
		return nil, fmt.Errorf("no frames generated")
	}

	transposed := make([]int64, seqLen*numCodebooks)
	for i, frame := range grid {
		for k := 0; k < numCodebooks; k++ {
			transposed[k*seqLen+i] = frame[k]
		}
	}

	tokens, err := onnx.NewTensor(transposed, []int64{1, 1, numCodebooks, int64(seqLen)})
	if err != nil {
		return nil, fmt.Errorf("build token tensor: %w", err)
	}

	out, err := e.sessions.CodecDecoder.Run(ctx, map[string]*onnx.Tensor{"audio_codes": tokens})
	if err != nil {
		return nil, fmt.Errorf("codec decoder: %w", err)
	}

	audio, ok := out["audio_values"]
	if !ok {
		return nil, fmt.Errorf("codec decoder output missing audio_values")
	}
	return onnx.ExtractFloat32(audio)
}

func ones(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func repeatPad(padID int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = padID
	}
	return out
}

// cfgDuplicateFrame repeats a single codebook frame twice: the decoder's
// own input sequence is identical across the conditional/unconditional
// branches, only the encoder cross-attention conditioning differs.
func cfgDuplicateFrame(frame [numCodebooks]int64) []int64 {
	out := make([]int64, 0, 2*numCodebooks)
	out = append(out, frame[:]...)
	out = append(out, frame[:]...)
	return out
}

// duplicateFloatCFG doubles a [1,T,D] tensor's batch dimension to [2,T,D],
// zero-filling the unconditional half so cross-attention sees no prompt
// conditioning on that branch.
func duplicateFloatCFG(t *onnx.Tensor) (*onnx.Tensor, error) {
	shape := t.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("expected 3D tensor, got shape %v", shape)
	}
	data, err := onnx.ExtractFloat32(t)
	if err != nil {
		return nil, err
	}
	combined := make([]float32, 2*len(data))
	copy(combined, data)

	newShape := []int64{2 * shape[0], shape[1], shape[2]}
	return onnx.NewTensor(combined, newShape)
}

// duplicateIntCFG doubles a [1,T] int64 tensor's batch to [2,T], zero-filling
// the unconditional half.
func duplicateIntCFG(t *onnx.Tensor) (*onnx.Tensor, error) {
	shape := t.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("expected 2D tensor, got shape %v", shape)
	}
	data, err := onnx.ExtractInt64(t)
	if err != nil {
		return nil, err
	}
	combined := make([]int64, 2*len(data))
	copy(combined, data)

	newShape := []int64{2 * shape[0], shape[1]}
	return onnx.NewTensor(combined, newShape)
}

func presentName(layer int, side, kind string) string {
	return fmt.Sprintf("present.%d.%s.%s", layer, side, kind)
}

func pastName(presentKey string) string {
	const prefix = "present."
	if len(presentKey) > len(prefix) && presentKey[:len(prefix)] == prefix {
		return "past_key_values." + presentKey[len(prefix):]
	}
	return presentKey
}

// initKVCache pulls the decoder+encoder present.* tensors out of the first
// decode step's output, keyed by their own present.* name (pastName()
// renames them to past_key_values.* only at call sites that feed them back
// in as inputs).
func initKVCache(out map[string]*onnx.Tensor, numLayers int) (map[string]*onnx.Tensor, error) {
	kv := make(map[string]*onnx.Tensor, numLayers*4)
	for j := 0; j < numLayers; j++ {
		for _, side := range []string{"decoder", "encoder"} {
			for _, kind := range []string{"key", "value"} {
				name := presentName(j, side, kind)
				t, ok := out[name]
				if !ok {
					return nil, fmt.Errorf("missing %q in decoder output", name)
				}
				kv[name] = t
			}
		}
	}
	return kv, nil
}

// updateDecoderKV refreshes only the decoder.{key,value} entries from a
// decoder_with_past step; the encoder.{key,value} entries are cached once
// from the first full decoder pass and never change afterward.
func updateDecoderKV(kv map[string]*onnx.Tensor, out map[string]*onnx.Tensor, numLayers int) error {
	for j := 0; j < numLayers; j++ {
		for _, kind := range []string{"key", "value"} {
			name := presentName(j, "decoder", kind)
			t, ok := out[name]
			if !ok {
				return fmt.Errorf("missing %q in decoder output", name)
			}
			kv[name] = t
		}
	}
	return nil
}
