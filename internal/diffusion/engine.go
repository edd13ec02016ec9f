// Package diffusion implements the ACE-Step latent diffusion backend: a
// UMT5-conditioned denoiser stepped by a flow-matching scheduler, followed
// by mel decoding and vocoding to a 44.1kHz waveform.
package diffusion

import (
	"context"
	"fmt"

	"github.com/example/musicd/internal/onnx"
	"github.com/example/musicd/internal/tokenizer"
)

// maxDecodeFrames is the latent decoder's fixed input window; latents longer
// than this are decoded in chunks and concatenated along the time axis.
const maxDecodeFrames = 128

// GraphRunner runs a single loaded ONNX graph. Satisfied by *onnx.Runner;
// named separately here so tests can substitute a fake without touching
// the onnx package.
type GraphRunner interface {
	Run(ctx context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error)
}

// Sessions names the four ONNX graphs this backend's pinned manifest
// requires (see model.RequiredGraphs("ace_step")).
type Sessions struct {
	TextEncoder   GraphRunner
	Denoiser      GraphRunner
	LatentDecoder GraphRunner
	Vocoder       GraphRunner
}

// Engine drives one end-to-end ACE-Step generation: text encoding, guided
// scheduler-driven denoising, latent decode to mel, and vocoding.
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

// WithRequestConfig returns a shallow copy of e with its per-request
// generation parameters overridden, sharing the same loaded sessions and
// tokenizer. Each generate call gets its own copy since inference_steps,
// scheduler, and guidance_scale may vary per request while the underlying
// ONNX sessions stay resident for the process lifetime.
func (e *Engine) WithRequestConfig(steps int, scheduler SchedulerType, guidanceScale float64) (*Engine, error) {
	cfg := e.cfg
	cfg.InferenceSteps = steps
	cfg.Scheduler = scheduler
	cfg.GuidanceScale = guidanceScale
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clone := *e
	clone.cfg = cfg
	return &clone, nil
}

// ProgressFunc reports the user-visible step s out of total steps S.
type ProgressFunc func(currentStep, totalSteps int)

// Generate runs the full ACE-Step pipeline for prompt/durationSec/seed and
// returns a mono float32 waveform at the vocoder's native sample rate,
// together with that rate; it does not resample. cancelled is polled between scheduler steps for cooperative
// cancellation; ctx cancellation is honored at the same checkpoints.
func (e *Engine) Generate(ctx context.Context, prompt string, durationSec int, seed uint64, cancelled func() bool, progress ProgressFunc) ([]float32, int, error) {
	frameLength := e.cfg.FrameLength(float64(durationSec))
	if frameLength <= 0 {
		return nil, 0, fmt.Errorf("diffusion: duration_sec %d produces zero latent frames", durationSec)
	}

	condContext, condMask, err := e.encodeText(ctx, prompt)
	if err != nil {
		return nil, 0, fmt.Errorf("diffusion: encode prompt: %w", err)
	}
	uncondContext, uncondMask, err := e.encodeText(ctx, "")
	if err != nil {
		return nil, 0, fmt.Errorf("diffusion: encode unconditional prompt: %w", err)
	}

	kind, ok := ParseSchedulerType(string(e.cfg.Scheduler))
	if !ok {
		return nil, 0, fmt.Errorf("diffusion: unknown scheduler %q", e.cfg.Scheduler)
	}
	scheduler := NewScheduler(kind, e.cfg.InferenceSteps, seed)

	latentSize := e.cfg.LatentChannels * e.cfg.LatentHeight * frameLength
	latent := e.initialLatent(latentSize, scheduler.Sigma(), seed)

	latentShape := []int64{1, int64(e.cfg.LatentChannels), int64(e.cfg.LatentHeight), int64(frameLength)}

	userTotal := scheduler.UserNumSteps()
	lastUserStep := -1

	for !scheduler.IsDone() {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		if cancelled != nil && cancelled() {
			return nil, 0, context.Canceled
		}

		currentUserStep := scheduler.UserStep()
		if progress != nil && currentUserStep != lastUserStep {
			progress(currentUserStep, userTotal)
			lastUserStep = currentUserStep
		}

		timestep := scheduler.Timestep()

		condNoise, err := e.predictNoise(ctx, latent, latentShape, timestep, condContext, condMask)
		if err != nil {
			return nil, 0, fmt.Errorf("diffusion: conditional denoiser: %w", err)
		}
		uncondNoise, err := e.predictNoise(ctx, latent, latentShape, timestep, uncondContext, uncondMask)
		if err != nil {
			return nil, 0, fmt.Errorf("diffusion: unconditional denoiser: %w", err)
		}

		guided := applyCFG(condNoise, uncondNoise, e.cfg.GuidanceScale)
		latent = scheduler.Step(latent, guided)
	}

	if progress != nil {
		progress(userTotal, userTotal)
	}

	mel, melFrames, err := e.decodeLatent(ctx, latent, frameLength)
	if err != nil {
		return nil, 0, fmt.Errorf("diffusion: decode latent: %w", err)
	}

	waveform, err := e.vocode(ctx, mel, melFrames)
	if err != nil {
		return nil, 0, fmt.Errorf("diffusion: vocode: %w", err)
	}

	return waveform, e.cfg.SampleRateNative, nil
}

// encodeText runs the UMT5 text encoder on text and returns its hidden
// states and attention mask for use as denoiser conditioning.
func (e *Engine) encodeText(ctx context.Context, text string) (*onnx.Tensor, *onnx.Tensor, error) {
	ids, maskIDs, err := e.tokenizer.Encode(text)
	if err != nil {
		return nil, nil, fmt.Errorf("tokenize: %w", err)
	}
	if len(ids) == 0 {
		ids = []int64{0}
		maskIDs = []int64{1}
	}
	seqLen := int64(len(ids))

	inputIDs, err := onnx.NewTensor(ids, []int64{1, seqLen})
	if err != nil {
		return nil, nil, fmt.Errorf("build input_ids: %w", err)
	}
	attnMask, err := onnx.NewTensor(maskIDs, []int64{1, seqLen})
	if err != nil {
		return nil, nil, fmt.Errorf("build attention_mask: %w", err)
	}

	out, err := e.sessions.TextEncoder.Run(ctx, map[string]*onnx.Tensor{
		"input_ids":      inputIDs,
		"attention_mask": attnMask,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("text encoder: %w", err)
	}
	hidden, ok := out["last_hidden_state"]
	if !ok {
		return nil, nil, fmt.Errorf("text encoder output missing last_hidden_state")
	}
	return hidden, attnMask, nil
}

// predictNoise runs the denoiser transformer for one timestep against one
// conditioning branch (conditional or unconditional).
func (e *Engine) predictNoise(ctx context.Context, latent []float32, latentShape []int64, timestep float32, conditioning *onnx.Tensor, mask *onnx.Tensor) ([]float32, error) {
	latentTensor, err := onnx.NewTensor(latent, latentShape)
	if err != nil {
		return nil, fmt.Errorf("build latent tensor: %w", err)
	}
	timestepTensor, err := onnx.NewTensor([]float32{timestep}, []int64{1})
	if err != nil {
		return nil, fmt.Errorf("build timestep tensor: %w", err)
	}

	out, err := e.sessions.Denoiser.Run(ctx, map[string]*onnx.Tensor{
		"latent":                 latentTensor,
		"timestep":               timestepTensor,
		"encoder_hidden_states":  conditioning,
		"encoder_attention_mask": mask,
	})
	if err != nil {
		return nil, err
	}
	noise, ok := out["noise_pred"]
	if !ok {
		return nil, fmt.Errorf("denoiser output missing noise_pred")
	}
	return onnx.ExtractFloat32(noise)
}

// applyCFG combines conditional and unconditional noise predictions:
// uncond + scale*(cond-uncond).
func applyCFG(cond, uncond []float32, scale float64) []float32 {
	out := make([]float32, len(cond))
	for i := range out {
		out[i] = uncond[i] + float32(scale)*(cond[i]-uncond[i])
	}
	return out
}

// initialLatent draws n seeded Gaussian samples scaled by the scheduler's
// starting sigma, matching the flow-matching convention that the initial
// latent is pure noise at the maximum noise level.
func (e *Engine) initialLatent(n int, initialSigma float32, seed uint64) []float32 {
	rng := newSeededRand(seed)
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(rng.NormFloat64()) * initialSigma
	}
	return out
}

// decodeLatent maps the diffusion latent to a mel-spectrogram, chunking at
// maxDecodeFrames since the latent decoder graph has a fixed input window.
func (e *Engine) decodeLatent(ctx context.Context, latent []float32, frameLength int) ([]float32, int, error) {
	if frameLength == maxDecodeFrames {
		return e.decodeChunk(ctx, latent, frameLength)
	}
	if frameLength < maxDecodeFrames {
		padded := make([]float32, e.cfg.LatentChannels*e.cfg.LatentHeight*maxDecodeFrames)
		copyLatentInto(padded, latent, e.cfg.LatentChannels, e.cfg.LatentHeight, frameLength, maxDecodeFrames)

		mel, melFrames, err := e.decodeChunk(ctx, padded, maxDecodeFrames)
		if err != nil {
			return nil, 0, err
		}
		expected := melFrames * frameLength / maxDecodeFrames
		return mel[:expected*e.cfg.MelBins], expected, nil
	}

	numChunks := (frameLength + maxDecodeFrames - 1) / maxDecodeFrames
	var melOut []float32
	totalMelFrames := 0

	for i := 0; i < numChunks; i++ {
		start := i * maxDecodeFrames
		end := start + maxDecodeFrames
		if end > frameLength {
			end = frameLength
		}
		chunkLen := end - start

		chunkChannels := e.cfg.LatentChannels * e.cfg.LatentHeight
		chunk := make([]float32, chunkChannels*maxDecodeFrames)
		sliceLatentChunk(chunk, latent, e.cfg.LatentChannels, e.cfg.LatentHeight, frameLength, start, chunkLen)

		mel, melFrames, err := e.decodeChunk(ctx, chunk, maxDecodeFrames)
		if err != nil {
			return nil, 0, err
		}

		if chunkLen < maxDecodeFrames {
			expected := melFrames * chunkLen / maxDecodeFrames
			mel = mel[:expected*e.cfg.MelBins]
			melFrames = expected
		}

		melOut = append(melOut, mel...)
		totalMelFrames += melFrames
	}

	return melOut, totalMelFrames, nil
}

// copyLatentInto copies a [C,H,srcFrames] latent into the leading srcFrames
// columns of a [C,H,dstFrames] zero-initialized destination buffer.
func copyLatentInto(dst, src []float32, channels, height, srcFrames, dstFrames int) {
	for c := 0; c < channels; c++ {
		for h := 0; h < height; h++ {
			srcBase := (c*height + h) * srcFrames
			dstBase := (c*height + h) * dstFrames
			copy(dst[dstBase:dstBase+srcFrames], src[srcBase:srcBase+srcFrames])
		}
	}
}

// sliceLatentChunk copies frames [start, start+chunkLen) of a
// [C,H,totalFrames] latent into the leading chunkLen columns of a
// [C,H,maxDecodeFrames] zero-initialized destination buffer.
func sliceLatentChunk(dst, src []float32, channels, height, totalFrames, start, chunkLen int) {
	dstFrames := len(dst) / (channels * height)
	for c := 0; c < channels; c++ {
		for h := 0; h < height; h++ {
			srcBase := (c*height+h)*totalFrames + start
			dstBase := (c*height + h) * dstFrames
			copy(dst[dstBase:dstBase+chunkLen], src[srcBase:srcBase+chunkLen])
		}
	}
}

// decodeChunk runs the latent decoder on an exactly maxDecodeFrames-wide
// latent chunk and returns the flat mel data plus its time-frame count.
func (e *Engine) decodeChunk(ctx context.Context, latent []float32, frames int) ([]float32, int, error) {
	shape := []int64{1, int64(e.cfg.LatentChannels), int64(e.cfg.LatentHeight), int64(frames)}
	tensor, err := onnx.NewTensor(latent, shape)
	if err != nil {
		return nil, 0, fmt.Errorf("build latent tensor: %w", err)
	}

	out, err := e.sessions.LatentDecoder.Run(ctx, map[string]*onnx.Tensor{"latents": tensor})
	if err != nil {
		return nil, 0, fmt.Errorf("latent decoder: %w", err)
	}
	mel, ok := out["mel_spectrogram"]
	if !ok {
		return nil, 0, fmt.Errorf("latent decoder output missing mel_spectrogram")
	}

	melShape := mel.Shape()
	data, err := onnx.ExtractFloat32(mel)
	if err != nil {
		return nil, 0, err
	}

	// A (1, 2, mel_bins, time) output carries two channels; take the first.
	if len(melShape) == 4 {
		melFrames := int(melShape[3])
		channelSize := e.cfg.MelBins * melFrames
		return data[:channelSize], melFrames, nil
	}
	if len(melShape) == 3 {
		melFrames := int(melShape[2])
		return data, melFrames, nil
	}
	return nil, 0, fmt.Errorf("unexpected latent decoder output shape %v", melShape)
}

// vocode synthesizes a waveform from a mel-spectrogram via the ADaMoSHiFiGAN
// vocoder session.
func (e *Engine) vocode(ctx context.Context, mel []float32, melFrames int) ([]float32, error) {
	tensor, err := onnx.NewTensor(mel, []int64{1, int64(e.cfg.MelBins), int64(melFrames)})
	if err != nil {
		return nil, fmt.Errorf("build mel tensor: %w", err)
	}

	out, err := e.sessions.Vocoder.Run(ctx, map[string]*onnx.Tensor{"mel_spectrogram": tensor})
	if err != nil {
		return nil, fmt.Errorf("vocoder: %w", err)
	}
	audio, ok := out["audio_values"]
	if !ok {
		return nil, fmt.Errorf("vocoder output missing audio_values")
	}
	return onnx.ExtractFloat32(audio)
}
