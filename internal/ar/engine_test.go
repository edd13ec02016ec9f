package ar

import (
	"context"
	"testing"

	"github.com/example/musicd/internal/onnx"
)

type fakeRunner func(ctx context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error)

func (f fakeRunner) Run(ctx context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
	return f(ctx, inputs)
}

type fakeTokenizer struct {
	ids []int64
}

func (f fakeTokenizer) Encode(text string) ([]int64, []int64, error) {
	mask := make([]int64, len(f.ids))
	for i := range mask {
		mask[i] = 1
	}
	return f.ids, mask, nil
}

const testVocab = 4

func peakedLogits(batch int) []float32 {
	data := make([]float32, batch*testVocab)
	for r := 0; r < batch; r++ {
		for v := 0; v < testVocab; v++ {
			if v == r%testVocab {
				data[r*testVocab+v] = 10
			}
		}
	}
	return data
}

func fakeDecoderOutput(t *testing.T, numLayers int, includeEncoder bool) map[string]*onnx.Tensor {
	t.Helper()

	logits, err := onnx.NewTensor(peakedLogits(2*numCodebooks), []int64{int64(2 * numCodebooks), 1, testVocab})
	if err != nil {
		t.Fatalf("build logits: %v", err)
	}
	out := map[string]*onnx.Tensor{"logits": logits}

	kvTensor, err := onnx.NewTensor([]float32{1, 2, 3, 4}, []int64{1, 4})
	if err != nil {
		t.Fatalf("build kv tensor: %v", err)
	}

	for j := 0; j < numLayers; j++ {
		out[presentName(j, "decoder", "key")] = kvTensor
		out[presentName(j, "decoder", "value")] = kvTensor
		if includeEncoder {
			out[presentName(j, "encoder", "key")] = kvTensor
			out[presentName(j, "encoder", "value")] = kvTensor
		}
	}
	return out
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	cfg := DefaultConfig()
	cfg.NumHiddenLayers = 1
	cfg.TopK = testVocab
	cfg.GuidanceScale = 1.0

	textEncoder := fakeRunner(func(ctx context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
		hidden, err := onnx.NewTensor([]float32{0.1, 0.2, 0.3, 0.4}, []int64{1, 2, 2})
		if err != nil {
			return nil, err
		}
		return map[string]*onnx.Tensor{"last_hidden_state": hidden}, nil
	})

	decoderFirst := fakeRunner(func(ctx context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
		return fakeDecoderOutput(t, cfg.NumHiddenLayers, true), nil
	})

	decoderWithPast := fakeRunner(func(ctx context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
		return fakeDecoderOutput(t, cfg.NumHiddenLayers, false), nil
	})

	codec := fakeRunner(func(ctx context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
		codes, ok := inputs["audio_codes"]
		if !ok {
			t.Fatal("codec decoder missing audio_codes input")
		}
		shape := codes.Shape()
		seqLen := int(shape[3])
		samples := make([]float32, seqLen*160)
		audio, err := onnx.NewTensor(samples, []int64{1, 1, int64(len(samples))})
		if err != nil {
			return nil, err
		}
		return map[string]*onnx.Tensor{"audio_values": audio}, nil
	})

	engine, err := New(Sessions{
		TextEncoder:      textEncoder,
		DecoderFirstStep: decoderFirst,
		DecoderWithPast:  decoderWithPast,
		CodecDecoder:     codec,
	}, fakeTokenizer{ids: []int64{5, 6, 7}}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return engine
}

func TestGenerate_ProducesExpectedFrameCountAndProgress(t *testing.T) {
	engine := newTestEngine(t)

	var steps []int
	samples, sampleRate, err := engine.Generate(context.Background(), "test prompt", 1, 42, nil, func(current, total int) {
		steps = append(steps, current)
		if total != TotalSteps(1) {
			t.Errorf("progress total = %d, want %d", total, TotalSteps(1))
		}
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	wantTotal := TotalSteps(1)
	if len(steps) != wantTotal {
		t.Errorf("progress calls = %d, want %d", len(steps), wantTotal)
	}
	for i, s := range steps {
		if s != i+1 {
			t.Errorf("steps[%d] = %d, want %d", i, s, i+1)
		}
	}

	if sampleRate != engine.cfg.SampleRate {
		t.Errorf("sampleRate = %d, want %d", sampleRate, engine.cfg.SampleRate)
	}
	if len(samples) == 0 {
		t.Error("expected non-empty samples")
	}
}

func TestGenerate_CancelledStopsEarly(t *testing.T) {
	engine := newTestEngine(t)

	calls := 0
	cancelled := func() bool {
		calls++
		return calls > 2
	}

	_, _, err := engine.Generate(context.Background(), "test prompt", 1, 1, cancelled, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestGenerate_EmptyPromptErrors(t *testing.T) {
	engine := newTestEngine(t)
	engine.tokenizer = fakeTokenizer{ids: nil}

	_, _, err := engine.Generate(context.Background(), "", 1, 1, nil, nil)
	if err == nil {
		t.Fatal("expected error for empty token sequence")
	}
}

func TestTotalSteps_RoundsUp(t *testing.T) {
	if got := TotalSteps(1); got != 50 {
		t.Errorf("TotalSteps(1) = %d, want 50", got)
	}
	if got := TotalSteps(5); got != 250 {
		t.Errorf("TotalSteps(5) = %d, want 250", got)
	}
}
