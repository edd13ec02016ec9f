package ar

import "fmt"

// Config carries the decoder architecture parameters needed for KV-cache
// shape bookkeeping and sampling, sourced from the model's own config.json
// rather than hardcoded per call site.
type Config struct {
	VocabSize         int
	NumHiddenLayers   int
	NumAttentionHeads int
	DModel            int
	DKV               int
	SampleRate        int
	PadTokenID        int64
	GuidanceScale     float64
	TopK              int
}

// DefaultConfig matches the musicgen-small architecture this backend's
// pinned ONNX export targets.
func DefaultConfig() Config {
	return Config{
		VocabSize:         2048,
		NumHiddenLayers:   24,
		NumAttentionHeads: 16,
		DModel:            1024,
		DKV:               64,
		SampleRate:        32000,
		PadTokenID:        2048,
		GuidanceScale:     3.0,
		TopK:              250,
	}
}

// Validate reports the first architectural inconsistency found, if any.
func (c Config) Validate() error {
	if c.VocabSize <= 0 {
		return fmt.Errorf("ar: vocab_size must be > 0")
	}
	if c.NumHiddenLayers <= 0 {
		return fmt.Errorf("ar: num_hidden_layers must be > 0")
	}
	if c.NumAttentionHeads <= 0 {
		return fmt.Errorf("ar: num_attention_heads must be > 0")
	}
	if c.DModel <= 0 {
		return fmt.Errorf("ar: d_model must be > 0")
	}
	if expected := c.DModel / c.NumAttentionHeads; c.DKV != expected {
		return fmt.Errorf("ar: d_kv (%d) should be d_model/num_attention_heads (%d)", c.DKV, expected)
	}
	if c.SampleRate != 32000 {
		return fmt.Errorf("ar: sample_rate must be 32000, got %d", c.SampleRate)
	}
	return nil
}
