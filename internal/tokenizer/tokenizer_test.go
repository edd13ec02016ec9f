package tokenizer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// modelPath returns the path to a real tokenizer model, skipping if absent.
func modelPath(t *testing.T) string {
	t.Helper()
	// Walk up from the package dir to find models/musicgen/tokenizer.model.
	dir, err := filepath.Abs(".")
	if err != nil {
		t.Fatalf("abs path: %v", err)
	}

	for {
		candidate := filepath.Join(dir, "models", "musicgen", "tokenizer.model")

		_, err = os.Stat(candidate)
		if err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
	}

	t.Skip("models/musicgen/tokenizer.model not found; skipping tokenizer tests")

	return ""
}

// ---------------------------------------------------------------------------
// NewSentencePieceTokenizer
// ---------------------------------------------------------------------------

func TestNewSentencePieceTokenizer_ValidModel(t *testing.T) {
	path := modelPath(t)

	tok, err := NewSentencePieceTokenizer(path)
	if err != nil {
		t.Fatalf("NewSentencePieceTokenizer(%q): %v", path, err)
	}

	if tok == nil {
		t.Fatal("expected non-nil tokenizer")
	}
}

func TestNewSentencePieceTokenizer_MissingFile(t *testing.T) {
	_, err := NewSentencePieceTokenizer("/nonexistent/tokenizer.model")
	if err == nil {
		t.Fatal("expected error for missing model file")
	}
}

func TestNewSentencePieceTokenizer_EmptyPath(t *testing.T) {
	_, err := NewSentencePieceTokenizer("")
	if err == nil {
		t.Fatal("expected error for empty path")
	}

	if !errors.Is(err, ErrEmptyPath) {
		t.Errorf("expected ErrEmptyPath, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Encode
// ---------------------------------------------------------------------------

func TestEncode_IDsAndMaskSameLength(t *testing.T) {
	path := modelPath(t)

	tok, err := NewSentencePieceTokenizer(path)
	if err != nil {
		t.Fatalf("NewSentencePieceTokenizer: %v", err)
	}

	ids, mask, err := tok.Encode("a slow acoustic guitar ballad with soft vocals")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if len(ids) == 0 {
		t.Fatal("Encode returned no tokens for non-empty prompt")
	}
	if len(mask) != len(ids) {
		t.Fatalf("mask length %d, want %d", len(mask), len(ids))
	}
	for i, m := range mask {
		if m != 1 {
			t.Errorf("mask[%d] = %d, want 1 (Encode applies no padding)", i, m)
		}
	}
}

func TestEncode_Deterministic(t *testing.T) {
	path := modelPath(t)

	tok, err := NewSentencePieceTokenizer(path)
	if err != nil {
		t.Fatalf("NewSentencePieceTokenizer: %v", err)
	}

	first, _, err := tok.Encode("upbeat electronic dance track with a driving bassline")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	second, _, err := tok.Encode("upbeat electronic dance track with a driving bassline")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if !equalInt64(first, second) {
		t.Errorf("Encode is not deterministic: %v != %v", first, second)
	}
}

func TestEncode_EmptyString(t *testing.T) {
	path := modelPath(t)

	tok, err := NewSentencePieceTokenizer(path)
	if err != nil {
		t.Fatalf("NewSentencePieceTokenizer: %v", err)
	}

	ids, mask, err := tok.Encode("")
	if err != nil {
		t.Fatalf("Encode(\"\") should not error: %v", err)
	}

	if len(ids) != 0 || len(mask) != 0 {
		t.Errorf("Encode(\"\") = %v, %v; want empty slices", ids, mask)
	}
}

func TestEncode_ImplementsInterface(t *testing.T) {
	path := modelPath(t)

	tok, err := NewSentencePieceTokenizer(path)
	if err != nil {
		t.Fatalf("NewSentencePieceTokenizer: %v", err)
	}
	// Verify SentencePieceTokenizer implements Tokenizer interface.
	var _ Tokenizer = tok
}

// ---------------------------------------------------------------------------
// NewSentencePieceTokenizerFromBytes
// ---------------------------------------------------------------------------

func TestNewSentencePieceTokenizerFromBytes(t *testing.T) {
	path := modelPath(t)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read model file: %v", err)
	}

	tok, err := NewSentencePieceTokenizerFromBytes(data)
	if err != nil {
		t.Fatalf("NewSentencePieceTokenizerFromBytes: %v", err)
	}

	ids, _, err := tok.Encode("test")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(ids) == 0 {
		t.Error("expected non-empty token IDs")
	}
}

func TestNewSentencePieceTokenizerFromBytes_Empty(t *testing.T) {
	if _, err := NewSentencePieceTokenizerFromBytes(nil); err == nil {
		t.Fatal("expected error for empty model bytes")
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func equalInt64(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
