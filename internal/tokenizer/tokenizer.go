// Package tokenizer provides text tokenization shared by both generation
// backends. Both the AR backend's text encoder and the diffusion backend's
// UMT5 text encoder consume SentencePiece vocabularies, so a single
// implementation serves either, pointed at a different .model file.
package tokenizer

// Tokenizer encodes text into token IDs plus a same-length attention mask,
// the pair both backends' text-encoder ONNX graphs expect as input.
type Tokenizer interface {
	Encode(text string) (ids []int64, mask []int64, err error)
}
