package audio

// Hook is a post-processing stage applied to a generated sample buffer
// before it is written to the cache, e.g. PeakNormalize or a fade.
type Hook func(samples []float32) []float32

// ApplyHooks runs hooks over samples in order, threading each hook's output
// into the next.
func ApplyHooks(samples []float32, hooks ...Hook) []float32 {
	out := samples
	for _, hook := range hooks {
		out = hook(out)
	}

	return out
}
