//go:build integration

package onnx

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/musicd/internal/config"
)

// ortLibPath returns the ORT library path, skipping if unavailable.
func ortLibPath(t *testing.T) string {
	t.Helper()
	info, err := DetectRuntime(config.RuntimeConfig{})
	if err != nil {
		t.Skipf("ONNX Runtime library not detected: %v", err)
	}
	return info.LibraryPath
}

// identitySession returns a Session pointing at the testdata identity model.
// The identity_float32.onnx uses input name "x" and output name "y" with
// shape [1, 4] float32, as defined in internal/model/testdata/identity_manifest.json.
func identitySession(t *testing.T) Session {
	t.Helper()
	return Session{
		Name: "identity",
		Path: filepath.Join("..", "model", "testdata", "identity_float32.onnx"),
		Inputs: []NodeInfo{
			{Name: "x", DType: "float32", Shape: []any{float64(1), float64(4)}},
		},
		Outputs: []NodeInfo{
			{Name: "y", DType: "float32", Shape: []any{float64(1), float64(4)}},
		},
	}
}

// TestRunnerIntegration_RoundTrip verifies that Runner can load the identity
// ONNX model and execute an inference pass with float32 tensors.
func TestRunnerIntegration_RoundTrip(t *testing.T) {
	libPath := ortLibPath(t)

	runner, err := NewRunner(identitySession(t), RunnerConfig{
		LibraryPath: libPath,
		APIVersion:  23,
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	defer runner.Close()

	want := []float32{1.5, 2.5, 3.5, 4.5}
	input, err := NewTensor(want, []int64{1, 4})
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}

	outputs, err := runner.Run(context.Background(), map[string]*Tensor{"x": input})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	out, ok := outputs["y"]
	if !ok {
		t.Fatalf("missing 'y' key in results; got keys: %v", mapKeys(outputs))
	}

	got, err := ExtractFloat32(out)
	if err != nil {
		t.Fatalf("ExtractFloat32: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("output length %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("output[%d] = %f, want %f", i, got[i], w)
		}
	}
}

// TestRunnerIntegration_Int64 verifies that Runner handles int64 tensors correctly.
func TestRunnerIntegration_Int64(t *testing.T) {
	// The identity_float32.onnx only supports float32; this test verifies that
	// passing int64 is properly rejected with a clear error (not a panic).
	libPath := ortLibPath(t)

	runner, err := NewRunner(identitySession(t), RunnerConfig{
		LibraryPath: libPath,
		APIVersion:  23,
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	defer runner.Close()

	intInput, err := NewTensor([]int64{1, 2, 3, 4}, []int64{1, 4})
	if err != nil {
		t.Fatalf("NewTensor int64: %v", err)
	}

	// Expect an error since the model expects float32 input.
	_, err = runner.Run(context.Background(), map[string]*Tensor{"x": intInput})
	if err == nil {
		t.Fatal("expected error running int64 tensor against float32-only model; got nil")
	}
	t.Logf("correctly rejected int64 input: %v", err)
}

// TestRunnerIntegration_Close is idempotent.
func TestRunnerIntegration_Close(t *testing.T) {
	libPath := ortLibPath(t)

	runner, err := NewRunner(identitySession(t), RunnerConfig{
		LibraryPath: libPath,
		APIVersion:  23,
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	runner.Close()
	runner.Close() // must not panic
}

// TestSessionManagerIntegration_LoadAndRun verifies that a session manifest
// built over the identity model yields a runnable graph through
// LoadSessionManager, the path real backends use to get their runners.
func TestSessionManagerIntegration_LoadAndRun(t *testing.T) {
	libPath := ortLibPath(t)

	tmp := t.TempDir()
	manifestPath := writeTestManifest(t, tmp)

	sm, err := LoadSessionManager(t.Name(), manifestPath)
	if err != nil {
		t.Fatalf("LoadSessionManager: %v", err)
	}

	meta, ok := sm.Session("identity")
	if !ok {
		t.Fatal("expected 'identity' session in manifest")
	}

	runner, err := NewRunner(meta, RunnerConfig{LibraryPath: libPath, APIVersion: 23})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	defer runner.Close()

	// Execute a round-trip through the runner. The underlying
	// identity_float32.onnx uses shape [1, 4] and names "x"/"y" regardless of
	// what writeTestManifest declares in the manifest metadata.
	want := []float32{7.0, 8.0, 9.0, 10.0}
	input, err := NewTensor(want, []int64{1, 4})
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}

	outputs, err := runner.Run(context.Background(), map[string]*Tensor{"x": input})
	if err != nil {
		t.Fatalf("runner.Run: %v", err)
	}

	out, ok := outputs["y"]
	if !ok {
		t.Fatalf("missing 'y' in results; keys: %v", mapKeys(outputs))
	}
	got, err := ExtractFloat32(out)
	if err != nil {
		t.Fatalf("ExtractFloat32: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("output length %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("output[%d] = %f, want %f", i, got[i], w)
		}
	}
}

func writeTestManifest(t *testing.T, tmp string) string {
	t.Helper()

	src := filepath.Join("..", "model", "testdata", "identity_float32.onnx")
	dst := filepath.Join(tmp, "identity_float32.onnx")
	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("read identity model: %v", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		t.Fatalf("copy identity model: %v", err)
	}

	manifest := `{"graphs":[{"name":"identity","filename":"identity_float32.onnx","inputs":[{"name":"x","dtype":"float32","shape":[1,4]}],"outputs":[{"name":"y","dtype":"float32","shape":[1,4]}]}]}`
	manifestPath := filepath.Join(tmp, "manifest.json")
	if err := os.WriteFile(manifestPath, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return manifestPath
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
