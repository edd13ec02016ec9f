package backend

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/musicd/internal/types"
)

var errTest = errors.New("test error")

func writeFakeAssets(t *testing.T, dir string, graphs map[string]string) {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tokenizer.model"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write tokenizer: %v", err)
	}

	type graphEntry struct {
		Name     string `json:"name"`
		Filename string `json:"filename"`
	}
	var entries []graphEntry
	for name, filename := range graphs {
		entries = append(entries, graphEntry{Name: name, Filename: filename})
		if err := os.WriteFile(filepath.Join(dir, filename), []byte("onnx"), 0o644); err != nil {
			t.Fatalf("write graph %s: %v", filename, err)
		}
	}

	data, err := json.Marshal(map[string]any{"graphs": entries})
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), data, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func TestNew_NotInstalledWhenAssetsMissing(t *testing.T) {
	musicgenDir := filepath.Join(t.TempDir(), "musicgen")
	aceStepDir := filepath.Join(t.TempDir(), "ace_step")

	r := New(musicgenDir, aceStepDir)

	mg := r.Get("musicgen")
	if mg == nil {
		t.Fatal("expected musicgen backend registered")
	}
	if mg.Status() != types.BackendNotInstalled {
		t.Errorf("status = %v, want not_installed", mg.Status())
	}
}

func TestNew_ReadyWhenAllRequiredGraphsPresent(t *testing.T) {
	musicgenDir := filepath.Join(t.TempDir(), "musicgen")
	aceStepDir := filepath.Join(t.TempDir(), "ace_step")

	writeFakeAssets(t, musicgenDir, map[string]string{
		"text_encoder":        "text_encoder.onnx",
		"decoder_first_step":  "decoder_first_step.onnx",
		"decoder_with_past":   "decoder_with_past.onnx",
		"codec_decoder":       "codec_decoder.onnx",
	})

	r := New(musicgenDir, aceStepDir)

	mg := r.Get("musicgen")
	if mg.Status() != types.BackendReady {
		t.Errorf("status = %v, want ready", mg.Status())
	}

	as := r.Get("ace_step")
	if as.Status() != types.BackendNotInstalled {
		t.Errorf("ace_step status = %v, want not_installed (assets absent)", as.Status())
	}
}

func TestList_ReturnsBothBackendsInOrder(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "musicgen"), filepath.Join(t.TempDir(), "ace_step"))

	descs := r.List()
	if len(descs) != 2 {
		t.Fatalf("len = %d, want 2", len(descs))
	}
	if descs[0].Type != "ar" || descs[1].Type != "diffusion" {
		t.Errorf("unexpected ordering: %+v", descs)
	}
}

func TestGet_UnknownReturnsNil(t *testing.T) {
	r := New(t.TempDir(), t.TempDir())
	if r.Get("nonexistent") != nil {
		t.Error("expected nil for unknown backend id")
	}
}

func TestDownload_AlreadyInstalledIsNoOp(t *testing.T) {
	musicgenDir := filepath.Join(t.TempDir(), "musicgen")
	writeFakeAssets(t, musicgenDir, map[string]string{
		"text_encoder":       "text_encoder.onnx",
		"decoder_first_step": "decoder_first_step.onnx",
		"decoder_with_past":  "decoder_with_past.onnx",
		"codec_decoder":      "codec_decoder.onnx",
	})

	r := New(musicgenDir, t.TempDir())

	started, alreadyInstalled, err := r.Download(context.Background(), "musicgen", "", nil)
	if err != nil {
		t.Fatalf("Download error = %v", err)
	}
	if started {
		t.Error("started = true, want false for already-ready backend")
	}
	if !alreadyInstalled {
		t.Error("alreadyInstalled = false, want true")
	}
}

func TestDownload_UnknownBackend(t *testing.T) {
	r := New(t.TempDir(), t.TempDir())
	_, _, err := r.Download(context.Background(), "nonexistent", "", nil)
	if err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestSetLoadingReadyError_Transitions(t *testing.T) {
	r := New(t.TempDir(), t.TempDir())

	r.SetLoading("musicgen")
	if r.Get("musicgen").Status() != types.BackendLoading {
		t.Fatal("expected loading status")
	}

	r.SetReady("musicgen")
	if r.Get("musicgen").Status() != types.BackendReady {
		t.Fatal("expected ready status")
	}

	r.SetError("musicgen", errTest)
	b := r.Get("musicgen")
	if b.Status() != types.BackendError {
		t.Fatal("expected error status")
	}
	if b.LastError() != errTest {
		t.Errorf("LastError = %v, want %v", b.LastError(), errTest)
	}
}
