package doctor_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/musicd/internal/doctor"
	"github.com/example/musicd/internal/types"
)

func TestRun_AllChecksPass(t *testing.T) {
	cfg := doctor.Config{
		ORTVersion: func() (string, error) { return "1.17.0", nil },
		Backends: []doctor.BackendCheck{
			{ID: "musicgen", Type: "ar", Status: types.BackendReady},
			{ID: "ace_step", Type: "diffusion", Status: types.BackendReady},
		},
		CacheDir: t.TempDir(),
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if result.Failed() {
		t.Errorf("expected all checks to pass; failures: %v", result.Failures())
	}
	if !strings.Contains(out.String(), "onnx runtime") {
		t.Error("output should mention onnx runtime")
	}
}

func TestRun_ORTUnreachableFails(t *testing.T) {
	cfg := doctor.Config{
		ORTVersion: func() (string, error) { return "", errUnreachable },
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !result.Failed() {
		t.Fatal("expected failure when ONNX runtime is unreachable")
	}
	if !hasFailureContaining(result.Failures(), "onnx runtime") {
		t.Errorf("expected failure mentioning onnx runtime, got: %v", result.Failures())
	}
}

func TestRun_BackendNotInstalledFails(t *testing.T) {
	cfg := doctor.Config{
		Backends: []doctor.BackendCheck{
			{ID: "ace_step", Type: "diffusion", Status: types.BackendNotInstalled},
		},
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !result.Failed() {
		t.Fatal("expected failure for a not-installed backend")
	}
	if !hasFailureContaining(result.Failures(), "ace_step") {
		t.Errorf("expected failure mentioning ace_step, got: %v", result.Failures())
	}
}

func TestRun_BackendDownloadingPasses(t *testing.T) {
	cfg := doctor.Config{
		Backends: []doctor.BackendCheck{
			{ID: "musicgen", Type: "ar", Status: types.BackendDownloading},
		},
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if result.Failed() {
		t.Errorf("expected downloading backend to pass with an in-progress note; failures: %v", result.Failures())
	}
	if !strings.Contains(out.String(), "downloading") {
		t.Errorf("output should mention downloading status, got:\n%s", out.String())
	}
}

func TestRun_BackendErrorFailsWithUnderlyingMessage(t *testing.T) {
	cfg := doctor.Config{
		Backends: []doctor.BackendCheck{
			{ID: "musicgen", Type: "ar", Status: types.BackendError, Err: errUnreachable},
		},
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !result.Failed() {
		t.Fatal("expected failure for an errored backend")
	}
	if !hasFailureContaining(result.Failures(), errUnreachable.Error()) {
		t.Errorf("expected failure to surface the underlying error, got: %v", result.Failures())
	}
}

func TestRun_CacheDirUnwritableFails(t *testing.T) {
	// A regular file in the path makes the cache dir uncreatable, even as root.
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker file: %v", err)
	}
	cfg := doctor.Config{
		CacheDir: filepath.Join(blocker, "cache"),
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !result.Failed() {
		t.Fatal("expected failure for an unwritable cache dir")
	}
	if !hasFailureContaining(result.Failures(), "cache dir") {
		t.Errorf("expected failure mentioning cache dir, got: %v", result.Failures())
	}
}

func TestRun_NoORTVersionSkips(t *testing.T) {
	var out strings.Builder
	result := doctor.Run(doctor.Config{}, &out)

	if result.Failed() {
		t.Errorf("expected no failures with an empty config, got: %v", result.Failures())
	}
	if !strings.Contains(out.String(), "onnx runtime: skipped") {
		t.Fatalf("expected onnx runtime skipped output, got:\n%s", out.String())
	}
}

func TestRun_OutputContainsPassAndFailMarkers(t *testing.T) {
	cfg := doctor.Config{
		ORTVersion: func() (string, error) { return "", errUnreachable },
		Backends: []doctor.BackendCheck{
			{ID: "musicgen", Type: "ar", Status: types.BackendReady},
		},
	}

	var out strings.Builder
	doctor.Run(cfg, &out)

	body := out.String()
	if !strings.Contains(body, doctor.PassMark) {
		t.Errorf("output missing pass marker %q:\n%s", doctor.PassMark, body)
	}
	if !strings.Contains(body, doctor.FailMark) {
		t.Errorf("output missing fail marker %q:\n%s", doctor.FailMark, body)
	}
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

var errUnreachable = sentinelError("connection refused")

func hasFailureContaining(failures []string, substr string) bool {
	substr = strings.ToLower(substr)
	for _, f := range failures {
		if strings.Contains(strings.ToLower(f), substr) {
			return true
		}
	}
	return false
}
