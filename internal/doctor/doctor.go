// Package doctor provides environment preflight checks for musicd.
package doctor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/example/musicd/internal/types"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// BackendCheck reports one backend's asset readiness as observed from an
// already-probed *backend.Registry entry.
type BackendCheck struct {
	ID     string
	Type   string
	Status types.BackendStatus
	Err    error
}

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// ORTVersion returns the loaded ONNX Runtime's version string.
	ORTVersion VersionFunc
	// Backends lists each configured backend's current status.
	Backends []BackendCheck
	// CacheDir is probed for a writable track cache root.
	CacheDir string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- ONNX runtime ---------------------------------------------------
	if cfg.ORTVersion == nil {
		fmt.Fprintf(w, "%s onnx runtime: skipped\n", PassMark)
	} else {
		ver, err := cfg.ORTVersion()
		if err != nil {
			res.fail(fmt.Sprintf("onnx runtime: %v", err))
			fmt.Fprintf(w, "%s onnx runtime: unreachable (%v)\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s onnx runtime: %s\n", PassMark, ver)
		}
	}

	// ---- backend asset readiness ----------------------------------------
	for _, b := range cfg.Backends {
		switch b.Status {
		case types.BackendReady:
			fmt.Fprintf(w, "%s backend %s (%s): ready\n", PassMark, b.ID, b.Type)
		case types.BackendDownloading, types.BackendLoading:
			fmt.Fprintf(w, "%s backend %s (%s): %s\n", PassMark, b.ID, b.Type, b.Status)
		default:
			msg := string(b.Status)
			if b.Err != nil {
				msg = b.Err.Error()
			}
			res.fail(fmt.Sprintf("backend %s: %s", b.ID, msg))
			fmt.Fprintf(w, "%s backend %s (%s): %s\n", FailMark, b.ID, b.Type, msg)
		}
	}

	// ---- track cache directory -------------------------------------------
	if cfg.CacheDir != "" {
		if err := checkWritableDir(cfg.CacheDir); err != nil {
			res.fail(fmt.Sprintf("cache dir %q: %v", cfg.CacheDir, err))
			fmt.Fprintf(w, "%s cache dir %s: %v\n", FailMark, cfg.CacheDir, err)
		} else {
			fmt.Fprintf(w, "%s cache dir: %s\n", PassMark, cfg.CacheDir)
		}
	}

	return res
}

// checkWritableDir creates dir if missing and verifies a file can be
// written into it, matching the guarantee trackcache.New depends on.
func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".musicd-doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}
