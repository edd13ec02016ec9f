// Package backend tracks each generation back-end's asset readiness and
// drives the not_installed -> downloading -> loading -> ready/error
// lifecycle that get_backends and download_backend report on.
package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/example/musicd/internal/model"
	"github.com/example/musicd/internal/types"
)

// Descriptor names one back-end's identity, capability range, and required
// asset directory, independent of its current runtime status.
type Descriptor struct {
	ID             string
	Type           string
	Name           string
	MinDurationSec int
	MaxDurationSec int
	SampleRate     int
	ModelVersion   string
	AssetDir       string
}

// Backend pairs a static Descriptor with its mutable runtime status.
type Backend struct {
	Descriptor
	mu     sync.Mutex
	status types.BackendStatus
	err    error
}

// Status returns the current lifecycle state.
func (b *Backend) Status() types.BackendStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *Backend) setStatus(s types.BackendStatus) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
}

func (b *Backend) setError(err error) {
	b.mu.Lock()
	b.status = types.BackendError
	b.err = err
	b.mu.Unlock()
}

// LastError returns the error that put the backend into BackendError, if any.
func (b *Backend) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// ToDescriptor renders the RPC-facing snapshot for get_backends.
func (b *Backend) ToDescriptor() types.BackendDescriptor {
	return types.BackendDescriptor{
		Type:           b.Type,
		Name:           b.Name,
		Status:         b.Status(),
		MinDurationSec: b.MinDurationSec,
		MaxDurationSec: b.MaxDurationSec,
		SampleRate:     b.SampleRate,
		ModelVersion:   b.ModelVersion,
	}
}

// Registry holds every configured back-end, keyed by id ("musicgen",
// "ace_step"), and probes their asset directories at construction.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*Backend
	order    []string
}

// New builds a Registry from musicgenDir/aceStepDir, probing each
// directory's required files immediately so Status() is accurate before
// any RPC traffic arrives.
func New(musicgenDir, aceStepDir string) *Registry {
	r := &Registry{backends: make(map[string]*Backend)}

	r.register(&Backend{Descriptor: Descriptor{
		ID: "musicgen", Type: "ar", Name: "MusicGen (autoregressive)",
		MinDurationSec: 5, MaxDurationSec: 120, SampleRate: 32000,
		ModelVersion: "musicgen-onnx-1", AssetDir: musicgenDir,
	}})
	r.register(&Backend{Descriptor: Descriptor{
		ID: "ace_step", Type: "diffusion", Name: "ACE-Step (diffusion)",
		MinDurationSec: 5, MaxDurationSec: 240, SampleRate: 48000,
		ModelVersion: "ace-step-onnx-1", AssetDir: aceStepDir,
	}})

	for _, id := range r.order {
		r.backends[id].setStatus(r.probe(r.backends[id]))
	}

	return r
}

func (r *Registry) register(b *Backend) {
	r.backends[b.ID] = b
	r.order = append(r.order, b.ID)
}

// probe reports not_installed or ready based on whether every file
// RequiredGraphs (plus the tokenizer and session manifest) names is present
// in the back-end's asset directory.
func (r *Registry) probe(b *Backend) types.BackendStatus {
	graphs, err := model.RequiredGraphs(b.ID)
	if err != nil {
		return types.BackendNotInstalled
	}

	manifestPath := filepath.Join(b.AssetDir, "manifest.json")
	if _, err := os.Stat(manifestPath); err != nil {
		return types.BackendNotInstalled
	}
	if _, err := os.Stat(filepath.Join(b.AssetDir, "tokenizer.model")); err != nil {
		return types.BackendNotInstalled
	}

	graphFiles, err := readManifestFilenames(manifestPath)
	if err != nil {
		return types.BackendNotInstalled
	}

	for _, name := range graphs {
		fn, ok := graphFiles[name]
		if !ok {
			return types.BackendNotInstalled
		}
		if _, err := os.Stat(filepath.Join(b.AssetDir, fn)); err != nil {
			return types.BackendNotInstalled
		}
	}

	return types.BackendReady
}

// Get returns the named backend, or nil if unknown.
func (r *Registry) Get(id string) *Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends[id]
}

// List returns every registered backend's current descriptor, in
// registration order.
func (r *Registry) List() []types.BackendDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.BackendDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.backends[id].ToDescriptor())
	}
	return out
}

// ProgressFunc reports download progress for a single component (file)
// within a backend's asset set, plus the overall fraction across all of
// that backend's files.
type ProgressFunc func(component string, componentPercent, overallPercent float64, bytesDownloaded, bytesTotal int64)

// Download transitions id to downloading, fetches its pinned manifest (with
// Range-resumable per-file GETs), and transitions to ready or error. A
// backend already downloading or ready is a no-op returning
// (started=false, alreadyInstalled=...).
func (r *Registry) Download(ctx context.Context, id, token string, progress ProgressFunc) (started, alreadyInstalled bool, err error) {
	b := r.Get(id)
	if b == nil {
		return false, false, fmt.Errorf("unknown backend %q", id)
	}

	switch b.Status() {
	case types.BackendReady:
		return false, true, nil
	case types.BackendDownloading, types.BackendLoading:
		return false, false, nil
	}

	b.setStatus(types.BackendDownloading)

	manifest, merr := model.PinnedManifest(id)
	if merr != nil {
		b.setError(merr)
		return true, false, merr
	}

	sizes, total := fetchTotalSizes(ctx, manifest)

	var fileDone int64
	downloadErr := model.Download(model.DownloadOptions{
		Backend: id,
		OutDir:  b.AssetDir,
		Token:   token,
		Progress: func(filename string, written, fileTotal int64) {
			if progress == nil {
				return
			}
			if fileTotal <= 0 {
				fileTotal = sizes[filename]
			}
			componentPct := 0.0
			if fileTotal > 0 {
				componentPct = 100 * float64(written) / float64(fileTotal)
			}
			overallBytes := fileDone + written
			overallPct := 0.0
			if total > 0 {
				overallPct = 100 * float64(overallBytes) / float64(total)
			}
			progress(filename, componentPct, overallPct, overallBytes, total)
		},
	})
	if downloadErr != nil {
		b.setError(downloadErr)
		return true, false, downloadErr
	}

	b.setStatus(r.probe(b))
	if b.Status() != types.BackendReady {
		err := fmt.Errorf("download completed but required assets still missing for %q", id)
		b.setError(err)
		return true, false, err
	}

	return true, false, nil
}

// SetLoading marks a backend mid-ONNX-session-load, between a ready asset
// probe and the first successful inference call.
func (r *Registry) SetLoading(id string) {
	if b := r.Get(id); b != nil {
		b.setStatus(types.BackendLoading)
	}
}

// SetReady marks a backend's session set as successfully loaded.
func (r *Registry) SetReady(id string) {
	if b := r.Get(id); b != nil {
		b.setStatus(types.BackendReady)
	}
}

// SetError records a load/inference failure against a backend.
func (r *Registry) SetError(id string, err error) {
	if b := r.Get(id); b != nil {
		b.setError(err)
	}
}
