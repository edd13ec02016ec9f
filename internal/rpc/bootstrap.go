package rpc

import (
	"fmt"
	"path/filepath"

	"github.com/example/musicd/internal/ar"
	"github.com/example/musicd/internal/backend"
	"github.com/example/musicd/internal/config"
	"github.com/example/musicd/internal/diffusion"
	"github.com/example/musicd/internal/onnx"
	"github.com/example/musicd/internal/tokenizer"
	"github.com/example/musicd/internal/types"
)

// BuildEngines loads ONNX sessions and a tokenizer for every backend the
// registry reports ready, and wraps each into the EngineSet the Server
// drives. A backend that is not yet installed is simply absent from the
// returned set; generate requests routed to it fail with
// BACKEND_NOT_INSTALLED before ever reaching the worker.
func BuildEngines(cfg config.Config, registry *backend.Registry) (EngineSet, error) {
	engines := make(EngineSet)

	for _, desc := range registry.List() {
		if desc.Status != types.BackendReady {
			continue
		}

		b := registry.Get(backendIDForType(desc))
		if b == nil {
			continue
		}

		switch desc.Type {
		case "ar":
			eng, err := buildAREngine(cfg, b)
			if err != nil {
				registry.SetError(b.ID, err)
				return nil, fmt.Errorf("load musicgen engine: %w", err)
			}
			engines["musicgen"] = WrapAR(eng)
		case "diffusion":
			eng, err := buildDiffusionEngine(cfg, b)
			if err != nil {
				registry.SetError(b.ID, err)
				return nil, fmt.Errorf("load ace_step engine: %w", err)
			}
			engines["ace_step"] = WrapDiffusion(eng)
		}
	}

	return engines, nil
}

// backendIDForType recovers the registry key from a rendered descriptor,
// since BackendDescriptor drops the internal id field on the wire.
func backendIDForType(desc types.BackendDescriptor) string {
	if desc.Type == "ar" {
		return "musicgen"
	}
	return "ace_step"
}

func runnerFor(sm *onnx.SessionManager, graph string, rcfg onnx.RunnerConfig) (*onnx.Runner, error) {
	sess, ok := sm.Session(graph)
	if !ok {
		return nil, fmt.Errorf("manifest missing graph %q", graph)
	}
	return onnx.NewRunner(sess, rcfg)
}

func buildAREngine(cfg config.Config, b *backend.Backend) (*ar.Engine, error) {
	sm, err := onnx.LoadSessionManager(b.ID, filepath.Join(b.AssetDir, "manifest.json"))
	if err != nil {
		return nil, err
	}
	rcfg := onnx.RunnerConfig{LibraryPath: cfg.Runtime.ORTLibraryPath}

	textEncoder, err := runnerFor(sm, "text_encoder", rcfg)
	if err != nil {
		return nil, err
	}
	decoderFirstStep, err := runnerFor(sm, "decoder_first_step", rcfg)
	if err != nil {
		return nil, err
	}
	decoderWithPast, err := runnerFor(sm, "decoder_with_past", rcfg)
	if err != nil {
		return nil, err
	}
	codecDecoder, err := runnerFor(sm, "codec_decoder", rcfg)
	if err != nil {
		return nil, err
	}

	tok, err := tokenizer.NewSentencePieceTokenizer(filepath.Join(b.AssetDir, "tokenizer.model"))
	if err != nil {
		return nil, err
	}

	sessions := ar.Sessions{
		TextEncoder:      textEncoder,
		DecoderFirstStep: decoderFirstStep,
		DecoderWithPast:  decoderWithPast,
		CodecDecoder:     codecDecoder,
	}
	return ar.New(sessions, tok, ar.DefaultConfig())
}

func buildDiffusionEngine(cfg config.Config, b *backend.Backend) (*diffusion.Engine, error) {
	sm, err := onnx.LoadSessionManager(b.ID, filepath.Join(b.AssetDir, "manifest.json"))
	if err != nil {
		return nil, err
	}
	rcfg := onnx.RunnerConfig{LibraryPath: cfg.Runtime.ORTLibraryPath}

	textEncoder, err := runnerFor(sm, "text_encoder", rcfg)
	if err != nil {
		return nil, err
	}
	denoiser, err := runnerFor(sm, "denoiser", rcfg)
	if err != nil {
		return nil, err
	}
	latentDecoder, err := runnerFor(sm, "latent_decoder", rcfg)
	if err != nil {
		return nil, err
	}
	vocoder, err := runnerFor(sm, "vocoder", rcfg)
	if err != nil {
		return nil, err
	}

	tok, err := tokenizer.NewSentencePieceTokenizer(filepath.Join(b.AssetDir, "tokenizer.model"))
	if err != nil {
		return nil, err
	}

	sessions := diffusion.Sessions{
		TextEncoder:   textEncoder,
		Denoiser:      denoiser,
		LatentDecoder: latentDecoder,
		Vocoder:       vocoder,
	}

	dcfg := diffusion.DefaultConfig()
	dcfg.InferenceSteps = cfg.Backends.AceStepSteps
	if sched, ok := diffusion.ParseSchedulerType(cfg.Backends.AceStepScheduler); ok {
		dcfg.Scheduler = sched
	}
	dcfg.GuidanceScale = cfg.Backends.AceStepGuidance

	return diffusion.New(sessions, tok, dcfg)
}
