package rpc

import (
	"context"

	"github.com/example/musicd/internal/ar"
	"github.com/example/musicd/internal/diffusion"
	"github.com/example/musicd/internal/types"
)

// engine is the common shape the worker drives, hiding the AR and diffusion
// engines' distinct ProgressFunc named types and per-request parameter
// handling behind one plain signature.
type engine interface {
	Generate(ctx context.Context, req types.GenerateRequest, cancelled func() bool, progress func(current, total int)) ([]float32, int, error)
}

// arGenerator is satisfied by *ar.Engine; declared separately so tests can
// substitute a fake without touching the ar package.
type arGenerator interface {
	Generate(ctx context.Context, prompt string, durationSec int, seed uint64, cancelled func() bool, progress ar.ProgressFunc) ([]float32, int, error)
}

// diffusionGenerator is satisfied by *diffusion.Engine.
type diffusionGenerator interface {
	Generate(ctx context.Context, prompt string, durationSec int, seed uint64, cancelled func() bool, progress diffusion.ProgressFunc) ([]float32, int, error)
	WithRequestConfig(steps int, scheduler diffusion.SchedulerType, guidanceScale float64) (*diffusion.Engine, error)
}

type arEngine struct{ e arGenerator }

func (a arEngine) Generate(ctx context.Context, req types.GenerateRequest, cancelled func() bool, progress func(current, total int)) ([]float32, int, error) {
	var pf ar.ProgressFunc
	if progress != nil {
		pf = ar.ProgressFunc(progress)
	}
	return a.e.Generate(ctx, req.Prompt, req.DurationSec, req.Seed, cancelled, pf)
}

type diffusionEngine struct{ e diffusionGenerator }

func (d diffusionEngine) Generate(ctx context.Context, req types.GenerateRequest, cancelled func() bool, progress func(current, total int)) ([]float32, int, error) {
	scheduler, ok := diffusion.ParseSchedulerType(req.Scheduler)
	if !ok {
		scheduler = diffusion.SchedulerEuler
	}
	e, err := d.e.WithRequestConfig(req.InferenceSteps, scheduler, req.GuidanceScale)
	if err != nil {
		return nil, 0, err
	}
	var pf diffusion.ProgressFunc
	if progress != nil {
		pf = diffusion.ProgressFunc(progress)
	}
	return e.Generate(ctx, req.Prompt, req.DurationSec, req.Seed, cancelled, pf)
}
