package diffusion

import mathrand "math/rand/v2"

// PingPongScheduler is the stochastic SDE integrator: one denoiser
// evaluation per step, with freshly sampled Gaussian noise re-injected at
// each step's target sigma. No omega mean-shift is applied.
type PingPongScheduler struct {
	numSteps    int
	sigmas      []float32
	timesteps   []float32
	currentStep int
	rng         *mathrand.Rand
}

// NewPingPongScheduler builds a PingPong scheduler for numSteps inference
// steps, with noise reproducible across runs sharing the same seed.
func NewPingPongScheduler(numSteps int, seed uint64) *PingPongScheduler {
	sigmas, timesteps := computeFlowMatchingSchedule(numSteps, defaultShift)
	return &PingPongScheduler{
		numSteps:  numSteps,
		sigmas:    sigmas,
		timesteps: timesteps,
		rng:       newSeededRand(seed),
	}
}

func (s *PingPongScheduler) Sigma() float32    { return s.sigmas[s.currentStep] }
func (s *PingPongScheduler) Timestep() float32 { return s.timesteps[s.currentStep] }
func (s *PingPongScheduler) CurrentStep() int  { return s.currentStep }
func (s *PingPongScheduler) NumSteps() int     { return s.numSteps }
func (s *PingPongScheduler) UserStep() int     { return s.currentStep }
func (s *PingPongScheduler) UserNumSteps() int { return s.numSteps }
func (s *PingPongScheduler) IsDone() bool      { return s.currentStep >= s.numSteps }

func (s *PingPongScheduler) RequiresTwoEvaluations() bool { return false }

// Step denoises to an estimate of the clean latent, then re-noises it
// towards sigmaNext with a fresh Gaussian draw: this is what makes PingPong
// stochastic rather than an ODE solver like Euler/Heun.
func (s *PingPongScheduler) Step(latent, modelOutput []float32) []float32 {
	sigma := s.Sigma()
	sigmaNext := s.sigmas[s.currentStep+1]

	denoised := make([]float32, len(latent))
	for i := range denoised {
		denoised[i] = latent[i] - modelOutput[i]*sigma
	}

	next := make([]float32, len(denoised))
	for i := range next {
		noise := float32(s.rng.NormFloat64())
		next[i] = denoised[i]*(1-sigmaNext) + noise*sigmaNext
	}

	s.currentStep++
	return next
}
