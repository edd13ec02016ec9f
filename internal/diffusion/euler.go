package diffusion

// EulerScheduler is the deterministic flow-matching ODE integrator: one
// denoiser evaluation per step, with an omega mean-shift applied to each
// latent update for stability.
type EulerScheduler struct {
	numSteps    int
	omega       float32
	sigmas      []float32
	timesteps   []float32
	currentStep int
}

// NewEulerScheduler builds a scheduler for numSteps inference steps using
// ACE-Step's default shift (3.0) and omega (10.0) parameters.
func NewEulerScheduler(numSteps int) *EulerScheduler {
	sigmas, timesteps := computeFlowMatchingSchedule(numSteps, defaultShift)
	return &EulerScheduler{numSteps: numSteps, omega: defaultOmega, sigmas: sigmas, timesteps: timesteps}
}

func (s *EulerScheduler) Sigma() float32    { return s.sigmas[s.currentStep] }
func (s *EulerScheduler) Timestep() float32 { return s.timesteps[s.currentStep] }
func (s *EulerScheduler) CurrentStep() int  { return s.currentStep }
func (s *EulerScheduler) NumSteps() int     { return s.numSteps }
func (s *EulerScheduler) UserStep() int     { return s.currentStep }
func (s *EulerScheduler) UserNumSteps() int { return s.numSteps }
func (s *EulerScheduler) IsDone() bool      { return s.currentStep >= s.numSteps }

func (s *EulerScheduler) RequiresTwoEvaluations() bool { return false }

// Step advances the latent by dt = sigmaNext - sigma along modelOutput's
// direction, mean-shifted by the omega factor before being added back.
func (s *EulerScheduler) Step(latent, modelOutput []float32) []float32 {
	sigma := s.Sigma()
	sigmaNext := s.sigmas[s.currentStep+1]
	dt := sigmaNext - sigma

	dx := make([]float32, len(modelOutput))
	for i, v := range modelOutput {
		dx[i] = v * dt
	}

	omegaScaled := logistic(s.omega, 0.9, 1.1, 0.0, 0.1)
	dxShifted := meanShift(dx, omegaScaled)

	next := make([]float32, len(latent))
	for i := range next {
		next[i] = latent[i] + dxShifted[i]
	}

	s.currentStep++
	return next
}
