package diffusion

// HeunScheduler is the deterministic 2nd-order predictor-corrector
// integrator: two denoiser evaluations per user-visible step (one for the
// final step), alternating
// between a first-order predictor and a second-order corrector over an
// interleaved sigma/timestep sequence.
type HeunScheduler struct {
	numSteps    int
	omega       float32
	sigmas      []float32
	timesteps   []float32
	currentStep int

	firstOrder     bool
	dt             float32
	prevDerivative []float32
	prevSample     []float32
}

// NewHeunScheduler builds a Heun scheduler for numUserSteps user-visible
// steps (2*numUserSteps-1 internal evaluations: the final step, which lands
// on sigma 0, runs the predictor only), using ACE-Step's default shift and
// omega parameters.
func NewHeunScheduler(numUserSteps int) *HeunScheduler {
	baseSigmas, _ := computeFlowMatchingSchedule(numUserSteps, defaultShift)

	// Interleave: sigmas[0], then each interior base sigma doubled, then a
	// trailing 0 sentinel. This gives the predictor and corrector passes of
	// step i the same sigma, while step i+1's predictor starts from the
	// corrector's sigma.
	sigmas := make([]float32, 0, 2*numUserSteps)
	sigmas = append(sigmas, baseSigmas[0])
	for i := 1; i < len(baseSigmas)-1; i++ {
		sigmas = append(sigmas, baseSigmas[i], baseSigmas[i])
	}
	sigmas = append(sigmas, 0)

	timesteps := make([]float32, len(sigmas)-1)
	for i := range timesteps {
		timesteps[i] = sigmas[i] * numTrainTimesteps
	}

	return &HeunScheduler{
		numSteps:   numUserSteps,
		omega:      defaultOmega,
		sigmas:     sigmas,
		timesteps:  timesteps,
		firstOrder: true,
	}
}

func (s *HeunScheduler) Sigma() float32 { return s.sigmas[s.currentStep] }

func (s *HeunScheduler) Timestep() float32 {
	i := s.currentStep
	if i >= len(s.timesteps) {
		i = len(s.timesteps) - 1
	}
	return s.timesteps[i]
}
func (s *HeunScheduler) CurrentStep() int  { return s.currentStep }
func (s *HeunScheduler) NumSteps() int     { return len(s.sigmas) - 1 }
func (s *HeunScheduler) UserStep() int     { return s.currentStep / 2 }
func (s *HeunScheduler) UserNumSteps() int { return s.numSteps }
func (s *HeunScheduler) IsDone() bool      { return s.currentStep >= len(s.sigmas)-1 }

func (s *HeunScheduler) RequiresTwoEvaluations() bool { return true }

func (s *HeunScheduler) stateInFirstOrder() bool { return s.firstOrder }

// Step alternates between a first-order predictor (which stores its
// derivative, dt, and sample for the corrector) and a second-order
// corrector that averages the predictor's and corrector's derivatives
// before advancing. Derivative is recomputed from the denoised estimate
// rather than used as modelOutput directly, so it collapses to zero at the
// terminal sigma of 0 instead of dividing by it.
func (s *HeunScheduler) Step(latent, modelOutput []float32) []float32 {
	omegaScaled := logistic(s.omega, 0.9, 1.1, 0.0, 0.1)

	if s.stateInFirstOrder() {
		sigmaHat := s.Sigma()
		sigmaNext := s.sigmas[s.currentStep+1]

		derivative := make([]float32, len(modelOutput))
		for i, v := range modelOutput {
			denoised := latent[i] - v*sigmaHat
			derivative[i] = (latent[i] - denoised) / sigmaHat
		}

		dt := sigmaNext - sigmaHat

		dx := make([]float32, len(derivative))
		for i, v := range derivative {
			dx[i] = v * dt
		}
		dxShifted := meanShift(dx, omegaScaled)

		next := make([]float32, len(latent))
		for i := range next {
			next[i] = latent[i] + dxShifted[i]
		}

		s.dt = dt
		s.prevDerivative = derivative
		s.prevSample = latent
		s.firstOrder = false
		s.currentStep++
		return next
	}

	sigmaNext := s.sigmas[s.currentStep]

	derivative := make([]float32, len(modelOutput))
	if sigmaNext > 0 {
		for i, v := range modelOutput {
			denoised := latent[i] - v*sigmaNext
			derivative[i] = (latent[i] - denoised) / sigmaNext
		}
	}

	avgDerivative := make([]float32, len(derivative))
	for i := range avgDerivative {
		avgDerivative[i] = (s.prevDerivative[i] + derivative[i]) / 2
	}

	dx := make([]float32, len(avgDerivative))
	for i, v := range avgDerivative {
		dx[i] = v * s.dt
	}
	dxShifted := meanShift(dx, omegaScaled)

	next := make([]float32, len(s.prevSample))
	for i := range next {
		next[i] = s.prevSample[i] + dxShifted[i]
	}

	s.firstOrder = true
	s.currentStep++
	return next
}
