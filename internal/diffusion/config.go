package diffusion

import "fmt"

// Config holds the ACE-Step latent diffusion architecture constants and the
// per-request defaults a generation call can override.
type Config struct {
	LatentChannels   int
	LatentHeight     int
	MelBins          int
	HopLength        int
	CompressionRatio int // DCAE downsampling factor relating latent frames to mel frames
	SampleRateNative int // sample rate out of the vocoder, before resampling
	SampleRateOutput int // sample rate written to the track cache

	InferenceSteps int
	Scheduler      SchedulerType
	GuidanceScale  float64
}

// DefaultConfig returns ACE-Step's architecture constants with SPEC defaults
// for the per-request generation parameters.
func DefaultConfig() Config {
	return Config{
		LatentChannels:   8,
		LatentHeight:     16,
		MelBins:          128,
		HopLength:        512,
		CompressionRatio: 8,
		SampleRateNative: 44100,
		SampleRateOutput: 48000,
		InferenceSteps:   60,
		Scheduler:        SchedulerEuler,
		GuidanceScale:    15.0,
	}
}

// Validate checks the config's architectural constants and per-request
// parameters are within the ranges the denoiser and scheduler require.
func (c Config) Validate() error {
	if c.LatentChannels <= 0 {
		return fmt.Errorf("diffusion: latent_channels must be positive, got %d", c.LatentChannels)
	}
	if c.LatentHeight <= 0 {
		return fmt.Errorf("diffusion: latent_height must be positive, got %d", c.LatentHeight)
	}
	if c.MelBins <= 0 {
		return fmt.Errorf("diffusion: mel_bins must be positive, got %d", c.MelBins)
	}
	if c.HopLength <= 0 {
		return fmt.Errorf("diffusion: hop_length must be positive, got %d", c.HopLength)
	}
	if c.CompressionRatio <= 0 {
		return fmt.Errorf("diffusion: compression_ratio must be positive, got %d", c.CompressionRatio)
	}
	if c.SampleRateNative != 44100 {
		return fmt.Errorf("diffusion: sample_rate_native must be 44100, got %d", c.SampleRateNative)
	}
	if c.SampleRateOutput <= 0 {
		return fmt.Errorf("diffusion: sample_rate_output must be positive, got %d", c.SampleRateOutput)
	}
	if c.InferenceSteps < 1 || c.InferenceSteps > 200 {
		return fmt.Errorf("diffusion: inference_steps must be in [1, 200], got %d", c.InferenceSteps)
	}
	if c.GuidanceScale < 1.0 || c.GuidanceScale > 30.0 {
		return fmt.Errorf("diffusion: guidance_scale must be in [1.0, 30.0], got %f", c.GuidanceScale)
	}
	if _, ok := ParseSchedulerType(string(c.Scheduler)); !ok {
		return fmt.Errorf("diffusion: unknown scheduler %q", c.Scheduler)
	}
	return nil
}

// FrameLength returns F = floor(durationSec * sampleRateNative / (hopLength * compressionRatio)),
// the number of latent frames for a requested duration.
func (c Config) FrameLength(durationSec float64) int {
	return int(durationSec * float64(c.SampleRateNative) / float64(c.HopLength*c.CompressionRatio))
}
