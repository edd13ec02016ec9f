package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/musicd/internal/ar"
	"github.com/example/musicd/internal/audio"
	"github.com/example/musicd/internal/rpcerr"
	"github.com/example/musicd/internal/types"
)

// progressThrottle tracks whether a new generation_progress notification is
// due: at most one per ~5% increment or 200ms, whichever comes first,
// matching the download_progress throttle in §4.6.
type progressThrottle struct {
	lastPercent int
	lastEmit    time.Time
	started     bool
}

func (t *progressThrottle) due(percent int) bool {
	if !t.started {
		t.started = true
		t.lastPercent = percent
		t.lastEmit = time.Now()
		return true
	}
	if percent-t.lastPercent >= 5 || time.Since(t.lastEmit) >= 200*time.Millisecond {
		t.lastPercent = percent
		t.lastEmit = time.Now()
		return true
	}
	return false
}

// runWorker drains the job queue serially until stopCh closes. It is the
// single dedicated inference worker described in §5: the RPC reader and
// writer goroutines never block on a session Run call.
func (s *Server) runWorker(stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		job := s.queue.PopNext()
		if job == nil {
			select {
			case <-s.jobSignal:
				continue
			case <-stopCh:
				return
			}
		}
		s.setActiveJob(job)
		s.processJob(job)
		s.setActiveJob(nil)
	}
}

func (s *Server) processJob(job *types.Job) {
	backendID := job.Request.Backend
	eng, ok := s.engines[backendID]
	if !ok {
		job.SetFailed(rpcerr.ModelLoadFailed.Kind(), fmt.Sprintf("backend %q has no loaded engine", backendID))
		s.cache.Remove(job.TrackID)
		s.emitError(job, rpcerr.ModelLoadFailed, job.ErrorMsg)
		return
	}

	desc := s.registry.Get(backendID)
	totalSteps := job.Request.InferenceSteps
	if totalSteps <= 0 {
		totalSteps = ar.TotalSteps(job.Request.DurationSec)
	}
	job.SetGenerating(totalSteps)

	var throttle progressThrottle
	start := time.Now()

	ctx := context.Background()
	samples, sampleRate, err := eng.Generate(ctx, job.Request, job.Cancelled, func(current, total int) {
		job.CurrentStep = current
		job.TotalSteps = total
		percent := job.Percent()
		if throttle.due(percent) {
			s.notify(newNotification(notifyGenerationProgress, progressNotification{
				TrackID:     job.TrackID,
				Percent:     percent,
				CurrentStep: current,
				TotalSteps:  total,
				ETASec:      estimateETA(start, current, total),
			}))
		}
	})

	if job.Cancelled() || err == context.Canceled {
		job.SetCancelled()
		s.cache.Remove(job.TrackID)
		s.notify(newNotification(notifyGenerationCancelled, cancelledNotification{
			TrackID:    job.TrackID,
			AtStep:     job.CurrentStep,
			TotalSteps: job.TotalSteps,
		}))
		return
	}
	if err != nil {
		job.SetFailed(rpcerr.ModelInferenceFailed.Kind(), err.Error())
		s.cache.Remove(job.TrackID)
		s.emitError(job, rpcerr.ModelInferenceFailed, err.Error())
		return
	}

	outputRate := sampleRate
	if desc != nil && desc.SampleRate != sampleRate {
		samples = audio.Resample(samples, sampleRate, desc.SampleRate)
		outputRate = desc.SampleRate
	}

	wav, err := audio.EncodeWAV(samples, outputRate)
	if err != nil {
		job.SetFailed(rpcerr.InternalError.Kind(), err.Error())
		s.cache.Remove(job.TrackID)
		s.emitError(job, rpcerr.InternalError, err.Error())
		return
	}

	generationTime := time.Since(start).Seconds()
	modelVersion := ""
	if desc != nil {
		modelVersion = desc.ModelVersion
	}
	track := types.Track{
		TrackID:           job.TrackID,
		Prompt:            job.Request.Prompt,
		DurationSec:       float64(job.Request.DurationSec),
		SampleRate:        outputRate,
		Seed:              job.Request.Seed,
		Backend:           backendID,
		ModelVersion:      modelVersion,
		GenerationTimeSec: generationTime,
		CreatedAt:         time.Now(),
	}
	if err := s.cache.Put(track, wav); err != nil {
		job.SetFailed(rpcerr.InternalError.Kind(), err.Error())
		s.emitError(job, rpcerr.InternalError, err.Error())
		return
	}

	job.SetComplete()
	s.notify(newNotification(notifyGenerationComplete, completeNotification{
		TrackID:           job.TrackID,
		Path:              s.cache.TrackPath(job.TrackID),
		DurationSec:       track.DurationSec,
		SampleRate:        outputRate,
		GenerationTimeSec: generationTime,
		Backend:           backendID,
		ModelVersion:      modelVersion,
	}))
}

func (s *Server) emitError(job *types.Job, code rpcerr.Code, message string) {
	s.logger.Error("generation failed", slog.String("track_id", job.TrackID), slog.String("code", code.Kind()), slog.String("error", message))
	s.notify(newNotification(notifyGenerationError, errorNotification{
		TrackID: job.TrackID,
		Code:    code.Kind(),
		Message: message,
	}))
}

func estimateETA(start time.Time, current, total int) float64 {
	if current <= 0 || total <= 0 {
		return 0
	}
	elapsed := time.Since(start).Seconds()
	perStep := elapsed / float64(current)
	remaining := float64(total-current) * perStep
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

type progressNotification struct {
	TrackID     string  `json:"track_id"`
	Percent     int     `json:"percent"`
	CurrentStep int     `json:"current_step"`
	TotalSteps  int     `json:"total_steps"`
	ETASec      float64 `json:"eta_sec"`
}

type completeNotification struct {
	TrackID           string  `json:"track_id"`
	Path              string  `json:"path"`
	DurationSec       float64 `json:"duration_sec"`
	SampleRate        int     `json:"sample_rate"`
	GenerationTimeSec float64 `json:"generation_time_sec"`
	Backend           string  `json:"backend"`
	ModelVersion      string  `json:"model_version"`
}

type errorNotification struct {
	TrackID string `json:"track_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type cancelledNotification struct {
	TrackID    string `json:"track_id"`
	AtStep     int    `json:"at_step"`
	TotalSteps int    `json:"total_steps"`
}

type downloadProgressNotification struct {
	Backend          string  `json:"backend"`
	Component        string  `json:"component"`
	ComponentPercent float64 `json:"component_percent"`
	OverallPercent   float64 `json:"overall_percent"`
	BytesDownloaded  int64   `json:"bytes_downloaded"`
	BytesTotal       int64   `json:"bytes_total"`
}
