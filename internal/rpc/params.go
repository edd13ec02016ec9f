package rpc

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/example/musicd/internal/config"
	"github.com/example/musicd/internal/diffusion"
	"github.com/example/musicd/internal/rpcerr"
	"github.com/example/musicd/internal/types"
)

// generateParams is the wire shape of a generate request. Fields are
// pointers where the client may omit them, so validation can tell "absent"
// from "explicit zero value".
type generateParams struct {
	Prompt         string   `json:"prompt"`
	DurationSec    int      `json:"duration_sec"`
	Backend        string   `json:"backend"`
	Seed           *uint64  `json:"seed"`
	Priority       string   `json:"priority"`
	InferenceSteps *int     `json:"inference_steps"`
	Scheduler      string   `json:"scheduler"`
	GuidanceScale  *float64 `json:"guidance_scale"`
}

type generateResult struct {
	TrackID  string `json:"track_id"`
	Status   string `json:"status"`
	Position int    `json:"position"`
	Seed     uint64 `json:"seed"`
	Backend  string `json:"backend"`
}

type cancelParams struct {
	TrackID string `json:"track_id"`
}

type cancelResult struct {
	Cancelled     bool `json:"cancelled"`
	WasGenerating bool `json:"was_generating"`
}

type getBackendsResult struct {
	Backends       []types.BackendDescriptor `json:"backends"`
	DefaultBackend string                    `json:"default_backend"`
}

type downloadBackendParams struct {
	Backend string `json:"backend"`
}

type downloadBackendResult struct {
	Started          bool `json:"started"`
	AlreadyInstalled bool `json:"already_installed"`
}

type pingResult struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type shutdownResult struct {
	Status string `json:"status"`
}

// parseParams decodes raw into dst, translating a JSON shape error into the
// stable INVALID_PARAMS code rather than a generic parse failure — the
// envelope itself already parsed fine by the time handlers run.
func parseParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return rpcerr.Wrap(rpcerr.InvalidParams, "malformed params", err)
	}
	return nil
}

// validateGenerate checks p against the back-end-specific ranges in the
// validation table, normalizing backend/priority/scheduler along the way.
// desc carries the resolved back-end's duration bounds.
func validateGenerate(p generateParams, desc types.BackendDescriptor) (types.GenerateRequest, error) {
	promptLen := utf8.RuneCountInString(p.Prompt)
	maxPromptLen := 1000
	if desc.Type == "diffusion" {
		maxPromptLen = 512
	}
	if promptLen < 1 || promptLen > maxPromptLen {
		return types.GenerateRequest{}, rpcerr.New(rpcerr.InvalidPrompt,
			fmt.Sprintf("prompt must be 1-%d characters, got %d", maxPromptLen, promptLen))
	}
	if !utf8.ValidString(p.Prompt) {
		return types.GenerateRequest{}, rpcerr.New(rpcerr.InvalidPrompt, "prompt is not valid UTF-8")
	}

	if p.DurationSec < desc.MinDurationSec || p.DurationSec > desc.MaxDurationSec {
		return types.GenerateRequest{}, rpcerr.New(rpcerr.InvalidDuration,
			fmt.Sprintf("duration_sec must be %d-%d for backend %q, got %d",
				desc.MinDurationSec, desc.MaxDurationSec, desc.Type, p.DurationSec))
	}

	priority := types.PriorityNormal
	switch p.Priority {
	case "", string(types.PriorityNormal):
		priority = types.PriorityNormal
	case string(types.PriorityHigh):
		priority = types.PriorityHigh
	default:
		return types.GenerateRequest{}, rpcerr.New(rpcerr.InvalidParams,
			fmt.Sprintf("unknown priority %q", p.Priority))
	}

	req := types.GenerateRequest{
		Prompt:      p.Prompt,
		DurationSec: p.DurationSec,
		Priority:    priority,
	}
	if p.Seed != nil {
		req.Seed = *p.Seed
		req.HasSeed = true
	}

	if desc.Type != "diffusion" {
		req.GuidanceScale = 3.0
		return req, nil
	}

	req.InferenceSteps = 60
	if p.InferenceSteps != nil {
		if *p.InferenceSteps < 1 || *p.InferenceSteps > 200 {
			return types.GenerateRequest{}, rpcerr.New(rpcerr.InvalidInferenceSteps,
				fmt.Sprintf("inference_steps must be 1-200, got %d", *p.InferenceSteps))
		}
		req.InferenceSteps = *p.InferenceSteps
	}

	req.Scheduler = string(diffusion.SchedulerEuler)
	if p.Scheduler != "" {
		sched, ok := diffusion.ParseSchedulerType(p.Scheduler)
		if !ok {
			return types.GenerateRequest{}, rpcerr.New(rpcerr.InvalidScheduler,
				fmt.Sprintf("unknown scheduler %q", p.Scheduler))
		}
		req.Scheduler = string(sched)
	}

	req.GuidanceScale = 15.0
	if p.GuidanceScale != nil {
		if *p.GuidanceScale < 1.0 || *p.GuidanceScale > 30.0 {
			return types.GenerateRequest{}, rpcerr.New(rpcerr.InvalidGuidanceScale,
				fmt.Sprintf("guidance_scale must be 1.0-30.0, got %v", *p.GuidanceScale))
		}
		req.GuidanceScale = *p.GuidanceScale
	}

	return req, nil
}

// resolveBackend normalizes the requested backend selector (defaulting per
// config when empty) into the canonical id used to key the registry.
func resolveBackend(raw string, defaults config.BackendsConfig) (string, error) {
	if raw == "" {
		raw = defaults.Default
	}
	backend, err := config.NormalizeBackend(raw)
	if err != nil {
		return "", rpcerr.Wrap(rpcerr.InvalidBackend, err.Error(), err)
	}
	return backend, nil
}
