package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	mathrand "math/rand/v2"
	"runtime/debug"

	"github.com/example/musicd/internal/rpcerr"
	"github.com/example/musicd/internal/types"
)

// rpcError is the dispatch-level error shape, distinct from rpcerr.Error so
// that handlers can return either a *rpcerr.Error (translated via
// asRPCError) or a bare dispatch failure without importing encoding details.
type rpcError struct {
	code    int
	message string
}

func newRPCError(code rpcerr.Code, message string) *rpcError {
	return &rpcError{code: int(code), message: message}
}

// asRPCError unwraps a *rpcerr.Error into the wire shape, falling back to
// INTERNAL_ERROR for anything else.
func asRPCError(err error) *rpcError {
	if err == nil {
		return nil
	}
	if e, ok := err.(*rpcerr.Error); ok {
		return &rpcError{code: int(e.Code), message: e.Error()}
	}
	return &rpcError{code: int(rpcerr.InternalError), message: err.Error()}
}

// dispatch routes one parsed request to its handler, recovering from a
// handler panic into INTERNAL_ERROR per §7 rather than crashing the daemon.
func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (result any, rerr *rpcError) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("handler panic", "method", method, "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			result = nil
			rerr = newRPCError(rpcerr.InternalError, "internal error")
		}
	}()

	switch method {
	case methodGenerate:
		var p generateParams
		if err := parseParams(params, &p); err != nil {
			return nil, asRPCError(err)
		}
		res, err := s.handleGenerate(p)
		if err != nil {
			return nil, asRPCError(err)
		}
		return res, nil

	case methodCancel:
		var p cancelParams
		if err := parseParams(params, &p); err != nil {
			return nil, asRPCError(err)
		}
		res, err := s.handleCancel(p)
		if err != nil {
			return nil, asRPCError(err)
		}
		return res, nil

	case methodGetBackends:
		return s.handleGetBackends(), nil

	case methodDownloadBackend:
		var p downloadBackendParams
		if err := parseParams(params, &p); err != nil {
			return nil, asRPCError(err)
		}
		res, err := s.handleDownloadBackend(ctx, p)
		if err != nil {
			return nil, asRPCError(err)
		}
		return res, nil

	case methodPing:
		return s.handlePing(), nil

	case methodShutdown:
		return s.handleShutdown(), nil

	case "":
		return nil, &rpcError{code: int(rpcerr.InvalidRequest), message: "missing method"}

	default:
		return nil, &rpcError{code: int(rpcerr.MethodNotFound), message: fmt.Sprintf("unknown method %q", method)}
	}
}

func (s *Server) handleGenerate(p generateParams) (generateResult, error) {
	backendID, err := resolveBackend(p.Backend, s.cfg.Backends)
	if err != nil {
		return generateResult{}, err
	}

	b := s.registry.Get(backendID)
	if b == nil {
		return generateResult{}, rpcerr.New(rpcerr.InvalidBackend, fmt.Sprintf("unknown backend %q", backendID))
	}

	switch b.Status() {
	case types.BackendNotInstalled, types.BackendError:
		return generateResult{}, rpcerr.New(rpcerr.BackendNotInstalled, fmt.Sprintf("backend %q is not installed", backendID))
	case types.BackendDownloading, types.BackendLoading:
		return generateResult{}, rpcerr.New(rpcerr.BackendLoading, fmt.Sprintf("backend %q is still loading", backendID))
	}

	desc := b.ToDescriptor()
	req, err := validateGenerate(p, desc)
	if err != nil {
		return generateResult{}, err
	}
	req.Backend = backendID

	if !req.HasSeed {
		req.Seed = mathrand.Uint64()
		req.HasSeed = true
	}

	trackID := types.ComputeTrackID(req.Prompt, req.Seed, req.DurationSec, desc.ModelVersion, backendID)

	if track, ok := s.cache.Get(trackID); ok {
		return generateResult{TrackID: trackID, Status: "Cached", Position: 0, Seed: track.Seed, Backend: backendID}, nil
	}

	job, err := s.queue.Add(trackID, req)
	if err != nil {
		return generateResult{}, err
	}
	s.wakeWorker()

	status := "Queued"
	if job.QueuePos == 0 {
		status = "Generating"
	}
	return generateResult{TrackID: trackID, Status: status, Position: job.QueuePos, Seed: req.Seed, Backend: backendID}, nil
}

func (s *Server) handleCancel(p cancelParams) (cancelResult, error) {
	if p.TrackID == "" {
		return cancelResult{}, rpcerr.New(rpcerr.InvalidParams, "track_id is required")
	}

	if job := s.queue.RemoveByTrackID(p.TrackID); job != nil {
		job.SetCancelled()
		s.cache.Remove(job.TrackID)
		s.notify(newNotification(notifyGenerationCancelled, cancelledNotification{
			TrackID: job.TrackID, AtStep: 0, TotalSteps: job.TotalSteps,
		}))
		return cancelResult{Cancelled: true, WasGenerating: false}, nil
	}

	active := s.getActiveJob()
	if active != nil && active.TrackID == p.TrackID {
		if active.Status.IsTerminal() {
			return cancelResult{}, rpcerr.New(rpcerr.AlreadyComplete, "job already finished")
		}
		active.Cancel()
		return cancelResult{Cancelled: true, WasGenerating: true}, nil
	}

	return cancelResult{}, rpcerr.New(rpcerr.TrackNotFound, fmt.Sprintf("no job for track_id %q", p.TrackID))
}

func (s *Server) handleGetBackends() getBackendsResult {
	return getBackendsResult{
		Backends:       s.registry.List(),
		DefaultBackend: s.cfg.Backends.Default,
	}
}

func (s *Server) handleDownloadBackend(ctx context.Context, p downloadBackendParams) (downloadBackendResult, error) {
	backendID, err := resolveBackend(p.Backend, s.cfg.Backends)
	if err != nil {
		return downloadBackendResult{}, err
	}

	b := s.registry.Get(backendID)
	if b == nil {
		return downloadBackendResult{}, rpcerr.New(rpcerr.InvalidBackend, fmt.Sprintf("unknown backend %q", backendID))
	}

	switch b.Status() {
	case types.BackendReady:
		return downloadBackendResult{Started: false, AlreadyInstalled: true}, nil
	case types.BackendDownloading, types.BackendLoading:
		return downloadBackendResult{}, rpcerr.New(rpcerr.DownloadInProgress, fmt.Sprintf("backend %q is already downloading", backendID))
	}

	go func() {
		var throttles = map[string]*progressThrottle{}
		_, _, err := s.registry.Download(ctx, backendID, s.cfg.HFToken, func(component string, componentPct, overallPct float64, bytesDownloaded, bytesTotal int64) {
			t, ok := throttles[component]
			if !ok {
				t = &progressThrottle{}
				throttles[component] = t
			}
			if t.due(int(overallPct)) {
				s.notify(newNotification(notifyDownloadProgress, downloadProgressNotification{
					Backend:          backendID,
					Component:        component,
					ComponentPercent: componentPct,
					OverallPercent:   overallPct,
					BytesDownloaded:  bytesDownloaded,
					BytesTotal:       bytesTotal,
				}))
			}
		})
		if err != nil {
			s.logger.Error("backend download failed", "backend", backendID, "error", err.Error())
		}
	}()

	return downloadBackendResult{Started: true, AlreadyInstalled: false}, nil
}

func (s *Server) handlePing() pingResult {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		version = info.Main.Version
	}
	return pingResult{Status: "ok", Version: version}
}

func (s *Server) handleShutdown() shutdownResult {
	s.shutdown.Store(true)
	return shutdownResult{Status: "shutting_down"}
}
