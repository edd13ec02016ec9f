// Package jobqueue implements the bounded priority FIFO that admits and
// serially drains generation jobs.
package jobqueue

import (
	"sync"

	"github.com/example/musicd/internal/rpcerr"
	"github.com/example/musicd/internal/types"
	"github.com/google/uuid"
)

// Queue is a bounded priority FIFO: high-priority jobs are inserted ahead of
// all normal-priority jobs but preserve FIFO order within their own class.
type Queue struct {
	mu      sync.Mutex
	jobs    []*types.Job
	maxSize int
}

// New builds a queue with the given admission bound.
func New(maxSize int) *Queue {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Queue{maxSize: maxSize}
}

// NewJobID generates a fresh job identifier, distinct from a track's content
// address.
func NewJobID() string {
	return uuid.NewString()
}

// Add admits req as a new job for trackID and returns it; the job's QueuePos
// holds its 0-based queue position. Returns QueueFull if the admission bound
// is already met.
func (q *Queue) Add(trackID string, req types.GenerateRequest) (*types.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) >= q.maxSize {
		return nil, rpcerr.New(rpcerr.QueueFull, "job queue is full")
	}

	job := types.NewJob(NewJobID(), trackID, req)

	if req.Priority == types.PriorityHigh {
		insertAt := len(q.jobs)
		for i, j := range q.jobs {
			if j.Priority != types.PriorityHigh {
				insertAt = i
				break
			}
		}
		q.jobs = append(q.jobs, nil)
		copy(q.jobs[insertAt+1:], q.jobs[insertAt:])
		q.jobs[insertAt] = job
	} else {
		q.jobs = append(q.jobs, job)
	}

	q.updatePositions()
	return job, nil
}

// PopNext removes and returns the head of the queue, or nil if empty.
func (q *Queue) PopNext() *types.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.updatePositions()
	return job
}

// RemoveByTrackID removes a still-queued job by its track id, returning it
// if found. Used by cancel() when the job has not yet started generating.
func (q *Queue) RemoveByTrackID(trackID string) *types.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, j := range q.jobs {
		if j.TrackID == trackID {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			q.updatePositions()
			return j
		}
	}
	return nil
}

// FindByTrackID returns the still-queued job with trackID without removing it.
func (q *Queue) FindByTrackID(trackID string) *types.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, j := range q.jobs {
		if j.TrackID == trackID {
			return j
		}
	}
	return nil
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// updatePositions recomputes every remaining job's 0-based QueuePos.
// Must be called with q.mu held.
func (q *Queue) updatePositions() {
	for i, j := range q.jobs {
		j.QueuePos = i
	}
}
