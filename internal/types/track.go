// Package types holds the data model shared across the daemon: tracks, jobs,
// and backend descriptors.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Track is an immutable record of a completed generation, content-addressed
// by TrackID.
type Track struct {
	TrackID          string    `json:"track_id"`
	Path             string    `json:"path"`
	Prompt           string    `json:"prompt"`
	DurationSec      float64   `json:"duration_sec"`
	SampleRate       int       `json:"sample_rate"`
	Seed             uint64    `json:"seed"`
	Backend          string    `json:"backend"`
	ModelVersion     string    `json:"model_version"`
	GenerationTimeSec float64  `json:"generation_time_sec"`
	CreatedAt        time.Time `json:"created_at"`
}

// ComputeTrackID derives the stable content address for a generation
// request: first 16 hex characters of SHA-256 over the colon-joined tuple
// (prompt, seed, duration_sec, model_version, backend).
func ComputeTrackID(prompt string, seed uint64, durationSec int, modelVersion, backend string) string {
	payload := fmt.Sprintf("%s:%d:%d:%s:%s", prompt, seed, durationSec, modelVersion, backend)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:16]
}
