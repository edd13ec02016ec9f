package types

// BackendStatus is the lifecycle state of a backend's model asset set.
type BackendStatus string

const (
	BackendNotInstalled BackendStatus = "not_installed"
	BackendDownloading  BackendStatus = "downloading"
	BackendLoading      BackendStatus = "loading"
	BackendReady        BackendStatus = "ready"
	BackendError        BackendStatus = "error"
)

// BackendDescriptor summarizes one back-end's identity and capability range
// for the get_backends RPC response.
type BackendDescriptor struct {
	Type           string        `json:"type"`
	Name           string        `json:"name"`
	Status         BackendStatus `json:"status"`
	MinDurationSec int           `json:"min_duration_sec"`
	MaxDurationSec int           `json:"max_duration_sec"`
	SampleRate     int           `json:"sample_rate"`
	ModelVersion   string        `json:"model_version"`
}
