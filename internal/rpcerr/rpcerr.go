// Package rpcerr defines the daemon's stable JSON-RPC error taxonomy and the
// translation from internal Go errors into wire error objects.
package rpcerr

import "fmt"

// Code is a stable JSON-RPC error code, either a standard JSON-RPC 2.0 code
// or one of this daemon's application codes in the -32000 range.
type Code int

const (
	ParseError     Code = -32700
	InvalidRequest Code = -32600
	MethodNotFound Code = -32601
	InvalidParams  Code = -32602
	InternalError  Code = -32603

	ModelNotFound         Code = -32000
	ModelLoadFailed       Code = -32001
	ModelDownloadFailed   Code = -32002
	ModelInferenceFailed  Code = -32003
	QueueFull             Code = -32004
	InvalidDuration       Code = -32005
	InvalidPrompt         Code = -32006
	InvalidBackend        Code = -32007
	BackendNotInstalled   Code = -32008
	BackendLoading        Code = -32009
	InvalidInferenceSteps Code = -32010
	InvalidGuidanceScale  Code = -32011
	InvalidScheduler      Code = -32012
	TrackNotFound         Code = -32013
	AlreadyComplete       Code = -32014
	DownloadInProgress    Code = -32015
	Cancelled             Code = -32016
)

// kind is the stable string tag surfaced in generation_error.code; it is
// independent of the numeric RPC code so the notification payload stays
// readable without a lookup table on the client side.
var kind = map[Code]string{
	ModelNotFound:         "MODEL_NOT_FOUND",
	ModelLoadFailed:       "MODEL_LOAD_FAILED",
	ModelDownloadFailed:   "MODEL_DOWNLOAD_FAILED",
	ModelInferenceFailed:  "MODEL_INFERENCE_FAILED",
	QueueFull:             "QUEUE_FULL",
	InvalidDuration:       "INVALID_DURATION",
	InvalidPrompt:         "INVALID_PROMPT",
	InvalidBackend:        "INVALID_BACKEND",
	BackendNotInstalled:   "BACKEND_NOT_INSTALLED",
	BackendLoading:        "BACKEND_LOADING",
	InvalidInferenceSteps: "INVALID_INFERENCE_STEPS",
	InvalidGuidanceScale:  "INVALID_GUIDANCE_SCALE",
	InvalidScheduler:      "INVALID_SCHEDULER",
	TrackNotFound:         "TRACK_NOT_FOUND",
	AlreadyComplete:       "ALREADY_COMPLETE",
	DownloadInProgress:    "DOWNLOAD_IN_PROGRESS",
	Cancelled:             "CANCELLED",
}

// Kind returns the stable string tag for an application error code, or ""
// for standard JSON-RPC codes which have no domain-level tag.
func (c Code) Kind() string {
	return kind[c]
}

// Error is an application-level RPC error: a stable code plus a short
// human-readable message, optionally wrapping an underlying Go error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with a fixed human message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error that attributes an underlying Go error to a stable code.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}
