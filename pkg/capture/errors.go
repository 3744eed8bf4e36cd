package capture

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific capture session error type.
type ErrorCode string

const (
	ErrCodeEngineUnavailable   ErrorCode = "ENGINE_UNAVAILABLE"
	ErrCodeCameraUnavailable   ErrorCode = "CAMERA_UNAVAILABLE"
	ErrCodeCameraPermission    ErrorCode = "CAMERA_PERMISSION"
	ErrCodeInsufficientSamples ErrorCode = "INSUFFICIENT_SAMPLES"
	ErrCodeLiveness            ErrorCode = "LIVENESS_FAILED"
	ErrCodeRegistryUnavailable ErrorCode = "REGISTRY_UNAVAILABLE"
	ErrCodeCancelled           ErrorCode = "CANCELLED"
)

// SessionError is a structured capture session error.
type SessionError struct {
	Code     ErrorCode `json:"code"`
	Message  string    `json:"message"`
	Retry    bool      `json:"retry"`
	Accepted int       `json:"accepted,omitempty"`
	Attempts int       `json:"attempts,omitempty"`
	Err      error     `json:"-"`
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// User-friendly error messages
var errorMessages = map[ErrorCode]string{
	ErrCodeEngineUnavailable:   "Face recognition is not available. Please check the model files",
	ErrCodeCameraUnavailable:   "Camera error. Please check your camera connection",
	ErrCodeCameraPermission:    "Camera access was denied. Please allow camera access and try again",
	ErrCodeInsufficientSamples: "Not enough good captures. Please hold still and try again",
	ErrCodeLiveness:            "Liveness check failed. Please move slightly and try again",
	ErrCodeRegistryUnavailable: "Enrolled faces could not be loaded",
	ErrCodeCancelled:           "Capture cancelled",
}

// GetErrorMessage returns a user-friendly message for an error code.
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return "Face capture failed"
}

// NewSessionError creates a new session error wrapping err.
func NewSessionError(code ErrorCode, retry bool, err error) *SessionError {
	return &SessionError{
		Code:    code,
		Message: GetErrorMessage(code),
		Retry:   retry,
		Err:     err,
	}
}

// insufficientSamples reports an enrollment that accepted too few samples.
func insufficientSamples(accepted, attempts int) *SessionError {
	return &SessionError{
		Code:     ErrCodeInsufficientSamples,
		Message:  fmt.Sprintf("Only %d/%d captures succeeded", accepted, attempts),
		Retry:    true,
		Accepted: accepted,
		Attempts: attempts,
	}
}

// CodeOf returns the code of a SessionError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// ErrSessionActive is returned when a run is started while another is active.
var ErrSessionActive = errors.New("a capture session is already active")
