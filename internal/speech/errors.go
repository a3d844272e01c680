package speech

import (
	"errors"
	"fmt"
)

// Common speech errors
var (
	// ErrWorkerStopped indicates the worker was stopped and cannot be restarted
	ErrWorkerStopped = errors.New("speech worker is stopped")

	// ErrEngineClosed indicates the engine session was torn down
	ErrEngineClosed = errors.New("speech engine is closed")

	// ErrNotInitialized indicates the engine has not been opened yet
	ErrNotInitialized = errors.New("speech engine not initialized")

	// ErrInvalidRate indicates a speaking rate outside the supported range
	ErrInvalidRate = fmt.Errorf("rate must be between %d and %d words per minute", MinRate, MaxRate)

	// ErrUtteranceTimeout indicates an utterance never reported completion
	ErrUtteranceTimeout = errors.New("utterance did not finish in time")
)

// SpeechError represents a pipeline error with additional context
type SpeechError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *SpeechError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *SpeechError) Unwrap() error {
	return e.Cause
}

// Is matches another SpeechError by code, so callers can test with
// errors.Is(err, &SpeechError{Code: ErrorCodeEngineInit}).
func (e *SpeechError) Is(target error) bool {
	t, ok := target.(*SpeechError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ErrorCode identifies specific error types
type ErrorCode string

const (
	// ErrorCodeEngineInit means the backend could not be opened
	ErrorCodeEngineInit ErrorCode = "ENGINE_INIT"

	// ErrorCodeSynthesisStep means submitting, iterating or finishing one
	// utterance failed
	ErrorCodeSynthesisStep ErrorCode = "SYNTHESIS_STEP"

	// ErrorCodeConfiguration means an invalid setting was rejected
	ErrorCodeConfiguration ErrorCode = "CONFIGURATION"

	// ErrorCodeShutdownTimeout means the worker did not exit in time
	ErrorCodeShutdownTimeout ErrorCode = "SHUTDOWN_TIMEOUT"
)

// NewSpeechError creates a new speech error with context
func NewSpeechError(code ErrorCode, message string, cause error) *SpeechError {
	return &SpeechError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context to the error
func (e *SpeechError) WithContext(key string, value interface{}) *SpeechError {
	e.Context[key] = value
	return e
}

// IsFatal returns true if the error leaves the pipeline without an engine
func (e *SpeechError) IsFatal() bool {
	return e.Code == ErrorCodeEngineInit
}

// HasCode reports whether err is a SpeechError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var se *SpeechError
	return errors.As(err, &se) && se.Code == code
}
