package services

import (
	"errors"
	"fmt"
	"strings"
)

// Marker errors used with errors.Is to classify failures across stages.
var (
	// ErrExternalTool indicates an external service or helper failed.
	ErrExternalTool = errors.New("external tool failure")
	// ErrValidation indicates invalid input or state.
	ErrValidation = errors.New("validation failure")
	// ErrConfiguration indicates invalid or missing configuration.
	ErrConfiguration = errors.New("configuration failure")
	// ErrNotFound indicates a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrTimeout indicates an operation exceeded its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrTransient indicates a retryable failure.
	ErrTransient = errors.New("transient failure")
)

// ServiceError provides structured error information for stage failures.
type ServiceError struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Err       error
}

func (e *ServiceError) Error() string {
	var parts []string
	if e.Stage != "" {
		parts = append(parts, e.Stage)
	}
	if e.Operation != "" {
		parts = append(parts, e.Operation)
	}
	prefix := strings.Join(parts, " ")
	if prefix != "" {
		prefix += ": "
	}
	if e.Message != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s%s: %v", prefix, e.Message, e.Err)
		}
		return prefix + e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s%v", prefix, e.Err)
	}
	return prefix + e.Marker.Error()
}

func (e *ServiceError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Marker
}

// Is reports whether the error matches the given marker.
func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Marker, target) || errors.Is(e.Err, target)
}

// Wrap creates a ServiceError with the provided classification marker.
func Wrap(marker error, stage, operation, message string, err error) error {
	return &ServiceError{
		Marker:    marker,
		Stage:     stage,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// StageError is the tagged failure produced by stage transforms. Workers use
// Retryable to decide between bounded in-process retry and terminal failure,
// and Code is recorded in the entry's last_error metadata.
type StageError struct {
	Stage     string
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Stage, msg, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Stage, msg)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError builds a terminal, non-retryable stage failure.
func NewStageError(stage, code, message string) *StageError {
	return &StageError{Stage: stage, Code: code, Message: message}
}

// NewTransientStageError builds a retryable stage failure wrapping err.
func NewTransientStageError(stage, code, message string, err error) *StageError {
	return &StageError{Stage: stage, Code: code, Message: message, Retryable: true, Err: err}
}

// AsStageError extracts a StageError from err's chain, or wraps err in a
// non-retryable StageError attributed to stage.
func AsStageError(err error, stage string) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	retryable := errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout)
	return &StageError{Stage: stage, Code: "stage_failure", Message: err.Error(), Retryable: retryable, Err: err}
}
