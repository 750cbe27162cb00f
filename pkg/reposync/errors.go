package reposync

import (
	"errors"
	"fmt"
	"strings"
)

// Run-fatal errors
var (
	ErrInvalidConfig      = errors.New("invalid sync configuration")
	ErrCatalogUnavailable = errors.New("repository catalog unavailable")
	ErrUnknownRepository  = errors.New("unknown repository")
)

// Repository-fatal errors
var (
	ErrForkTimeout = errors.New("fork timeout")
	ErrForkInvalid = errors.New("fork target is not a fork")
)

// StageError records the stage a repository failed in
type StageError struct {
	Stage Stage
	Err   error
}

// Error implements the error interface
func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error
func (e *StageError) Unwrap() error {
	return e.Err
}

// SyncWarning reports a failed upstream sync. It never fails a repository.
type SyncWarning struct {
	Err error
	// Stale is true when the working copy was left at the fork's state
	Stale bool
}

// Error implements the error interface
func (w *SyncWarning) Error() string {
	return fmt.Sprintf("could not sync fork with upstream: %v", w.Err)
}

// Unwrap returns the underlying error
func (w *SyncWarning) Unwrap() error {
	return w.Err
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("validation error for field '%s' (value: %s): %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}

	if len(e) == 1 {
		return e[0].Error()
	}

	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(e), strings.Join(messages, "; "))
}

// Add adds a validation error to the collection
func (e *ValidationErrors) Add(field, value, message string) {
	*e = append(*e, ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}
