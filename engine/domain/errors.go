package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across stages.
var (
	ErrMissingInput     = errors.New("missing input")
	ErrNoAdapter        = errors.New("no adapter registered")
	ErrNeedsContent     = errors.New("parser requires buffered content")
	ErrNeedsStream      = errors.New("parser requires a stream")
	ErrExtraction       = errors.New("structured extraction failed")
	ErrDependencyCycle  = errors.New("dependency cycle")
	ErrInvalidLemma     = errors.New("invalid lemma")
	ErrInvalidPOS       = errors.New("invalid part of speech")
	ErrInvalidOrigin    = errors.New("invalid origin")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
