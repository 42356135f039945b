package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the selection, generation and normalization stages.
var (
	ErrInvalidKeyword   = errors.New("invalid keyword")
	ErrInvalidLink      = errors.New("invalid link")
	ErrUnknownCandidate = errors.New("unknown candidate")
	ErrEmptySelection   = errors.New("empty selection")
	ErrSelectionLimit   = errors.New("selection limit reached")
	ErrBudgetExceeded   = errors.New("word budget exceeded")
	ErrNoResults        = errors.New("no search results")
	ErrGenerationFailed = errors.New("generation failed")
	ErrNoUsableContent  = errors.New("no usable content")
	ErrSessionReset     = errors.New("session reset")
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

// TransportError reports a failed call to an external collaborator.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError reports output that could not be decoded. Input is truncated for logging.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse: %v (input=%q)", e.Err, e.Input)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NewParseError creates a ParseError keeping at most 120 bytes of input.
func NewParseError(input string, err error) *ParseError {
	const max = 120
	if len(input) > max {
		input = input[:max] + "..."
	}
	return &ParseError{Input: input, Err: err}
}

// NormalizationError reports a generation result that matched no known shape.
type NormalizationError struct {
	Err error
}

func (e *NormalizationError) Error() string { return "normalize: " + e.Err.Error() }

func (e *NormalizationError) Unwrap() error { return e.Err }

// Retryable reports whether err is a transport or parse failure.
func Retryable(err error) bool {
	var te *TransportError
	var pe *ParseError
	return errors.As(err, &te) || errors.As(err, &pe)
}
