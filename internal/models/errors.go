package models

import (
	"errors"
	"strings"
)

// Validation errors for models
var (
	// Loop errors
	ErrInvalidLoopType = errors.New("invalid loop type")
	ErrInvalidLoopName = errors.New("loop name is required")

	// Cycle errors
	ErrMissingExplanation = errors.New("failed cycle output must carry an error explanation")
	ErrNegativeLatency    = errors.New("processor latency must not be negative")

	// Memory errors
	ErrInvalidMemoryKey     = errors.New("memory key is required")
	ErrInvalidMemoryContent = errors.New("memory content is required")

	// Intelligence errors
	ErrInvalidIntelligenceName = errors.New("intelligence name is required")
)

// FieldError ties a validation failure to a field.
type FieldError struct {
	Field string
	Err   error
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e FieldError) Unwrap() error {
	return e.Err
}

// ValidationErrors collects field errors.
type ValidationErrors struct {
	Errors []FieldError
}

// Add records an error for field.
func (v *ValidationErrors) Add(field string, err error) {
	v.Errors = append(v.Errors, FieldError{Field: field, Err: err})
}

// AddMessage records a plain message for field.
func (v *ValidationErrors) AddMessage(field, message string) {
	v.Add(field, errors.New(message))
}

// Err returns nil when nothing was recorded.
func (v *ValidationErrors) Err() error {
	if v == nil || len(v.Errors) == 0 {
		return nil
	}
	return v
}

func (v *ValidationErrors) Error() string {
	parts := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		parts = append(parts, e.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the individual field errors to errors.Is.
func (v *ValidationErrors) Unwrap() []error {
	errs := make([]error, 0, len(v.Errors))
	for _, e := range v.Errors {
		errs = append(errs, e)
	}
	return errs
}
