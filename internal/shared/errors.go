package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed or constraint-violating input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates contention with a concurrent writer.
	ErrConflict = errors.New("conflict")
	// ErrStorage indicates a backend I/O failure.
	ErrStorage = errors.New("storage failure")
)

// ValidationError describes a rejected field. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Unwrap exposes the sentinel kind.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFound wraps ErrNotFound with the missing subject.
func NotFound(subject string) error {
	return fmt.Errorf("%s: %w", subject, ErrNotFound)
}

// Conflict wraps ErrConflict with the contended subject.
func Conflict(subject string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", subject, ErrConflict)
	}
	return fmt.Errorf("%s: %w: %w", subject, ErrConflict, cause)
}

// StorageError wraps a backend failure so callers can match ErrStorage while
// still reaching the driver error. Domain errors pass through unchanged.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
