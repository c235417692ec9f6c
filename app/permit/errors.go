package permit

import (
	"errors"
	"fmt"
)

// ValidationError reports a missing, ill-typed or out-of-enumeration request field
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ConflictError reports an open job already covering the same department, point and risk type
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// Validationf makes a ValidationError with formatted message
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err wraps a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err wraps a ConflictError
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
