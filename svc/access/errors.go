package access

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("access.validation_failed")
	ErrSelfApproval = errors.New("access.self_approval")
	ErrUnknownUser  = errors.New("access.unknown_user")
)

// ValidationError reports one rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("access: invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError returns the first ValidationError carried by err.
func IsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
