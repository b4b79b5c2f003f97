package access

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// SubmitInput describes a permission change request.
type SubmitInput struct {
	UserID      string   `validate:"required,max=128"`
	RequestedBy string   `validate:"required,max=128"`
	Add         []string `validate:"dive,required"`
	Remove      []string `validate:"dive,required"`
	Reason      string   `validate:"max=1000"`
}

// GrantInput describes a time-boxed grant.
type GrantInput struct {
	UserID     string    `validate:"required,max=128"`
	Permission string    `validate:"required"`
	GrantedBy  string    `validate:"required,max=128"`
	ExpiresAt  time.Time `validate:"required"`
	Reason     string    `validate:"required,max=1000"`
}

// AuditInput is an audit entry recorded on behalf of a caller.
type AuditInput struct {
	UserID      string         `validate:"max=128"`
	Action      string         `validate:"required,max=128"`
	Severity    string         `validate:"omitempty,oneof=info warning error critical"`
	Module      string         `validate:"max=64"`
	Description string         `validate:"max=2000"`
	Context     map[string]any `validate:"-"`
}

// validateStruct runs the tag rules and converts field errors into
// ValidationErrors joined together.
func (e *Engine) validateStruct(v any) error {
	err := e.validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errors.Join(ErrValidation, err)
	}

	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, &ValidationError{Field: fe.Field(), Message: describe(fe)})
	}
	return errors.Join(errs...)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return fmt.Sprintf("failed %q rule", fe.Tag())
	}
}
