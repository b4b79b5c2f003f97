package permission

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidPermission   = errors.New("permission.invalid")
	ErrUnknownPermission   = errors.New("permission.unknown")
	ErrDuplicatePermission = errors.New("permission.duplicate")
	ErrSelfDependency      = errors.New("permission.self_dependency")
	ErrDependencyCycle     = errors.New("permission.dependency_cycle")
	ErrMissingDependency   = errors.New("permission.missing_dependency")
	ErrCriticalPermission  = errors.New("permission.critical")
	ErrPermissionInUse     = errors.New("permission.in_use")
)

// DependencyError names one permission of a candidate set and one of its
// prerequisites that is absent from the same set.
type DependencyError struct {
	Permission     ID
	PermissionName string
	DependsOn      ID
	DependsOnName  string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("permission %q requires %q", e.PermissionName, e.DependsOnName)
}

func (e *DependencyError) Unwrap() error {
	return ErrMissingDependency
}

// DependencyErrors is the full list of findings of a validation run.
// An empty list means the set is self-consistent.
type DependencyErrors []*DependencyError

func (errs DependencyErrors) Error() string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return "missing permission dependencies: " + strings.Join(msgs, "; ")
}

func (errs DependencyErrors) Unwrap() []error {
	out := make([]error, 0, len(errs))
	for _, e := range errs {
		out = append(out, e)
	}
	return out
}

// Err returns the list as an error, or nil when it is empty.
func (errs DependencyErrors) Err() error {
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// AsDependencyErrors extracts the findings carried by err, if any.
func AsDependencyErrors(err error) (DependencyErrors, bool) {
	var errs DependencyErrors
	if errors.As(err, &errs) {
		return errs, true
	}
	return nil, false
}
