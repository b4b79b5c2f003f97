package rolegraph

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRole        = errors.New("rolegraph.invalid_role")
	ErrRoleNotFound       = errors.New("rolegraph.role_not_found")
	ErrDuplicateRole      = errors.New("rolegraph.duplicate_role")
	ErrDuplicateSlug      = errors.New("rolegraph.duplicate_slug")
	ErrSystemRole         = errors.New("rolegraph.system_role_immutable")
	ErrHasChildren        = errors.New("rolegraph.role_has_children")
	ErrSuperAdminExists   = errors.New("rolegraph.super_admin_exists")
	ErrReservedSlug       = errors.New("rolegraph.reserved_slug")
	ErrHierarchyIntegrity = errors.New("rolegraph.hierarchy_integrity")
)

// Violation names the hierarchy rule a parent assignment breaks.
type Violation string

const (
	// ViolationSystemUnderCustom: a system role may only hang under another system role.
	ViolationSystemUnderCustom Violation = "system_under_custom"
	// ViolationCycle: the parent is the child itself or one of its descendants.
	ViolationCycle Violation = "cycle"
	// ViolationPriority: the parent's priority is not strictly greater.
	ViolationPriority Violation = "priority_inversion"
)

// HierarchyIntegrityError is returned when assigning Parent to Child would
// break the role forest. It is always raised before anything is written.
type HierarchyIntegrityError struct {
	Child     string
	Parent    string
	Violation Violation
}

func (e *HierarchyIntegrityError) Error() string {
	return fmt.Sprintf("rolegraph: cannot place %q under %q: %s", e.Child, e.Parent, e.Violation)
}

func (e *HierarchyIntegrityError) Unwrap() error {
	return ErrHierarchyIntegrity
}

// IsHierarchyError reports whether err is a hierarchy violation and returns it.
func IsHierarchyError(err error) (*HierarchyIntegrityError, bool) {
	var herr *HierarchyIntegrityError
	if errors.As(err, &herr) {
		return herr, true
	}
	return nil, false
}
