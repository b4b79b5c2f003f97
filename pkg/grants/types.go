package grants

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/dmitrymomot/medaccess/pkg/permission"
	"github.com/dmitrymomot/medaccess/pkg/rolegraph"
)

// UserPermission is a per-user override. Only rows with Allowed set
// contribute to the effective set; there is no per-user deny.
type UserPermission struct {
	UserID         string
	PermissionID   permission.ID
	PermissionName string
	Allowed        bool
}

// TemporaryPermission is a time-boxed grant. Rows are never deleted,
// revocation flips Active and stamps RevokedAt.
type TemporaryPermission struct {
	ID             string
	UserID         string
	PermissionID   permission.ID
	PermissionName string
	GrantedBy      string
	GrantedAt      time.Time
	ExpiresAt      time.Time
	Active         bool
	Reason         string
	RevokedAt      *time.Time
}

// IsValidAt reports whether the grant is active and not yet expired at t.
func (g TemporaryPermission) IsValidAt(t time.Time) bool {
	return g.Active && g.ExpiresAt.After(t)
}

func (g TemporaryPermission) IsValid() bool {
	return g.IsValidAt(time.Now())
}

// Source provides the raw grant data of a user.
type Source interface {
	// UserRole returns the user's role id, empty if the user has none.
	UserRole(ctx context.Context, userID string) (string, error)
	// RolePermissions returns the names directly granted to any of roleIDs.
	RolePermissions(ctx context.Context, roleIDs ...string) ([]string, error)
	UserPermissions(ctx context.Context, userID string) ([]UserPermission, error)
	TemporaryPermissions(ctx context.Context, userID string) ([]TemporaryPermission, error)
}

// Hierarchy resolves the ancestors of a role, nearest first.
type Hierarchy interface {
	Ancestors(roleID string) ([]rolegraph.Role, error)
}

// HierarchyFunc adapts a function to Hierarchy.
type HierarchyFunc func(roleID string) ([]rolegraph.Role, error)

func (f HierarchyFunc) Ancestors(roleID string) ([]rolegraph.Role, error) {
	return f(roleID)
}

// Mode selects whether a role's ancestors contribute their grants.
type Mode uint8

const (
	// OwnGrants uses the grants of the user's role only.
	OwnGrants Mode = iota
	// WithInherited adds the grants of every ancestor of the user's role.
	WithInherited
)

func (m Mode) String() string {
	switch m {
	case OwnGrants:
		return "own"
	case WithInherited:
		return "inherited"
	default:
		return "unknown"
	}
}

func (m Mode) valid() bool {
	return m == OwnGrants || m == WithInherited
}

// Set is a collection of permission names.
type Set map[string]struct{}

func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Slice returns the names in ascending order.
func (s Set) Slice() []string {
	return slices.Sorted(maps.Keys(s))
}
