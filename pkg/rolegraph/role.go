package rolegraph

import (
	"slices"
	"strings"
	"time"
)

// SuperAdminSlug is reserved for the single super admin role.
const SuperAdminSlug = "super-admin"

const (
	wildcard  = "*"
	delimiter = "."
)

// Capabilities is a set of opaque tokens. "*" grants everything and a
// trailing ".*" grants a whole namespace ("reports.*" covers "reports.financial").
type Capabilities []string

// Allows reports whether token is covered by the set.
func (c Capabilities) Allows(token string) bool {
	for _, pattern := range c {
		if matches(token, pattern) {
			return true
		}
	}
	return false
}

func matches(token, pattern string) bool {
	if token == pattern || pattern == wildcard {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, delimiter+wildcard); ok {
		return strings.HasPrefix(token, prefix+delimiter)
	}
	return false
}

// Role is a node of the role forest.
type Role struct {
	ID           string
	Name         string
	Slug         string
	ParentID     string // empty for roots
	Priority     int
	IsSystem     bool
	IsSuperAdmin bool

	ModuleAccess               Capabilities
	DataVisibilityScope        Capabilities
	UserManagementCapabilities Capabilities
	SystemConfigurationAccess  Capabilities
	RoleSpecificLimitations    Capabilities

	MFARequired            bool
	MFAGracePeriodDays     int
	SessionTimeoutMinutes  int
	ConcurrentSessionLimit int // 0 means unlimited

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Role) IsRoot() bool { return r.ParentID == "" }

func (r Role) HasModuleAccess(module string) bool {
	return r.ModuleAccess.Allows(module)
}

func (r Role) CanSee(scope string) bool {
	return r.DataVisibilityScope.Allows(scope)
}

func (r Role) CanManageUsers(capability string) bool {
	return r.UserManagementCapabilities.Allows(capability)
}

func (r Role) CanConfigure(area string) bool {
	return r.SystemConfigurationAccess.Allows(area)
}

// IsLimitedBy reports whether the role carries the given limitation.
func (r Role) IsLimitedBy(limitation string) bool {
	return r.RoleSpecificLimitations.Allows(limitation)
}

func (r Role) clone() Role {
	r.ModuleAccess = slices.Clone(r.ModuleAccess)
	r.DataVisibilityScope = slices.Clone(r.DataVisibilityScope)
	r.UserManagementCapabilities = slices.Clone(r.UserManagementCapabilities)
	r.SystemConfigurationAccess = slices.Clone(r.SystemConfigurationAccess)
	r.RoleSpecificLimitations = slices.Clone(r.RoleSpecificLimitations)
	return r
}
