package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/medaccess/pkg/netgate"
	"github.com/dmitrymomot/medaccess/pkg/permission"
	"github.com/dmitrymomot/medaccess/pkg/rolegraph"
)

var (
	ErrInvalidCatalog = errors.New("seed.invalid_catalog")
	ErrUnknownRole    = errors.New("seed.unknown_role")
)

// Role is a role entry. Parent refers to another role by slug.
type Role struct {
	ID                         string   `yaml:"id"`
	Name                       string   `yaml:"name"`
	Slug                       string   `yaml:"slug"`
	Parent                     string   `yaml:"parent"`
	Priority                   int      `yaml:"priority"`
	System                     bool     `yaml:"system"`
	SuperAdmin                 bool     `yaml:"super_admin"`
	ModuleAccess               []string `yaml:"module_access"`
	DataVisibilityScope        []string `yaml:"data_visibility"`
	UserManagementCapabilities []string `yaml:"user_management"`
	SystemConfigurationAccess  []string `yaml:"system_configuration"`
	RoleSpecificLimitations    []string `yaml:"limitations"`
	MFARequired                bool     `yaml:"mfa_required"`
	MFAGracePeriodDays         int      `yaml:"mfa_grace_period_days"`
	SessionTimeoutMinutes      int      `yaml:"session_timeout_minutes"`
	ConcurrentSessionLimit     int      `yaml:"concurrent_session_limit"`
	Permissions                []string `yaml:"permissions"`
}

// Permission is a catalog entry. Requires lists prerequisite names.
type Permission struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name"`
	Resource         string   `yaml:"resource"`
	Action           string   `yaml:"action"`
	Category         string   `yaml:"category"`
	Module           string   `yaml:"module"`
	SegregationGroup string   `yaml:"segregation_group"`
	RiskLevel        int      `yaml:"risk_level"`
	RequiresApproval bool     `yaml:"requires_approval"`
	Critical         bool     `yaml:"critical"`
	HIPAAImpact      string   `yaml:"hipaa_impact"`
	Description      string   `yaml:"description"`
	Requires         []string `yaml:"requires"`
}

type IPRule struct {
	ID          string `yaml:"id"`
	Pattern     string `yaml:"pattern"`
	Type        string `yaml:"type"`
	Active      *bool  `yaml:"active"` // defaults to true
	Description string `yaml:"description"`
}

// User assigns a role, by slug, to a user id.
type User struct {
	ID   string `yaml:"id"`
	Role string `yaml:"role"`
}

// Catalog is the content of a seed file.
type Catalog struct {
	Permissions   []Permission `yaml:"permissions"`
	Roles         []Role       `yaml:"roles"`
	IPRules       []IPRule     `yaml:"ip_rules"`
	Users         []User       `yaml:"users"`
	DutyConflicts [][]string   `yaml:"duty_conflicts"`
}

// Writer is the part of access.Store a seed is written through.
type Writer interface {
	CreatePermission(ctx context.Context, p permission.Permission) error
	AddDependency(ctx context.Context, dep permission.Dependency) error
	CreateRole(ctx context.Context, role rolegraph.Role) error
	GrantRolePermission(ctx context.Context, roleID string, id permission.ID) error
	SetUserRole(ctx context.Context, userID, roleID string) error
	CreateIPRule(ctx context.Context, rule netgate.Rule) error
}

// Parse decodes a catalog and rejects unknown fields.
func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	return &c, nil
}

// ParseFile reads a catalog from path.
func ParseFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("seed: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Plan is a validated catalog with every id assigned, ready to be written.
type Plan struct {
	Permissions  []permission.Permission
	Dependencies []permission.Dependency
	Roles        []rolegraph.Role // parents before children
	RoleGrants   map[string][]permission.ID
	IPRules      []netgate.Rule
	UserRoles    map[string]string
	Conflicts    [][2]string
}

// Plan resolves names and slugs to ids and validates the result with the
// same rules the engine applies at load time.
func (c *Catalog) Plan() (*Plan, error) {
	p := &Plan{
		RoleGrants: make(map[string][]permission.ID),
		UserRoles:  make(map[string]string),
	}

	cat := permission.NewCatalog()
	for _, in := range c.Permissions {
		perm := permission.Permission{
			ID:               permission.ID(orNewID(in.ID)),
			Name:             strings.TrimSpace(in.Name),
			Resource:         in.Resource,
			Action:           in.Action,
			Category:         in.Category,
			Module:           in.Module,
			SegregationGroup: in.SegregationGroup,
			RiskLevel:        permission.RiskLevel(in.RiskLevel),
			RequiresApproval: in.RequiresApproval,
			IsCritical:       in.Critical,
			HIPAAImpact:      permission.HIPAAImpact(in.HIPAAImpact),
			Description:      in.Description,
		}
		if perm.RiskLevel == 0 {
			perm.RiskLevel = permission.RiskLow
		}
		if err := cat.Add(perm); err != nil {
			return nil, err
		}
		p.Permissions = append(p.Permissions, perm)
	}
	for _, in := range c.Permissions {
		from, _ := cat.ByName(strings.TrimSpace(in.Name))
		for _, name := range in.Requires {
			to, err := cat.ByName(name)
			if err != nil {
				return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("%q requires: %w", in.Name, err))
			}
			if err := cat.AddDependency(from.ID, to.ID); err != nil {
				return nil, err
			}
			p.Dependencies = append(p.Dependencies, permission.Dependency{PermissionID: from.ID, DependsOnID: to.ID})
		}
	}

	bySlug := make(map[string]rolegraph.Role, len(c.Roles))
	for _, in := range c.Roles {
		r := rolegraph.Role{
			ID:                         orNewID(in.ID),
			Name:                       in.Name,
			Slug:                       in.Slug,
			Priority:                   in.Priority,
			IsSystem:                   in.System,
			IsSuperAdmin:               in.SuperAdmin,
			ModuleAccess:               in.ModuleAccess,
			DataVisibilityScope:        in.DataVisibilityScope,
			UserManagementCapabilities: in.UserManagementCapabilities,
			SystemConfigurationAccess:  in.SystemConfigurationAccess,
			RoleSpecificLimitations:    in.RoleSpecificLimitations,
			MFARequired:                in.MFARequired,
			MFAGracePeriodDays:         in.MFAGracePeriodDays,
			SessionTimeoutMinutes:      in.SessionTimeoutMinutes,
			ConcurrentSessionLimit:     in.ConcurrentSessionLimit,
		}
		if _, dup := bySlug[r.Slug]; dup {
			return nil, errors.Join(rolegraph.ErrDuplicateSlug, fmt.Errorf("slug %q", r.Slug))
		}
		bySlug[r.Slug] = r
	}

	roles := make([]rolegraph.Role, 0, len(c.Roles))
	for _, in := range c.Roles {
		r := bySlug[in.Slug]
		if in.Parent != "" {
			parent, ok := bySlug[in.Parent]
			if !ok {
				return nil, errors.Join(ErrUnknownRole, fmt.Errorf("parent %q of %q", in.Parent, in.Slug))
			}
			r.ParentID = parent.ID
		}
		ids, err := cat.Resolve(in.Permissions...)
		if err != nil {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("role %q: %w", in.Slug, err))
		}
		if len(ids) > 0 {
			p.RoleGrants[r.ID] = ids
		}
		bySlug[in.Slug] = r
		roles = append(roles, r)
	}

	g, err := rolegraph.New(roles...)
	if err != nil {
		return nil, err
	}
	p.Roles = parentsFirst(g)

	for _, in := range c.IPRules {
		rule := netgate.Rule{
			ID:          orNewID(in.ID),
			Pattern:     strings.TrimSpace(in.Pattern),
			Type:        netgate.RuleType(in.Type),
			Active:      in.Active == nil || *in.Active,
			Description: in.Description,
		}
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		p.IPRules = append(p.IPRules, rule)
	}

	for _, u := range c.Users {
		r, ok := bySlug[u.Role]
		if !ok {
			return nil, errors.Join(ErrUnknownRole, fmt.Errorf("role %q of user %q", u.Role, u.ID))
		}
		p.UserRoles[u.ID] = r.ID
	}

	for _, pair := range c.DutyConflicts {
		if len(pair) != 2 {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("duty conflict %v must name two groups", pair))
		}
		if err := cat.DeclareConflict(pair[0], pair[1]); err != nil {
			return nil, err
		}
		p.Conflicts = append(p.Conflicts, [2]string{pair[0], pair[1]})
	}

	return p, nil
}

// Apply validates the catalog and writes it through w.
func (c *Catalog) Apply(ctx context.Context, w Writer) (*Plan, error) {
	p, err := c.Plan()
	if err != nil {
		return nil, err
	}
	return p, p.Write(ctx, w)
}

// Write stores the plan. Writers are expected to run on an empty store.
func (p *Plan) Write(ctx context.Context, w Writer) error {
	for _, perm := range p.Permissions {
		if err := w.CreatePermission(ctx, perm); err != nil {
			return fmt.Errorf("seed: permission %q: %w", perm.Name, err)
		}
	}
	for _, dep := range p.Dependencies {
		if err := w.AddDependency(ctx, dep); err != nil {
			return fmt.Errorf("seed: dependency %s -> %s: %w", dep.PermissionID, dep.DependsOnID, err)
		}
	}
	for _, r := range p.Roles {
		if err := w.CreateRole(ctx, r); err != nil {
			return fmt.Errorf("seed: role %q: %w", r.Slug, err)
		}
		for _, id := range p.RoleGrants[r.ID] {
			if err := w.GrantRolePermission(ctx, r.ID, id); err != nil {
				return fmt.Errorf("seed: grant %s to %q: %w", id, r.Slug, err)
			}
		}
	}
	for _, rule := range p.IPRules {
		if err := w.CreateIPRule(ctx, rule); err != nil {
			return fmt.Errorf("seed: ip rule %q: %w", rule.Pattern, err)
		}
	}
	for userID, roleID := range p.UserRoles {
		if err := w.SetUserRole(ctx, userID, roleID); err != nil {
			return fmt.Errorf("seed: user %q: %w", userID, err)
		}
	}
	return nil
}

// parentsFirst orders the roles so that every parent precedes its children.
func parentsFirst(g *rolegraph.Graph) []rolegraph.Role {
	out := make([]rolegraph.Role, 0, g.Len())
	queue := g.Roots()
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		out = append(out, r)
		kids, _ := g.Children(r.ID)
		queue = append(queue, kids...)
	}
	return out
}

func orNewID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return uuid.NewString()
}
