package access

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/medaccess/pkg/audit"
	"github.com/dmitrymomot/medaccess/pkg/logger"
	"github.com/dmitrymomot/medaccess/pkg/netgate"
	"github.com/dmitrymomot/medaccess/pkg/permission"
	"github.com/dmitrymomot/medaccess/pkg/rolegraph"
)

// CreateRole validates role against the current graph, stores it and
// returns it with its id set.
func (e *Engine) CreateRole(ctx context.Context, role rolegraph.Role) (rolegraph.Role, error) {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()

	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	now := e.now()
	role.CreatedAt, role.UpdatedAt = now, now

	next, err := rolegraph.New(append(e.graph.Load().Roles(), role)...)
	if err != nil {
		return rolegraph.Role{}, err
	}
	if err := e.store.CreateRole(ctx, role); err != nil {
		return rolegraph.Role{}, err
	}
	e.graph.Store(next)

	return role, e.record(ctx, ActionRoleCreate,
		audit.WithValue("role_id", role.ID),
		audit.WithValue("slug", role.Slug),
		audit.WithValue("parent_id", role.ParentID),
	)
}

// ReparentRole moves roleID under parentID, or makes it a root when
// parentID is empty. The move is validated against the stored roles while
// the store holds the role table exclusively, so concurrent moves cannot
// combine into a cycle.
func (e *Engine) ReparentRole(ctx context.Context, roleID, parentID string) error {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()

	var next *rolegraph.Graph
	err := e.store.ReparentRole(ctx, roleID, parentID, func(roles []rolegraph.Role) error {
		g, err := rolegraph.New(roles...)
		if err != nil {
			return err
		}
		if err := g.Reparent(roleID, parentID); err != nil {
			return err
		}
		next = g
		return nil
	})

	opts := []audit.EntryOption{
		audit.WithValue("role_id", roleID),
		audit.WithValue("parent_id", parentID),
	}
	if err != nil {
		e.log.WarnContext(ctx, "role reparent refused",
			logger.Component("access"),
			logger.RoleID(roleID),
			logger.Error(err),
		)
		if aerr := e.record(ctx, ActionRoleReparent, append(opts, audit.WithError(err))...); aerr != nil {
			return errors.Join(err, aerr)
		}
		return err
	}

	e.graph.Store(next)
	e.resolver.InvalidateAll()
	return e.record(ctx, ActionRoleReparent, opts...)
}

// GrantRolePermission adds a permission to the direct grants of a role.
func (e *Engine) GrantRolePermission(ctx context.Context, roleID, permissionName string) error {
	if _, err := e.graph.Load().Role(roleID); err != nil {
		return err
	}
	p, err := e.catalog.Load().ByName(permissionName)
	if err != nil {
		return errors.Join(invalid("Permission", "unknown permission %q", permissionName), err)
	}
	if err := e.store.GrantRolePermission(ctx, roleID, p.ID); err != nil {
		return err
	}
	e.resolver.InvalidateAll()

	return e.record(ctx, ActionRoleGrant,
		audit.WithValue("role_id", roleID),
		audit.WithValue("permission", p.Name),
	)
}

// AssignRole sets the user's role. An empty roleID removes it.
func (e *Engine) AssignRole(ctx context.Context, userID, roleID, assignedBy string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return invalid("UserID", "is required")
	}
	if roleID != "" {
		if _, err := e.graph.Load().Role(roleID); err != nil {
			return err
		}
	}
	if err := e.store.SetUserRole(ctx, userID, roleID); err != nil {
		return err
	}
	e.invalidate(ctx, userID)

	opts := []audit.EntryOption{
		audit.WithValue("target_user_id", userID),
		audit.WithValue("role_id", roleID),
	}
	if assignedBy != "" {
		opts = append(opts, audit.WithUserID(assignedBy))
	}
	return e.record(ctx, ActionRoleAssign, opts...)
}

// CreatePermission registers a catalog entry.
func (e *Engine) CreatePermission(ctx context.Context, p permission.Permission) (permission.Permission, error) {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()

	if p.ID == "" {
		p.ID = permission.ID(uuid.NewString())
	}
	if err := p.Validate(); err != nil {
		return permission.Permission{}, err
	}
	cat := e.catalog.Load()
	if _, err := cat.ByName(p.Name); err == nil {
		return permission.Permission{}, errors.Join(permission.ErrDuplicatePermission, invalid("Name", "%q already exists", p.Name))
	}
	if _, err := cat.Get(p.ID); err == nil {
		return permission.Permission{}, errors.Join(permission.ErrDuplicatePermission, invalid("ID", "%q already exists", p.ID))
	}

	if err := e.store.CreatePermission(ctx, p); err != nil {
		return permission.Permission{}, err
	}
	if err := cat.Add(p); err != nil {
		return permission.Permission{}, err
	}

	return p, e.record(ctx, ActionPermissionCreate,
		audit.WithValue("permission", p.Name),
		audit.WithValue("risk_level", int(p.RiskLevel)),
	)
}

// AddDependency records "p requires q" by permission name. Self loops and
// cycles are refused before anything is stored.
func (e *Engine) AddDependency(ctx context.Context, p, q string) error {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()

	cat := e.catalog.Load()
	ids, err := cat.Resolve(p, q)
	if err != nil {
		return errors.Join(invalid("Dependency", "%s", unknownNames(err)), err)
	}
	pid, qid := ids[0], ids[1]
	if slices.Contains(cat.Dependencies(pid), qid) {
		return nil
	}

	opts := []audit.EntryOption{
		audit.WithValue("permission", p),
		audit.WithValue("depends_on", q),
	}
	if err := cat.AddDependency(pid, qid); err != nil {
		if aerr := e.record(ctx, ActionDependencyAdd, append(opts, audit.WithError(err))...); aerr != nil {
			return errors.Join(err, aerr)
		}
		return err
	}
	if err := e.store.AddDependency(ctx, permission.Dependency{PermissionID: pid, DependsOnID: qid}); err != nil {
		cat.RemoveDependency(pid, qid)
		return err
	}
	return e.record(ctx, ActionDependencyAdd, opts...)
}

// AddIPRule stores a network rule and returns its id. It takes effect on
// the next authorization.
func (e *Engine) AddIPRule(ctx context.Context, rule netgate.Rule, createdBy string) (string, error) {
	rule.Pattern = strings.TrimSpace(rule.Pattern)
	if err := rule.Validate(); err != nil {
		return "", errors.Join(invalid("Pattern", "%s", err.Error()), err)
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.CreatedAt = e.now()
	if err := e.store.CreateIPRule(ctx, rule); err != nil {
		return "", err
	}

	opts := []audit.EntryOption{
		audit.WithValue("rule_id", rule.ID),
		audit.WithValue("pattern", rule.Pattern),
		audit.WithValue("type", string(rule.Type)),
		audit.WithValue("active", rule.Active),
	}
	if createdBy != "" {
		opts = append(opts, audit.WithUserID(createdBy))
	}
	return rule.ID, e.record(ctx, ActionIPRuleAdd, opts...)
}
