package memstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/medaccess/pkg/audit"
	"github.com/dmitrymomot/medaccess/pkg/changerequest"
	"github.com/dmitrymomot/medaccess/pkg/grants"
	"github.com/dmitrymomot/medaccess/pkg/netgate"
	"github.com/dmitrymomot/medaccess/pkg/permission"
	"github.com/dmitrymomot/medaccess/pkg/rolegraph"
	"github.com/dmitrymomot/medaccess/pkg/session"
	"github.com/dmitrymomot/medaccess/svc/access"
)

// Store keeps every engine table in memory. It also serves as the
// session store and the audit storage. Transactions hold the store-wide
// lock for their whole duration.
type Store struct {
	*session.MemoryStore
	*audit.MemoryStorage

	mu    sync.RWMutex
	st    *state
	roles map[string]rolegraph.Role
	deps  []permission.Dependency
	rules []netgate.Rule
}

var _ access.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		MemoryStore:   session.NewMemoryStore(),
		MemoryStorage: audit.NewMemoryStorage(),
		st:            newState(),
		roles:         make(map[string]rolegraph.Role),
	}
}

// InTx runs fn against a copy of the state and keeps the copy only when
// fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(tx access.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) UserRole(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.userRole(userID), nil
}

func (s *Store) RolePermissions(_ context.Context, roleIDs ...string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.rolePermissions(roleIDs...), nil
}

func (s *Store) UserPermissions(_ context.Context, userID string) ([]grants.UserPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.userPermissions(userID), nil
}

func (s *Store) TemporaryPermissions(_ context.Context, userID string) ([]grants.TemporaryPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.temporaryPermissions(userID), nil
}

func (s *Store) IPRules(context.Context) ([]netgate.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.rules), nil
}

func (s *Store) Roles(context.Context) ([]rolegraph.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roleList(), nil
}

func (s *Store) roleList() []rolegraph.Role {
	out := make([]rolegraph.Role, 0, len(s.roles))
	for _, id := range slices.Sorted(maps.Keys(s.roles)) {
		out = append(out, s.roles[id])
	}
	return out
}

func (s *Store) Permissions(context.Context) ([]permission.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]permission.Permission, 0, len(s.st.perms))
	for _, id := range slices.Sorted(maps.Keys(s.st.perms)) {
		out = append(out, s.st.perms[id])
	}
	return out, nil
}

func (s *Store) Dependencies(context.Context) ([]permission.Dependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.deps), nil
}

func (s *Store) CreateRole(_ context.Context, role rolegraph.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role.ID]; ok {
		return errors.Join(rolegraph.ErrDuplicateRole, fmt.Errorf("role %q", role.ID))
	}
	s.roles[role.ID] = role
	return nil
}

// ReparentRole runs check and the write under the store-wide lock.
func (s *Store) ReparentRole(_ context.Context, roleID, parentID string, check func([]rolegraph.Role) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.roles[roleID]
	if !ok {
		return errors.Join(rolegraph.ErrRoleNotFound, fmt.Errorf("role %q", roleID))
	}
	if err := check(s.roleList()); err != nil {
		return err
	}
	role.ParentID = parentID
	s.roles[roleID] = role
	return nil
}

func (s *Store) CreatePermission(_ context.Context, p permission.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.st.perms {
		if existing.ID == p.ID || existing.Name == p.Name {
			return errors.Join(permission.ErrDuplicatePermission, fmt.Errorf("permission %q", p.Name))
		}
	}
	s.st.perms[p.ID] = p
	return nil
}

func (s *Store) AddDependency(_ context.Context, dep permission.Dependency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.deps, dep) {
		s.deps = append(s.deps, dep)
	}
	return nil
}

func (s *Store) GrantRolePermission(_ context.Context, roleID string, id permission.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return errors.Join(rolegraph.ErrRoleNotFound, fmt.Errorf("role %q", roleID))
	}
	if _, ok := s.st.perms[id]; !ok {
		return fmt.Errorf("%w: %q", permission.ErrUnknownPermission, id)
	}
	set, ok := s.st.rolePerms[roleID]
	if !ok {
		set = make(map[permission.ID]struct{})
		s.st.rolePerms[roleID] = set
	}
	set[id] = struct{}{}
	return nil
}

// SetUserRole assigns the role; an empty roleID removes the assignment.
func (s *Store) SetUserRole(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if roleID == "" {
		delete(s.st.userRoles, userID)
		return nil
	}
	if _, ok := s.roles[roleID]; !ok {
		return errors.Join(rolegraph.ErrRoleNotFound, fmt.Errorf("role %q", roleID))
	}
	s.st.userRoles[userID] = roleID
	return nil
}

func (s *Store) CreateIPRule(_ context.Context, rule netgate.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule)
	return nil
}

func (s *Store) CreateChangeRequest(_ context.Context, req *changerequest.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.requests[req.ID] = cloneRequest(req)
	return nil
}

func (s *Store) ChangeRequest(_ context.Context, id string) (*changerequest.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.changeRequest(id)
}

func (s *Store) ExpiredPendingRequests(_ context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, r := range s.st.requests {
		if r.Status == changerequest.StatusPending && r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) CreateTemporaryPermission(_ context.Context, grant grants.TemporaryPermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.perms[grant.PermissionID]; !ok {
		return fmt.Errorf("%w: %q", permission.ErrUnknownPermission, grant.PermissionID)
	}
	s.st.temps[grant.ID] = grant
	return nil
}

func (s *Store) RevokeTemporaryPermission(_ context.Context, id string, at time.Time) (grants.TemporaryPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.st.temps[id]
	if !ok {
		return grants.TemporaryPermission{}, errors.Join(grants.ErrGrantNotFound, fmt.Errorf("grant %q", id))
	}
	if g.Active {
		g.Active = false
		g.RevokedAt = &at
		s.st.temps[id] = g
	}
	g.PermissionName = s.st.nameOf(g.PermissionID)
	return g, nil
}

func (s *Store) DeactivateExpiredTemporary(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make(map[string]struct{})
	for id, g := range s.st.temps {
		if g.Active && !g.ExpiresAt.After(now) {
			g.Active = false
			s.st.temps[id] = g
			users[g.UserID] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(users)), nil
}
