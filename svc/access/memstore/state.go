package memstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/dmitrymomot/medaccess/pkg/changerequest"
	"github.com/dmitrymomot/medaccess/pkg/grants"
	"github.com/dmitrymomot/medaccess/pkg/permission"
)

// state is everything a transaction may touch. Transactions work on a
// clone and swap it in on success.
type state struct {
	userRoles map[string]string
	rolePerms map[string]map[permission.ID]struct{}
	userPerms map[string]map[permission.ID]struct{}
	temps     map[string]grants.TemporaryPermission
	requests  map[string]*changerequest.Request
	perms     map[permission.ID]permission.Permission
}

func newState() *state {
	return &state{
		userRoles: make(map[string]string),
		rolePerms: make(map[string]map[permission.ID]struct{}),
		userPerms: make(map[string]map[permission.ID]struct{}),
		temps:     make(map[string]grants.TemporaryPermission),
		requests:  make(map[string]*changerequest.Request),
		perms:     make(map[permission.ID]permission.Permission),
	}
}

func (s *state) clone() *state {
	c := &state{
		userRoles: maps.Clone(s.userRoles),
		rolePerms: make(map[string]map[permission.ID]struct{}, len(s.rolePerms)),
		userPerms: make(map[string]map[permission.ID]struct{}, len(s.userPerms)),
		temps:     maps.Clone(s.temps),
		requests:  make(map[string]*changerequest.Request, len(s.requests)),
		perms:     maps.Clone(s.perms),
	}
	for k, v := range s.rolePerms {
		c.rolePerms[k] = maps.Clone(v)
	}
	for k, v := range s.userPerms {
		c.userPerms[k] = maps.Clone(v)
	}
	for k, v := range s.requests {
		c.requests[k] = cloneRequest(v)
	}
	return c
}

func (s *state) nameOf(id permission.ID) string {
	if p, ok := s.perms[id]; ok {
		return p.Name
	}
	return string(id)
}

func (s *state) userRole(userID string) string {
	return s.userRoles[userID]
}

func (s *state) rolePermissions(roleIDs ...string) []string {
	names := make(map[string]struct{})
	for _, roleID := range roleIDs {
		for id := range s.rolePerms[roleID] {
			names[s.nameOf(id)] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(names))
}

func (s *state) userPermissions(userID string) []grants.UserPermission {
	ids := slices.Sorted(maps.Keys(s.userPerms[userID]))
	out := make([]grants.UserPermission, 0, len(ids))
	for _, id := range ids {
		out = append(out, grants.UserPermission{
			UserID:         userID,
			PermissionID:   id,
			PermissionName: s.nameOf(id),
			Allowed:        true,
		})
	}
	return out
}

func (s *state) temporaryPermissions(userID string) []grants.TemporaryPermission {
	var out []grants.TemporaryPermission
	for _, g := range s.temps {
		if g.UserID != userID {
			continue
		}
		g.PermissionName = s.nameOf(g.PermissionID)
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b grants.TemporaryPermission) int {
		return a.GrantedAt.Compare(b.GrantedAt)
	})
	return out
}

func (s *state) changeRequest(id string) (*changerequest.Request, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, errors.Join(changerequest.ErrNotFound, fmt.Errorf("request %q", id))
	}
	return cloneRequest(r), nil
}

func cloneRequest(r *changerequest.Request) *changerequest.Request {
	c := *r
	c.ToAdd = slices.Clone(r.ToAdd)
	c.ToRemove = slices.Clone(r.ToRemove)
	c.ApprovedAt = clonePtr(r.ApprovedAt)
	c.RejectedAt = clonePtr(r.RejectedAt)
	c.ExpiresAt = clonePtr(r.ExpiresAt)
	c.AppliedAt = clonePtr(r.AppliedAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// tx is the Tx handed to InTx callbacks.
type tx struct {
	st *state
}

func (t *tx) UserRole(_ context.Context, userID string) (string, error) {
	return t.st.userRole(userID), nil
}

func (t *tx) RolePermissions(_ context.Context, roleIDs ...string) ([]string, error) {
	return t.st.rolePermissions(roleIDs...), nil
}

func (t *tx) UserPermissions(_ context.Context, userID string) ([]grants.UserPermission, error) {
	return t.st.userPermissions(userID), nil
}

func (t *tx) TemporaryPermissions(_ context.Context, userID string) ([]grants.TemporaryPermission, error) {
	return t.st.temporaryPermissions(userID), nil
}

func (t *tx) ChangeRequestForUpdate(_ context.Context, id string) (*changerequest.Request, error) {
	return t.st.changeRequest(id)
}

func (t *tx) SaveChangeRequest(_ context.Context, req *changerequest.Request) error {
	if _, ok := t.st.requests[req.ID]; !ok {
		return errors.Join(changerequest.ErrNotFound, fmt.Errorf("request %q", req.ID))
	}
	t.st.requests[req.ID] = cloneRequest(req)
	return nil
}

func (t *tx) LastAppliedAt(_ context.Context, userID string) (*time.Time, error) {
	var last *time.Time
	for _, r := range t.st.requests {
		if r.UserID != userID || r.AppliedAt == nil {
			continue
		}
		if last == nil || r.AppliedAt.After(*last) {
			at := *r.AppliedAt
			last = &at
		}
	}
	return last, nil
}

func (t *tx) UpsertUserPermission(_ context.Context, userID string, id permission.ID) error {
	if _, ok := t.st.perms[id]; !ok {
		return fmt.Errorf("%w: %q", permission.ErrUnknownPermission, id)
	}
	set, ok := t.st.userPerms[userID]
	if !ok {
		set = make(map[permission.ID]struct{})
		t.st.userPerms[userID] = set
	}
	set[id] = struct{}{}
	return nil
}

func (t *tx) DeleteUserPermission(_ context.Context, userID string, id permission.ID) error {
	delete(t.st.userPerms[userID], id)
	return nil
}
