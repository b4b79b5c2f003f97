package rolegraph

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Source provides the persisted roles a Graph is built from.
type Source interface {
	Roles(ctx context.Context) ([]Role, error)
}

// Graph is an in-memory adjacency view of the role forest.
// All methods are safe for concurrent use; mutations validate the whole
// affected path before anything becomes visible to readers.
type Graph struct {
	mu         sync.RWMutex
	roles      map[string]Role
	children   map[string][]string
	slugs      map[string]string
	superAdmin string
}

// Load builds a Graph from the roles returned by src.
func Load(ctx context.Context, src Source) (*Graph, error) {
	roles, err := src.Roles(ctx)
	if err != nil {
		return nil, fmt.Errorf("rolegraph: load roles: %w", err)
	}
	return New(roles...)
}

// New builds a Graph and validates every parent link, so a forest that was
// corrupted in storage is rejected instead of being served.
func New(roles ...Role) (*Graph, error) {
	g := &Graph{
		roles:    make(map[string]Role, len(roles)),
		children: make(map[string][]string),
		slugs:    make(map[string]string, len(roles)),
	}

	for _, r := range roles {
		if err := g.admit(r); err != nil {
			return nil, err
		}
		g.roles[r.ID] = r.clone()
		g.slugs[r.Slug] = r.ID
		if r.IsSuperAdmin {
			g.superAdmin = r.ID
		}
	}

	for _, r := range g.roles {
		if r.ParentID == "" {
			continue
		}
		parent, ok := g.roles[r.ParentID]
		if !ok {
			return nil, errors.Join(ErrRoleNotFound, fmt.Errorf("parent %q of role %q", r.ParentID, r.ID))
		}
		if herr := edgeViolation(r, parent); herr != nil {
			return nil, herr
		}
		g.linkChild(r.ParentID, r.ID)
	}

	for id := range g.roles {
		if err := g.validatePath(id, g.parentOf); err != nil {
			return nil, err
		}
	}

	return g, nil
}

// admit checks the identity constraints of a role about to be inserted.
func (g *Graph) admit(r Role) error {
	if r.ID == "" || r.Slug == "" {
		return errors.Join(ErrInvalidRole, errors.New("id and slug are required"))
	}
	if _, ok := g.roles[r.ID]; ok {
		return errors.Join(ErrDuplicateRole, fmt.Errorf("role %q", r.ID))
	}
	if _, ok := g.slugs[r.Slug]; ok {
		return errors.Join(ErrDuplicateSlug, fmt.Errorf("slug %q", r.Slug))
	}
	if r.IsSuperAdmin && g.superAdmin != "" {
		return ErrSuperAdminExists
	}
	if r.IsSuperAdmin != (r.Slug == SuperAdminSlug) {
		return errors.Join(ErrReservedSlug, fmt.Errorf("slug %q is reserved for the super admin role", SuperAdminSlug))
	}
	return nil
}

func (g *Graph) parentOf(id string) string {
	return g.roles[id].ParentID
}

func (g *Graph) linkChild(parentID, childID string) {
	kids := g.children[parentID]
	i, found := slices.BinarySearch(kids, childID)
	if !found {
		g.children[parentID] = slices.Insert(kids, i, childID)
	}
}

func (g *Graph) unlinkChild(parentID, childID string) {
	kids := g.children[parentID]
	if i, found := slices.BinarySearch(kids, childID); found {
		kids = slices.Delete(kids, i, i+1)
	}
	if len(kids) == 0 {
		delete(g.children, parentID)
		return
	}
	g.children[parentID] = kids
}

// edgeViolation checks the rules that only need the two roles involved.
func edgeViolation(child, parent Role) *HierarchyIntegrityError {
	if child.IsSystem && !parent.IsSystem {
		return &HierarchyIntegrityError{Child: child.ID, Parent: parent.ID, Violation: ViolationSystemUnderCustom}
	}
	if parent.Priority <= child.Priority {
		return &HierarchyIntegrityError{Child: child.ID, Parent: parent.ID, Violation: ViolationPriority}
	}
	return nil
}

// validatePath walks from id to its root using parentOf and checks every
// hop. parentOf lets callers validate a hypothetical assignment without
// touching the graph.
func (g *Graph) validatePath(id string, parentOf func(string) string) error {
	visited := make(map[string]struct{}, 8)
	current := id
	for {
		visited[current] = struct{}{}
		parentID := parentOf(current)
		if parentID == "" {
			return nil
		}
		if _, seen := visited[parentID]; seen {
			return &HierarchyIntegrityError{Child: current, Parent: parentID, Violation: ViolationCycle}
		}
		parent, ok := g.roles[parentID]
		if !ok {
			return errors.Join(ErrRoleNotFound, fmt.Errorf("parent %q of role %q", parentID, current))
		}
		if herr := edgeViolation(g.roles[current], parent); herr != nil {
			return herr
		}
		current = parentID
	}
}

// Role returns the role with the given id.
func (g *Graph) Role(id string) (Role, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.roles[id]
	if !ok {
		return Role{}, errors.Join(ErrRoleNotFound, fmt.Errorf("role %q", id))
	}
	return r.clone(), nil
}

// BySlug returns the role with the given slug.
func (g *Graph) BySlug(slug string) (Role, error) {
	g.mu.RLock()
	id, ok := g.slugs[slug]
	g.mu.RUnlock()
	if !ok {
		return Role{}, errors.Join(ErrRoleNotFound, fmt.Errorf("slug %q", slug))
	}
	return g.Role(id)
}

// Parent returns the parent of id; ok is false for roots.
func (g *Graph) Parent(id string) (parent Role, ok bool, err error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, exists := g.roles[id]
	if !exists {
		return Role{}, false, errors.Join(ErrRoleNotFound, fmt.Errorf("role %q", id))
	}
	if r.ParentID == "" {
		return Role{}, false, nil
	}
	return g.roles[r.ParentID].clone(), true, nil
}

// Children returns the direct children of id ordered by id.
func (g *Graph) Children(id string) ([]Role, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.roles[id]; !ok {
		return nil, errors.Join(ErrRoleNotFound, fmt.Errorf("role %q", id))
	}
	kids := g.children[id]
	out := make([]Role, 0, len(kids))
	for _, kid := range kids {
		out = append(out, g.roles[kid].clone())
	}
	return out, nil
}

// Ancestors returns the chain above id, nearest parent first.
func (g *Graph) Ancestors(id string) ([]Role, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids, err := g.ancestorIDs(id)
	if err != nil {
		return nil, err
	}
	out := make([]Role, 0, len(ids))
	for _, a := range ids {
		out = append(out, g.roles[a].clone())
	}
	return out, nil
}

func (g *Graph) ancestorIDs(id string) ([]string, error) {
	r, ok := g.roles[id]
	if !ok {
		return nil, errors.Join(ErrRoleNotFound, fmt.Errorf("role %q", id))
	}
	var out []string
	visited := map[string]struct{}{id: {}}
	for parentID := r.ParentID; parentID != ""; parentID = g.roles[parentID].ParentID {
		if _, seen := visited[parentID]; seen {
			return nil, &HierarchyIntegrityError{Child: id, Parent: parentID, Violation: ViolationCycle}
		}
		visited[parentID] = struct{}{}
		out = append(out, parentID)
	}
	return out, nil
}

// Descendants returns every role below id in breadth-first order.
func (g *Graph) Descendants(id string) ([]Role, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.roles[id]; !ok {
		return nil, errors.Join(ErrRoleNotFound, fmt.Errorf("role %q", id))
	}
	var out []Role
	for _, d := range g.descendantIDs(id) {
		out = append(out, g.roles[d].clone())
	}
	return out, nil
}

func (g *Graph) descendantIDs(id string) []string {
	var out []string
	visited := map[string]struct{}{id: {}}
	queue := slices.Clone(g.children[id])
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}
		out = append(out, current)
		queue = append(queue, g.children[current]...)
	}
	return out
}

// HierarchyLevel is 1 for a root and grows by one per hop.
func (g *Graph) HierarchyLevel(id string) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids, err := g.ancestorIDs(id)
	if err != nil {
		return 0, err
	}
	return len(ids) + 1, nil
}

// CanInherit reports whether childID may be placed under parentID.
func (g *Graph) CanInherit(childID, parentID string) (bool, error) {
	err := g.CheckInherit(childID, parentID)
	if _, ok := IsHierarchyError(err); ok {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CheckInherit is CanInherit with the reason. Checks run in a fixed order
// and the first failing one is reported: system role under a custom role,
// cycle, priority.
func (g *Graph) CheckInherit(childID, parentID string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.checkInherit(childID, parentID)
}

func (g *Graph) checkInherit(childID, parentID string) error {
	child, ok := g.roles[childID]
	if !ok {
		return errors.Join(ErrRoleNotFound, fmt.Errorf("role %q", childID))
	}
	parent, ok := g.roles[parentID]
	if !ok {
		return errors.Join(ErrRoleNotFound, fmt.Errorf("role %q", parentID))
	}

	if child.IsSystem && !parent.IsSystem {
		return &HierarchyIntegrityError{Child: childID, Parent: parentID, Violation: ViolationSystemUnderCustom}
	}
	if parentID == childID || g.isAncestor(childID, parentID) {
		return &HierarchyIntegrityError{Child: childID, Parent: parentID, Violation: ViolationCycle}
	}
	if parent.Priority <= child.Priority {
		return &HierarchyIntegrityError{Child: childID, Parent: parentID, Violation: ViolationPriority}
	}
	return nil
}

// isAncestor reports whether candidate sits above id.
func (g *Graph) isAncestor(candidate, id string) bool {
	visited := map[string]struct{}{id: {}}
	for parentID := g.roles[id].ParentID; parentID != ""; parentID = g.roles[parentID].ParentID {
		if parentID == candidate {
			return true
		}
		if _, seen := visited[parentID]; seen {
			return false
		}
		visited[parentID] = struct{}{}
	}
	return false
}

// Reparent moves childID under parentID, or makes it a root when parentID
// is empty. The complete resulting path to the root is validated under the
// write lock before the adjacency is updated.
func (g *Graph) Reparent(childID, parentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	child, ok := g.roles[childID]
	if !ok {
		return errors.Join(ErrRoleNotFound, fmt.Errorf("role %q", childID))
	}
	if child.ParentID == parentID {
		return nil
	}

	if parentID != "" {
		if err := g.checkInherit(childID, parentID); err != nil {
			return err
		}
		hypothetical := func(id string) string {
			if id == childID {
				return parentID
			}
			return g.roles[id].ParentID
		}
		if err := g.validatePath(childID, hypothetical); err != nil {
			return err
		}
	}

	if child.ParentID != "" {
		g.unlinkChild(child.ParentID, childID)
	}
	child.ParentID = parentID
	g.roles[childID] = child
	if parentID != "" {
		g.linkChild(parentID, childID)
	}
	return nil
}

// Add inserts a new role. Its parent, if any, must already exist.
func (g *Graph) Add(r Role) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.admit(r); err != nil {
		return err
	}
	if r.ParentID != "" {
		parent, ok := g.roles[r.ParentID]
		if !ok {
			return errors.Join(ErrRoleNotFound, fmt.Errorf("parent %q", r.ParentID))
		}
		if herr := edgeViolation(r, parent); herr != nil {
			return herr
		}
	}

	g.roles[r.ID] = r.clone()
	g.slugs[r.Slug] = r.ID
	if r.IsSuperAdmin {
		g.superAdmin = r.ID
	}
	if r.ParentID != "" {
		g.linkChild(r.ParentID, r.ID)
	}
	return nil
}

// Update replaces the attributes of an existing role. Structural fields
// (parent, system and super admin flags) cannot change here; use Reparent.
func (g *Graph) Update(r Role) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	current, ok := g.roles[r.ID]
	if !ok {
		return errors.Join(ErrRoleNotFound, fmt.Errorf("role %q", r.ID))
	}
	if r.ParentID != current.ParentID {
		return errors.Join(ErrInvalidRole, errors.New("parent changes go through Reparent"))
	}
	if r.IsSystem != current.IsSystem || r.IsSuperAdmin != current.IsSuperAdmin {
		return errors.Join(ErrSystemRole, fmt.Errorf("role %q flags are immutable", r.ID))
	}
	if r.Slug == "" {
		return errors.Join(ErrInvalidRole, errors.New("slug is required"))
	}
	if r.Slug != current.Slug {
		if current.IsSuperAdmin || r.Slug == SuperAdminSlug {
			return errors.Join(ErrReservedSlug, fmt.Errorf("slug %q is reserved for the super admin role", SuperAdminSlug))
		}
		if _, taken := g.slugs[r.Slug]; taken {
			return errors.Join(ErrDuplicateSlug, fmt.Errorf("slug %q", r.Slug))
		}
	}

	if r.Priority != current.Priority {
		if r.ParentID != "" {
			if herr := edgeViolation(r, g.roles[r.ParentID]); herr != nil {
				return herr
			}
		}
		for _, kid := range g.children[r.ID] {
			if herr := edgeViolation(g.roles[kid], r); herr != nil {
				return herr
			}
		}
	}

	delete(g.slugs, current.Slug)
	g.slugs[r.Slug] = r.ID
	g.roles[r.ID] = r.clone()
	return nil
}

// Remove deletes a leaf role. System roles and the super admin are never removed.
func (g *Graph) Remove(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.roles[id]
	if !ok {
		return errors.Join(ErrRoleNotFound, fmt.Errorf("role %q", id))
	}
	if r.IsSystem || r.IsSuperAdmin {
		return errors.Join(ErrSystemRole, fmt.Errorf("role %q cannot be deleted", id))
	}
	if len(g.children[id]) > 0 {
		return errors.Join(ErrHasChildren, fmt.Errorf("role %q", id))
	}

	if r.ParentID != "" {
		g.unlinkChild(r.ParentID, id)
	}
	delete(g.slugs, r.Slug)
	delete(g.roles, id)
	return nil
}

// Roots returns the roles without a parent, highest priority first.
func (g *Graph) Roots() []Role {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Role
	for _, r := range g.roles {
		if r.ParentID == "" {
			out = append(out, r.clone())
		}
	}
	sortRoles(out)
	return out
}

// Roles returns every role, highest priority first.
func (g *Graph) Roles() []Role {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Role, 0, len(g.roles))
	for _, r := range g.roles {
		out = append(out, r.clone())
	}
	sortRoles(out)
	return out
}

// SuperAdmin returns the super admin role if one is registered.
func (g *Graph) SuperAdmin() (Role, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.superAdmin == "" {
		return Role{}, false
	}
	return g.roles[g.superAdmin].clone(), true
}

func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.roles)
}

func sortRoles(roles []Role) {
	slices.SortFunc(roles, func(a, b Role) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
