package permission

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Source provides the persisted catalog.
type Source interface {
	Permissions(ctx context.Context) ([]Permission, error)
	Dependencies(ctx context.Context) ([]Dependency, error)
}

// Catalog holds the permission records and the directed dependency graph
// between them. It is safe for concurrent use.
type Catalog struct {
	mu         sync.RWMutex
	byID       map[ID]Permission
	byName     map[string]ID
	deps       map[ID][]ID
	dependents map[ID][]ID
	conflicts  map[groupPair]struct{}
}

type groupPair struct{ a, b string }

func newGroupPair(a, b string) groupPair {
	if b < a {
		a, b = b, a
	}
	return groupPair{a: a, b: b}
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		byID:       make(map[ID]Permission),
		byName:     make(map[string]ID),
		deps:       make(map[ID][]ID),
		dependents: make(map[ID][]ID),
		conflicts:  make(map[groupPair]struct{}),
	}
}

// Load builds a catalog from src. Dependency edges go through
// AddDependency, so a stored cycle fails the load.
func Load(ctx context.Context, src Source) (*Catalog, error) {
	perms, err := src.Permissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("permission: load permissions: %w", err)
	}
	edges, err := src.Dependencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("permission: load dependencies: %w", err)
	}

	c := NewCatalog()
	for _, p := range perms {
		if err := c.Add(p); err != nil {
			return nil, err
		}
	}
	for _, e := range edges {
		if err := c.AddDependency(e.PermissionID, e.DependsOnID); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add registers a permission. Ids and names are unique.
func (c *Catalog) Add(p Permission) error {
	if err := p.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byID[p.ID]; ok {
		return errors.Join(ErrDuplicatePermission, fmt.Errorf("id %q", p.ID))
	}
	if _, ok := c.byName[p.Name]; ok {
		return errors.Join(ErrDuplicatePermission, fmt.Errorf("name %q", p.Name))
	}
	c.byID[p.ID] = p
	c.byName[p.Name] = p.ID
	return nil
}

// Remove deletes a permission that is neither critical nor required by another one.
func (c *Catalog) Remove(id ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.byID[id]
	if !ok {
		return unknown(string(id))
	}
	if p.IsCritical {
		return errors.Join(ErrCriticalPermission, fmt.Errorf("permission %q cannot be deleted", p.Name))
	}
	if len(c.dependents[id]) > 0 {
		return errors.Join(ErrPermissionInUse, fmt.Errorf("permission %q is required by %d permissions", p.Name, len(c.dependents[id])))
	}

	for _, q := range c.deps[id] {
		c.dependents[q] = remove(c.dependents[q], id)
	}
	delete(c.deps, id)
	delete(c.byName, p.Name)
	delete(c.byID, id)
	return nil
}

func (c *Catalog) Get(id ID) (Permission, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[id]
	if !ok {
		return Permission{}, unknown(string(id))
	}
	return p, nil
}

func (c *Catalog) ByName(name string) (Permission, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byName[name]
	if !ok {
		return Permission{}, unknown(name)
	}
	return c.byID[id], nil
}

// Resolve maps names to ids. Every unknown name is reported.
func (c *Catalog) Resolve(names ...string) ([]ID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ID, 0, len(names))
	var errs []error
	for _, name := range names {
		id, ok := c.byName[name]
		if !ok {
			errs = append(errs, unknown(name))
			continue
		}
		out = append(out, id)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Names maps ids to names, skipping unknown ids.
func (c *Catalog) Names(ids ...ID) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if p, ok := c.byID[id]; ok {
			out = append(out, p.Name)
		}
	}
	return out
}

// All returns every permission ordered by name.
func (c *Catalog) All() []Permission {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Permission, 0, len(c.byID))
	for _, p := range c.byID {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Permission) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// AddDependency records "p requires q". Self loops and edges that would
// close a cycle are rejected before anything is stored.
func (c *Catalog) AddDependency(p, q ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pp, ok := c.byID[p]
	if !ok {
		return unknown(string(p))
	}
	qq, ok := c.byID[q]
	if !ok {
		return unknown(string(q))
	}
	if p == q {
		return errors.Join(ErrSelfDependency, fmt.Errorf("permission %q", pp.Name))
	}
	if _, found := slices.BinarySearch(c.deps[p], q); found {
		return nil
	}
	if c.reachable(q, p) {
		return errors.Join(ErrDependencyCycle, fmt.Errorf("%q requires %q would close a cycle", pp.Name, qq.Name))
	}

	c.deps[p] = insert(c.deps[p], q)
	c.dependents[q] = insert(c.dependents[q], p)
	return nil
}

// RemoveDependency drops the edge "p requires q" if present.
func (c *Catalog) RemoveDependency(p, q ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deps[p] = remove(c.deps[p], q)
	c.dependents[q] = remove(c.dependents[q], p)
}

// reachable reports whether to can be reached from from along dependency edges.
func (c *Catalog) reachable(from, to ID) bool {
	visited := map[ID]struct{}{from: {}}
	queue := []ID{from}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == to {
			return true
		}
		for _, next := range c.deps[current] {
			if _, seen := visited[next]; !seen {
				visited[next] = struct{}{}
				queue = append(queue, next)
			}
		}
	}
	return false
}

// Dependencies returns the direct prerequisites of id.
func (c *Catalog) Dependencies(id ID) []ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.deps[id])
}

// Dependents returns the permissions that directly require id.
func (c *Catalog) Dependents(id ID) []ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.dependents[id])
}

// Closure expands ids with every transitive prerequisite.
func (c *Catalog) Closure(ids ...ID) Set {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := NewSet(ids...)
	queue := slices.Clone(ids)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dep := range c.deps[current] {
			if !out.Has(dep) {
				out.Add(dep)
				queue = append(queue, dep)
			}
		}
	}
	return out
}

// Validate reports one DependencyError for every edge P -> Q where P is in
// the candidate set and Q is not. It never adds anything to the set.
// Findings are ordered by permission name, then prerequisite name.
func (c *Catalog) Validate(ids ...ID) DependencyErrors {
	c.mu.RLock()
	defer c.mu.RUnlock()

	set := NewSet(ids...)
	var out DependencyErrors
	for _, p := range set.Slice() {
		for _, q := range c.deps[p] {
			if set.Has(q) {
				continue
			}
			out = append(out, &DependencyError{
				Permission:     p,
				PermissionName: c.nameOf(p),
				DependsOn:      q,
				DependsOnName:  c.nameOf(q),
			})
		}
	}
	slices.SortFunc(out, func(a, b *DependencyError) int {
		if r := cmp.Compare(a.PermissionName, b.PermissionName); r != 0 {
			return r
		}
		return cmp.Compare(a.DependsOnName, b.DependsOnName)
	})
	return out
}

func (c *Catalog) nameOf(id ID) string {
	if p, ok := c.byID[id]; ok {
		return p.Name
	}
	return string(id)
}

func unknown(ref string) error {
	return fmt.Errorf("%w: %q", ErrUnknownPermission, ref)
}

func insert(list []ID, id ID) []ID {
	i, found := slices.BinarySearch(list, id)
	if found {
		return list
	}
	return slices.Insert(list, i, id)
}

func remove(list []ID, id ID) []ID {
	if i, found := slices.BinarySearch(list, id); found {
		return slices.Delete(list, i, i+1)
	}
	return list
}
