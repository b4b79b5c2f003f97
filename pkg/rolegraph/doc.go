// Package rolegraph keeps the hospital role hierarchy as an in-memory forest.
//
// Each role has at most one parent and a priority strictly lower than its
// parent's, so authority only flows downwards. A Graph is built from a
// Source (or a slice of roles) and validated as a whole; every later
// mutation re-validates the path it touches before it becomes visible.
//
// Placing a role under a new parent is checked in a fixed order and the
// first failure is reported as a *HierarchyIntegrityError:
//
//  1. a system role may only be placed under another system role;
//  2. the new parent must not be the role itself or one of its descendants;
//  3. the parent's priority must be strictly greater than the child's.
//
// Traversals (Ancestors, Descendants, HierarchyLevel) are iterative and
// guarded by visited sets.
//
// Basic usage:
//
//	g, err := rolegraph.New(
//		rolegraph.Role{ID: "admin", Slug: "hospital-admin", Priority: 100, IsSystem: true},
//		rolegraph.Role{ID: "doctor", Slug: "doctor", Priority: 80, ParentID: "admin"},
//	)
//	if err != nil {
//		return err
//	}
//	if err := g.Reparent("admin", "doctor"); err != nil {
//		// errors.Is(err, rolegraph.ErrHierarchyIntegrity)
//	}
//
// Role capability sets (module access, data visibility, ...) are plain token
// lists where "*" grants everything and "ns.*" grants a namespace.
package rolegraph
