// Package permission holds the permission catalog and the dependency
// validator built on top of it.
//
// Permissions are identified by a typed ID and carry a unique name, a risk
// level and flags that drive the approval workflow. Dependencies form a
// directed acyclic graph: "edit-lab-tests requires view-laboratory".
// Cycles are rejected when an edge is added, so every closure computation
// terminates on a well-formed graph.
//
// Closure expands a candidate set with all transitive prerequisites.
// Validate only reports: it returns one DependencyError per missing
// prerequisite and leaves the decision to reject or auto-complete to the
// caller.
//
//	c := permission.NewCatalog()
//	_ = c.Add(permission.Permission{ID: "p1", Name: "view-laboratory", RiskLevel: permission.RiskLow})
//	_ = c.Add(permission.Permission{ID: "p2", Name: "edit-lab-tests", RiskLevel: permission.RiskMedium})
//	_ = c.AddDependency("p2", "p1")
//
//	if errs := c.Validate("p2"); len(errs) > 0 {
//		return errs // edit-lab-tests requires view-laboratory
//	}
package permission
