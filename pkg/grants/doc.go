// Package grants resolves the effective permissions of a user.
//
// The effective set is the union of the grants of the user's role, the
// user's allowed overrides and the temporary grants that are active and
// not expired at evaluation time. In WithInherited mode the grants of
// every ancestor role are added as well.
//
//	r := grants.NewResolver(store, graph, grants.WithDefaultMode(grants.OwnGrants))
//	ok, err := r.HasPermission(ctx, userID, "view-laboratory")
//
// Resolution is re-evaluated on every call unless a Cache is configured.
// Cached entries expire no later than the earliest temporary grant they
// include, and Invalidate must be called whenever a user's grants change.
package grants
