// Package access is the hospital authorization engine. It combines the
// role graph, the permission catalog, the grant resolver and the network
// gate behind one Engine, runs the permission change request workflow,
// temporary grants and sessions, and records every decision and mutation
// in a hash-chained audit log.
//
// An Engine runs on a Store. Two implementations ship with the module:
// memstore keeps everything in memory and pgstore runs on PostgreSQL.
//
//	store := memstore.New()
//	log := audit.New(store, environment.Production)
//	engine, err := access.New(ctx, store, store, log,
//		access.WithCache(grants.NewRedisCache(client), time.Minute),
//	)
//	if err != nil {
//		return err
//	}
//	d, err := engine.Authorize(ctx, "user-1", "edit-lab-tests", "10.0.5.10")
//
// Authorize reads the user's own role grants, allowed overrides and valid
// temporary grants. WithDefaultMode(grants.WithInherited) adds the grants
// of every ancestor role.
//
// Change requests follow pending -> approved|rejected|expired. Applying an
// approved request writes its overrides and validates the resulting set in
// one transaction; WithDependencyPolicy decides whether missing
// prerequisites roll it back or are only reported.
package access
