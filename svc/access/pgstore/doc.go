// Package pgstore implements the engine store, the session store and the
// audit storage on PostgreSQL through pgx.
//
// The schema ships as embedded goose migrations:
//
//	pool, err := pg.Connect(ctx, cfg.Postgres)
//	if err != nil {
//		return err
//	}
//	if err := pgstore.Migrate(ctx, pool, cfg.Postgres, log); err != nil {
//		return err
//	}
//	store := pgstore.New(pool, cfg.Env)
//	auditLog := audit.New(store, cfg.Env)
//	engine, err := access.New(ctx, store, store, auditLog)
//
// Audit rows are protected by a trigger that refuses UPDATE and DELETE
// unless the transaction sets medaccess.audit_mutable. Only Storage.Update
// and Storage.Delete set it, and audit.Log never calls them in production.
package pgstore
