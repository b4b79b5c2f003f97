// Package pg wires PostgreSQL into the engine using the pgx/v5 driver.
//
// Config is populated from the environment (PG_CONN_URL and friends).
// Connect opens a *pgxpool.Pool with retries, Migrate applies goose
// migrations from an embedded filesystem, WithTx runs a function in a
// RepeatableRead transaction, and the Is... helpers classify driver
// errors by SQLSTATE.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, pgstore.Migrations, "migrations", cfg, log); err != nil {
//		return err
//	}
//
//	err = pg.WithTx(ctx, pool, func(tx pgx.Tx) error {
//		_, err := tx.Exec(ctx, "LOCK TABLE roles IN EXCLUSIVE MODE")
//		return err
//	})
package pg
