// Package httpserver runs the authorization endpoints behind a graceful
// shutdown and exposes liveness and readiness probes.
//
//	srv := httpserver.New(cfg.HTTP, httpserver.WithLogger(log))
//	r := chi.NewRouter()
//	r.Get("/healthz", httpserver.Liveness())
//	r.Get("/readyz", httpserver.Readiness(log, map[string]httpserver.Check{
//		"postgres": pg.Healthcheck(pool),
//	}))
//	err := srv.Run(ctx, r)
//
// Run returns when ctx is cancelled, after in-flight requests finish or
// the shutdown timeout elapses.
package httpserver
