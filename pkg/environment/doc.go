// Package environment names the deployment the engine runs in.
//
// The value is read once at startup (APP_ENV) and handed explicitly to the
// components whose behaviour depends on it, most importantly the audit log,
// which refuses to mutate or delete entries when the environment is
// Production:
//
//	var cfg environment.Config
//	config.MustLoad(&cfg)
//	log := audit.New(storage, cfg.Environment())
//
// Context helpers exist only so the value can be attached to structured
// log records through LoggerExtractor; no component reads the environment
// from ambient state.
package environment
