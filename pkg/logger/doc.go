// Package logger builds the log/slog loggers used across the engine.
//
// New returns a *slog.Logger whose handler is wrapped by a decorator that
// pulls request scoped attributes (request id, acting user, environment)
// out of the context at log time:
//
//	log := logger.New(
//		logger.WithEnvironment(env, "medaccess"),
//		logger.WithContextExtractors(environment.LoggerExtractor()),
//	)
//	log.InfoContext(ctx, "change request approved", logger.UserID(id))
//
// The attr helpers keep attribute keys consistent between packages.
package logger
