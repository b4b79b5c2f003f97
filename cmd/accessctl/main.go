// Command accessctl administers the authorization engine: it migrates the
// schema, seeds a catalog, runs the HTTP endpoints and sweeps expired grants.
//
// Configuration is read from the environment (and .env when present).
// See appConfig for the variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrymomot/medaccess/pkg/environment"
)

const usage = `usage: accessctl <command> [args]

commands:
  migrate         apply the database migrations
  seed [file]     write a YAML catalog to an empty database (default $ACCESS_CATALOG_FILE)
  serve           run the HTTP endpoints and the expiry sweeper
  sweep           expire temporary grants and stale change requests once
  verify-audit    recompute the audit hash chain
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		fmt.Fprintln(os.Stderr, "accessctl:", err)
		os.Exit(1)
	}
}

// commands maps a subcommand to its action; args excludes the name.
var commands = map[string]func(a *app, ctx context.Context, args []string) error{
	"migrate": func(a *app, ctx context.Context, _ []string) error { return a.migrate(ctx) },
	"seed": func(a *app, ctx context.Context, args []string) error {
		file := a.cfg.CatalogFile
		if len(args) > 0 {
			file = args[0]
		}
		return a.seed(ctx, file)
	},
	"serve":        func(a *app, ctx context.Context, _ []string) error { return a.serve(ctx) },
	"sweep":        func(a *app, ctx context.Context, _ []string) error { return a.sweep(ctx) },
	"verify-audit": func(a *app, ctx context.Context, _ []string) error { return a.verifyAudit(ctx) },
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx = environment.WithContext(ctx, a.cfg.App.Environment())
	return cmd(a, ctx, args[1:])
}
