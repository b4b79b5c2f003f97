package access

import (
	"time"

	"github.com/dmitrymomot/medaccess/pkg/changerequest"
	"github.com/dmitrymomot/medaccess/pkg/grants"
)

// Config holds the engine settings read from the environment.
type Config struct {
	ResolveMode       string        `env:"ACCESS_RESOLVE_MODE" envDefault:"own"`         // own | inherited
	DependencyPolicy  string        `env:"ACCESS_DEPENDENCY_POLICY" envDefault:"reject"` // reject | report
	RequestTTL        time.Duration `env:"ACCESS_REQUEST_TTL" envDefault:"72h"`          // 0 disables expiry
	MaxTemporaryGrant time.Duration `env:"ACCESS_MAX_TEMPORARY_GRANT" envDefault:"720h"`
	AuditModule       string        `env:"ACCESS_AUDIT_MODULE" envDefault:"authorization"`
}

// Mode returns the configured resolver mode. Unknown values fall back to own grants.
func (c Config) Mode() grants.Mode {
	if c.ResolveMode == "inherited" {
		return grants.WithInherited
	}
	return grants.OwnGrants
}

func (c Config) Policy() changerequest.DependencyPolicy {
	return changerequest.ParseDependencyPolicy(c.DependencyPolicy)
}

// Options translates the config into engine options.
func (c Config) Options() []Option {
	return []Option{
		WithDefaultMode(c.Mode()),
		WithDependencyPolicy(c.Policy()),
		WithRequestTTL(c.RequestTTL),
		WithMaxTemporaryGrant(c.MaxTemporaryGrant),
		WithAuditModule(c.AuditModule),
	}
}
