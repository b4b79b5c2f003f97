package access

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dmitrymomot/medaccess/pkg/audit"
	"github.com/dmitrymomot/medaccess/pkg/changerequest"
	"github.com/dmitrymomot/medaccess/pkg/grants"
	"github.com/dmitrymomot/medaccess/pkg/logger"
	"github.com/dmitrymomot/medaccess/pkg/netgate"
	"github.com/dmitrymomot/medaccess/pkg/permission"
	"github.com/dmitrymomot/medaccess/pkg/rolegraph"
	"github.com/dmitrymomot/medaccess/pkg/session"
)

// DefaultAuditModule is the module stamped on every entry the engine appends.
const DefaultAuditModule = "authorization"

// Engine is the authorization facade: it answers access questions and
// runs every mutation of roles, grants and requests, recording each one
// in the audit log.
type Engine struct {
	store    Store
	sessions *session.Manager
	audit    *audit.Log
	gate     *netgate.Gate
	resolver *grants.Resolver
	validate *validator.Validate

	graph   atomic.Pointer[rolegraph.Graph]
	catalog atomic.Pointer[permission.Catalog]
	// adminMu serializes changes to the role graph and the catalog.
	adminMu sync.Mutex

	mode       grants.Mode
	policy     changerequest.DependencyPolicy
	requestTTL time.Duration
	maxGrant   time.Duration
	module     string
	cache      grants.Cache
	cacheTTL   time.Duration
	userID     func(*http.Request) (string, bool)
	clientIP   func(*http.Request) string
	conflicts  [][2]string
	now        func() time.Time
	log        *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithCache keeps effective permission sets in c for up to ttl.
func WithCache(c grants.Cache, ttl time.Duration) Option {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
			e.cacheTTL = ttl
		}
	}
}

// WithDefaultMode selects whether Authorize counts inherited role grants.
func WithDefaultMode(m grants.Mode) Option {
	return func(e *Engine) {
		e.mode = m
	}
}

func WithDependencyPolicy(p changerequest.DependencyPolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithRequestTTL sets how long a change request stays approvable.
// Zero or negative disables expiry.
func WithRequestTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.requestTTL = ttl
	}
}

// WithMaxTemporaryGrant caps the lifetime of temporary grants. Zero disables the cap.
func WithMaxTemporaryGrant(d time.Duration) Option {
	return func(e *Engine) {
		e.maxGrant = d
	}
}

func WithAuditModule(module string) Option {
	return func(e *Engine) {
		if module != "" {
			e.module = module
		}
	}
}

// WithDutyConflict declares two segregation groups mutually exclusive.
// Conflicts are re-applied on every Reload.
func WithDutyConflict(groupA, groupB string) Option {
	return func(e *Engine) {
		e.conflicts = append(e.conflicts, [2]string{groupA, groupB})
	}
}

// WithUserIDExtractor tells RequirePermission how to identify the caller.
func WithUserIDExtractor(fn func(*http.Request) (string, bool)) Option {
	return func(e *Engine) {
		if fn != nil {
			e.userID = fn
		}
	}
}

// WithIPExtractor sets how RequirePermission and ClientIP find the origin
// of a request. The default is netgate.RemoteIP; behind a load balancer
// use netgate.TrustedProxies.
func WithIPExtractor(fn func(*http.Request) string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.clientIP = fn
		}
	}
}

// New builds the engine and loads the role graph and the catalog from store.
func New(ctx context.Context, store Store, sessions session.Store, auditLog *audit.Log, opts ...Option) (*Engine, error) {
	if store == nil {
		panic("access: store cannot be nil")
	}
	if sessions == nil {
		panic("access: session store cannot be nil")
	}
	if auditLog == nil {
		panic("access: audit log cannot be nil")
	}

	e := &Engine{
		store:      store,
		audit:      auditLog,
		validate:   validator.New(),
		mode:       grants.OwnGrants,
		policy:     changerequest.RejectOnMissing,
		requestTTL: 72 * time.Hour,
		module:     DefaultAuditModule,
		cache:      grants.NoOpCache{},
		userID:     func(*http.Request) (string, bool) { return "", false },
		clientIP:   netgate.RemoteIP,
		now:        time.Now,
		log:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.sessions = session.New(sessions, session.WithClock(e.now), session.WithLogger(e.log))
	e.gate = netgate.New(store, netgate.WithLogger(e.log))
	e.resolver = grants.NewResolver(store, e.hierarchy(),
		grants.WithDefaultMode(e.mode),
		grants.WithClock(e.now),
		grants.WithCache(e.cache, e.cacheTTL),
		grants.WithLogger(e.log),
	)

	if err := e.load(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// hierarchy reads ancestors from whichever graph is current.
func (e *Engine) hierarchy() grants.Hierarchy {
	return grants.HierarchyFunc(func(roleID string) ([]rolegraph.Role, error) {
		return e.graph.Load().Ancestors(roleID)
	})
}

func (e *Engine) load(ctx context.Context) error {
	g, err := rolegraph.Load(ctx, e.store)
	if err != nil {
		return fmt.Errorf("access: load role graph: %w", err)
	}
	c, err := permission.Load(ctx, e.store)
	if err != nil {
		return fmt.Errorf("access: load catalog: %w", err)
	}
	for _, pair := range e.conflicts {
		if err := c.DeclareConflict(pair[0], pair[1]); err != nil {
			return err
		}
	}
	e.graph.Store(g)
	e.catalog.Store(c)
	e.resolver.InvalidateAll()
	return nil
}

// Reload rebuilds the role graph and the catalog from the store.
func (e *Engine) Reload(ctx context.Context) error {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()

	if err := e.load(ctx); err != nil {
		e.log.ErrorContext(ctx, "reload failed", logger.Component("access"), logger.Error(err))
		return err
	}
	g, c := e.graph.Load(), e.catalog.Load()
	return e.record(ctx, ActionCatalogReload,
		audit.WithValue("roles", g.Len()),
		audit.WithValue("permissions", len(c.All())),
	)
}

// Roles returns the current role graph.
func (e *Engine) Roles() *rolegraph.Graph {
	return e.graph.Load()
}

// Catalog returns the current permission catalog.
func (e *Engine) Catalog() *permission.Catalog {
	return e.catalog.Load()
}

// AuditLog exposes the audit trail for queries and verification.
func (e *Engine) AuditLog() *audit.Log {
	return e.audit
}

// Sessions exposes the session manager.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}
