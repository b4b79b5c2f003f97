package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	gomongo "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dmitrymomot/medaccess/pkg/audit"
	"github.com/dmitrymomot/medaccess/pkg/audit/mongostore"
	"github.com/dmitrymomot/medaccess/pkg/config"
	"github.com/dmitrymomot/medaccess/pkg/environment"
	"github.com/dmitrymomot/medaccess/pkg/grants"
	"github.com/dmitrymomot/medaccess/pkg/httpserver"
	"github.com/dmitrymomot/medaccess/pkg/logger"
	"github.com/dmitrymomot/medaccess/pkg/mongo"
	"github.com/dmitrymomot/medaccess/pkg/netgate"
	"github.com/dmitrymomot/medaccess/pkg/pg"
	"github.com/dmitrymomot/medaccess/pkg/redis"
	"github.com/dmitrymomot/medaccess/pkg/requestid"
	"github.com/dmitrymomot/medaccess/svc/access"
	"github.com/dmitrymomot/medaccess/svc/access/pgstore"
	"github.com/dmitrymomot/medaccess/svc/access/seed"
)

const (
	auditBackendPostgres = "postgres"
	auditBackendMongo    = "mongo"
)

type appConfig struct {
	App      environment.Config
	Postgres pg.Config
	Redis    redis.Config
	HTTP     httpserver.Config
	Access   access.Config

	AuditBackend    string        `env:"ACCESS_AUDIT_BACKEND" envDefault:"postgres"`          // AuditBackend is postgres or mongo.
	CatalogFile     string        `env:"ACCESS_CATALOG_FILE"`                                 // CatalogFile is the YAML seed; serve reads its duty conflicts.
	SweepInterval   time.Duration `env:"ACCESS_SWEEP_INTERVAL" envDefault:"1m"`               // SweepInterval is the pause between expiry sweeps.
	AuditPermission string        `env:"ACCESS_AUDIT_PERMISSION" envDefault:"view-audit-log"` // AuditPermission guards the audit endpoints.
	QueryPermission string        `env:"ACCESS_QUERY_PERMISSION" envDefault:"query-access"`   // QueryPermission guards authorize and permission listing.
	TrustedProxies  []string      `env:"ACCESS_TRUSTED_PROXIES" envSeparator:","`             // TrustedProxies are CIDRs whose X-Forwarded-For is believed.
	UserIDHeader    string        `env:"ACCESS_USER_ID_HEADER" envDefault:"X-User-ID"`        // UserIDHeader carries the caller set by the gateway.
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"accessctl"`                 // ServiceName is attached to every log record.
}

// app holds the connections shared by every command.
type app struct {
	cfg     appConfig
	log     *slog.Logger
	pool    *pgxpool.Pool
	store   *pgstore.Store
	redis   *goredis.Client // nil until redisClient is called with a configured URL
	mongo   *gomongo.Client // set when the audit backend is mongo
	closers []func()
}

func newApp(ctx context.Context) (*app, error) {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	env := cfg.App.Environment()
	log := logger.New(
		logger.WithEnvironment(env, cfg.ServiceName),
		logger.WithContextExtractors(environment.LoggerExtractor(), requestid.LoggerExtractor()),
	)

	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, pool: pool, store: pgstore.New(pool, env)}
	a.closers = append(a.closers, pool.Close)
	return a, nil
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) migrate(ctx context.Context) error {
	return pgstore.Migrate(ctx, a.pool, a.cfg.Postgres, a.log)
}

func (a *app) seed(ctx context.Context, file string) error {
	if file == "" {
		return fmt.Errorf("%w: seed needs a catalog file", errUsage)
	}
	cat, err := seed.ParseFile(file)
	if err != nil {
		return err
	}
	plan, err := cat.Apply(ctx, a.store)
	if err != nil {
		return err
	}
	a.log.InfoContext(ctx, "catalog seeded",
		slog.String("file", file),
		slog.Int("permissions", len(plan.Permissions)),
		slog.Int("roles", len(plan.Roles)),
		slog.Int("ip_rules", len(plan.IPRules)),
		slog.Int("users", len(plan.UserRoles)),
	)
	return nil
}

// auditLog builds the audit log on the configured backend.
func (a *app) auditLog(ctx context.Context) (*audit.Log, error) {
	var storage audit.Storage = a.store
	switch a.cfg.AuditBackend {
	case auditBackendPostgres:
	case auditBackendMongo:
		var mcfg mongo.Config
		if err := config.Load(&mcfg); err != nil {
			return nil, err
		}
		client, err := mongo.Connect(ctx, mcfg)
		if err != nil {
			return nil, err
		}
		a.mongo = client
		a.closers = append(a.closers, func() { disconnect(client, a.log) })
		if storage, err = mongostore.New(ctx, client.Database(mcfg.Database), a.cfg.App.Environment()); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown audit backend %q", a.cfg.AuditBackend)
	}

	return audit.New(storage, a.cfg.App.Environment(), auditOptions(a.log, a.cfg.Access.AuditModule)...), nil
}

// auditOptions redacts sensitive context keys before they are hashed.
func auditOptions(log *slog.Logger, module string) []audit.Option {
	return []audit.Option{
		audit.WithLogger(log),
		audit.WithDefaultModule(module),
		audit.WithMetadataFilter(audit.NewMetadataFilter()),
		audit.WithRequestIDExtractor(requestid.Lookup),
		audit.WithIPExtractor(clientIP),
	}
}

// ipExtractor reads only the connection peer unless trusted proxies are
// configured.
func (a *app) ipExtractor() (func(*http.Request) string, error) {
	if len(a.cfg.TrustedProxies) == 0 {
		return netgate.RemoteIP, nil
	}
	prefixes := make([]netip.Prefix, 0, len(a.cfg.TrustedProxies))
	for _, s := range a.cfg.TrustedProxies {
		p, err := parsePrefix(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("ACCESS_TRUSTED_PROXIES: %w", err)
		}
		prefixes = append(prefixes, p)
	}
	return netgate.TrustedProxies(prefixes...), nil
}

// parsePrefix accepts a CIDR block or a single address.
func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		return p.Masked(), err
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()), nil
}

func clientIP(ctx context.Context) (string, bool) {
	ip := netgate.ClientIPFromContext(ctx)
	return ip, ip != ""
}

func disconnect(client *gomongo.Client, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		log.Error("mongo disconnect", logger.Error(err))
	}
}

// engine wires the engine with the optional Redis cache and the duty
// conflicts declared in the catalog file.
func (a *app) engine(ctx context.Context, extra ...access.Option) (*access.Engine, error) {
	auditLog, err := a.auditLog(ctx)
	if err != nil {
		return nil, err
	}

	opts := append(a.cfg.Access.Options(), access.WithLogger(a.log))
	if a.cfg.Redis.Enabled() {
		client, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		cache := grants.NewRedisCache(client, grants.WithKeyPrefix(a.cfg.Redis.KeyPrefix))
		opts = append(opts, access.WithCache(cache, a.cfg.Redis.CacheTTL))
	}
	if a.cfg.CatalogFile != "" {
		cat, err := seed.ParseFile(a.cfg.CatalogFile)
		if err != nil {
			return nil, err
		}
		plan, err := cat.Plan()
		if err != nil {
			return nil, err
		}
		for _, pair := range plan.Conflicts {
			opts = append(opts, access.WithDutyConflict(pair[0], pair[1]))
		}
	}

	return access.New(ctx, a.store, a.store, auditLog, append(opts, extra...)...)
}

// redisClient connects once and reuses the client afterwards.
func (a *app) redisClient(ctx context.Context) (*goredis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client, err := redis.Connect(ctx, a.cfg.Redis)
	if err != nil {
		return nil, err
	}
	a.redis = client
	a.closers = append(a.closers, func() { closeRedis(client, a.log) })
	return client, nil
}

func closeRedis(client *goredis.Client, log *slog.Logger) {
	if err := client.Close(); err != nil {
		log.Error("redis close", logger.Error(err))
	}
}

func (a *app) sweep(ctx context.Context) error {
	e, err := a.engine(ctx)
	if err != nil {
		return err
	}
	res, err := e.SweepExpired(ctx)
	if err != nil {
		return err
	}
	a.log.InfoContext(ctx, "sweep finished",
		slog.Int("grant_users", res.GrantUsers),
		slog.Int("expired_requests", res.ExpiredRequests),
	)
	return nil
}

func (a *app) verifyAudit(ctx context.Context) error {
	auditLog, err := a.auditLog(ctx)
	if err != nil {
		return err
	}
	if err := auditLog.Verify(ctx); err != nil {
		var cerr *audit.ChainError
		if errors.As(err, &cerr) {
			a.log.ErrorContext(ctx, "audit chain broken",
				slog.String("entry_id", cerr.EntryID),
				slog.Int("index", cerr.Index),
				slog.String("reason", cerr.Reason),
			)
		}
		return err
	}
	a.log.InfoContext(ctx, "audit chain intact")
	return nil
}
