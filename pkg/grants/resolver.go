package grants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/medaccess/pkg/logger"
)

// Resolver computes the effective permission set of a user:
// role grants, allowed user overrides and valid temporary grants.
// It is safe for concurrent use.
type Resolver struct {
	source    Source
	hierarchy Hierarchy
	mode      Mode
	now       func() time.Time
	cache     Cache
	cacheTTL  time.Duration
	log       *slog.Logger
	group     singleflight.Group
	gen       atomic.Uint64
	versions  sync.Map // user id -> *atomic.Uint64, bumped by Invalidate
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDefaultMode sets the mode used by EffectiveDefault and HasPermission.
func WithDefaultMode(m Mode) Option {
	return func(r *Resolver) {
		if m.valid() {
			r.mode = m
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithCache enables caching of resolved sets for up to ttl. Entries never
// outlive the earliest temporary grant that contributed to them.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(r *Resolver) {
		if c != nil && ttl > 0 {
			r.cache = c
			r.cacheTTL = ttl
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// NewResolver creates a resolver. hierarchy may be nil when only OwnGrants
// resolution is used.
func NewResolver(source Source, hierarchy Hierarchy, opts ...Option) *Resolver {
	if source == nil {
		panic("grants: source cannot be nil")
	}
	r := &Resolver{
		source:    source,
		hierarchy: hierarchy,
		mode:      OwnGrants,
		now:       time.Now,
		cache:     NoOpCache{},
		log:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultMode returns the mode used by EffectiveDefault and HasPermission.
func (r *Resolver) DefaultMode() Mode {
	return r.mode
}

// EffectivePermissions resolves using the user's own role grants.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string) (Set, error) {
	return r.Effective(ctx, userID, OwnGrants)
}

// EffectivePermissionsIncludingInherited also unions the grants of every
// ancestor of the user's role.
func (r *Resolver) EffectivePermissionsIncludingInherited(ctx context.Context, userID string) (Set, error) {
	return r.Effective(ctx, userID, WithInherited)
}

// EffectiveDefault resolves with the configured default mode.
func (r *Resolver) EffectiveDefault(ctx context.Context, userID string) (Set, error) {
	return r.Effective(ctx, userID, r.mode)
}

// HasPermission reports whether name is in the user's effective set
// under the default mode.
func (r *Resolver) HasPermission(ctx context.Context, userID, name string) (bool, error) {
	set, err := r.EffectiveDefault(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Has(name), nil
}

// Effective resolves the user's permission names in mode.
// The returned set is owned by the caller.
func (r *Resolver) Effective(ctx context.Context, userID string, mode Mode) (Set, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUser
	}
	if !mode.valid() {
		return nil, errors.Join(ErrInvalidMode, fmt.Errorf("mode %d", mode))
	}

	// The key is fixed before the store is read. A resolution racing an
	// Invalidate writes under a key no later lookup uses.
	key := cacheKey(r.gen.Load(), r.version(userID).Load(), userID, mode)
	if names, ok := r.cache.Get(ctx, key); ok {
		return NewSet(names...), nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.resolve(ctx, key, userID, mode)
	})
	if err != nil {
		return nil, err
	}
	names := v.([]string)
	return NewSet(names...), nil
}

// Invalidate drops cached sets of the user in every mode. Call it after
// any change to the user's role, overrides or temporary grants.
func (r *Resolver) Invalidate(ctx context.Context, userID string) error {
	ver := r.version(userID)
	keys := userKeys(r.gen.Load(), ver.Add(1)-1, userID)
	for _, k := range keys {
		r.group.Forget(k)
	}
	return r.cache.Delete(ctx, keys...)
}

func (r *Resolver) version(userID string) *atomic.Uint64 {
	if v, ok := r.versions.Load(userID); ok {
		return v.(*atomic.Uint64)
	}
	v, _ := r.versions.LoadOrStore(userID, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}

// InvalidateAll retires every cached set, e.g. after the role hierarchy
// or the catalog changed.
func (r *Resolver) InvalidateAll() {
	r.gen.Add(1)
}

func (r *Resolver) resolve(ctx context.Context, key, userID string, mode Mode) ([]string, error) {
	now := r.now()
	set := make(Set)

	roleID, err := r.source.UserRole(ctx, userID)
	if err != nil {
		return nil, errors.Join(ErrSourceFailed, fmt.Errorf("user role: %w", err))
	}
	if roleID != "" {
		roleIDs := []string{roleID}
		if mode == WithInherited {
			if r.hierarchy == nil {
				return nil, ErrNoHierarchy
			}
			ancestors, err := r.hierarchy.Ancestors(roleID)
			if err != nil {
				return nil, err
			}
			for _, a := range ancestors {
				roleIDs = append(roleIDs, a.ID)
			}
		}
		names, err := r.source.RolePermissions(ctx, roleIDs...)
		if err != nil {
			return nil, errors.Join(ErrSourceFailed, fmt.Errorf("role permissions: %w", err))
		}
		for _, n := range names {
			set[n] = struct{}{}
		}
	}

	overrides, err := r.source.UserPermissions(ctx, userID)
	if err != nil {
		return nil, errors.Join(ErrSourceFailed, fmt.Errorf("user permissions: %w", err))
	}
	for _, o := range overrides {
		if o.Allowed {
			set[o.PermissionName] = struct{}{}
		}
	}

	temps, err := r.source.TemporaryPermissions(ctx, userID)
	if err != nil {
		return nil, errors.Join(ErrSourceFailed, fmt.Errorf("temporary permissions: %w", err))
	}
	ttl := r.cacheTTL
	for _, g := range temps {
		if !g.IsValidAt(now) {
			continue
		}
		set[g.PermissionName] = struct{}{}
		if left := g.ExpiresAt.Sub(now); left < ttl {
			ttl = left
		}
	}

	names := set.Slice()
	if ttl > 0 {
		if err := r.cache.Set(ctx, key, names, ttl); err != nil {
			r.log.WarnContext(ctx, "failed to cache effective permissions",
				logger.Component("grants"),
				logger.UserID(userID),
				logger.Error(err),
			)
		}
	}
	return names, nil
}
