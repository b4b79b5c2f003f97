package grants_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/medaccess/pkg/grants"
	"github.com/dmitrymomot/medaccess/pkg/rolegraph"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu        sync.Mutex
	roles     map[string]string
	roleNames map[string][]string
	overrides map[string][]grants.UserPermission
	temps     map[string][]grants.TemporaryPermission
	err       error
	calls     atomic.Int32

	// when set, UserPermissions signals entered after reading and waits
	// for release before returning
	entered chan struct{}
	release chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		roles: map[string]string{"nurse-1": "nurse", "doc-1": "physician"},
		roleNames: map[string][]string{
			"staff":     {"view-schedule"},
			"nurse":     {"view-patient", "view-vitals"},
			"physician": {"view-patient", "prescribe"},
		},
		overrides: map[string][]grants.UserPermission{},
		temps:     map[string][]grants.TemporaryPermission{},
	}
}

func (f *fakeSource) UserRole(_ context.Context, userID string) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.roles[userID], nil
}

func (f *fakeSource) RolePermissions(_ context.Context, roleIDs ...string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, id := range roleIDs {
		out = append(out, f.roleNames[id]...)
	}
	return out, nil
}

func (f *fakeSource) UserPermissions(_ context.Context, userID string) ([]grants.UserPermission, error) {
	f.mu.Lock()
	out := f.overrides[userID]
	entered, release := f.entered, f.release
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	return out, nil
}

func (f *fakeSource) TemporaryPermissions(_ context.Context, userID string) ([]grants.TemporaryPermission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.temps[userID], nil
}

func newHierarchy(t *testing.T) *rolegraph.Graph {
	t.Helper()
	g, err := rolegraph.New(
		rolegraph.Role{ID: "staff", Name: "Staff", Slug: "staff", Priority: 100},
		rolegraph.Role{ID: "nurse", Name: "Nurse", Slug: "nurse", ParentID: "staff", Priority: 50},
		rolegraph.Role{ID: "physician", Name: "Physician", Slug: "physician", ParentID: "staff", Priority: 60},
	)
	require.NoError(t, err)
	return g
}

func TestResolver_Effective(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.overrides["nurse-1"] = []grants.UserPermission{
		{UserID: "nurse-1", PermissionName: "edit-vitals", Allowed: true},
		{UserID: "nurse-1", PermissionName: "prescribe", Allowed: false},
	}
	src.temps["nurse-1"] = []grants.TemporaryPermission{
		{ID: "t1", PermissionName: "view-laboratory", Active: true, ExpiresAt: now.Add(time.Hour)},
		{ID: "t2", PermissionName: "export-records", Active: true, ExpiresAt: now.Add(-time.Second)},
		{ID: "t3", PermissionName: "delete-records", Active: false, ExpiresAt: now.Add(time.Hour)},
		{ID: "t4", PermissionName: "edge-expiry", Active: true, ExpiresAt: now},
	}

	r := grants.NewResolver(src, newHierarchy(t), grants.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	own, err := r.EffectivePermissions(ctx, "nurse-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"edit-vitals", "view-laboratory", "view-patient", "view-vitals"}, own.Slice())

	inherited, err := r.EffectivePermissionsIncludingInherited(ctx, "nurse-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"edit-vitals", "view-laboratory", "view-patient", "view-schedule", "view-vitals"}, inherited.Slice())

	ok, err := r.HasPermission(ctx, "nurse-1", "view-schedule")
	require.NoError(t, err)
	assert.False(t, ok, "default mode uses own grants only")
}

func TestResolver_DefaultMode(t *testing.T) {
	t.Parallel()

	r := grants.NewResolver(newFakeSource(), newHierarchy(t), grants.WithDefaultMode(grants.WithInherited))
	assert.Equal(t, grants.WithInherited, r.DefaultMode())

	ok, err := r.HasPermission(context.Background(), "doc-1", "view-schedule")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolver_UserWithoutRole(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.temps["contractor"] = []grants.TemporaryPermission{
		{ID: "t1", PermissionName: "view-patient", Active: true, ExpiresAt: now.Add(time.Minute)},
	}
	r := grants.NewResolver(src, nil, grants.WithClock(func() time.Time { return now }))

	set, err := r.EffectivePermissionsIncludingInherited(context.Background(), "contractor")
	require.NoError(t, err)
	assert.Equal(t, []string{"view-patient"}, set.Slice())
}

func TestResolver_TemporalExpiry(t *testing.T) {
	t.Parallel()

	clock := now
	var mu sync.Mutex
	src := newFakeSource()
	src.temps["nurse-1"] = []grants.TemporaryPermission{
		{ID: "t1", PermissionName: "view-laboratory", Active: true, ExpiresAt: now.Add(time.Hour)},
	}
	r := grants.NewResolver(src, nil, grants.WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}))

	ok, err := r.HasPermission(context.Background(), "nurse-1", "view-laboratory")
	require.NoError(t, err)
	assert.True(t, ok)

	mu.Lock()
	clock = now.Add(time.Hour)
	mu.Unlock()

	ok, err = r.HasPermission(context.Background(), "nurse-1", "view-laboratory")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolver_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("empty user", func(t *testing.T) {
		t.Parallel()
		r := grants.NewResolver(newFakeSource(), nil)
		_, err := r.EffectivePermissions(ctx, " ")
		assert.ErrorIs(t, err, grants.ErrInvalidUser)
	})

	t.Run("invalid mode", func(t *testing.T) {
		t.Parallel()
		r := grants.NewResolver(newFakeSource(), nil)
		_, err := r.Effective(ctx, "nurse-1", grants.Mode(9))
		assert.ErrorIs(t, err, grants.ErrInvalidMode)
	})

	t.Run("inherited without hierarchy", func(t *testing.T) {
		t.Parallel()
		r := grants.NewResolver(newFakeSource(), nil)
		_, err := r.EffectivePermissionsIncludingInherited(ctx, "nurse-1")
		assert.ErrorIs(t, err, grants.ErrNoHierarchy)
	})

	t.Run("source failure", func(t *testing.T) {
		t.Parallel()
		src := newFakeSource()
		src.err = errors.New("connection reset")
		r := grants.NewResolver(src, nil)
		_, err := r.EffectivePermissions(ctx, "nurse-1")
		assert.ErrorIs(t, err, grants.ErrSourceFailed)
	})

	t.Run("hierarchy failure", func(t *testing.T) {
		t.Parallel()
		h := grants.HierarchyFunc(func(string) ([]rolegraph.Role, error) {
			return nil, rolegraph.ErrRoleNotFound
		})
		r := grants.NewResolver(newFakeSource(), h)
		_, err := r.EffectivePermissionsIncludingInherited(ctx, "nurse-1")
		assert.ErrorIs(t, err, rolegraph.ErrRoleNotFound)
	})

	t.Run("nil source", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { grants.NewResolver(nil, nil) })
	})
}

func TestResolver_ReturnedSetIsCallerOwned(t *testing.T) {
	t.Parallel()

	r := grants.NewResolver(newFakeSource(), nil)
	a, err := r.EffectivePermissions(context.Background(), "nurse-1")
	require.NoError(t, err)
	a["prescribe"] = struct{}{}

	b, err := r.EffectivePermissions(context.Background(), "nurse-1")
	require.NoError(t, err)
	assert.False(t, b.Has("prescribe"))
}

func TestResolver_Concurrent(t *testing.T) {
	t.Parallel()

	r := grants.NewResolver(newFakeSource(), newHierarchy(t))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set, err := r.EffectivePermissionsIncludingInherited(context.Background(), "doc-1")
			assert.NoError(t, err)
			assert.Equal(t, []string{"prescribe", "view-patient", "view-schedule"}, set.Slice())
		}()
	}
	wg.Wait()
}

func newRedisCache(t *testing.T) (*miniredis.Miniredis, *grants.RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, grants.NewRedisCache(client)
}

func TestResolver_RedisCache(t *testing.T) {
	t.Parallel()

	t.Run("serves cached set until invalidated", func(t *testing.T) {
		t.Parallel()
		mr, cache := newRedisCache(t)
		src := newFakeSource()
		r := grants.NewResolver(src, nil, grants.WithCache(cache, 10*time.Minute))
		ctx := context.Background()

		set, err := r.EffectivePermissions(ctx, "nurse-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"view-patient", "view-vitals"}, set.Slice())
		assert.True(t, mr.Exists("medaccess:grants:v0.0:own:nurse-1"))
		assert.Equal(t, 10*time.Minute, mr.TTL("medaccess:grants:v0.0:own:nurse-1"))

		src.mu.Lock()
		src.overrides["nurse-1"] = []grants.UserPermission{{PermissionName: "edit-vitals", Allowed: true}}
		src.mu.Unlock()

		set, err = r.EffectivePermissions(ctx, "nurse-1")
		require.NoError(t, err)
		assert.False(t, set.Has("edit-vitals"))
		assert.Equal(t, int32(1), src.calls.Load())

		require.NoError(t, r.Invalidate(ctx, "nurse-1"))
		assert.False(t, mr.Exists("medaccess:grants:v0.0:own:nurse-1"))

		set, err = r.EffectivePermissions(ctx, "nurse-1")
		require.NoError(t, err)
		assert.True(t, set.Has("edit-vitals"))
		assert.True(t, mr.Exists("medaccess:grants:v0.1:own:nurse-1"))

		src.mu.Lock()
		src.overrides["nurse-1"] = nil
		src.mu.Unlock()

		r.InvalidateAll()
		set, err = r.EffectivePermissions(ctx, "nurse-1")
		require.NoError(t, err)
		assert.False(t, set.Has("edit-vitals"))
		assert.True(t, mr.Exists("medaccess:grants:v1.1:own:nurse-1"))
	})

	t.Run("ttl clamped to earliest temporary expiry", func(t *testing.T) {
		t.Parallel()
		mr, cache := newRedisCache(t)
		src := newFakeSource()
		src.temps["nurse-1"] = []grants.TemporaryPermission{
			{ID: "t1", PermissionName: "view-laboratory", Active: true, ExpiresAt: now.Add(2 * time.Minute)},
			{ID: "t2", PermissionName: "export-records", Active: true, ExpiresAt: now.Add(5 * time.Minute)},
		}
		r := grants.NewResolver(src, nil,
			grants.WithClock(func() time.Time { return now }),
			grants.WithCache(cache, time.Hour),
		)

		_, err := r.EffectivePermissions(context.Background(), "nurse-1")
		require.NoError(t, err)
		assert.Equal(t, 2*time.Minute, mr.TTL("medaccess:grants:v0.0:own:nurse-1"))

		mr.FastForward(2 * time.Minute)
		assert.False(t, mr.Exists("medaccess:grants:v0.0:own:nurse-1"))
	})

	t.Run("resolution racing invalidate is not cached", func(t *testing.T) {
		t.Parallel()
		_, cache := newRedisCache(t)
		src := newFakeSource()
		src.overrides["nurse-1"] = []grants.UserPermission{{PermissionName: "edit-vitals", Allowed: true}}
		release := make(chan struct{})
		src.entered = make(chan struct{})
		src.release = release
		r := grants.NewResolver(src, nil, grants.WithCache(cache, 10*time.Minute))
		ctx := context.Background()

		done := make(chan grants.Set)
		go func() {
			set, err := r.EffectivePermissions(ctx, "nurse-1")
			assert.NoError(t, err)
			done <- set
		}()
		<-src.entered

		// revoke while the first resolution holds the old overrides
		src.mu.Lock()
		src.overrides["nurse-1"] = []grants.UserPermission{{PermissionName: "edit-vitals", Allowed: false}}
		src.entered, src.release = nil, nil
		src.mu.Unlock()
		require.NoError(t, r.Invalidate(ctx, "nurse-1"))

		close(release)
		assert.True(t, (<-done).Has("edit-vitals"))

		set, err := r.EffectivePermissions(ctx, "nurse-1")
		require.NoError(t, err)
		assert.False(t, set.Has("edit-vitals"))
	})

	t.Run("unavailable redis falls back to source", func(t *testing.T) {
		t.Parallel()
		mr, cache := newRedisCache(t)
		mr.Close()

		r := grants.NewResolver(newFakeSource(), nil, grants.WithCache(cache, time.Minute))
		set, err := r.EffectivePermissions(context.Background(), "doc-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"prescribe", "view-patient"}, set.Slice())
	})

	t.Run("empty set round trip", func(t *testing.T) {
		t.Parallel()
		_, cache := newRedisCache(t)
		ctx := context.Background()

		require.NoError(t, cache.Set(ctx, "k", nil, time.Minute))
		names, ok := cache.Get(ctx, "k")
		assert.True(t, ok)
		assert.Empty(t, names)

		require.NoError(t, cache.Delete(ctx, "k"))
		_, ok = cache.Get(ctx, "k")
		assert.False(t, ok)
	})
}
