package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/medaccess/pkg/changerequest"
	"github.com/dmitrymomot/medaccess/pkg/grants"
	"github.com/dmitrymomot/medaccess/pkg/permission"
	"github.com/dmitrymomot/medaccess/pkg/rolegraph"
	"github.com/dmitrymomot/medaccess/svc/access"
	"github.com/dmitrymomot/medaccess/svc/access/memstore"
)

var now = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	s := memstore.New()
	require.NoError(t, s.CreatePermission(ctx, permission.Permission{ID: "p-view", Name: "view-vitals", RiskLevel: permission.RiskLow}))
	require.NoError(t, s.CreatePermission(ctx, permission.Permission{ID: "p-chart", Name: "chart-vitals", RiskLevel: permission.RiskMedium}))
	require.NoError(t, s.CreateRole(ctx, rolegraph.Role{ID: "r-staff", Slug: "staff", Priority: 100}))
	require.NoError(t, s.CreateRole(ctx, rolegraph.Role{ID: "r-nurse", Slug: "nurse", Priority: 50, ParentID: "r-staff"}))
	return s
}

func TestInTx(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		err := s.InTx(ctx, func(tx access.Tx) error {
			return tx.UpsertUserPermission(ctx, "nurse-1", "p-chart")
		})
		require.NoError(t, err)

		got, err := s.UserPermissions(ctx, "nurse-1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "chart-vitals", got[0].PermissionName)
		assert.True(t, got[0].Allowed)
	})

	t.Run("rollback", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		boom := errors.New("boom")
		err := s.InTx(ctx, func(tx access.Tx) error {
			require.NoError(t, tx.UpsertUserPermission(ctx, "nurse-1", "p-chart"))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := s.UserPermissions(ctx, "nurse-1")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("unknown permission", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		err := s.InTx(ctx, func(tx access.Tx) error {
			return tx.UpsertUserPermission(ctx, "nurse-1", "p-missing")
		})
		assert.ErrorIs(t, err, permission.ErrUnknownPermission)
	})

	t.Run("save unknown request", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		err := s.InTx(ctx, func(tx access.Tx) error {
			return tx.SaveChangeRequest(ctx, &changerequest.Request{ID: "missing"})
		})
		assert.ErrorIs(t, err, changerequest.ErrNotFound)
	})
}

func TestReparentRole_CheckRunsBeforeWrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	refused := errors.New("refused")
	err := s.ReparentRole(ctx, "r-nurse", "", func(roles []rolegraph.Role) error {
		assert.Len(t, roles, 2)
		return refused
	})
	assert.ErrorIs(t, err, refused)

	roles, err := s.Roles(ctx)
	require.NoError(t, err)
	for _, r := range roles {
		if r.ID == "r-nurse" {
			assert.Equal(t, "r-staff", r.ParentID)
		}
	}

	err = s.ReparentRole(ctx, "r-ghost", "", func([]rolegraph.Role) error { return nil })
	assert.ErrorIs(t, err, rolegraph.ErrRoleNotFound)
}

func TestTemporaryPermissions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.CreateTemporaryPermission(ctx, grants.TemporaryPermission{
		ID: "g-1", UserID: "nurse-1", PermissionID: "p-chart",
		GrantedAt: now, ExpiresAt: now.Add(time.Hour), Active: true,
	}))
	require.NoError(t, s.CreateTemporaryPermission(ctx, grants.TemporaryPermission{
		ID: "g-2", UserID: "nurse-2", PermissionID: "p-view",
		GrantedAt: now, ExpiresAt: now.Add(2 * time.Hour), Active: true,
	}))

	users, err := s.DeactivateExpiredTemporary(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"nurse-1"}, users, "expiry is inclusive")

	g, err := s.RevokeTemporaryPermission(ctx, "g-2", now)
	require.NoError(t, err)
	assert.False(t, g.Active)
	require.NotNil(t, g.RevokedAt)
	assert.Equal(t, "view-vitals", g.PermissionName)

	again, err := s.RevokeTemporaryPermission(ctx, "g-2", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, now, *again.RevokedAt, "revocation is stamped once")

	_, err = s.RevokeTemporaryPermission(ctx, "g-3", now)
	assert.ErrorIs(t, err, grants.ErrGrantNotFound)
}

func TestExpiredPendingRequests(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	short, err := changerequest.New("nurse-1", "doc-1", []permission.ID{"p-chart"}, nil, "", time.Hour, now)
	require.NoError(t, err)
	forever, err := changerequest.New("nurse-2", "doc-1", []permission.ID{"p-chart"}, nil, "", 0, now)
	require.NoError(t, err)
	require.NoError(t, s.CreateChangeRequest(ctx, short))
	require.NoError(t, s.CreateChangeRequest(ctx, forever))

	ids, err := s.ExpiredPendingRequests(ctx, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.ExpiredPendingRequests(ctx, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{short.ID}, ids)
}
