package mongostore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/medaccess/pkg/audit"
	"github.com/dmitrymomot/medaccess/pkg/audit/mongostore"
	"github.com/dmitrymomot/medaccess/pkg/environment"
	"github.com/dmitrymomot/medaccess/pkg/mongo"
)

func newStorage(t *testing.T, env environment.Environment) *mongostore.Storage {
	t.Helper()

	url := os.Getenv("MONGODB_URL")
	if url == "" {
		t.Skip("MONGODB_URL is not set")
	}

	ctx := context.Background()
	db, err := mongo.ConnectDatabase(ctx, mongo.Config{
		ConnectionURL:  url,
		Database:       "medaccess_test",
		ConnectTimeout: 5 * time.Second,
		MaxPoolSize:    5,
		RetryAttempts:  1,
		RetryInterval:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Client().Disconnect(context.Background()) })

	name := "audit_" + uuid.NewString()[:8]
	s, err := mongostore.New(ctx, db, env, mongostore.WithCollection(name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Collection(name).Drop(context.Background()) })
	return s
}

func TestStorage_Chain(t *testing.T) {
	s := newStorage(t, environment.Production)
	ctx := context.Background()
	l := audit.New(s, environment.Production)

	first, err := l.Append(ctx, "permission.check",
		audit.WithUserID("nurse-1"),
		audit.WithContext(map[string]any{"permission": "view-patient", "count": 3}),
	)
	require.NoError(t, err)
	second, err := l.Append(ctx, "session.start", audit.WithUserID("nurse-1"))
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.PrevHash)

	require.NoError(t, l.Verify(ctx))

	got, err := l.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Hash, got.Hash)
	assert.Equal(t, "view-patient", got.Context["permission"])

	found, err := l.Find(ctx, audit.Criteria{Action: "session.start"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, second.ID, found[0].ID)

	assert.ErrorIs(t, l.Delete(ctx, first.ID), audit.ErrAuditIntegrity)
	_, err = s.Get(ctx, first.ID)
	assert.NoError(t, err)

	// the storage refuses on its own, without the log in front of it
	var ierr *audit.IntegrityError
	edited := first
	edited.Description = "edited"
	require.ErrorAs(t, s.Update(ctx, edited), &ierr)
	assert.Equal(t, audit.OpUpdate, ierr.Op)
	require.ErrorAs(t, s.Delete(ctx, first.ID), &ierr)
	assert.ErrorIs(t, s.Drop(ctx), audit.ErrAuditIntegrity)
	require.NoError(t, l.Verify(ctx))
}

func TestStorage_MutationOutsideProduction(t *testing.T) {
	s := newStorage(t, environment.Test)
	ctx := context.Background()
	l := audit.New(s, environment.Test)

	e, err := l.Append(ctx, "permission.check")
	require.NoError(t, err)

	e.Description = "edited"
	require.NoError(t, l.Update(ctx, e))
	assert.ErrorIs(t, l.Verify(ctx), audit.ErrChainBroken)

	require.NoError(t, l.Delete(ctx, e.ID))
	_, err = s.Get(ctx, e.ID)
	assert.ErrorIs(t, err, audit.ErrEntryNotFound)
	assert.ErrorIs(t, s.Delete(ctx, e.ID), audit.ErrEntryNotFound)
}
