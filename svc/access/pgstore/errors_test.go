package pgstore

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/medaccess/pkg/permission"
	"github.com/dmitrymomot/medaccess/pkg/rolegraph"
)

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		constraint string
		want       error
	}{
		{name: "duplicate slug", constraint: "roles_slug_key", want: rolegraph.ErrDuplicateSlug},
		{name: "second super admin", constraint: "roles_single_super_admin", want: rolegraph.ErrSuperAdminExists},
		{name: "unknown role", constraint: "user_roles_role_fk", want: rolegraph.ErrRoleNotFound},
		{name: "unknown permission", constraint: "role_permissions_permission_fk", want: permission.ErrUnknownPermission},
		{name: "duplicate permission", constraint: "permissions_name_key", want: permission.ErrDuplicatePermission},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pgErr := &pgconn.PgError{Code: "23505", ConstraintName: tt.constraint}
			err := mapError("write", pgErr)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorAs(t, err, &pgErr)
		})
	}

	assert.NoError(t, mapError("write", nil))

	plain := errors.New("connection reset")
	err := mapError("write", plain)
	assert.ErrorIs(t, err, plain)
	assert.Contains(t, err.Error(), "pgstore: write")
}
