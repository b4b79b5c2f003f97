package pgstore

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/medaccess/pkg/permission"
	"github.com/dmitrymomot/medaccess/pkg/rolegraph"
)

// constraintErrors maps named constraints of the schema to the domain
// errors the engine understands.
var constraintErrors = map[string]error{
	"roles_pkey":                            rolegraph.ErrDuplicateRole,
	"roles_slug_key":                        rolegraph.ErrDuplicateSlug,
	"roles_single_super_admin":              rolegraph.ErrSuperAdminExists,
	"roles_parent_fk":                       rolegraph.ErrRoleNotFound,
	"permissions_pkey":                      permission.ErrDuplicatePermission,
	"permissions_name_key":                  permission.ErrDuplicatePermission,
	"permission_dependencies_permission_fk": permission.ErrUnknownPermission,
	"permission_dependencies_depends_on_fk": permission.ErrUnknownPermission,
	"permission_dependencies_no_self":       permission.ErrSelfDependency,
	"role_permissions_role_fk":              rolegraph.ErrRoleNotFound,
	"role_permissions_permission_fk":        permission.ErrUnknownPermission,
	"user_roles_role_fk":                    rolegraph.ErrRoleNotFound,
	"user_permissions_permission_fk":        permission.ErrUnknownPermission,
	"temporary_permissions_permission_fk":   permission.ErrUnknownPermission,
}

// mapError attaches the domain error of a violated constraint. Other
// errors are wrapped with op.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if domain, ok := constraintErrors[pgErr.ConstraintName]; ok {
			return errors.Join(domain, fmt.Errorf("pgstore: %s: %w", op, err))
		}
	}
	return fmt.Errorf("pgstore: %s: %w", op, err)
}
