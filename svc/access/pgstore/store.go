package pgstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/medaccess/pkg/changerequest"
	"github.com/dmitrymomot/medaccess/pkg/environment"
	"github.com/dmitrymomot/medaccess/pkg/grants"
	"github.com/dmitrymomot/medaccess/pkg/netgate"
	"github.com/dmitrymomot/medaccess/pkg/permission"
	"github.com/dmitrymomot/medaccess/pkg/pg"
	"github.com/dmitrymomot/medaccess/pkg/rolegraph"
	"github.com/dmitrymomot/medaccess/svc/access"
)

// Store implements access.Store, session.Store and audit.Storage.
type Store struct {
	queries
	pool      *pgxpool.Pool
	env       environment.Environment
	txRetries int
}

var _ access.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithTxRetries bounds how often InTx reruns a transaction that lost a
// serialization conflict.
func WithTxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.txRetries = n
		}
	}
}

// New returns a store on pool. In production env the audit rows can only
// be appended: Update and Delete fail before reaching the database.
func New(pool *pgxpool.Pool, env environment.Environment, opts ...Option) *Store {
	if pool == nil {
		panic("pgstore: pool cannot be nil")
	}
	s := &Store{queries: queries{db: pool}, pool: pool, env: env, txRetries: 3}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InTx runs fn in a RepeatableRead transaction and retries it when it
// loses a serialization conflict.
func (s *Store) InTx(ctx context.Context, fn func(tx access.Tx) error) error {
	var err error
	for range s.txRetries {
		err = pg.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
			return fn(&txStore{queries{db: tx}})
		})
		if !pg.IsSerializationFailure(err) {
			return err
		}
	}
	return err
}

// readCommitted runs fn in a ReadCommitted transaction. Statements that
// follow a lock see every row committed before the lock was granted.
func (s *Store) readCommitted(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

const roleColumns = `id, name, slug, COALESCE(parent_id, ''), priority, is_system, is_super_admin,
	module_access, data_visibility_scope, user_management_capabilities,
	system_configuration_access, role_specific_limitations, mfa_required,
	mfa_grace_period_days, session_timeout_minutes, concurrent_session_limit,
	created_at, updated_at`

func roles(ctx context.Context, db dbtx) ([]rolegraph.Role, error) {
	rows, err := db.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY priority DESC, id`)
	if err != nil {
		return nil, mapError("roles", err)
	}
	defer rows.Close()

	var out []rolegraph.Role
	for rows.Next() {
		var (
			r                                   rolegraph.Role
			modules, visibility, users, configs []string
			limits                              []string
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Slug, &r.ParentID, &r.Priority, &r.IsSystem, &r.IsSuperAdmin,
			&modules, &visibility, &users, &configs, &limits, &r.MFARequired,
			&r.MFAGracePeriodDays, &r.SessionTimeoutMinutes, &r.ConcurrentSessionLimit,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, mapError("roles", err)
		}
		r.ModuleAccess = modules
		r.DataVisibilityScope = visibility
		r.UserManagementCapabilities = users
		r.SystemConfigurationAccess = configs
		r.RoleSpecificLimitations = limits
		out = append(out, r)
	}
	return out, mapError("roles", rows.Err())
}

func (s *Store) Roles(ctx context.Context) ([]rolegraph.Role, error) {
	return roles(ctx, s.db)
}

func (s *Store) Permissions(ctx context.Context) ([]permission.Permission, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, resource, action, category, module, segregation_group,
			risk_level, requires_approval, is_critical, hipaa_impact, description
		FROM permissions ORDER BY name`)
	if err != nil {
		return nil, mapError("permissions", err)
	}
	defer rows.Close()

	var out []permission.Permission
	for rows.Next() {
		var (
			p          permission.Permission
			id, impact string
			risk       int16
		)
		if err := rows.Scan(&id, &p.Name, &p.Resource, &p.Action, &p.Category, &p.Module, &p.SegregationGroup,
			&risk, &p.RequiresApproval, &p.IsCritical, &impact, &p.Description); err != nil {
			return nil, mapError("permissions", err)
		}
		p.ID = permission.ID(id)
		p.RiskLevel = permission.RiskLevel(risk)
		p.HIPAAImpact = permission.HIPAAImpact(impact)
		out = append(out, p)
	}
	return out, mapError("permissions", rows.Err())
}

func (s *Store) Dependencies(ctx context.Context) ([]permission.Dependency, error) {
	rows, err := s.db.Query(ctx, `
		SELECT permission_id, depends_on_id FROM permission_dependencies
		ORDER BY permission_id, depends_on_id`)
	if err != nil {
		return nil, mapError("dependencies", err)
	}
	defer rows.Close()

	var out []permission.Dependency
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, mapError("dependencies", err)
		}
		out = append(out, permission.Dependency{PermissionID: permission.ID(from), DependsOnID: permission.ID(to)})
	}
	return out, mapError("dependencies", rows.Err())
}

func (s *Store) IPRules(ctx context.Context) ([]netgate.Rule, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, pattern, rule_type, active, description, created_at
		FROM ip_rules ORDER BY created_at, id`)
	if err != nil {
		return nil, mapError("ip rules", err)
	}
	defer rows.Close()

	var out []netgate.Rule
	for rows.Next() {
		var (
			r   netgate.Rule
			typ string
		)
		if err := rows.Scan(&r.ID, &r.Pattern, &typ, &r.Active, &r.Description, &r.CreatedAt); err != nil {
			return nil, mapError("ip rules", err)
		}
		r.Type = netgate.RuleType(typ)
		out = append(out, r)
	}
	return out, mapError("ip rules", rows.Err())
}

func (s *Store) CreateRole(ctx context.Context, r rolegraph.Role) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO roles (id, name, slug, parent_id, priority, is_system, is_super_admin,
			module_access, data_visibility_scope, user_management_capabilities,
			system_configuration_access, role_specific_limitations, mfa_required,
			mfa_grace_period_days, session_timeout_minutes, concurrent_session_limit)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		r.ID, r.Name, r.Slug, r.ParentID, r.Priority, r.IsSystem, r.IsSuperAdmin,
		nonNil(r.ModuleAccess), nonNil(r.DataVisibilityScope), nonNil(r.UserManagementCapabilities),
		nonNil(r.SystemConfigurationAccess), nonNil(r.RoleSpecificLimitations), r.MFARequired,
		r.MFAGracePeriodDays, r.SessionTimeoutMinutes, r.ConcurrentSessionLimit)
	return mapError("create role", err)
}

// ReparentRole locks the roles table against every writer, hands the
// committed rows to check and writes the new parent.
func (s *Store) ReparentRole(ctx context.Context, roleID, parentID string, check func([]rolegraph.Role) error) error {
	return s.readCommitted(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `LOCK TABLE roles IN EXCLUSIVE MODE`); err != nil {
			return mapError("lock roles", err)
		}
		all, err := roles(ctx, tx)
		if err != nil {
			return err
		}
		if !slices.ContainsFunc(all, func(r rolegraph.Role) bool { return r.ID == roleID }) {
			return errors.Join(rolegraph.ErrRoleNotFound, fmt.Errorf("role %q", roleID))
		}
		if err := check(all); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE roles SET parent_id = NULLIF($2, ''), updated_at = now() WHERE id = $1`, roleID, parentID)
		return mapError("reparent role", err)
	})
}

func (s *Store) CreatePermission(ctx context.Context, p permission.Permission) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO permissions (id, name, resource, action, category, module, segregation_group,
			risk_level, requires_approval, is_critical, hipaa_impact, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(p.ID), p.Name, p.Resource, p.Action, p.Category, p.Module, p.SegregationGroup,
		int16(p.RiskLevel), p.RequiresApproval, p.IsCritical, string(p.HIPAAImpact), p.Description)
	return mapError("create permission", err)
}

func (s *Store) AddDependency(ctx context.Context, dep permission.Dependency) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO permission_dependencies (permission_id, depends_on_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, string(dep.PermissionID), string(dep.DependsOnID))
	return mapError("add dependency", err)
}

func (s *Store) GrantRolePermission(ctx context.Context, roleID string, id permission.ID) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, roleID, string(id))
	return mapError("grant role permission", err)
}

// SetUserRole assigns the role; an empty roleID removes the assignment.
func (s *Store) SetUserRole(ctx context.Context, userID, roleID string) error {
	if roleID == "" {
		_, err := s.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID)
		return mapError("unassign role", err)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET role_id = EXCLUDED.role_id, assigned_at = now()`, userID, roleID)
	return mapError("assign role", err)
}

func (s *Store) CreateIPRule(ctx context.Context, r netgate.Rule) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ip_rules (id, pattern, rule_type, active, description) VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.Pattern, string(r.Type), r.Active, r.Description)
	return mapError("create ip rule", err)
}

func (s *Store) CreateChangeRequest(ctx context.Context, req *changerequest.Request) error {
	return s.insertChangeRequest(ctx, req)
}

func (s *Store) ChangeRequest(ctx context.Context, id string) (*changerequest.Request, error) {
	return s.changeRequest(ctx, id, false)
}

func (s *Store) ExpiredPendingRequests(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM change_requests
		WHERE status = $1 AND expires_at IS NOT NULL AND expires_at <= $2
		ORDER BY id`, string(changerequest.StatusPending), now)
	if err != nil {
		return nil, mapError("expired requests", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, mapError("expired requests", err)
}

func (s *Store) CreateTemporaryPermission(ctx context.Context, g grants.TemporaryPermission) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO temporary_permissions (id, user_id, permission_id, granted_by, granted_at,
			expires_at, active, reason, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		g.ID, g.UserID, string(g.PermissionID), g.GrantedBy, g.GrantedAt, g.ExpiresAt, g.Active, g.Reason, g.RevokedAt)
	return mapError("create temporary permission", err)
}

func (s *Store) RevokeTemporaryPermission(ctx context.Context, id string, at time.Time) (grants.TemporaryPermission, error) {
	if _, err := s.db.Exec(ctx, `
		UPDATE temporary_permissions SET active = FALSE, revoked_at = $2
		WHERE id = $1 AND active`, id, at); err != nil {
		return grants.TemporaryPermission{}, mapError("revoke temporary permission", err)
	}
	return s.temporaryPermission(ctx, id)
}

func (s *Store) DeactivateExpiredTemporary(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE temporary_permissions SET active = FALSE
		WHERE active AND expires_at <= $1
		RETURNING user_id`, now)
	if err != nil {
		return nil, mapError("deactivate expired grants", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapError("deactivate expired grants", err)
	}
	slices.Sort(users)
	return slices.Compact(users), nil
}

// txStore is the access.Tx handed to InTx callbacks.
type txStore struct {
	queries
}

func (t *txStore) ChangeRequestForUpdate(ctx context.Context, id string) (*changerequest.Request, error) {
	return t.changeRequest(ctx, id, true)
}

func (t *txStore) SaveChangeRequest(ctx context.Context, req *changerequest.Request) error {
	return t.updateChangeRequest(ctx, req)
}

func (t *txStore) LastAppliedAt(ctx context.Context, userID string) (*time.Time, error) {
	var last *time.Time
	err := t.db.QueryRow(ctx, `SELECT max(applied_at) FROM change_requests WHERE user_id = $1`, userID).Scan(&last)
	if err != nil {
		return nil, mapError("last applied request", err)
	}
	return last, nil
}

func (t *txStore) UpsertUserPermission(ctx context.Context, userID string, id permission.ID) error {
	_, err := t.db.Exec(ctx, `
		INSERT INTO user_permissions (user_id, permission_id, allowed) VALUES ($1, $2, TRUE)
		ON CONFLICT (user_id, permission_id) DO UPDATE SET allowed = TRUE`, userID, string(id))
	return mapError("upsert user permission", err)
}

func (t *txStore) DeleteUserPermission(ctx context.Context, userID string, id permission.ID) error {
	_, err := t.db.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`, userID, string(id))
	return mapError("delete user permission", err)
}
