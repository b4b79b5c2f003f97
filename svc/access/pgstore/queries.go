package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/medaccess/pkg/changerequest"
	"github.com/dmitrymomot/medaccess/pkg/grants"
	"github.com/dmitrymomot/medaccess/pkg/permission"
)

// dbtx is satisfied by both the pool and a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queries holds the statements shared by Store and its transactions.
type queries struct {
	db dbtx
}

func (q queries) UserRole(ctx context.Context, userID string) (string, error) {
	var roleID string
	err := q.db.QueryRow(ctx, `SELECT role_id FROM user_roles WHERE user_id = $1`, userID).Scan(&roleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", mapError("user role", err)
	}
	return roleID, nil
}

func (q queries) RolePermissions(ctx context.Context, roleIDs ...string) ([]string, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	rows, err := q.db.Query(ctx, `
		SELECT DISTINCT p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = ANY($1)
		ORDER BY p.name`, roleIDs)
	if err != nil {
		return nil, mapError("role permissions", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapError("role permissions", err)
	}
	return names, nil
}

func (q queries) UserPermissions(ctx context.Context, userID string) ([]grants.UserPermission, error) {
	rows, err := q.db.Query(ctx, `
		SELECT up.user_id, up.permission_id, p.name, up.allowed
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1
		ORDER BY p.name`, userID)
	if err != nil {
		return nil, mapError("user permissions", err)
	}
	defer rows.Close()

	var out []grants.UserPermission
	for rows.Next() {
		var (
			up grants.UserPermission
			id string
		)
		if err := rows.Scan(&up.UserID, &id, &up.PermissionName, &up.Allowed); err != nil {
			return nil, mapError("user permissions", err)
		}
		up.PermissionID = permission.ID(id)
		out = append(out, up)
	}
	return out, mapError("user permissions", rows.Err())
}

const temporaryColumns = `t.id, t.user_id, t.permission_id, p.name, t.granted_by, t.granted_at,
	t.expires_at, t.active, t.reason, t.revoked_at`

func scanTemporary(row pgx.Row) (grants.TemporaryPermission, error) {
	var (
		g  grants.TemporaryPermission
		id string
	)
	err := row.Scan(&g.ID, &g.UserID, &id, &g.PermissionName, &g.GrantedBy, &g.GrantedAt,
		&g.ExpiresAt, &g.Active, &g.Reason, &g.RevokedAt)
	g.PermissionID = permission.ID(id)
	return g, err
}

func (q queries) TemporaryPermissions(ctx context.Context, userID string) ([]grants.TemporaryPermission, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+temporaryColumns+`
		FROM temporary_permissions t
		JOIN permissions p ON p.id = t.permission_id
		WHERE t.user_id = $1
		ORDER BY t.granted_at, t.id`, userID)
	if err != nil {
		return nil, mapError("temporary permissions", err)
	}
	defer rows.Close()

	var out []grants.TemporaryPermission
	for rows.Next() {
		g, err := scanTemporary(rows)
		if err != nil {
			return nil, mapError("temporary permissions", err)
		}
		out = append(out, g)
	}
	return out, mapError("temporary permissions", rows.Err())
}

const requestColumns = `id, user_id, requested_by, to_add, to_remove, reason, status,
	approved_by, approved_at, rejected_by, rejected_at, expires_at, applied_at, created_at`

func (q queries) changeRequest(ctx context.Context, id string, forUpdate bool) (*changerequest.Request, error) {
	sql := `SELECT ` + requestColumns + ` FROM change_requests WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	var (
		r           changerequest.Request
		add, remove []string
		status      string
	)
	err := q.db.QueryRow(ctx, sql, id).Scan(&r.ID, &r.UserID, &r.RequestedBy, &add, &remove, &r.Reason, &status,
		&r.ApprovedBy, &r.ApprovedAt, &r.RejectedBy, &r.RejectedAt, &r.ExpiresAt, &r.AppliedAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Join(changerequest.ErrNotFound, fmt.Errorf("request %q", id))
	}
	if err != nil {
		return nil, mapError("change request", err)
	}
	r.ToAdd = toIDs(add)
	r.ToRemove = toIDs(remove)
	r.Status = changerequest.Status(status)
	return &r, nil
}

func (q queries) insertChangeRequest(ctx context.Context, r *changerequest.Request) error {
	_, err := q.db.Exec(ctx, `INSERT INTO change_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.ID, r.UserID, r.RequestedBy, fromIDs(r.ToAdd), fromIDs(r.ToRemove), r.Reason, string(r.Status),
		r.ApprovedBy, r.ApprovedAt, r.RejectedBy, r.RejectedAt, r.ExpiresAt, r.AppliedAt, r.CreatedAt)
	return mapError("create change request", err)
}

func (q queries) updateChangeRequest(ctx context.Context, r *changerequest.Request) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE change_requests SET
			status = $2, approved_by = $3, approved_at = $4, rejected_by = $5,
			rejected_at = $6, applied_at = $7
		WHERE id = $1`,
		r.ID, string(r.Status), r.ApprovedBy, r.ApprovedAt, r.RejectedBy, r.RejectedAt, r.AppliedAt)
	if err != nil {
		return mapError("save change request", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Join(changerequest.ErrNotFound, fmt.Errorf("request %q", r.ID))
	}
	return nil
}

func (q queries) temporaryPermission(ctx context.Context, id string) (grants.TemporaryPermission, error) {
	g, err := scanTemporary(q.db.QueryRow(ctx, `
		SELECT `+temporaryColumns+`
		FROM temporary_permissions t
		JOIN permissions p ON p.id = t.permission_id
		WHERE t.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return grants.TemporaryPermission{}, errors.Join(grants.ErrGrantNotFound, fmt.Errorf("grant %q", id))
	}
	if err != nil {
		return grants.TemporaryPermission{}, mapError("temporary permission", err)
	}
	return g, nil
}

func toIDs(names []string) []permission.ID {
	if len(names) == 0 {
		return nil
	}
	out := make([]permission.ID, len(names))
	for i, n := range names {
		out[i] = permission.ID(n)
	}
	return out
}

func fromIDs(ids []permission.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// nonNil keeps NOT NULL array columns from receiving NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
