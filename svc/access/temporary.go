package access

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/medaccess/pkg/audit"
	"github.com/dmitrymomot/medaccess/pkg/grants"
	"github.com/dmitrymomot/medaccess/pkg/logger"
)

// GrantTemporary gives the user a permission until in.ExpiresAt and
// returns the grant id. Expiry is evaluated on every lookup, so the grant
// stops counting the moment it expires.
func (e *Engine) GrantTemporary(ctx context.Context, in GrantInput) (string, error) {
	if err := e.validateStruct(in); err != nil {
		return "", err
	}

	now := e.now()
	switch {
	case !in.ExpiresAt.After(now):
		return "", invalid("ExpiresAt", "must be in the future")
	case e.maxGrant > 0 && in.ExpiresAt.Sub(now) > e.maxGrant:
		return "", invalid("ExpiresAt", "must be within %s", e.maxGrant)
	}

	p, err := e.catalog.Load().ByName(in.Permission)
	if err != nil {
		return "", errors.Join(invalid("Permission", "unknown permission %q", in.Permission), err)
	}

	grant := grants.TemporaryPermission{
		ID:             uuid.NewString(),
		UserID:         strings.TrimSpace(in.UserID),
		PermissionID:   p.ID,
		PermissionName: p.Name,
		GrantedBy:      strings.TrimSpace(in.GrantedBy),
		GrantedAt:      now,
		ExpiresAt:      in.ExpiresAt,
		Active:         true,
		Reason:         strings.TrimSpace(in.Reason),
	}
	if err := e.store.CreateTemporaryPermission(ctx, grant); err != nil {
		return "", err
	}
	e.invalidate(ctx, grant.UserID)

	opts := []audit.EntryOption{
		audit.WithUserID(grant.GrantedBy),
		audit.WithDescription(grant.Reason),
		audit.WithValue("grant_id", grant.ID),
		audit.WithValue("target_user_id", grant.UserID),
		audit.WithValue("permission", p.Name),
		audit.WithValue("expires_at", grant.ExpiresAt.UTC().Format(time.RFC3339)),
	}
	if p.IsCritical {
		opts = append(opts, audit.WithSeverity(audit.SeverityWarning))
	}
	return grant.ID, e.record(ctx, ActionTemporaryGrant, opts...)
}

// RevokeTemporary deactivates a grant. The row is kept for the record.
func (e *Engine) RevokeTemporary(ctx context.Context, grantID string) error {
	grant, err := e.store.RevokeTemporaryPermission(ctx, grantID, e.now())
	if err != nil {
		return err
	}
	e.invalidate(ctx, grant.UserID)

	return e.record(ctx, ActionTemporaryRevoke,
		audit.WithValue("grant_id", grant.ID),
		audit.WithValue("target_user_id", grant.UserID),
		audit.WithValue("permission", grant.PermissionName),
	)
}

// invalidate drops cached sets of userID. Failures are logged; stale
// entries still expire with their TTL.
func (e *Engine) invalidate(ctx context.Context, userID string) {
	if err := e.resolver.Invalidate(ctx, userID); err != nil {
		e.log.WarnContext(ctx, "cache invalidation failed",
			logger.Component("access"),
			logger.UserID(userID),
			logger.Error(err),
		)
	}
}
