package access

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dmitrymomot/medaccess/pkg/audit"
	"github.com/dmitrymomot/medaccess/pkg/logger"
)

// Audit actions appended by the engine.
const (
	ActionAuthorize        = "access.authorize"
	ActionRequestSubmit    = "change_request.submit"
	ActionRequestApprove   = "change_request.approve"
	ActionRequestReject    = "change_request.reject"
	ActionRequestApply     = "change_request.apply"
	ActionRequestExpire    = "change_request.expire"
	ActionTemporaryGrant   = "temporary_permission.grant"
	ActionTemporaryRevoke  = "temporary_permission.revoke"
	ActionTemporaryExpire  = "temporary_permission.expire"
	ActionSessionStart     = "session.start"
	ActionSessionEnd       = "session.end"
	ActionSessionAction    = "session.action"
	ActionRoleCreate       = "role.create"
	ActionRoleAssign       = "role.assign"
	ActionRoleReparent     = "role.reparent"
	ActionRoleGrant        = "role.grant_permission"
	ActionPermissionCreate = "permission.create"
	ActionDependencyAdd    = "permission.dependency_add"
	ActionIPRuleAdd        = "ip_rule.add"
	ActionCatalogReload    = "catalog.reload"
)

// AppendAudit records an entry on behalf of a caller.
func (e *Engine) AppendAudit(ctx context.Context, in AuditInput) (audit.Entry, error) {
	if err := e.validateStruct(in); err != nil {
		return audit.Entry{}, err
	}

	module := strings.TrimSpace(in.Module)
	if module == "" {
		module = e.module
	}
	opts := []audit.EntryOption{
		audit.WithModule(module),
		audit.WithDescription(in.Description),
		audit.WithContext(in.Context),
	}
	if in.UserID != "" {
		opts = append(opts, audit.WithUserID(in.UserID))
	}
	if in.Severity != "" {
		opts = append(opts, audit.WithSeverity(audit.Severity(in.Severity)))
	}
	return e.audit.Append(ctx, in.Action, opts...)
}

// record appends an engine entry under the engine's module.
func (e *Engine) record(ctx context.Context, action string, opts ...audit.EntryOption) error {
	opts = append([]audit.EntryOption{audit.WithModule(e.module)}, opts...)
	if _, err := e.audit.Append(ctx, action, opts...); err != nil {
		e.log.ErrorContext(ctx, "audit append failed",
			logger.Component("access"),
			slog.String("action", action),
			logger.Error(err),
		)
		return err
	}
	return nil
}
