package access

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/dmitrymomot/medaccess/pkg/audit"
	"github.com/dmitrymomot/medaccess/pkg/logger"
	"github.com/dmitrymomot/medaccess/pkg/netgate"
	"github.com/dmitrymomot/medaccess/pkg/permission"
)

// Reason explains an authorization decision.
type Reason string

const (
	ReasonGranted  Reason = "granted"
	ReasonIPDenied Reason = "ip_denied"
	ReasonNotHeld  Reason = "not_held"
)

// publicDenied is shown instead of the concrete reason to callers who
// must not learn whether the origin or the grant was the problem.
const publicDenied = "access denied"

// Decision is the outcome of Authorize. A denial is not an error.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// PublicReason collapses every denial into one opaque message.
func (d Decision) PublicReason() string {
	if d.Allowed {
		return string(ReasonGranted)
	}
	return publicDenied
}

// Authorize decides whether userID may use permissionName from sourceIP.
// The network gate is consulted first; a denied origin never reaches the
// grant lookup. Exactly one audit entry is appended per call.
func (e *Engine) Authorize(ctx context.Context, userID, permissionName, sourceIP string) (Decision, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Decision{}, invalid("UserID", "is required")
	}
	if _, err := e.catalog.Load().ByName(permissionName); err != nil {
		return Decision{}, errors.Join(invalid("Permission", "unknown permission %q", permissionName), err)
	}

	opts := []audit.EntryOption{
		audit.WithUserID(userID),
		audit.WithIP(sourceIP),
		audit.WithValue("permission", permissionName),
		audit.WithValue("mode", e.resolver.DefaultMode().String()),
	}

	d, gate, err := e.decide(ctx, userID, permissionName, sourceIP)
	if err != nil {
		e.log.ErrorContext(ctx, "authorization failed",
			logger.Component("access"),
			logger.UserID(userID),
			logger.Permission(permissionName),
			logger.Error(err),
		)
		if aerr := e.record(ctx, ActionAuthorize, append(opts, audit.WithError(err))...); aerr != nil {
			return Decision{}, errors.Join(err, aerr)
		}
		return Decision{}, err
	}

	opts = append(opts, audit.WithValue("decision", string(d.Reason)))
	if gate.RuleID != "" {
		opts = append(opts, audit.WithValue("ip_rule_id", gate.RuleID))
	}
	if !d.Allowed {
		opts = append(opts,
			audit.WithSeverity(audit.SeverityWarning),
			audit.WithValue("gate", string(gate.Reason)),
		)
	}
	if err := e.record(ctx, ActionAuthorize, opts...); err != nil {
		// An unrecorded decision is never handed out.
		return Decision{}, err
	}

	e.log.DebugContext(ctx, "authorization decided",
		logger.Component("access"),
		logger.UserID(userID),
		logger.Permission(permissionName),
		logger.IP(sourceIP),
		slog.String("reason", string(d.Reason)),
	)
	return d, nil
}

func (e *Engine) decide(ctx context.Context, userID, permissionName, sourceIP string) (Decision, netgate.Decision, error) {
	gate, err := e.gate.Check(ctx, sourceIP)
	if err != nil {
		return Decision{}, netgate.Decision{}, err
	}
	if !gate.Allowed {
		return Decision{Allowed: false, Reason: ReasonIPDenied}, gate, nil
	}

	held, err := e.resolver.HasPermission(ctx, userID, permissionName)
	if err != nil {
		return Decision{}, gate, err
	}
	if !held {
		return Decision{Allowed: false, Reason: ReasonNotHeld}, gate, nil
	}
	return Decision{Allowed: true, Reason: ReasonGranted}, gate, nil
}

// EffectivePermissions returns the sorted names the user holds in the
// engine's default mode.
func (e *Engine) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("UserID", "is required")
	}
	set, err := e.resolver.EffectiveDefault(ctx, userID)
	if err != nil {
		return nil, err
	}
	return set.Slice(), nil
}

// SegregationConflicts lists the duty conflicts within the user's effective set.
func (e *Engine) SegregationConflicts(ctx context.Context, userID string) ([]permission.SegregationConflict, error) {
	names, err := e.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	cat := e.catalog.Load()
	return cat.SegregationConflicts(idsOf(cat, names)...), nil
}

// idsOf maps names to ids, skipping names the catalog does not know.
func idsOf(cat *permission.Catalog, names []string) []permission.ID {
	out := make([]permission.ID, 0, len(names))
	for _, n := range names {
		if p, err := cat.ByName(n); err == nil {
			out = append(out, p.ID)
		}
	}
	return out
}
