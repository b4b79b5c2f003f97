package access

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/dmitrymomot/medaccess/pkg/audit"
	"github.com/dmitrymomot/medaccess/pkg/changerequest"
	"github.com/dmitrymomot/medaccess/pkg/grants"
	"github.com/dmitrymomot/medaccess/pkg/logger"
	"github.com/dmitrymomot/medaccess/pkg/permission"
)

// SubmitChangeRequest records a pending request and returns its id.
func (e *Engine) SubmitChangeRequest(ctx context.Context, in SubmitInput) (string, error) {
	if err := e.validateStruct(in); err != nil {
		return "", err
	}

	cat := e.catalog.Load()
	add, err := cat.Resolve(in.Add...)
	if err != nil {
		return "", errors.Join(invalid("Add", "%s", unknownNames(err)), err)
	}
	remove, err := cat.Resolve(in.Remove...)
	if err != nil {
		return "", errors.Join(invalid("Remove", "%s", unknownNames(err)), err)
	}

	req, err := changerequest.New(in.UserID, in.RequestedBy, add, remove, in.Reason, e.requestTTL, e.now())
	if err != nil {
		return "", errors.Join(invalid("Request", "%s", strings.ReplaceAll(err.Error(), "\n", "; ")), err)
	}
	if err := e.store.CreateChangeRequest(ctx, req); err != nil {
		return "", err
	}

	return req.ID, e.record(ctx, ActionRequestSubmit,
		audit.WithUserID(req.RequestedBy),
		audit.WithValue("request_id", req.ID),
		audit.WithValue("target_user_id", req.UserID),
		audit.WithValue("add", in.Add),
		audit.WithValue("remove", in.Remove),
	)
}

func unknownNames(err error) string {
	return strings.ReplaceAll(err.Error(), "\n", ", ")
}

// ApproveRequest approves a pending request. Neither the requester nor the
// user whose permissions change may approve it.
func (e *Engine) ApproveRequest(ctx context.Context, requestID, approverID string) error {
	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		return invalid("ApproverID", "is required")
	}

	return e.transition(ctx, requestID, ActionRequestApprove, approverID, func(req *changerequest.Request) error {
		if req.RequestedBy == approverID || req.UserID == approverID {
			return ErrSelfApproval
		}
		return req.Approve(approverID, e.now())
	})
}

// RejectRequest closes a pending request without touching any grant.
func (e *Engine) RejectRequest(ctx context.Context, requestID, approverID string) error {
	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		return invalid("ApproverID", "is required")
	}
	return e.transition(ctx, requestID, ActionRequestReject, approverID, func(req *changerequest.Request) error {
		return req.Reject(approverID, e.now())
	})
}

// ExpireRequest closes a pending request that may no longer be approved.
func (e *Engine) ExpireRequest(ctx context.Context, requestID string) error {
	return e.transition(ctx, requestID, ActionRequestExpire, "", func(req *changerequest.Request) error {
		return req.MarkExpired(e.now())
	})
}

// transition loads the request under lock, applies fn and saves it.
// Failed transitions are audited as well and returned unchanged.
func (e *Engine) transition(ctx context.Context, requestID, action, actorID string, fn func(*changerequest.Request) error) error {
	var req *changerequest.Request
	err := e.store.InTx(ctx, func(tx Tx) error {
		var err error
		req, err = tx.ChangeRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if err := fn(req); err != nil {
			return err
		}
		return tx.SaveChangeRequest(ctx, req)
	})

	opts := []audit.EntryOption{audit.WithValue("request_id", requestID)}
	if actorID != "" {
		opts = append(opts, audit.WithUserID(actorID))
	}
	if req != nil {
		opts = append(opts,
			audit.WithValue("target_user_id", req.UserID),
			audit.WithValue("status", string(req.Status)),
		)
	}
	if err != nil {
		e.log.WarnContext(ctx, "change request transition refused",
			logger.Component("access"),
			slog.String("request_id", requestID),
			slog.String("action", action),
			logger.Error(err),
		)
		if errors.Is(err, changerequest.ErrNotFound) {
			return err
		}
		if aerr := e.record(ctx, action, append(opts, audit.WithError(err))...); aerr != nil {
			return errors.Join(err, aerr)
		}
		return err
	}
	return e.record(ctx, action, opts...)
}

// eventApply names the apply step in transition errors; it is not part of
// the status table because applying never changes the status.
const eventApply changerequest.Event = "apply"

// ApplyRequest writes an approved request's changes as user overrides and
// validates the user's resulting effective set against the dependency
// graph, all inside one store transaction.
//
// With RejectOnMissing any finding rolls the transaction back and is
// returned both as the list and as the error. With ReportMissing the
// changes commit and the findings are returned with a nil error.
// Applying the same request again yields the same effective set.
func (e *Engine) ApplyRequest(ctx context.Context, requestID string) (permission.DependencyErrors, error) {
	cat := e.catalog.Load()
	var (
		req       *changerequest.Request
		findings  permission.DependencyErrors
		conflicts []permission.SegregationConflict
	)

	err := e.store.InTx(ctx, func(tx Tx) error {
		var err error
		req, err = tx.ChangeRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if !req.CanApply() {
			return errors.Join(changerequest.ErrNotApproved, &changerequest.StateTransitionError{From: req.Status, Event: eventApply})
		}
		last, err := tx.LastAppliedAt(ctx, req.UserID)
		if err != nil {
			return err
		}
		if err := req.CheckReapply(last); err != nil {
			return err
		}

		add, remove := req.Changes()
		for _, id := range add {
			if err := tx.UpsertUserPermission(ctx, req.UserID, id); err != nil {
				return err
			}
		}
		for _, id := range remove {
			if err := tx.DeleteUserPermission(ctx, req.UserID, id); err != nil {
				return err
			}
		}

		resolver := grants.NewResolver(tx, e.hierarchy(),
			grants.WithDefaultMode(e.mode),
			grants.WithClock(e.now),
		)
		set, err := resolver.EffectiveDefault(ctx, req.UserID)
		if err != nil {
			return err
		}
		ids := idsOf(cat, set.Slice())
		findings = cat.Validate(ids...)
		conflicts = cat.SegregationConflicts(ids...)
		if len(findings) > 0 && e.policy == changerequest.RejectOnMissing {
			return findings
		}

		if err := req.MarkApplied(e.now()); err != nil {
			return err
		}
		return tx.SaveChangeRequest(ctx, req)
	})

	opts := []audit.EntryOption{
		audit.WithValue("request_id", requestID),
		audit.WithValue("policy", e.policy.String()),
	}
	if req != nil {
		opts = append(opts, audit.WithUserID(req.UserID))
	}
	if len(findings) > 0 {
		opts = append(opts,
			audit.WithSeverity(audit.SeverityWarning),
			audit.WithValue("missing_dependencies", describeFindings(findings)),
		)
	}
	if len(conflicts) > 0 {
		opts = append(opts, audit.WithValue("segregation_conflicts", describeConflicts(conflicts)))
	}

	if err != nil {
		if errors.Is(err, changerequest.ErrNotFound) {
			return nil, err
		}
		e.log.WarnContext(ctx, "change request not applied",
			logger.Component("access"),
			slog.String("request_id", requestID),
			logger.Error(err),
		)
		if aerr := e.record(ctx, ActionRequestApply, append(opts, audit.WithError(err))...); aerr != nil {
			return findings, errors.Join(err, aerr)
		}
		return findings, err
	}

	e.invalidate(ctx, req.UserID)
	if len(conflicts) > 0 {
		e.log.WarnContext(ctx, "segregation of duties conflict",
			logger.Component("access"),
			logger.UserID(req.UserID),
			slog.Any("conflicts", describeConflicts(conflicts)),
		)
	}
	return findings, e.record(ctx, ActionRequestApply, opts...)
}

func describeFindings(errs permission.DependencyErrors) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.PermissionName+" requires "+e.DependsOnName)
	}
	return out
}

func describeConflicts(conflicts []permission.SegregationConflict) []string {
	out := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, c.GroupA+"/"+c.GroupB)
	}
	return out
}
