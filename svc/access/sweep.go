package access

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/medaccess/pkg/audit"
	"github.com/dmitrymomot/medaccess/pkg/changerequest"
	"github.com/dmitrymomot/medaccess/pkg/logger"
)

// SweepResult summarizes one SweepExpired run.
type SweepResult struct {
	GrantUsers      int // users whose expired temporary grants were deactivated
	ExpiredRequests int
}

// SweepExpired deactivates temporary grants past their expiry and expires
// pending change requests past theirs. Lookups already ignore both, so
// this only keeps the stored state tidy.
func (e *Engine) SweepExpired(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := e.now()

	users, err := e.store.DeactivateExpiredTemporary(ctx, now)
	if err != nil {
		return res, err
	}
	for _, userID := range users {
		e.invalidate(ctx, userID)
	}
	res.GrantUsers = len(users)
	if len(users) > 0 {
		if err := e.record(ctx, ActionTemporaryExpire, audit.WithValue("users", users)); err != nil {
			return res, err
		}
	}

	ids, err := e.store.ExpiredPendingRequests(ctx, now)
	if err != nil {
		return res, err
	}
	var errs []error
	for _, id := range ids {
		err := e.ExpireRequest(ctx, id)
		switch {
		case err == nil:
			res.ExpiredRequests++
		case errors.Is(err, changerequest.ErrInvalidTransition):
			// Approved or rejected since it was listed.
		default:
			errs = append(errs, err)
		}
	}
	return res, errors.Join(errs...)
}

// RunSweeper calls SweepExpired right away and then every interval until
// ctx is done. A non-positive interval is a ValidationError.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return invalid("Interval", "must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := e.SweepExpired(ctx)
		if err != nil {
			e.log.ErrorContext(ctx, "sweep failed", logger.Component("access"), logger.Error(err))
		} else if res.GrantUsers > 0 || res.ExpiredRequests > 0 {
			e.log.InfoContext(ctx, "expired grants swept",
				logger.Component("access"),
				slog.Int("grant_users", res.GrantUsers),
				slog.Int("expired_requests", res.ExpiredRequests),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
