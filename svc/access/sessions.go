package access

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/dmitrymomot/medaccess/pkg/audit"
	"github.com/dmitrymomot/medaccess/pkg/logger"
	"github.com/dmitrymomot/medaccess/pkg/session"
)

// StartSession opens a session for userID and returns its token. The
// role's ConcurrentSessionLimit is enforced; users without a role are
// unlimited.
func (e *Engine) StartSession(ctx context.Context, userID, ip, userAgent string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", invalid("UserID", "is required")
	}

	limit := 0
	roleID, err := e.store.UserRole(ctx, userID)
	if err != nil {
		return "", err
	}
	if roleID != "" {
		role, err := e.graph.Load().Role(roleID)
		if err != nil {
			return "", err
		}
		limit = role.ConcurrentSessionLimit
	}

	opts := []audit.EntryOption{
		audit.WithUserID(userID),
		audit.WithIP(ip),
		audit.WithUserAgent(userAgent),
	}

	s, err := e.sessions.Start(ctx, userID, ip, userAgent, session.WithLimit(limit))
	if err != nil {
		if errors.Is(err, session.ErrSessionLimit) {
			e.log.WarnContext(ctx, "session limit reached",
				logger.Component("access"),
				logger.UserID(userID),
				slog.Int("limit", limit),
			)
			opts = append(opts,
				audit.WithSeverity(audit.SeverityWarning),
				audit.WithDescription("concurrent session limit reached"),
				audit.WithValue("limit", limit),
			)
			if aerr := e.record(ctx, ActionSessionStart, opts...); aerr != nil {
				return "", errors.Join(err, aerr)
			}
		}
		return "", err
	}

	opts = append(opts, audit.WithValue("session_id", s.ID))
	return s.Token, e.record(ctx, ActionSessionStart, opts...)
}

// EndSession closes the session. Ending it twice returns session.ErrSessionEnded.
func (e *Engine) EndSession(ctx context.Context, token string) error {
	s, err := e.sessions.End(ctx, token)
	if err != nil {
		return err
	}

	opts := []audit.EntryOption{
		audit.WithUserID(s.UserID),
		audit.WithValue("session_id", s.ID),
	}
	if minutes, ok := s.DurationMinutes(); ok {
		opts = append(opts, audit.WithValue("duration_minutes", minutes))
	}
	return e.record(ctx, ActionSessionEnd, opts...)
}

// LogSessionAction appends an action to an active session.
func (e *Engine) LogSessionAction(ctx context.Context, token, actionType string, data map[string]any) error {
	s, err := e.sessions.Get(ctx, token)
	if err != nil {
		return err
	}
	a, err := e.sessions.LogAction(ctx, token, actionType, data, "")
	if err != nil {
		return err
	}

	return e.record(ctx, ActionSessionAction,
		audit.WithUserID(s.UserID),
		audit.WithValue("session_id", s.ID),
		audit.WithValue("action_id", a.ID),
		audit.WithValue("type", a.Type),
	)
}
