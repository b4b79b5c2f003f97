package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/medaccess/pkg/session"
)

var _ session.Store = (*Store)(nil)

const sessionColumns = `id, user_id, token, ip, user_agent, started_at, ended_at`

func scanSession(row pgx.Row) (*session.Session, error) {
	var s session.Session
	if err := row.Scan(&s.ID, &s.UserID, &s.Token, &s.IP, &s.UserAgent, &s.StartedAt, &s.EndedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrSessionNotFound
		}
		return nil, mapError("session", err)
	}
	return &s, nil
}

// Create counts and inserts under a per-user advisory lock, so two
// concurrent logins cannot both take the last free slot.
func (s *Store) Create(ctx context.Context, sess *session.Session, limit int) error {
	if sess == nil || sess.Token == "" || sess.UserID == "" {
		return session.ErrInvalidSession
	}
	return s.readCommitted(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('medaccess.sessions:' || $1))`, sess.UserID); err != nil {
			return mapError("lock sessions", err)
		}
		if limit > 0 {
			var active int
			if err := tx.QueryRow(ctx, `SELECT count(*) FROM sessions WHERE user_id = $1 AND ended_at IS NULL`,
				sess.UserID).Scan(&active); err != nil {
				return mapError("count sessions", err)
			}
			if active >= limit {
				return session.ErrSessionLimit
			}
		}
		_, err := tx.Exec(ctx, `INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			sess.ID, sess.UserID, sess.Token, sess.IP, sess.UserAgent, sess.StartedAt, sess.EndedAt)
		return mapError("create session", err)
	})
}

func (s *Store) GetByToken(ctx context.Context, token string) (*session.Session, error) {
	return scanSession(s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token = $1`, token))
}

func (s *Store) End(ctx context.Context, token string, at time.Time) (*session.Session, error) {
	ended, err := scanSession(s.db.QueryRow(ctx, `
		UPDATE sessions SET ended_at = $2
		WHERE token = $1 AND ended_at IS NULL
		RETURNING `+sessionColumns, token, at))
	if !errors.Is(err, session.ErrSessionNotFound) {
		return ended, err
	}
	if _, gerr := s.GetByToken(ctx, token); gerr != nil {
		return nil, gerr
	}
	return nil, session.ErrSessionEnded
}

func (s *Store) ActiveCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM sessions WHERE user_id = $1 AND ended_at IS NULL`, userID).Scan(&n)
	return n, mapError("count sessions", err)
}

func (s *Store) AppendAction(ctx context.Context, a *session.Action) error {
	var data []byte
	if len(a.Data) > 0 {
		var err error
		if data, err = json.Marshal(a.Data); err != nil {
			return errors.Join(session.ErrInvalidAction, err)
		}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO session_actions (id, session_id, action_type, data, description, performed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.SessionID, a.Type, data, a.Description, a.PerformedAt)
	return mapError("append session action", err)
}

func (s *Store) Actions(ctx context.Context, sessionID string) ([]session.Action, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, action_type, data, description, performed_at
		FROM session_actions WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, mapError("session actions", err)
	}
	defer rows.Close()

	var out []session.Action
	for rows.Next() {
		var (
			a    session.Action
			data []byte
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Type, &data, &a.Description, &a.PerformedAt); err != nil {
			return nil, mapError("session actions", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &a.Data); err != nil {
				return nil, mapError("decode session action", err)
			}
		}
		out = append(out, a)
	}
	return out, mapError("session actions", rows.Err())
}
