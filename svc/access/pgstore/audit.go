package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/medaccess/pkg/audit"
	"github.com/dmitrymomot/medaccess/pkg/pg"
)

var _ audit.Storage = (*Store)(nil)

const auditColumns = `id, user_id, action, description, severity, module, ip, user_agent,
	request_id, error_details, context, logged_at, prev_hash, hash`

// Context is stored as JSON text so the hash input survives the round trip.
func auditArgs(e audit.Entry) ([]any, error) {
	ctxJSON := ""
	if len(e.Context) > 0 {
		b, err := json.Marshal(e.Context)
		if err != nil {
			return nil, errors.Join(audit.ErrInvalidEntry, err)
		}
		ctxJSON = string(b)
	}
	return []any{e.ID, e.UserID, e.Action, e.Description, string(e.Severity), e.Module, e.IP, e.UserAgent,
		e.RequestID, e.ErrorDetails, ctxJSON, e.LoggedAt, e.PrevHash, e.Hash}, nil
}

func scanEntry(row pgx.Row) (audit.Entry, error) {
	var (
		e                 audit.Entry
		severity, ctxJSON string
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.Action, &e.Description, &severity, &e.Module, &e.IP, &e.UserAgent,
		&e.RequestID, &e.ErrorDetails, &ctxJSON, &e.LoggedAt, &e.PrevHash, &e.Hash); err != nil {
		return audit.Entry{}, err
	}
	e.Severity = audit.Severity(severity)
	e.LoggedAt = e.LoggedAt.UTC()
	if ctxJSON != "" {
		if err := json.Unmarshal([]byte(ctxJSON), &e.Context); err != nil {
			return audit.Entry{}, fmt.Errorf("decode context of %s: %w", e.ID, err)
		}
	}
	return e, nil
}

// Append serializes writers with a transaction-scoped advisory lock and
// links the entry to the latest committed one.
func (s *Store) Append(ctx context.Context, next func(prevHash string) audit.Entry) (audit.Entry, error) {
	var stored audit.Entry
	err := s.readCommitted(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('medaccess.audit_log'))`); err != nil {
			return err
		}
		var prev string
		err := tx.QueryRow(ctx, `SELECT hash FROM audit_log ORDER BY seq DESC LIMIT 1`).Scan(&prev)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		e := next(prev)
		args, err := auditArgs(e)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO audit_log (`+auditColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`, args...); err != nil {
			return err
		}
		stored = e
		return nil
	})
	if err != nil {
		if errors.Is(err, audit.ErrInvalidEntry) {
			return audit.Entry{}, err
		}
		return audit.Entry{}, errors.Join(audit.ErrStorageNotAvailable, err)
	}
	return stored, nil
}

func (s *Store) Get(ctx context.Context, id string) (audit.Entry, error) {
	e, err := scanEntry(s.db.QueryRow(ctx, `SELECT `+auditColumns+` FROM audit_log WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return audit.Entry{}, audit.ErrEntryNotFound
	}
	if err != nil {
		return audit.Entry{}, errors.Join(audit.ErrStorageNotAvailable, err)
	}
	return e, nil
}

func (s *Store) Find(ctx context.Context, c audit.Criteria) ([]audit.Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if c.UserID != "" {
		add("user_id = ?", c.UserID)
	}
	if c.Action != "" {
		add("action = ?", c.Action)
	}
	if c.Module != "" {
		add("module = ?", c.Module)
	}
	if c.Severity != "" {
		add("severity = ?", string(c.Severity))
	}
	if !c.Since.IsZero() {
		add("logged_at >= ?", c.Since)
	}
	if !c.Until.IsZero() {
		add("logged_at < ?", c.Until)
	}

	sql := `SELECT ` + auditColumns + ` FROM audit_log`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY seq`
	if c.Limit > 0 {
		sql += ` LIMIT ` + strconv.Itoa(c.Limit)
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Join(audit.ErrStorageNotAvailable, err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Join(audit.ErrStorageNotAvailable, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(audit.ErrStorageNotAvailable, err)
	}
	return out, nil
}

// Update rewrites an entry. Outside production the transaction opts out
// of the append-only trigger; in production it is refused up front.
func (s *Store) Update(ctx context.Context, e audit.Entry) error {
	if s.env.IsProduction() {
		return &audit.IntegrityError{EntryID: e.ID, Op: audit.OpUpdate}
	}
	args, err := auditArgs(e)
	if err != nil {
		return err
	}
	return s.mutateAudit(ctx, `
		UPDATE audit_log SET user_id = $2, action = $3, description = $4, severity = $5, module = $6,
			ip = $7, user_agent = $8, request_id = $9, error_details = $10, context = $11,
			logged_at = $12, prev_hash = $13, hash = $14
		WHERE id = $1`, args...)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if s.env.IsProduction() {
		return &audit.IntegrityError{EntryID: id, Op: audit.OpDelete}
	}
	return s.mutateAudit(ctx, `DELETE FROM audit_log WHERE id = $1`, id)
}

func (s *Store) mutateAudit(ctx context.Context, sql string, args ...any) error {
	return pg.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SET LOCAL medaccess.audit_mutable = 'on'`); err != nil {
			return errors.Join(audit.ErrStorageNotAvailable, err)
		}
		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			if pg.IsRaisedException(err) {
				return errors.Join(audit.ErrAuditIntegrity, err)
			}
			return errors.Join(audit.ErrStorageNotAvailable, err)
		}
		if tag.RowsAffected() == 0 {
			return audit.ErrEntryNotFound
		}
		return nil
	})
}
