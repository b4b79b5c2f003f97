package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/medaccess/pkg/environment"
	"github.com/dmitrymomot/medaccess/pkg/logger"
)

// Log is the append-only audit trail.
type Log struct {
	storage            Storage
	env                environment.Environment
	userIDExtractor    contextExtractor
	requestIDExtractor contextExtractor
	ipExtractor        contextExtractor
	userAgentExtractor contextExtractor
	now                func() time.Time
	log                *slog.Logger
	filter             *MetadataFilter
	module             string
}

// New creates an audit log. In production env Update and Delete are refused.
func New(storage Storage, env environment.Environment, opts ...Option) *Log {
	if storage == nil {
		panic("audit: storage cannot be nil")
	}

	l := &Log{
		storage: storage,
		env:     env,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Immutable reports whether mutation and deletion are refused.
func (l *Log) Immutable() bool {
	return l.env.IsProduction()
}

// Append always creates a new entry linked to the previous one.
func (l *Log) Append(ctx context.Context, action string, opts ...EntryOption) (Entry, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return Entry{}, errors.Join(ErrInvalidEntry, errors.New("action is required"))
	}

	base := l.entryFromContext(ctx)
	base.ID = uuid.NewString()
	base.Action = action
	base.Severity = SeverityInfo
	base.Module = l.module
	base.LoggedAt = l.now().UTC().Truncate(time.Millisecond)

	for _, opt := range opts {
		opt(&base)
	}
	if l.filter != nil {
		base.Context = l.filter.Filter(base.Context)
	}

	stored, err := l.storage.Append(ctx, func(prevHash string) Entry {
		e := base
		e.PrevHash = prevHash
		e.Hash = ComputeHash(e)
		return e
	})
	if err != nil {
		return Entry{}, errors.Join(ErrStorageNotAvailable, err)
	}

	l.mirror(ctx, stored)
	return stored, nil
}

// Update delegates to storage outside production.
func (l *Log) Update(ctx context.Context, entry Entry) error {
	if l.Immutable() {
		return &IntegrityError{EntryID: entry.ID, Op: OpUpdate}
	}
	return l.storage.Update(ctx, entry)
}

// Delete delegates to storage outside production.
func (l *Log) Delete(ctx context.Context, id string) error {
	if l.Immutable() {
		return &IntegrityError{EntryID: id, Op: OpDelete}
	}
	return l.storage.Delete(ctx, id)
}

func (l *Log) Get(ctx context.Context, id string) (Entry, error) {
	return l.storage.Get(ctx, id)
}

func (l *Log) Find(ctx context.Context, c Criteria) ([]Entry, error) {
	return l.storage.Find(ctx, c)
}

// Verify recomputes every hash and link. It returns a *ChainError for the
// first entry that does not match.
func (l *Log) Verify(ctx context.Context) error {
	entries, err := l.storage.Find(ctx, Criteria{})
	if err != nil {
		return err
	}

	prev := ""
	for i, e := range entries {
		if e.PrevHash != prev {
			return &ChainError{EntryID: e.ID, Index: i, Reason: "previous hash mismatch"}
		}
		if ComputeHash(e) != e.Hash {
			return &ChainError{EntryID: e.ID, Index: i, Reason: "content hash mismatch"}
		}
		prev = e.Hash
	}
	return nil
}

func (l *Log) mirror(ctx context.Context, e Entry) {
	if l.log == nil {
		return
	}
	attrs := []slog.Attr{
		logger.Component("audit"),
		slog.String("audit_id", e.ID),
		slog.String("action", e.Action),
		slog.String("severity", string(e.Severity)),
		slog.String("module", e.Module),
	}
	if e.UserID != "" {
		attrs = append(attrs, logger.UserID(e.UserID))
	}
	if e.IP != "" {
		attrs = append(attrs, logger.IP(e.IP))
	}
	if e.ErrorDetails != "" {
		attrs = append(attrs, slog.String("error_details", e.ErrorDetails))
	}
	msg := e.Description
	if msg == "" {
		msg = fmt.Sprintf("audit: %s", e.Action)
	}
	l.log.LogAttrs(ctx, e.Severity.Level(), msg, attrs...)
}

func (l *Log) entryFromContext(ctx context.Context) Entry {
	var e Entry
	extract := func(fn contextExtractor, dst *string) {
		if fn == nil {
			return
		}
		if v, ok := fn(ctx); ok {
			*dst = v
		}
	}
	extract(l.userIDExtractor, &e.UserID)
	extract(l.requestIDExtractor, &e.RequestID)
	extract(l.ipExtractor, &e.IP)
	extract(l.userAgentExtractor, &e.UserAgent)
	return e
}
