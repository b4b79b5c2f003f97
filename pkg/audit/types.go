package audit

import (
	"context"
	"log/slog"
	"time"
)

// Severity classifies an entry
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Level maps the severity to a slog level
func (s Severity) Level() slog.Level {
	switch s {
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityError, SeverityCritical:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Entry is a single audit record. Entries are linked: PrevHash holds the
// Hash of the entry stored right before it.
type Entry struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id,omitempty"`
	Action       string         `json:"action"`
	Description  string         `json:"description,omitempty"`
	Severity     Severity       `json:"severity"`
	Module       string         `json:"module,omitempty"`
	IP           string         `json:"ip,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	ErrorDetails string         `json:"error_details,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	LoggedAt     time.Time      `json:"logged_at"`
	PrevHash     string         `json:"prev_hash"`
	Hash         string         `json:"hash"`
}

// Criteria filters entries. Zero fields match everything.
type Criteria struct {
	UserID   string
	Action   string
	Module   string
	Severity Severity
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Matches reports whether e satisfies the criteria, ignoring Limit
func (c Criteria) Matches(e Entry) bool {
	switch {
	case c.UserID != "" && e.UserID != c.UserID:
		return false
	case c.Action != "" && e.Action != c.Action:
		return false
	case c.Module != "" && e.Module != c.Module:
		return false
	case c.Severity != "" && e.Severity != c.Severity:
		return false
	case !c.Since.IsZero() && e.LoggedAt.Before(c.Since):
		return false
	case !c.Until.IsZero() && !e.LoggedAt.Before(c.Until):
		return false
	}
	return true
}

// Storage persists entries in append order.
type Storage interface {
	// Append calls next with the hash of the latest stored entry (empty
	// for the first one) and stores the result. Reading the latest hash
	// and storing must be atomic with respect to other appends.
	Append(ctx context.Context, next func(prevHash string) Entry) (Entry, error)

	// Get returns a single entry or ErrEntryNotFound
	Get(ctx context.Context, id string) (Entry, error)

	// Find returns matching entries, oldest first
	Find(ctx context.Context, criteria Criteria) ([]Entry, error)

	// Update replaces an entry. Only used outside production.
	Update(ctx context.Context, entry Entry) error

	// Delete removes an entry. Only used outside production.
	Delete(ctx context.Context, id string) error
}
