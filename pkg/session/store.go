package session

import (
	"context"
	"time"
)

// Store defines the interface for session persistence
type Store interface {
	// Create stores a new session. When limit is positive and the user
	// already has limit active sessions, it returns ErrSessionLimit.
	// Counting and inserting must be atomic.
	Create(ctx context.Context, session *Session, limit int) error

	// GetByToken retrieves a session by token
	GetByToken(ctx context.Context, token string) (*Session, error)

	// End stamps EndedAt. Ending an ended session returns ErrSessionEnded.
	End(ctx context.Context, token string, at time.Time) (*Session, error)

	// ActiveCount returns the number of active sessions of the user
	ActiveCount(ctx context.Context, userID string) (int, error)

	// AppendAction stores an action; actions are never updated
	AppendAction(ctx context.Context, action *Action) error

	// Actions returns the actions of a session in the order they were performed
	Actions(ctx context.Context, sessionID string) ([]Action, error)
}
