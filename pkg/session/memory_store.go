package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store interface using in-memory storage
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session // by token
	actions  map[string][]Action // by session id
}

// NewMemoryStore creates a new in-memory session store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		actions:  make(map[string][]Action),
	}
}

// Create stores a new session
func (m *MemoryStore) Create(ctx context.Context, session *Session, limit int) error {
	if session == nil || session.Token == "" || session.UserID == "" {
		return ErrInvalidSession
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if limit > 0 && m.activeCount(session.UserID) >= limit {
		return ErrSessionLimit
	}
	m.sessions[session.Token] = session.clone()
	return nil
}

// GetByToken retrieves a session by token
func (m *MemoryStore) GetByToken(ctx context.Context, token string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.clone(), nil
}

// End stamps EndedAt once
func (m *MemoryStore) End(ctx context.Context, token string, at time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.EndedAt != nil {
		return nil, ErrSessionEnded
	}
	s.EndedAt = &at
	return s.clone(), nil
}

// ActiveCount returns the number of active sessions of the user
func (m *MemoryStore) ActiveCount(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeCount(userID), nil
}

func (m *MemoryStore) activeCount(userID string) int {
	n := 0
	for _, s := range m.sessions {
		if s.UserID == userID && s.EndedAt == nil {
			n++
		}
	}
	return n
}

// AppendAction stores an action
func (m *MemoryStore) AppendAction(ctx context.Context, action *Action) error {
	if action == nil || action.Type == "" {
		return ErrInvalidAction
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.actions[action.SessionID] = append(m.actions[action.SessionID], action.clone())
	return nil
}

// Actions returns the actions of a session
func (m *MemoryStore) Actions(ctx context.Context, sessionID string) ([]Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.actions[sessionID]
	out := make([]Action, len(list))
	for i, a := range list {
		out[i] = a.clone()
	}
	return out, nil
}
