package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/medaccess/pkg/logger"
)

// Manager handles session operations
type Manager struct {
	store Store
	now   func() time.Time
	log   *slog.Logger
}

// Option is a functional option for configuring the Manager
type Option func(*Manager)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger used for session lifecycle events
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// New creates a new session manager backed by store
func New(store Store, opts ...Option) *Manager {
	if store == nil {
		panic("session: store cannot be nil")
	}
	m := &Manager{store: store, now: time.Now, log: logger.Discard()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartOption configures a single Start call
type StartOption func(*startConfig)

type startConfig struct {
	limit int
}

// WithLimit caps the number of concurrently active sessions of the user.
// Zero or negative means unlimited.
func WithLimit(n int) StartOption {
	return func(c *startConfig) {
		c.limit = n
	}
}

// Start opens a session with a fresh random token
func (m *Manager) Start(ctx context.Context, userID, ip, userAgent string, opts ...StartOption) (*Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidSession
	}

	var cfg startConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     token,
		IP:        ip,
		UserAgent: userAgent,
		StartedAt: m.now(),
	}
	if err := m.store.Create(ctx, s, cfg.limit); err != nil {
		return nil, err
	}

	m.log.DebugContext(ctx, "session started",
		logger.Component("session"),
		logger.UserID(userID),
		logger.IP(ip),
		slog.String("session_id", s.ID),
	)
	return s, nil
}

// Get returns the session for token
func (m *Manager) Get(ctx context.Context, token string) (*Session, error) {
	return m.store.GetByToken(ctx, token)
}

// End closes the session. Ending twice returns ErrSessionEnded.
func (m *Manager) End(ctx context.Context, token string) (*Session, error) {
	s, err := m.store.End(ctx, token, m.now())
	if err != nil {
		return nil, err
	}
	if d, ok := s.DurationMinutes(); ok {
		m.log.DebugContext(ctx, "session ended",
			logger.Component("session"),
			logger.UserID(s.UserID),
			slog.String("session_id", s.ID),
			slog.Int("duration_minutes", d),
		)
	}
	return s, nil
}

// ActiveCount returns the number of active sessions of the user
func (m *Manager) ActiveCount(ctx context.Context, userID string) (int, error) {
	return m.store.ActiveCount(ctx, userID)
}

// LogAction appends an action to an active session
func (m *Manager) LogAction(ctx context.Context, token, actionType string, data map[string]any, description string) (*Action, error) {
	if strings.TrimSpace(actionType) == "" {
		return nil, ErrInvalidAction
	}

	s, err := m.store.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !s.IsActive() {
		return nil, errors.Join(ErrSessionEnded, fmt.Errorf("session %s", s.ID))
	}

	a := &Action{
		ID:          uuid.NewString(),
		SessionID:   s.ID,
		Type:        actionType,
		Data:        maps.Clone(data),
		Description: description,
		PerformedAt: m.now(),
	}
	if err := m.store.AppendAction(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Actions returns the actions logged in the session identified by token
func (m *Manager) Actions(ctx context.Context, token string) ([]Action, error) {
	s, err := m.store.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return m.store.Actions(ctx, s.ID)
}

// generateToken creates a cryptographically secure token
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Join(ErrTokenGeneration, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
