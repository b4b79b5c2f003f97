package session

import (
	"maps"
	"time"
)

// Session is a period during which a user exercises permissions.
type Session struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Token     string     `json:"token"`
	IP        string     `json:"ip,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// IsActive returns true until the session is ended
func (s *Session) IsActive() bool {
	return s != nil && s.EndedAt == nil
}

// DurationMinutes returns the whole minutes between start and end.
// The second value is false while the session is active.
func (s *Session) DurationMinutes() (int, bool) {
	if s == nil || s.EndedAt == nil {
		return 0, false
	}
	return int(s.EndedAt.Sub(s.StartedAt) / time.Minute), true
}

func (s *Session) clone() *Session {
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// Action is an append-only record of something done within a session.
type Action struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Type        string         `json:"type"`
	Data        map[string]any `json:"data,omitempty"`
	Description string         `json:"description,omitempty"`
	PerformedAt time.Time      `json:"performed_at"`
}

func (a Action) clone() Action {
	if a.Data != nil {
		a.Data = maps.Clone(a.Data)
	}
	return a
}
