package session

import "errors"

var (
	// ErrInvalidSession indicates a session without token or user
	ErrInvalidSession = errors.New("session.invalid")

	// ErrSessionNotFound indicates no session was found
	ErrSessionNotFound = errors.New("session.not_found")

	// ErrSessionEnded indicates the session was already ended
	ErrSessionEnded = errors.New("session.ended")

	// ErrSessionLimit indicates the user already holds the allowed number of active sessions
	ErrSessionLimit = errors.New("session.limit_reached")

	// ErrTokenGeneration indicates token generation failed
	ErrTokenGeneration = errors.New("session.token_generation_failed")

	// ErrInvalidAction indicates an action without type
	ErrInvalidAction = errors.New("session.invalid_action")
)
