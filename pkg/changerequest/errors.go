package changerequest

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("changerequest.invalid_transition")
	ErrInvalidRequest    = errors.New("changerequest.invalid_request")
	ErrNotFound          = errors.New("changerequest.not_found")
	ErrNotApproved       = errors.New("changerequest.not_approved")
	ErrSuperseded        = errors.New("changerequest.superseded")
)

// StateTransitionError reports an event that the transition table does
// not allow from the current status.
type StateTransitionError struct {
	From  Status
	Event Event
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("changerequest: no transition from %q on %q", e.From, e.Event)
}

func (e *StateTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func IsStateTransitionError(err error) bool {
	var e *StateTransitionError
	return errors.As(err, &e)
}
