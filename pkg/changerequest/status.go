package changerequest

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Event drives a status change.
type Event string

const (
	EventApprove Event = "approve"
	EventReject  Event = "reject"
	EventExpire  Event = "expire"
)

// transitions is the complete lifecycle. Terminal states have no outgoing edges.
var transitions = map[Status]map[Event]Status{
	StatusPending: {
		EventApprove: StatusApproved,
		EventReject:  StatusRejected,
		EventExpire:  StatusExpired,
	},
	StatusApproved: {},
	StatusRejected: {},
	StatusExpired:  {},
}

// Transition returns the status reached from `from` on event.
func Transition(from Status, event Event) (Status, error) {
	to, ok := transitions[from][event]
	if !ok {
		return from, &StateTransitionError{From: from, Event: event}
	}
	return to, nil
}

// CanTransition reports whether event is allowed from status.
func CanTransition(from Status, event Event) bool {
	_, ok := transitions[from][event]
	return ok
}

// IsTerminal reports whether no event can leave s.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}
