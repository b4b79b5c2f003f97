// Package changerequest models the approval workflow for permission
// override changes.
//
// A request starts pending and moves exactly once to approved, rejected
// or expired; the transition table in this package is the only place that
// knows which moves exist. Approval records who approved and when but
// writes nothing. Applying an approved request is an explicit, separate
// step performed by the caller inside a store transaction, governed by a
// DependencyPolicy.
//
//	req, err := changerequest.New(userID, requesterID, add, nil, "night shift cover", 72*time.Hour, time.Now())
//	if err != nil {
//		return err
//	}
//	if err := req.Approve(approverID, time.Now()); err != nil {
//		return err // *StateTransitionError when not pending or already expired
//	}
package changerequest
