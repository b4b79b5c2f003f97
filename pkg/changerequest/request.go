package changerequest

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/medaccess/pkg/permission"
)

// Request asks for permission overrides to be added to or removed from a
// user. Approval and application are separate steps.
type Request struct {
	ID          string
	UserID      string
	RequestedBy string
	ToAdd       []permission.ID
	ToRemove    []permission.ID
	Reason      string
	Status      Status
	ApprovedBy  string
	ApprovedAt  *time.Time
	RejectedBy  string
	RejectedAt  *time.Time
	ExpiresAt   *time.Time // nil never expires
	AppliedAt   *time.Time
	CreatedAt   time.Time
}

// New validates the input and returns a pending request. A non-positive
// ttl creates a request without expiry.
func New(userID, requestedBy string, add, remove []permission.ID, reason string, ttl time.Duration, now time.Time) (*Request, error) {
	userID = strings.TrimSpace(userID)
	requestedBy = strings.TrimSpace(requestedBy)

	var errs []error
	if userID == "" {
		errs = append(errs, errors.New("user id is required"))
	}
	if requestedBy == "" {
		errs = append(errs, errors.New("requester is required"))
	}
	if len(add) == 0 && len(remove) == 0 {
		errs = append(errs, errors.New("at least one permission must be added or removed"))
	}

	seen := make(map[permission.ID]string, len(add)+len(remove))
	check := func(list string, ids []permission.ID) {
		for _, id := range ids {
			if strings.TrimSpace(string(id)) == "" {
				errs = append(errs, fmt.Errorf("%s: empty permission id", list))
				continue
			}
			if prev, ok := seen[id]; ok {
				if prev == list {
					errs = append(errs, fmt.Errorf("%s: duplicate permission %q", list, id))
				} else {
					errs = append(errs, fmt.Errorf("permission %q is both added and removed", id))
				}
				continue
			}
			seen[id] = list
		}
	}
	check("add", add)
	check("remove", remove)

	if len(errs) > 0 {
		return nil, errors.Join(append([]error{ErrInvalidRequest}, errs...)...)
	}

	r := &Request{
		ID:          uuid.NewString(),
		UserID:      userID,
		RequestedBy: requestedBy,
		ToAdd:       slices.Clone(add),
		ToRemove:    slices.Clone(remove),
		Reason:      strings.TrimSpace(reason),
		Status:      StatusPending,
		CreatedAt:   now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		r.ExpiresAt = &exp
	}
	return r, nil
}

// IsValidAt reports whether the request is pending and not expired at t.
func (r *Request) IsValidAt(t time.Time) bool {
	return r.Status == StatusPending && !r.expiredAt(t)
}

func (r *Request) IsValid() bool {
	return r.IsValidAt(time.Now())
}

func (r *Request) expiredAt(t time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(t)
}

// Approve records the approver. It does not apply any change.
// A pending request whose expiry has passed cannot be approved; expire it instead.
func (r *Request) Approve(approver string, now time.Time) error {
	if r.Status == StatusPending && r.expiredAt(now) {
		return &StateTransitionError{From: r.Status, Event: EventApprove}
	}
	to, err := Transition(r.Status, EventApprove)
	if err != nil {
		return err
	}
	r.Status = to
	r.ApprovedBy = approver
	r.ApprovedAt = &now
	return nil
}

// Reject closes the request without touching any grant.
func (r *Request) Reject(approver string, now time.Time) error {
	to, err := Transition(r.Status, EventReject)
	if err != nil {
		return err
	}
	r.Status = to
	r.RejectedBy = approver
	r.RejectedAt = &now
	return nil
}

// MarkExpired closes the request without touching any grant.
func (r *Request) MarkExpired(now time.Time) error {
	to, err := Transition(r.Status, EventExpire)
	if err != nil {
		return err
	}
	r.Status = to
	return nil
}

func (r *Request) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// CanApply reports whether the changes may be written. Only approved
// requests apply; applying again yields the same result until a later
// request for the user is applied (see CheckReapply).
func (r *Request) CanApply() bool {
	return r.Status == StatusApproved
}

// MarkApplied stamps AppliedAt on the first application only.
func (r *Request) MarkApplied(now time.Time) error {
	if !r.CanApply() {
		return errors.Join(ErrNotApproved, fmt.Errorf("request %s is %s", r.ID, r.Status))
	}
	if r.AppliedAt == nil {
		r.AppliedAt = &now
	}
	return nil
}

// CheckReapply refuses to apply the request again once another request
// for the same user was applied after it. lastApplied is the latest
// AppliedAt across the user's requests, nil when none was applied.
func (r *Request) CheckReapply(lastApplied *time.Time) error {
	if r.AppliedAt == nil || lastApplied == nil || !lastApplied.After(*r.AppliedAt) {
		return nil
	}
	return errors.Join(ErrSuperseded, fmt.Errorf("request %s applied at %s, user %s changed at %s",
		r.ID, r.AppliedAt.Format(time.RFC3339), r.UserID, lastApplied.Format(time.RFC3339)))
}

// Changes returns the ids to add and remove.
func (r *Request) Changes() (add, remove []permission.ID) {
	return slices.Clone(r.ToAdd), slices.Clone(r.ToRemove)
}
