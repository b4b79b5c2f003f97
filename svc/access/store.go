package access

import (
	"context"
	"time"

	"github.com/dmitrymomot/medaccess/pkg/changerequest"
	"github.com/dmitrymomot/medaccess/pkg/grants"
	"github.com/dmitrymomot/medaccess/pkg/netgate"
	"github.com/dmitrymomot/medaccess/pkg/permission"
	"github.com/dmitrymomot/medaccess/pkg/rolegraph"
)

// Store is the persistence the engine runs on. Not-found lookups return
// rolegraph.ErrRoleNotFound, changerequest.ErrNotFound or
// grants.ErrGrantNotFound.
type Store interface {
	grants.Source
	netgate.RuleSource
	rolegraph.Source
	permission.Source

	// InTx runs fn atomically. Any error returned by fn discards every
	// write made through tx.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	CreateRole(ctx context.Context, role rolegraph.Role) error
	// ReparentRole holds an exclusive lock on every role while check
	// validates the move against the stored rows, then writes the parent.
	ReparentRole(ctx context.Context, roleID, parentID string, check func(roles []rolegraph.Role) error) error
	CreatePermission(ctx context.Context, p permission.Permission) error
	AddDependency(ctx context.Context, dep permission.Dependency) error
	GrantRolePermission(ctx context.Context, roleID string, id permission.ID) error
	SetUserRole(ctx context.Context, userID, roleID string) error
	CreateIPRule(ctx context.Context, rule netgate.Rule) error

	CreateChangeRequest(ctx context.Context, req *changerequest.Request) error
	ChangeRequest(ctx context.Context, id string) (*changerequest.Request, error)
	// ExpiredPendingRequests lists pending requests whose expiry is not after now.
	ExpiredPendingRequests(ctx context.Context, now time.Time) ([]string, error)

	CreateTemporaryPermission(ctx context.Context, grant grants.TemporaryPermission) error
	// RevokeTemporaryPermission deactivates the grant and returns it.
	// Revoking an inactive grant leaves it untouched.
	RevokeTemporaryPermission(ctx context.Context, id string, at time.Time) (grants.TemporaryPermission, error)
	// DeactivateExpiredTemporary flips Active on every grant expired at now
	// and returns the affected user ids.
	DeactivateExpiredTemporary(ctx context.Context, now time.Time) ([]string, error)
}

// Tx is the view of the store inside InTx.
type Tx interface {
	grants.Source

	// ChangeRequestForUpdate loads a request and locks it until the transaction ends.
	ChangeRequestForUpdate(ctx context.Context, id string) (*changerequest.Request, error)
	SaveChangeRequest(ctx context.Context, req *changerequest.Request) error
	// LastAppliedAt returns the latest AppliedAt across the user's
	// requests, nil when none was applied.
	LastAppliedAt(ctx context.Context, userID string) (*time.Time, error)
	UpsertUserPermission(ctx context.Context, userID string, id permission.ID) error
	DeleteUserPermission(ctx context.Context, userID string, id permission.ID) error
}
