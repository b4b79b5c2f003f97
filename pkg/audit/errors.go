package audit

import (
	"errors"
	"fmt"
)

var (
	// ErrAuditIntegrity indicates an attempt to mutate or delete an entry where the trail is immutable
	ErrAuditIntegrity = errors.New("audit.integrity_violation")

	// ErrInvalidEntry indicates the entry data is invalid
	ErrInvalidEntry = errors.New("audit.invalid_entry")

	// ErrEntryNotFound indicates no entry with the given id exists
	ErrEntryNotFound = errors.New("audit.entry_not_found")

	// ErrStorageNotAvailable indicates the storage backend is unavailable
	ErrStorageNotAvailable = errors.New("audit.storage_unavailable")

	// ErrChainBroken indicates Verify found an entry whose hash or link does not match
	ErrChainBroken = errors.New("audit.chain_broken")
)

// Op names a refused mutation.
type Op string

const (
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// IntegrityError is returned for every mutation attempt in production.
// Storage is left untouched.
type IntegrityError struct {
	EntryID string
	Op      Op
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("audit: %s of entry %q refused: audit trail is immutable", e.Op, e.EntryID)
}

func (e *IntegrityError) Unwrap() error {
	return ErrAuditIntegrity
}

// ChainError reports the first entry that fails verification.
type ChainError struct {
	EntryID string
	Index   int
	Reason  string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit: chain broken at entry %d (%s): %s", e.Index, e.EntryID, e.Reason)
}

func (e *ChainError) Unwrap() error {
	return ErrChainBroken
}
