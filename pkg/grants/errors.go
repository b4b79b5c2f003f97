package grants

import "errors"

var (
	ErrInvalidUser   = errors.New("grants.invalid_user")
	ErrInvalidMode   = errors.New("grants.invalid_mode")
	ErrSourceFailed  = errors.New("grants.source_failed")
	ErrNoHierarchy   = errors.New("grants.no_hierarchy")
	ErrCacheFailed   = errors.New("grants.cache_failed")
	ErrGrantNotFound = errors.New("grants.grant_not_found")
)
