package grants

import (
	"context"
	"strconv"
	"time"
)

// Cache stores resolved permission names per user and mode.
type Cache interface {
	// Get returns the cached names for key.
	Get(ctx context.Context, key string) ([]string, bool)

	// Set stores names under key for at most ttl.
	Set(ctx context.Context, key string, names []string, ttl time.Duration) error

	// Delete removes the given keys.
	Delete(ctx context.Context, keys ...string) error
}

// NoOpCache disables caching. It is the resolver default.
type NoOpCache struct{}

func (NoOpCache) Get(ctx context.Context, key string) ([]string, bool) {
	return nil, false
}

func (NoOpCache) Set(ctx context.Context, key string, names []string, ttl time.Duration) error {
	return nil
}

func (NoOpCache) Delete(ctx context.Context, keys ...string) error {
	return nil
}

// Keys carry a generation so that InvalidateAll can retire every entry
// at once; entries of older generations expire by their TTL.
func cacheKey(gen, ver uint64, userID string, mode Mode) string {
	return "grants:v" + strconv.FormatUint(gen, 10) + "." + strconv.FormatUint(ver, 10) + ":" + mode.String() + ":" + userID
}

func userKeys(gen, ver uint64, userID string) []string {
	return []string{cacheKey(gen, ver, userID, OwnGrants), cacheKey(gen, ver, userID, WithInherited)}
}
