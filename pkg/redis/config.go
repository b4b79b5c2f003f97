package redis

import "time"

// Config for the optional Redis cache of resolved permission sets.
// An empty ConnectionURL disables the cache.
type Config struct {
	ConnectionURL  string        `env:"REDIS_URL"`                                // ConnectionURL has the form "redis://:password@localhost:6379/0".
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`      // RetryAttempts is the number of connection attempts.
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`     // RetryInterval is the pause between attempts.
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`   // ConnectTimeout bounds the whole connection procedure.
	CacheTTL       time.Duration `env:"REDIS_GRANTS_CACHE_TTL" envDefault:"1m"`   // CacheTTL is the upper bound for a cached permission set.
	KeyPrefix      string        `env:"REDIS_KEY_PREFIX" envDefault:"medaccess:"` // KeyPrefix namespaces every key.
}

// Enabled reports whether a connection URL is configured.
func (c Config) Enabled() bool {
	return c.ConnectionURL != ""
}
