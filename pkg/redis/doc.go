// Package redis connects to the Redis server that backs the optional
// cache of resolved permission sets.
//
//	var cfg redis.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	if cfg.Enabled() {
//		client, err := redis.Connect(ctx, cfg)
//		if err != nil {
//			return err
//		}
//		cache := grants.NewRedisCache(client, grants.WithKeyPrefix(cfg.KeyPrefix))
//		_ = cache
//	}
//
// Healthcheck returns a probe suitable for readiness endpoints.
package redis
