package netgate

import (
	"net/http"
)

type middlewareConfig struct {
	extract func(*http.Request) string
	denied  http.Handler
	failed  func(http.ResponseWriter, *http.Request, error)
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareConfig)

// WithIPExtractor replaces RemoteIP, e.g. with TrustedProxies behind a
// load balancer.
func WithIPExtractor(fn func(*http.Request) string) MiddlewareOption {
	return func(c *middlewareConfig) {
		if fn != nil {
			c.extract = fn
		}
	}
}

// WithDeniedHandler sets the response for rejected origins. Defaults to 403.
func WithDeniedHandler(h http.Handler) MiddlewareOption {
	return func(c *middlewareConfig) {
		if h != nil {
			c.denied = h
		}
	}
}

// WithErrorHandler sets the response used when rules cannot be loaded.
// Defaults to 503; the request is never let through.
func WithErrorHandler(fn func(http.ResponseWriter, *http.Request, error)) MiddlewareOption {
	return func(c *middlewareConfig) {
		if fn != nil {
			c.failed = fn
		}
	}
}

// Middleware rejects requests whose origin the gate does not allow and
// stores the resolved client address in the request context.
func Middleware(g *Gate, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := &middlewareConfig{
		extract: RemoteIP,
		denied: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		}),
		failed: func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := cfg.extract(r)
			ctx := WithClientIP(r.Context(), ip)
			r = r.WithContext(ctx)

			allowed, err := g.IsAllowed(ctx, ip)
			if err != nil {
				cfg.failed(w, r, err)
				return
			}
			if !allowed {
				cfg.denied.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
