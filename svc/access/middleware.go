package access

import (
	"net/http"

	"github.com/dmitrymomot/medaccess/pkg/logger"
	"github.com/dmitrymomot/medaccess/pkg/netgate"
)

// ClientIP returns the origin of r as the engine judges it, using the
// extractor set with WithIPExtractor.
func (e *Engine) ClientIP(r *http.Request) string {
	return e.clientIP(r)
}

// RequirePermission returns middleware that lets a request through only
// when Authorize grants permissionName to the caller. The caller is
// identified by the extractor set with WithUserIDExtractor and the origin
// by the one set with WithIPExtractor.
//
// Unidentified callers get 401, denials 403 with the public reason, and
// failures 503.
func (e *Engine) RequirePermission(permissionName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := e.userID(r)
			if !ok || userID == "" {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			ip := e.clientIP(r)
			ctx := netgate.WithClientIP(r.Context(), ip)
			d, err := e.Authorize(ctx, userID, permissionName, ip)
			if err != nil {
				e.log.ErrorContext(ctx, "authorization unavailable",
					logger.Component("access"),
					logger.Permission(permissionName),
					logger.Error(err),
				)
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
			if !d.Allowed {
				http.Error(w, d.PublicReason(), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
