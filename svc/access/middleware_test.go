package access_test

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/medaccess/pkg/netgate"
	"github.com/dmitrymomot/medaccess/svc/access"
)

func headerUserID(r *http.Request) (string, bool) {
	id := r.Header.Get("X-User-ID")
	return id, id != ""
}

func TestRequirePermission(t *testing.T) {
	t.Parallel()

	f := newFixture(t, access.WithUserIDExtractor(headerUserID))

	r := chi.NewRouter()
	r.With(f.engine.RequirePermission("view-vitals")).Get("/vitals", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	tests := []struct {
		name      string
		userID    string
		remote    string
		forwarded string
		wantCode  int
		wantBody  string
	}{
		{name: "granted", userID: "nurse-1", remote: wardIP + ":5000", wantCode: http.StatusOK, wantBody: "ok"},
		{name: "anonymous", remote: wardIP + ":5000", wantCode: http.StatusUnauthorized},
		{name: "not held", userID: "tech-1", remote: wardIP + ":5000", wantCode: http.StatusForbidden, wantBody: "access denied"},
		{name: "denied origin", userID: "nurse-1", remote: "10.0.5.10:5000", wantCode: http.StatusForbidden, wantBody: "access denied"},
		{name: "forwarded header from denied origin", userID: "nurse-1", remote: "10.0.5.10:5000", forwarded: wardIP, wantCode: http.StatusForbidden, wantBody: "access denied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/vitals", nil)
			req.RemoteAddr = tt.remote
			if tt.userID != "" {
				req.Header.Set("X-User-ID", tt.userID)
			}
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
				req.Header.Set("X-Real-IP", tt.forwarded)
				req.Header.Set("CF-Connecting-IP", tt.forwarded)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, strings.TrimSpace(rec.Body.String()))
			}
		})
	}
}

func TestRequirePermission_TrustedProxy(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		access.WithUserIDExtractor(headerUserID),
		access.WithIPExtractor(netgate.TrustedProxies(netip.MustParsePrefix("172.16.0.0/12"))),
	)

	r := chi.NewRouter()
	r.With(f.engine.RequirePermission("view-vitals")).Get("/vitals", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(netgate.ClientIPFromContext(r.Context())))
	})

	do := func(remote, forwarded string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/vitals", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-User-ID", "nurse-1")
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := do("172.16.0.2:80", wardIP)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, wardIP, rec.Body.String())

	// the proxy appends the real peer after whatever the client sent
	assert.Equal(t, http.StatusForbidden, do("172.16.0.2:80", wardIP+", 10.0.5.10").Code)
	assert.Equal(t, http.StatusForbidden, do("10.0.5.10:5000", wardIP).Code)
}
