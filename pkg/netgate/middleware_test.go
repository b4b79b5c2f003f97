package netgate_test

import (
	"errors"
	"net/http"
	"net/netip"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/medaccess/pkg/netgate"
)

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "remote addr with port", remote: "203.0.113.5:4321", want: "203.0.113.5"},
		{name: "remote addr without port", remote: "203.0.113.5", want: "203.0.113.5"},
		{name: "cloudflare first", headers: map[string]string{"CF-Connecting-IP": "1.1.1.1", "X-Forwarded-For": "2.2.2.2"}, remote: "3.3.3.3:1", want: "1.1.1.1"},
		{name: "digitalocean", headers: map[string]string{"DO-Connecting-IP": "4.4.4.4"}, remote: "3.3.3.3:1", want: "4.4.4.4"},
		{name: "forwarded first valid hop", headers: map[string]string{"X-Forwarded-For": "bogus, 5.5.5.5, 6.6.6.6"}, remote: "3.3.3.3:1", want: "5.5.5.5"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "7.7.7.7"}, remote: "3.3.3.3:1", want: "7.7.7.7"},
		{name: "invalid header falls through", headers: map[string]string{"CF-Connecting-IP": "nope"}, remote: "3.3.3.3:1", want: "3.3.3.3"},
		{name: "ipv6 remote", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "nothing parses", remote: "unknown", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, netgate.ClientIP(r))
		})
	}
}

func TestTrustedProxies(t *testing.T) {
	t.Parallel()

	extract := netgate.TrustedProxies(netip.MustParsePrefix("172.16.0.0/12"), netip.MustParsePrefix("fd00::/8"))

	tests := []struct {
		name      string
		forwarded string
		remote    string
		want      string
	}{
		{name: "untrusted peer ignores headers", forwarded: "192.168.1.20", remote: "10.0.5.10:5000", want: "10.0.5.10"},
		{name: "trusted peer without header", remote: "172.16.0.2:80", want: "172.16.0.2"},
		{name: "trusted peer uses last hop", forwarded: "192.168.1.20", remote: "172.16.0.2:80", want: "192.168.1.20"},
		{name: "spoofed leading hop skipped", forwarded: "192.168.1.20, 10.0.5.10", remote: "172.16.0.2:80", want: "10.0.5.10"},
		{name: "chain of proxies", forwarded: "10.0.5.10, 172.20.1.1", remote: "172.16.0.2:80", want: "10.0.5.10"},
		{name: "malformed hop stops at proxy", forwarded: "192.168.1.20, bogus", remote: "172.16.0.2:80", want: "172.16.0.2"},
		{name: "ipv6 proxy", forwarded: "2001:db8::7", remote: "[fd00::1]:443", want: "2001:db8::7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, extract(r))
		})
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.5.10:5000"
	r.Header.Set("X-Forwarded-For", "192.168.1.20")
	assert.Equal(t, "10.0.5.10", netgate.RemoteIP(r))
	assert.Equal(t, "10.0.5.10", netgate.TrustedProxies()(r))
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	newRouter := func(g *netgate.Gate, opts ...netgate.MiddlewareOption) http.Handler {
		r := chi.NewRouter()
		r.Use(netgate.Middleware(g, opts...))
		r.Get("/records", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(netgate.ClientIPFromContext(r.Context())))
		})
		return r
	}

	do := func(h http.Handler, remote string, headers ...string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/records", nil)
		req.RemoteAddr = remote
		for i := 0; i+1 < len(headers); i += 2 {
			req.Header.Set(headers[i], headers[i+1])
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	g := netgate.New(netgate.Rules{deny("d1", "10.0.0.0/8"), allow("a1", "10.0.5.10"), allow("a2", "192.168.0.0/16")})

	t.Run("allowed origin reaches handler with ip in context", func(t *testing.T) {
		t.Parallel()
		rec := do(newRouter(g), "192.168.3.4:5000")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "192.168.3.4", rec.Body.String())
	})

	t.Run("denied origin", func(t *testing.T) {
		t.Parallel()
		rec := do(newRouter(g), "10.0.5.10:5000")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("forwarding headers do not override the peer", func(t *testing.T) {
		t.Parallel()
		rec := do(newRouter(g), "10.0.5.10:5000",
			"X-Forwarded-For", "192.168.1.20",
			"X-Real-IP", "192.168.1.20",
			"CF-Connecting-IP", "192.168.1.20",
		)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("custom denied handler", func(t *testing.T) {
		t.Parallel()
		h := newRouter(g, netgate.WithDeniedHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})))
		assert.Equal(t, http.StatusTeapot, do(h, "8.8.8.8:1").Code)
	})

	t.Run("custom extractor", func(t *testing.T) {
		t.Parallel()
		h := newRouter(g, netgate.WithIPExtractor(func(*http.Request) string { return "192.168.9.9" }))
		rec := do(h, "10.0.0.1:1")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "192.168.9.9", rec.Body.String())
	})

	t.Run("rule source failure", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, http.StatusServiceUnavailable, do(newRouter(netgate.New(failingSource{})), "1.2.3.4:1").Code)

		var seen error
		h := newRouter(netgate.New(failingSource{}), netgate.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			seen = err
			w.WriteHeader(http.StatusInternalServerError)
		}))
		assert.Equal(t, http.StatusInternalServerError, do(h, "1.2.3.4:1").Code)
		assert.True(t, errors.Is(seen, netgate.ErrRulesUnavailable))
	})
}
