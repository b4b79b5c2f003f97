package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/medaccess/pkg/audit"
	"github.com/dmitrymomot/medaccess/pkg/environment"
	"github.com/dmitrymomot/medaccess/pkg/httpserver"
	"github.com/dmitrymomot/medaccess/pkg/logger"
	"github.com/dmitrymomot/medaccess/pkg/requestid"
	"github.com/dmitrymomot/medaccess/svc/access"
	"github.com/dmitrymomot/medaccess/svc/access/memstore"
	"github.com/dmitrymomot/medaccess/svc/access/seed"
)

const testCatalog = `
permissions:
  - name: view-vitals
    module: nursing
  - name: view-audit-log
    module: compliance
    risk_level: 2
  - name: query-access
    module: integration

roles:
  - slug: nurse
    name: Nurse
    permissions: [view-vitals]
  - slug: auditor
    name: Auditor
    permissions: [view-audit-log]
  - slug: gateway
    name: Gateway Service
    permissions: [query-access]

ip_rules:
  - pattern: 203.0.113.0/24
    type: deny

users:
  - id: nurse-1
    role: nurse
  - id: auditor-1
    role: auditor
  - id: gateway-1
    role: gateway
`

func TestRunUsage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{name: "no command", args: nil},
		{name: "unknown command", args: []string{"drop-everything"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := run(context.Background(), tt.args)
			require.ErrorIs(t, err, errUsage)
		})
	}
}

func TestHeaderUserID(t *testing.T) {
	t.Parallel()

	extract := headerUserID("X-User-ID")

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := extract(r)
	assert.False(t, ok)

	r.Header.Set("X-User-ID", "  nurse-1 ")
	id, ok := extract(r)
	assert.True(t, ok)
	assert.Equal(t, "nurse-1", id)
}

func TestAuditOptions_RedactSensitiveContext(t *testing.T) {
	t.Parallel()

	l := audit.New(audit.NewMemoryStorage(), environment.Test, auditOptions(logger.Discard(), "authorization")...)
	e, err := l.Append(context.Background(), "session.action",
		audit.WithValue("password", "hunter2"),
		audit.WithValue("ssn", "123-45-6789"),
		audit.WithValue("ward", "icu"),
	)
	require.NoError(t, err)

	assert.NotContains(t, e.Context, "password")
	assert.NotEqual(t, "123-45-6789", e.Context["ssn"])
	assert.Equal(t, "icu", e.Context["ward"])
	assert.Equal(t, "authorization", e.Module)
}

func TestParsePrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "10.0.0.0/8", want: "10.0.0.0/8"},
		{in: "10.1.2.3/8", want: "10.0.0.0/8"},
		{in: "172.16.0.2", want: "172.16.0.2/32"},
		{in: "fd00::1", want: "fd00::1/128"},
		{in: "proxy.local", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			p, err := parsePrefix(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
		})
	}
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()

	store := memstore.New()
	cat, err := seed.Parse(strings.NewReader(testCatalog))
	require.NoError(t, err)
	_, err = cat.Apply(ctx, store)
	require.NoError(t, err)

	e, err := access.New(ctx, store, store, audit.New(store, environment.Production),
		access.WithUserIDExtractor(headerUserID("X-User-ID")),
	)
	require.NoError(t, err)

	checks := map[string]httpserver.Check{"memory": func(context.Context) error { return nil }}
	return router(e, logger.Discard(), checks, "query-access", "view-audit-log")
}

func TestRouterAuthorize(t *testing.T) {
	t.Parallel()
	h := newTestRouter(t)

	tests := []struct {
		name       string
		caller     string // empty: gateway-1, "-": no caller header
		body       string
		wantStatus int
		wantResp   authorizeResponse
	}{
		{
			name:       "granted",
			body:       `{"user_id":"nurse-1","permission":"view-vitals","ip":"10.1.1.1"}`,
			wantStatus: http.StatusOK,
			wantResp:   authorizeResponse{Allowed: true, Reason: "granted"},
		},
		{
			name:       "not held",
			body:       `{"user_id":"nurse-1","permission":"view-audit-log","ip":"10.1.1.1"}`,
			wantStatus: http.StatusOK,
			wantResp:   authorizeResponse{Allowed: false, Reason: "access denied"},
		},
		{
			name:       "denied origin",
			body:       `{"user_id":"nurse-1","permission":"view-vitals","ip":"203.0.113.7"}`,
			wantStatus: http.StatusOK,
			wantResp:   authorizeResponse{Allowed: false, Reason: "access denied"},
		},
		{
			name:       "unknown permission",
			body:       `{"user_id":"nurse-1","permission":"launch-rockets"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "caller without query permission",
			caller:     "nurse-1",
			body:       `{"user_id":"nurse-1","permission":"view-vitals"}`,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "anonymous caller",
			caller:     "-",
			body:       `{"user_id":"nurse-1","permission":"view-vitals"}`,
			wantStatus: http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/v1/authorize", strings.NewReader(tt.body))
			switch tt.caller {
			case "":
				req.Header.Set("X-User-ID", "gateway-1")
			case "-":
			default:
				req.Header.Set("X-User-ID", tt.caller)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var got authorizeResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
			assert.Equal(t, tt.wantResp, got)
		})
	}
}

func TestRouterPermissions(t *testing.T) {
	t.Parallel()
	h := newTestRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/nurse-1/permissions", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/users/nurse-1/permissions", nil)
	req.Header.Set("X-User-ID", "gateway-1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, []string{"view-vitals"}, got.Permissions)
}

func TestRouterVerifyAudit(t *testing.T) {
	t.Parallel()
	h := newTestRouter(t)

	tests := []struct {
		name       string
		userID     string
		remote     string
		wantStatus int
	}{
		{name: "anonymous", wantStatus: http.StatusUnauthorized},
		{name: "without permission", userID: "nurse-1", wantStatus: http.StatusForbidden},
		{name: "auditor", userID: "auditor-1", wantStatus: http.StatusOK},
		{name: "auditor from denied network", userID: "auditor-1", remote: "203.0.113.9:4000", wantStatus: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/audit/verify", nil)
			if tt.userID != "" {
				req.Header.Set("X-User-ID", tt.userID)
			}
			if tt.remote != "" {
				req.RemoteAddr = tt.remote
				req.Header.Set("X-Forwarded-For", "192.0.2.10")
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRouterProbes(t *testing.T) {
	t.Parallel()
	h := newTestRouter(t)

	for path, body := range map[string]string{"/healthz": "ALIVE", "/readyz": "READY"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, body, rec.Body.String(), path)
		assert.NotEmpty(t, rec.Header().Get(requestid.Header), path)
	}
}
