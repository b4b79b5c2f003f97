package seed_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/medaccess/pkg/netgate"
	"github.com/dmitrymomot/medaccess/pkg/permission"
	"github.com/dmitrymomot/medaccess/pkg/rolegraph"
	"github.com/dmitrymomot/medaccess/svc/access/memstore"
	"github.com/dmitrymomot/medaccess/svc/access/seed"
)

const wardCatalog = `
permissions:
  - id: p-view
    name: view-vitals
  - id: p-chart
    name: chart-vitals
    risk_level: 2
    requires: [view-vitals]
roles:
  - id: r-nurse
    slug: nurse
    name: Nurse
    parent: staff
    priority: 50
    permissions: [chart-vitals, view-vitals]
  - id: r-staff
    slug: staff
    name: Staff
    priority: 100
    permissions: [view-vitals]
ip_rules:
  - pattern: 192.168.1.*
    type: allow
  - id: off
    pattern: 10.0.0.0/8
    type: deny
    active: false
users:
  - id: nurse-1
    role: nurse
duty_conflicts:
  - [prescribing, dispensing]
`

func TestPlan(t *testing.T) {
	t.Parallel()

	cat, err := seed.Parse(strings.NewReader(wardCatalog))
	require.NoError(t, err)
	p, err := cat.Plan()
	require.NoError(t, err)

	require.Len(t, p.Roles, 2)
	assert.Equal(t, "r-staff", p.Roles[0].ID, "parent first")
	assert.Equal(t, "r-staff", p.Roles[1].ParentID)

	assert.Equal(t, []permission.Dependency{{PermissionID: "p-chart", DependsOnID: "p-view"}}, p.Dependencies)
	assert.Equal(t, permission.RiskLow, p.Permissions[0].RiskLevel, "risk level defaults to low")
	assert.ElementsMatch(t, []permission.ID{"p-chart", "p-view"}, p.RoleGrants["r-nurse"])

	require.Len(t, p.IPRules, 2)
	assert.NotEmpty(t, p.IPRules[0].ID, "generated id")
	assert.True(t, p.IPRules[0].Active)
	assert.Equal(t, netgate.Deny, p.IPRules[1].Type)
	assert.False(t, p.IPRules[1].Active)

	assert.Equal(t, map[string]string{"nurse-1": "r-nurse"}, p.UserRoles)
	assert.Equal(t, [][2]string{{"prescribing", "dispensing"}}, p.Conflicts)
}

func TestApply_WritesThroughStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cat, err := seed.Parse(strings.NewReader(wardCatalog))
	require.NoError(t, err)
	store := memstore.New()
	_, err = cat.Apply(ctx, store)
	require.NoError(t, err)

	g, err := rolegraph.Load(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())

	c, err := permission.Load(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []permission.ID{"p-view"}, c.Dependencies("p-chart"))

	roleID, err := store.UserRole(ctx, "nurse-1")
	require.NoError(t, err)
	assert.Equal(t, "r-nurse", roleID)
}

func TestPlan_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{
			name:    "unknown field",
			yaml:    "roles:\n  - id: r\n    slug: r\n    colour: red\n",
			wantErr: seed.ErrInvalidCatalog,
		},
		{
			name:    "unknown prerequisite",
			yaml:    "permissions:\n  - name: a\n    requires: [b]\n",
			wantErr: permission.ErrUnknownPermission,
		},
		{
			name:    "dependency cycle",
			yaml:    "permissions:\n  - name: a\n    requires: [b]\n  - name: b\n    requires: [a]\n",
			wantErr: permission.ErrDependencyCycle,
		},
		{
			name:    "unknown parent",
			yaml:    "roles:\n  - slug: nurse\n    parent: ward\n",
			wantErr: seed.ErrUnknownRole,
		},
		{
			name:    "unknown user role",
			yaml:    "users:\n  - id: u-1\n    role: ghost\n",
			wantErr: seed.ErrUnknownRole,
		},
		{
			name:    "unknown role permission",
			yaml:    "roles:\n  - slug: nurse\n    permissions: [fly]\n",
			wantErr: permission.ErrUnknownPermission,
		},
		{
			name:    "priority inversion",
			yaml:    "roles:\n  - slug: a\n    priority: 10\n  - slug: b\n    parent: a\n    priority: 20\n",
			wantErr: rolegraph.ErrHierarchyIntegrity,
		},
		{
			name:    "duplicate slug",
			yaml:    "roles:\n  - slug: a\n  - slug: a\n",
			wantErr: rolegraph.ErrDuplicateSlug,
		},
		{
			name:    "bad ip pattern",
			yaml:    "ip_rules:\n  - pattern: 300.1.1.1\n    type: allow\n",
			wantErr: netgate.ErrInvalidPattern,
		},
		{
			name:    "conflict needs two groups",
			yaml:    "duty_conflicts:\n  - [prescribing]\n",
			wantErr: seed.ErrInvalidCatalog,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cat, err := seed.Parse(strings.NewReader(tt.yaml))
			if err == nil {
				_, err = cat.Plan()
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(wardCatalog), 0o600))

	cat, err := seed.ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, cat.Permissions, 2)

	_, err = seed.ParseFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
