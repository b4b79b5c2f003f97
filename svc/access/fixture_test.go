package access_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/medaccess/pkg/audit"
	"github.com/dmitrymomot/medaccess/pkg/environment"
	"github.com/dmitrymomot/medaccess/svc/access"
	"github.com/dmitrymomot/medaccess/svc/access/memstore"
	"github.com/dmitrymomot/medaccess/svc/access/seed"
)

const catalogYAML = `
permissions:
  - id: p-view-lab
    name: view-laboratory
    module: laboratory
    risk_level: 1
    hipaa_impact: medium
  - id: p-edit-lab
    name: edit-lab-tests
    module: laboratory
    risk_level: 2
    hipaa_impact: high
    requires: [view-laboratory]
  - id: p-view-vitals
    name: view-vitals
    module: nursing
    risk_level: 1
  - id: p-prescribe
    name: prescribe-medication
    module: pharmacy
    risk_level: 3
    critical: true
    segregation_group: prescribing
    requires: [view-vitals]
  - id: p-dispense
    name: dispense-medication
    module: pharmacy
    risk_level: 3
    segregation_group: dispensing

roles:
  - id: r-admin
    slug: super-admin
    name: Super Admin
    priority: 1000
    system: true
    super_admin: true
  - id: r-staff
    slug: staff
    name: Staff
    priority: 100
    permissions: [view-laboratory, view-vitals]
  - id: r-physician
    slug: physician
    name: Physician
    parent: staff
    priority: 80
    permissions: [prescribe-medication, view-vitals]
  - id: r-lab
    slug: lab-technician
    name: Lab Technician
    parent: staff
    priority: 60
    permissions: [edit-lab-tests, view-laboratory]
  - id: r-nurse
    slug: nurse
    name: Nurse
    parent: staff
    priority: 50
    concurrent_session_limit: 1
    permissions: [view-vitals]

ip_rules:
  - id: allow-lab
    pattern: 10.0.5.10
    type: allow
  - id: allow-ward
    pattern: 192.168.1.*
    type: allow
  - id: deny-internal
    pattern: 10.0.0.0/8
    type: deny

users:
  - id: nurse-1
    role: nurse
  - id: tech-1
    role: lab-technician
  - id: doc-1
    role: physician

duty_conflicts:
  - [prescribing, dispensing]
`

const wardIP = "192.168.1.20"

// clock is a settable time source shared by the engine and the audit log.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	engine *access.Engine
	store  *memstore.Store
	clock  *clock
}

func newFixture(t *testing.T, opts ...access.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memstore.New()
	cat, err := seed.Parse(strings.NewReader(catalogYAML))
	require.NoError(t, err)
	plan, err := cat.Apply(ctx, store)
	require.NoError(t, err)

	clk := &clock{t: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	log := audit.New(store, environment.Production, audit.WithClock(clk.Now))

	base := []access.Option{access.WithClock(clk.Now)}
	for _, pair := range plan.Conflicts {
		base = append(base, access.WithDutyConflict(pair[0], pair[1]))
	}
	engine, err := access.New(ctx, store, store, log, append(base, opts...)...)
	require.NoError(t, err)

	return &fixture{engine: engine, store: store, clock: clk}
}

func (f *fixture) entries(t *testing.T, action string) []audit.Entry {
	t.Helper()
	out, err := f.engine.AuditLog().Find(context.Background(), audit.Criteria{Action: action})
	require.NoError(t, err)
	return out
}
