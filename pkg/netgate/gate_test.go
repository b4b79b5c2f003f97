package netgate_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/medaccess/pkg/netgate"
)

func allow(id, pattern string) netgate.Rule {
	return netgate.Rule{ID: id, Pattern: pattern, Type: netgate.Allow, Active: true}
}

func deny(id, pattern string) netgate.Rule {
	return netgate.Rule{ID: id, Pattern: pattern, Type: netgate.Deny, Active: true}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		rules []netgate.Rule
		ip    string
		want  netgate.Decision
	}{
		{
			name: "open by default",
			ip:   "203.0.113.9",
			want: netgate.Decision{Allowed: true, Reason: netgate.ReasonOpen},
		},
		{
			name:  "deny wins over exact allow",
			rules: []netgate.Rule{allow("a1", "10.0.5.10"), deny("d1", "10.0.0.0/8")},
			ip:    "10.0.5.10",
			want:  netgate.Decision{Allowed: false, Reason: netgate.ReasonDenyRule, RuleID: "d1"},
		},
		{
			name:  "only deny rules leaves others open",
			rules: []netgate.Rule{deny("d1", "10.0.0.0/8")},
			ip:    "192.168.1.1",
			want:  netgate.Decision{Allowed: true, Reason: netgate.ReasonOpen},
		},
		{
			name:  "allow list match",
			rules: []netgate.Rule{allow("a1", "192.168.*"), allow("a2", "10.1.0.0/16")},
			ip:    "10.1.2.3",
			want:  netgate.Decision{Allowed: true, Reason: netgate.ReasonAllowListed, RuleID: "a2"},
		},
		{
			name:  "allow list miss",
			rules: []netgate.Rule{allow("a1", "192.168.*")},
			ip:    "10.1.2.3",
			want:  netgate.Decision{Allowed: false, Reason: netgate.ReasonNotAllowListed},
		},
		{
			name:  "inactive deny ignored",
			rules: []netgate.Rule{{ID: "d1", Pattern: "*", Type: netgate.Deny}},
			ip:    "10.0.0.1",
			want:  netgate.Decision{Allowed: true, Reason: netgate.ReasonOpen},
		},
		{
			name:  "inactive allow does not close the gate",
			rules: []netgate.Rule{{ID: "a1", Pattern: "192.168.0.1", Type: netgate.Allow}},
			ip:    "10.0.0.1",
			want:  netgate.Decision{Allowed: true, Reason: netgate.ReasonOpen},
		},
		{
			name:  "unparseable origin with allow list",
			rules: []netgate.Rule{allow("a1", "10.0.0.0/8")},
			ip:    "garbage",
			want:  netgate.Decision{Allowed: false, Reason: netgate.ReasonNotAllowListed},
		},
		{
			name:  "ipv6 deny",
			rules: []netgate.Rule{deny("d6", "2001:db8::/32")},
			ip:    "2001:db8::beef",
			want:  netgate.Decision{Allowed: false, Reason: netgate.ReasonDenyRule, RuleID: "d6"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, netgate.Evaluate(tt.rules, tt.ip))
		})
	}
}

// Any address matching both an allow and a deny rule is rejected.
func TestEvaluate_DenyAlwaysWins(t *testing.T) {
	t.Parallel()

	patterns := []string{"10.0.0.0/8", "10.0.*", "10.0.5.10", "*"}
	for _, a := range patterns {
		for _, d := range patterns {
			rules := []netgate.Rule{allow("a", a), deny("d", d)}
			for _, ip := range []string{"10.0.5.10", "10.0.0.1"} {
				if netgate.Match(a, ip) && netgate.Match(d, ip) {
					assert.False(t, netgate.Evaluate(rules, ip).Allowed, fmt.Sprintf("allow %s deny %s ip %s", a, d, ip))
				}
			}
		}
	}
}

type failingSource struct{}

func (failingSource) IPRules(context.Context) ([]netgate.Rule, error) {
	return nil, errors.New("db down")
}

func TestGate(t *testing.T) {
	t.Parallel()

	t.Run("static rules", func(t *testing.T) {
		t.Parallel()
		g := netgate.New(netgate.Rules{deny("d1", "10.0.0.0/8"), allow("a1", "10.0.5.10")})

		ok, err := g.IsAllowed(context.Background(), "10.0.5.10")
		require.NoError(t, err)
		assert.False(t, ok)

		d, err := g.Check(context.Background(), "10.0.5.10")
		require.NoError(t, err)
		assert.Equal(t, netgate.ReasonDenyRule, d.Reason)
	})

	t.Run("source error fails closed", func(t *testing.T) {
		t.Parallel()
		g := netgate.New(failingSource{})
		ok, err := g.IsAllowed(context.Background(), "10.0.0.1")
		assert.False(t, ok)
		assert.ErrorIs(t, err, netgate.ErrRulesUnavailable)
	})

	t.Run("nil source panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { netgate.New(nil) })
	})

	t.Run("concurrent checks", func(t *testing.T) {
		t.Parallel()
		g := netgate.New(netgate.Rules{allow("a1", "192.168.*"), deny("d1", "192.168.13.*")})

		var wg sync.WaitGroup
		for i := range 100 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ip := fmt.Sprintf("192.168.%d.1", i)
				ok, err := g.IsAllowed(context.Background(), ip)
				assert.NoError(t, err)
				assert.Equal(t, i != 13, ok, ip)
			}(i)
		}
		wg.Wait()
	})
}
