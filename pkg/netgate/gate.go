package netgate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/medaccess/pkg/logger"
)

// Reason explains a Decision.
type Reason string

const (
	// ReasonOpen: no active allow rules exist, so every origin not denied passes.
	ReasonOpen           Reason = "open"
	ReasonAllowListed    Reason = "allow_listed"
	ReasonDenyRule       Reason = "deny_rule"
	ReasonNotAllowListed Reason = "not_allow_listed"
)

// Decision is the outcome of evaluating an origin against the rules.
type Decision struct {
	Allowed bool
	Reason  Reason
	RuleID  string // rule that decided, empty for ReasonOpen and ReasonNotAllowListed
}

// Evaluate applies rules to ip. Inactive rules are ignored.
// Deny rules always win; if any allow rule exists the origin must match
// one of them; otherwise the origin is allowed.
func Evaluate(rules []Rule, ip string) Decision {
	for _, r := range rules {
		if r.Active && r.Type == Deny && Match(r.Pattern, ip) {
			return Decision{Allowed: false, Reason: ReasonDenyRule, RuleID: r.ID}
		}
	}

	hasAllow := false
	for _, r := range rules {
		if !r.Active || r.Type != Allow {
			continue
		}
		hasAllow = true
		if Match(r.Pattern, ip) {
			return Decision{Allowed: true, Reason: ReasonAllowListed, RuleID: r.ID}
		}
	}

	if hasAllow {
		return Decision{Allowed: false, Reason: ReasonNotAllowListed}
	}
	return Decision{Allowed: true, Reason: ReasonOpen}
}

// RuleSource returns the current IP rules. Implementations may return
// inactive rules; they are filtered during evaluation.
type RuleSource interface {
	IPRules(ctx context.Context) ([]Rule, error)
}

// Gate evaluates origins against the rules of a RuleSource. Rules are
// read on every check so changes apply immediately.
type Gate struct {
	source RuleSource
	log    *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

func New(source RuleSource, opts ...Option) *Gate {
	if source == nil {
		panic("netgate: rule source cannot be nil")
	}
	g := &Gate{source: source, log: logger.Discard()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check evaluates ip. A failing rule source is an error, never an implicit allow.
func (g *Gate) Check(ctx context.Context, ip string) (Decision, error) {
	rules, err := g.source.IPRules(ctx)
	if err != nil {
		return Decision{}, errors.Join(ErrRulesUnavailable, err)
	}
	d := Evaluate(rules, ip)
	if !d.Allowed {
		g.log.DebugContext(ctx, "origin rejected",
			logger.Component("netgate"),
			logger.IP(ip),
			slog.String("reason", string(d.Reason)),
			slog.String("rule_id", d.RuleID),
		)
	}
	return d, nil
}

func (g *Gate) IsAllowed(ctx context.Context, ip string) (bool, error) {
	d, err := g.Check(ctx, ip)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// Rules is a static RuleSource.
type Rules []Rule

func (r Rules) IPRules(context.Context) ([]Rule, error) {
	return r, nil
}
