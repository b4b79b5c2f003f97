package netgate

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// RuleType is either allow or deny.
type RuleType string

const (
	Allow RuleType = "allow"
	Deny  RuleType = "deny"
)

func (t RuleType) Valid() bool {
	return t == Allow || t == Deny
}

// Rule restricts client origins. Pattern is an exact address, a CIDR
// block, or a glob where "*" matches any run of characters.
type Rule struct {
	ID          string
	Pattern     string
	Type        RuleType
	Active      bool
	Description string
	CreatedAt   time.Time
}

// Validate checks the rule type and pattern syntax.
func (r Rule) Validate() error {
	if !r.Type.Valid() {
		return errors.Join(ErrInvalidRuleType, fmt.Errorf("rule type %q", r.Type))
	}
	return ValidatePattern(r.Pattern)
}

// ValidatePattern accepts addresses, CIDR blocks and globs made of
// address characters and "*".
func ValidatePattern(pattern string) error {
	pattern = strings.TrimSpace(pattern)
	switch {
	case pattern == "":
		return errors.Join(ErrInvalidPattern, errors.New("pattern is empty"))
	case strings.Contains(pattern, "*"):
		for _, r := range pattern {
			if !isGlobRune(r) {
				return errors.Join(ErrInvalidPattern, fmt.Errorf("glob %q: unexpected character %q", pattern, r))
			}
		}
		return nil
	case strings.Contains(pattern, "/"):
		if _, err := netip.ParsePrefix(pattern); err != nil {
			return errors.Join(ErrInvalidPattern, err)
		}
		return nil
	default:
		if _, err := netip.ParseAddr(pattern); err != nil {
			return errors.Join(ErrInvalidPattern, err)
		}
		return nil
	}
}

func isGlobRune(r rune) bool {
	switch {
	case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		return true
	case r == '.', r == ':', r == '*':
		return true
	}
	return false
}
