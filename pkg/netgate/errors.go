package netgate

import "errors"

var (
	ErrInvalidPattern   = errors.New("netgate.invalid_pattern")
	ErrInvalidRuleType  = errors.New("netgate.invalid_rule_type")
	ErrRulesUnavailable = errors.New("netgate.rules_unavailable")
)
