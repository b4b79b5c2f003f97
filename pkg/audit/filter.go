package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// FilterAction defines what happens to a matched context key
type FilterAction string

const (
	FilterActionRemove FilterAction = "remove"
	FilterActionHash   FilterAction = "hash"
	FilterActionMask   FilterAction = "mask"
)

// Keys that never reach the trail in clear text: credentials and
// protected health information.
var defaultSensitiveKeys = map[string]FilterAction{
	"password":      FilterActionRemove,
	"secret":        FilterActionRemove,
	"token":         FilterActionRemove,
	"session_token": FilterActionRemove,
	"api_key":       FilterActionRemove,
	"diagnosis":     FilterActionRemove,
	"clinical_note": FilterActionRemove,
	"ssn":           FilterActionMask,
	"phone":         FilterActionMask,
	"insurance_id":  FilterActionMask,
	"mrn":           FilterActionHash,
	"patient_name":  FilterActionHash,
	"email":         FilterActionHash,
	"date_of_birth": FilterActionHash,
	"dob":           FilterActionHash,
	"address":       FilterActionHash,
}

// MetadataFilter redacts sensitive keys of an entry context.
// Key matching is case-insensitive; "*" at either end of a rule key
// matches any prefix or suffix.
type MetadataFilter struct {
	rules    map[string]FilterAction
	allowed  map[string]bool
	defaults bool
}

// FilterOption configures MetadataFilter behavior
type FilterOption func(*MetadataFilter)

// NewMetadataFilter creates a filter with the default sensitive keys enabled
func NewMetadataFilter(opts ...FilterOption) *MetadataFilter {
	f := &MetadataFilter{
		rules:    make(map[string]FilterAction),
		allowed:  make(map[string]bool),
		defaults: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithFilterRule adds a rule for key; it takes precedence over the defaults
func WithFilterRule(key string, action FilterAction) FilterOption {
	return func(f *MetadataFilter) {
		f.rules[strings.ToLower(key)] = action
	}
}

// WithAllowedKey lets key through unchanged
func WithAllowedKey(key string) FilterOption {
	return func(f *MetadataFilter) {
		f.allowed[strings.ToLower(key)] = true
	}
}

// WithoutDefaults disables the built-in sensitive keys
func WithoutDefaults() FilterOption {
	return func(f *MetadataFilter) {
		f.defaults = false
	}
}

// Filter returns a redacted copy of metadata
func (f *MetadataFilter) Filter(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}

	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		lower := strings.ToLower(key)
		if f.allowed[lower] {
			out[key] = value
			continue
		}

		action, ok := lookupRule(lower, f.rules)
		if !ok && f.defaults {
			action, ok = lookupRule(lower, defaultSensitiveKeys)
		}
		if !ok {
			out[key] = value
			continue
		}

		switch action {
		case FilterActionRemove:
		case FilterActionHash:
			out[key] = hashValue(value)
		case FilterActionMask:
			out[key] = maskValue(value)
		default:
			out[key] = value
		}
	}
	return out
}

func lookupRule(key string, rules map[string]FilterAction) (FilterAction, bool) {
	if a, ok := rules[key]; ok {
		return a, true
	}
	for pattern, a := range rules {
		if !strings.Contains(pattern, "*") {
			continue
		}
		switch {
		case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1:
			if strings.Contains(key, pattern[1:len(pattern)-1]) {
				return a, true
			}
		case strings.HasPrefix(pattern, "*"):
			if strings.HasSuffix(key, pattern[1:]) {
				return a, true
			}
		case strings.HasSuffix(pattern, "*"):
			if strings.HasPrefix(key, pattern[:len(pattern)-1]) {
				return a, true
			}
		}
	}
	return "", false
}

func hashValue(value any) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%v", value)))
	return hex.EncodeToString(sum[:])
}

// maskValue keeps the last two characters of longer values
func maskValue(value any) string {
	s := fmt.Sprintf("%v", value)
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-2) + s[len(s)-2:]
}
