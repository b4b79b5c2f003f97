package netgate

import (
	"net/netip"
	"regexp"
	"strings"
	"sync"
)

// globs caches compiled wildcard patterns; the set is bounded by the
// number of distinct rules an administrator defines.
var globs sync.Map

// Match reports whether ip satisfies pattern.
//
// Exact patterns match on string equality or on the same address in any
// textual form. CIDR patterns mask both sides with the prefix length.
// Glob patterns are anchored at both ends.
func Match(pattern, ip string) bool {
	pattern = strings.TrimSpace(pattern)
	ip = strings.TrimSpace(ip)
	if pattern == "" || ip == "" {
		return false
	}
	if pattern == ip {
		return true
	}

	switch {
	case strings.Contains(pattern, "*"):
		re := compileGlob(pattern)
		return re != nil && re.MatchString(ip)
	case strings.Contains(pattern, "/"):
		return matchCIDR(pattern, ip)
	default:
		want, err := netip.ParseAddr(pattern)
		if err != nil {
			return false
		}
		got, ok := parseAddr(ip)
		return ok && want.Unmap().WithZone("") == got
	}
}

func matchCIDR(pattern, ip string) bool {
	prefix, err := netip.ParsePrefix(pattern)
	if err != nil {
		return false
	}
	addr, ok := parseAddr(ip)
	if !ok {
		return false
	}
	prefix = prefix.Masked()
	if prefix.Addr().Is4() != addr.Is4() {
		return false
	}
	masked, err := addr.Prefix(prefix.Bits())
	if err != nil {
		return false
	}
	return masked.Addr() == prefix.Addr()
}

func parseAddr(ip string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap().WithZone(""), true
}

func compileGlob(pattern string) *regexp.Regexp {
	if cached, ok := globs.Load(pattern); ok {
		return cached.(*regexp.Regexp)
	}

	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return nil
	}
	globs.Store(pattern, re)
	return re
}
