package netgate

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// RemoteIP returns the address of the peer that opened the connection and
// ignores every header. It is the default extractor of Middleware and of
// the engine.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return normalizeIP(r.RemoteAddr)
	}
	return normalizeIP(host)
}

// TrustedProxies returns an extractor that honours X-Forwarded-For only
// when the peer is one of the given proxies. Hops are read right to left
// and the first address outside the trusted prefixes is the client. With
// no prefixes it behaves like RemoteIP.
func TrustedProxies(prefixes ...netip.Prefix) func(*http.Request) string {
	trusted := func(ip string) bool {
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			return false
		}
		addr = addr.Unmap()
		for _, p := range prefixes {
			if p.Contains(addr) {
				return true
			}
		}
		return false
	}

	return func(r *http.Request) string {
		peer := RemoteIP(r)
		if !trusted(peer) {
			return peer
		}
		hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			ip := normalizeIP(hops[i])
			if ip == "" {
				// a malformed hop ends the chain the proxies vouch for
				return peer
			}
			if !trusted(ip) {
				return ip
			}
			peer = ip
		}
		return peer
	}
}

// ClientIP determines the client address of r. Proxy headers are checked
// in priority order (CF-Connecting-IP, DO-Connecting-IP, first valid
// X-Forwarded-For hop, X-Real-IP) before RemoteAddr. Invalid values are
// skipped; the result is empty when nothing parses.
//
// Every one of those headers is client controlled. Use ClientIP only
// behind an edge that overwrites them; gate decisions elsewhere should use
// RemoteIP or TrustedProxies.
func ClientIP(r *http.Request) string {
	for _, header := range []string{"CF-Connecting-IP", "DO-Connecting-IP"} {
		if ip := normalizeIP(r.Header.Get(header)); ip != "" {
			return ip
		}
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		for hop := range strings.SplitSeq(forwarded, ",") {
			if ip := normalizeIP(hop); ip != "" {
				return ip
			}
		}
	}

	if ip := normalizeIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return RemoteIP(r)
}

func normalizeIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return ""
	}
	return ip.String()
}

type clientIPKey struct{}

// WithClientIP stores ip in ctx.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns the address stored by WithClientIP or Middleware.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
