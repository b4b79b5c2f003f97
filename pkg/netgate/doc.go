// Package netgate decides whether a client network origin may reach the
// engine, independently of who the client is.
//
// Rules are exact addresses, CIDR blocks (IPv4 and IPv6) or "*" globs, each
// either allow or deny. Evaluation order is fixed:
//
//  1. any matching active deny rule rejects the origin;
//  2. if at least one active allow rule exists, the origin must match one;
//  3. with no allow rules at all, the origin is allowed.
//
// So a deny of 10.0.0.0/8 rejects 10.0.5.10 even when 10.0.5.10 is
// explicitly allow-listed.
//
//	gate := netgate.New(store)
//	ok, err := gate.IsAllowed(ctx, "10.0.5.10")
//
// Middleware adapts the gate to net/http and chi routers. It judges the
// connection peer (RemoteIP) unless given TrustedProxies, so forwarding
// headers set by a client never decide the origin.
package netgate
