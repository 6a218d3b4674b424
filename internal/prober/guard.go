package prober

import (
	"context"
	"net"
	"strings"
)

// Hostnames rejected before any resolution is attempted.
var localAliases = map[string]struct{}{
	"localhost": {},
	"0.0.0.0":   {},
	"::1":       {},
}

// reservedV4 covers IPv4 ranges not caught by the net.IP predicates:
// shared address space, documentation/benchmark nets, class E and the
// broadcast address.
var reservedV4 = mustParseCIDRs(
	"100.64.0.0/10",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"240.0.0.0/4",
	"255.255.255.255/32",
)

// reservedV6 covers IPv6 documentation space. Unique-local (fc00::/7)
// is already rejected by net.IP.IsPrivate.
var reservedV6 = mustParseCIDRs(
	"2001:db8::/32",
	"100::/64",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// forbiddenIP reports whether an address may not be probed. Loopback,
// private, link-local, multicast, reserved and unspecified addresses
// all trip the guard.
func forbiddenIP(ip net.IP) bool {
	if ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified() {
		return true
	}

	ranges := reservedV6
	if v4 := ip.To4(); v4 != nil {
		ip = v4
		ranges = reservedV4
	}
	for _, n := range ranges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// safeHostname checks that a hostname resolves exclusively to public
// addresses. It runs before any network request is made: resolution
// failure, a known local alias, or any forbidden address in the
// answer set rejects the whole probe.
func (p *Prober) safeHostname(ctx context.Context, hostname string) bool {
	hostname = strings.ToLower(strings.Trim(hostname, "[]"))
	if hostname == "" {
		return false
	}
	if _, ok := localAliases[hostname]; ok {
		return false
	}

	// IP literals skip resolution but not the range checks.
	if ip := net.ParseIP(hostname); ip != nil {
		return !forbiddenIP(ip)
	}

	addrs, err := p.resolver.LookupIPAddr(ctx, hostname)
	if err != nil || len(addrs) == 0 {
		return false
	}
	for _, a := range addrs {
		if forbiddenIP(a.IP) {
			return false
		}
	}
	return true
}

// firstSafeAddr resolves hostname and returns the first public
// address, for connections that must be pinned to a validated IP.
func (p *Prober) firstSafeAddr(ctx context.Context, hostname string) (string, bool) {
	if ip := net.ParseIP(strings.Trim(hostname, "[]")); ip != nil {
		if forbiddenIP(ip) {
			return "", false
		}
		return ip.String(), true
	}

	addrs, err := p.resolver.LookupIPAddr(ctx, hostname)
	if err != nil {
		return "", false
	}
	for _, a := range addrs {
		if !forbiddenIP(a.IP) {
			return a.IP.String(), true
		}
	}
	return "", false
}
