package policy

import (
	"context"
	"net"
	"strings"
)

// blockedRanges is the fixed set of private/link-local/loopback/metadata
// ranges deny_private_ips rejects (spec.md §4.1 rule 4).
var blockedRanges = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
	"0.0.0.0/8",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("policy: invalid blocked CIDR literal " + c + ": " + err.Error())
		}
		nets = append(nets, n)
	}
	return nets
}

// isBlockedIP reports whether ip falls inside any blocked range.
func isBlockedIP(ip net.IP) bool {
	for _, n := range blockedRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver resolves a hostname to its candidate addresses. Production
// code uses net.DefaultResolver; tests inject a resolver that can change
// answers between calls to exercise P7 (DNS pinning).
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type netResolver struct{}

func (netResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return net.DefaultResolver.LookupIPAddr(ctx, host)
}

// DefaultResolver is the Resolver used outside of tests.
var DefaultResolver Resolver = netResolver{}

// matchDomain matches host (already lowercased and IDN-normalized by the
// caller) against a domain pattern: "*" matches anything, "*.example.com"
// matches example.com and any subdomain, anything else matches exactly.
func matchDomain(host, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // ".example.com"
		return strings.HasSuffix(host, suffix) || host == pattern[2:]
	}
	return host == pattern
}
