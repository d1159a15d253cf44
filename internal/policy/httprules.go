package policy

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/pkg/types"
)

func (e *Engine) evaluateHTTPGet(ctx context.Context, hp *types.HttpPolicy, args map[string]any) (Result, error) {
	rawURL, ok := args["url"].(string)
	if !ok || rawURL == "" {
		return deny("args.url is missing or not a string", "http_args"), nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return deny(fmt.Sprintf("url could not be parsed: %v", err), "http_parse"), nil
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return deny(fmt.Sprintf("unsupported scheme %q", parsed.Scheme), "http_scheme"), nil
	}

	host, err := normalizeHost(parsed.Hostname())
	if err != nil {
		return deny(fmt.Sprintf("host could not be normalized: %v", err), "http_host"), nil
	}

	matched := false
	for _, pattern := range hp.AllowDomains {
		if matchDomain(host, strings.ToLower(pattern)) {
			matched = true
			break
		}
	}
	if !matched {
		return deny(fmt.Sprintf("host %q does not match any allow_domains pattern", host), "http_allow_domains"), nil
	}

	if !hp.DenyPrivateIPs {
		return allow("http_allow_domains"), nil
	}

	addrs, err := e.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return deny(fmt.Sprintf("host could not be resolved: %v", err), "http_resolve"), nil
	}
	if len(addrs) == 0 {
		return deny("host resolved to no addresses", "http_resolve"), nil
	}

	for _, addr := range addrs {
		if isBlockedIP(addr.IP) {
			return deny(fmt.Sprintf("resolved address %s is in a blocked range", addr.IP), "http_deny_private_ips"), nil
		}
	}

	result := allow("http_deny_private_ips")
	result.ResolvedIP = addrs[0].IP
	return result, nil
}

// normalizeHost lowercases host and applies IDN (Punycode) normalization,
// so that visually- or encoding-equivalent hostnames compare equal
// against allow_domains.
func normalizeHost(host string) (string, error) {
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return strings.ToLower(host), nil
	}
	return strings.ToLower(ascii), nil
}
