// Package delivery executes leased delivery jobs against external
// endpoints: webhook, SNMP, email, and MQTT transports, with bounded
// attempts and exponential backoff (spec.md §4.4).
package delivery

import (
	"context"
	"fmt"
	"net"
	"net/url"
)

var blockedNetworks = mustParseCIDRs(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"::1/128",
)

var blockedIPs = map[string]struct{}{
	"169.254.169.254": {},
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

// isBlockedIP applies the full rejection list from spec.md §4.4 SSRF
// policy: explicit blocklist, RFC1918/link-local/metadata CIDRs, and the
// standard loopback/link-local/multicast/unspecified/IPv6-site-local/
// private classifications.
func isBlockedIP(ip net.IP) bool {
	if _, ok := blockedIPs[ip.String()]; ok {
		return true
	}
	for _, n := range blockedNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	if ip4 := ip.To4(); ip4 == nil && isIPv6SiteLocal(ip) {
		return true
	}
	if ip.IsPrivate() {
		return true
	}
	return false
}

// isIPv6SiteLocal reports membership in the deprecated fec0::/10 range.
func isIPv6SiteLocal(ip net.IP) bool {
	return len(ip) == net.IPv6len && ip[0] == 0xfe && (ip[1]&0xc0) == 0xc0
}

// ValidateURL enforces the PROD/DEV scheme policy and, in PROD, resolves
// the hostname and rejects any address that matches isBlockedIP. Returns
// nil or an error whose message is the rejection reason (e.g.
// "blocked_ip:<addr>"), matching worker.py's validate_url contract.
func ValidateURL(ctx context.Context, resolver *net.Resolver, rawURL string, prodMode bool) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Hostname() == "" {
		return fmt.Errorf("invalid_url")
	}

	if prodMode && parsed.Scheme != "https" {
		return fmt.Errorf("https_required")
	}
	if !prodMode {
		return nil
	}

	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, parsed.Hostname())
	if err != nil {
		return fmt.Errorf("dns_resolution_failed")
	}
	for _, a := range addrs {
		if isBlockedIP(a.IP) {
			return fmt.Errorf("blocked_ip:%s", a.IP.String())
		}
	}
	return nil
}
