package v1

import (
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v2"

	"visitly/internal/pkg/geoip"
)

// loopbackIP is recorded when no public address can be determined.
const loopbackIP = "127.0.0.1"

var proxyHeaders = []string{
	"X-Real-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Client-IP",
}

// clientIP resolves the visitor address from reverse-proxy headers, then the
// peer address. Private and loopback candidates are skipped.
func clientIP(c *fiber.Ctx) string {
	if ip := selectPreferredIP(strings.Split(c.Get(fiber.HeaderXForwardedFor), ",")); ip != "" {
		return ip
	}

	for _, header := range proxyHeaders {
		if value := c.Get(header); value != "" {
			if ip := selectPreferredIP([]string{value}); ip != "" {
				return ip
			}
		}
	}

	if forwarded := c.Get(fiber.HeaderForwarded); forwarded != "" {
		if ip := selectPreferredIP(parseForwardedHeader(forwarded)); ip != "" {
			return ip
		}
	}

	if ip := selectPreferredIP([]string{c.Context().RemoteAddr().String(), c.IP()}); ip != "" {
		return ip
	}
	return loopbackIP
}

// selectPreferredIP returns the first public IPv4 candidate, else the first public IPv6 one.
func selectPreferredIP(values []string) string {
	var ipv6Fallback string
	for _, raw := range values {
		addr, ok := normalizeIP(raw)
		if !ok || !geoip.IsPublicIP(addr.String()) {
			continue
		}
		if addr.Is4() {
			return addr.String()
		}
		if ipv6Fallback == "" {
			ipv6Fallback = addr.String()
		}
	}
	return ipv6Fallback
}

// normalizeIP parses an address in any of the shapes proxies emit: quoted,
// bracketed, with a port or with a zone. IPv4-mapped IPv6 is unmapped.
func normalizeIP(raw string) (netip.Addr, bool) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"")
	if clean == "" {
		return netip.Addr{}, false
	}

	if addrPort, err := netip.ParseAddrPort(clean); err == nil {
		return addrPort.Addr().WithZone("").Unmap(), true
	}

	clean = strings.TrimSuffix(strings.TrimPrefix(clean, "["), "]")
	if i := strings.IndexByte(clean, '%'); i >= 0 {
		clean = clean[:i]
	}
	if addr, err := netip.ParseAddr(clean); err == nil {
		return addr.Unmap(), true
	}
	return netip.Addr{}, false
}

// parseForwardedHeader extracts the for= values of an RFC 7239 Forwarded header.
func parseForwardedHeader(header string) []string {
	var candidates []string
	for _, entry := range strings.Split(header, ",") {
		for _, part := range strings.Split(entry, ";") {
			part = strings.TrimSpace(part)
			if len(part) > 4 && strings.EqualFold(part[:4], "for=") {
				candidates = append(candidates, part[4:])
			}
		}
	}
	return candidates
}
