package v1

import (
	"net"
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v2"

	"visitrack/internal/visitors"
)

// proxyHeaders are consulted in order after X-Forwarded-For.
var proxyHeaders = []string{
	"X-Real-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Client-IP",
}

// getClientIP picks the first public address from the proxy headers, then
// the Forwarded header, then the socket peer. It returns visitors.UnknownIP
// when nothing usable is found.
func getClientIP(c *fiber.Ctx) string {
	if ip := selectPreferredIP(strings.Split(c.Get("X-Forwarded-For"), ",")); ip != "" {
		return ip
	}

	for _, header := range proxyHeaders {
		if value := c.Get(header); value != "" {
			if ip := selectPreferredIP([]string{value}); ip != "" {
				return ip
			}
		}
	}

	if forwarded := c.Get("Forwarded"); forwarded != "" {
		if ip := selectPreferredIP(parseForwardedHeader(forwarded)); ip != "" {
			return ip
		}
	}

	// The peer is trusted as is, private or not: without a proxy in front it
	// is the only address there is.
	if addr := c.Context().RemoteAddr(); addr != nil {
		if ip, parsed := normalizeIP(addr.String()); parsed != nil && !parsed.IsUnspecified() {
			return ip
		}
	}

	return visitors.UnknownIP
}

// isPrivateIP covers RFC 1918, RFC 4193 unique local, link local and
// loopback addresses, including IPv4 mapped into IPv6.
func isPrivateIP(ip net.IP) bool {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return false
	}
	addr = addr.Unmap()
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast()
}

// selectPreferredIP returns the first public IPv4 address, or the first
// public IPv6 one when there is no IPv4.
func selectPreferredIP(values []string) string {
	var ipv6Fallback string

	for _, raw := range values {
		clean, parsed := normalizeIP(raw)
		if parsed == nil || isPrivateIP(parsed) || parsed.IsUnspecified() {
			continue
		}
		if parsed.To4() != nil {
			return clean
		}
		if ipv6Fallback == "" {
			ipv6Fallback = clean
		}
	}
	return ipv6Fallback
}

// normalizeIP strips quotes, ports, brackets and zones and unmaps IPv4 in
// IPv6. It returns "" and nil when raw is not an address.
func normalizeIP(raw string) (string, net.IP) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"")
	if clean == "" {
		return "", nil
	}
	if percent := strings.Index(clean, "%"); percent != -1 {
		clean = clean[:percent]
	}

	var addr netip.Addr
	if addrPort, err := netip.ParseAddrPort(clean); err == nil {
		addr = addrPort.Addr()
	} else if parsed, err := netip.ParseAddr(strings.TrimSuffix(strings.TrimPrefix(clean, "["), "]")); err == nil {
		addr = parsed
	} else if host, _, err := net.SplitHostPort(clean); err == nil {
		return normalizeIP(host)
	} else {
		return "", nil
	}

	ipStr := addr.Unmap().String()
	return ipStr, net.ParseIP(ipStr)
}

// parseForwardedHeader extracts the for= values of an RFC 7239 header.
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
