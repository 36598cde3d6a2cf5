package middleware

import (
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// UnknownIP is the identifier used when no client address can be determined
const UnknownIP = "unknown"

// IPResolver extracts the client address from a request.
//
// Forwarded headers can be forged by anyone who reaches the server directly.
// With no trusted proxies configured they are believed unconditionally, which
// is only correct when every request arrives through a reverse proxy that
// overwrites them. With trusted proxies configured they are believed only when
// the direct peer is one of those proxies.
type IPResolver struct {
	trusted []netip.Prefix
}

// NewIPResolver parses trustedProxies (IPs or CIDRs)
func NewIPResolver(trustedProxies []string) (*IPResolver, error) {
	prefixes, err := parsePrefixes(trustedProxies)
	if err != nil {
		return nil, err
	}
	return &IPResolver{trusted: prefixes}, nil
}

// ClientIP returns the canonical client address or UnknownIP
func (r *IPResolver) ClientIP(c *fiber.Ctx) string {
	if r == nil || len(r.trusted) == 0 {
		if ip := forwardedIP(c); ip != "" {
			return ip
		}
		return UnknownIP
	}

	peer := canonicalIP(c.IP())
	addr, err := netip.ParseAddr(peer)
	if err != nil {
		return UnknownIP
	}
	if !prefixesContain(r.trusted, addr) {
		return peer
	}
	if ip := forwardedIP(c); ip != "" {
		return ip
	}
	return peer
}

// forwardedIP reads the first X-Forwarded-For entry, then X-Real-IP
func forwardedIP(c *fiber.Ctx) string {
	if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
		first := xff
		if i := strings.IndexByte(xff, ','); i >= 0 {
			first = xff[:i]
		}
		if ip := canonicalIP(first); ip != "" {
			return ip
		}
	}
	if xr := c.Get("X-Real-IP"); xr != "" {
		return canonicalIP(xr)
	}
	return ""
}

// canonicalIP strips ports and brackets and compresses IPv6. Values that are
// not addresses are returned trimmed but otherwise untouched.
func canonicalIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap().String()
	}
	if a, err := netip.ParseAddr(strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")); err == nil {
		return a.Unmap().String()
	}
	return s
}
