package middleware

import (
	"fmt"
	"net/netip"
	"strings"
)

// AllowList matches client addresses against IPs and CIDR blocks
type AllowList struct {
	prefixes []netip.Prefix
}

// NewAllowList parses entries such as "203.0.113.7", "10.0.0.0/8" or "2001:db8::/32"
func NewAllowList(entries []string) (*AllowList, error) {
	prefixes, err := parsePrefixes(entries)
	if err != nil {
		return nil, err
	}
	return &AllowList{prefixes: prefixes}, nil
}

// Contains reports whether ip falls inside any entry.
// Unparseable input, including UnknownIP, never matches.
func (a *AllowList) Contains(ip string) bool {
	if a == nil {
		return false
	}
	addr, err := netip.ParseAddr(canonicalIP(ip))
	if err != nil {
		return false
	}
	return prefixesContain(a.prefixes, addr)
}

// Len returns the number of entries
func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.prefixes)
}

func parsePrefixes(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("invalid IP %q: %w", e, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func prefixesContain(prefixes []netip.Prefix, addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
