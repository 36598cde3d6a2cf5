package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
)

var (
	ErrInvalidURL     = errors.New("invalid URL")
	ErrUnsafeScheme   = errors.New("URL scheme must be http or https")
	ErrMissingHost    = errors.New("URL has no host")
	ErrPrivateAddress = errors.New("URL points to a private or reserved address")
)

// Literal dotted-quad patterns for loopback, RFC1918, link-local, multicast
// and unspecified IPv4. These look at the hostname text only; a name that
// resolves into one of these ranges passes.
var privateIPv4Patterns = []*regexp.Regexp{
	regexp.MustCompile(`^127\.\d{1,3}\.\d{1,3}\.\d{1,3}$`),
	regexp.MustCompile(`^10\.\d{1,3}\.\d{1,3}\.\d{1,3}$`),
	regexp.MustCompile(`^172\.(1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3}$`),
	regexp.MustCompile(`^192\.168\.\d{1,3}\.\d{1,3}$`),
	regexp.MustCompile(`^169\.254\.\d{1,3}\.\d{1,3}$`),
	regexp.MustCompile(`^(22[4-9]|23\d)\.\d{1,3}\.\d{1,3}\.\d{1,3}$`),
	regexp.MustCompile(`^0\.0\.0\.0$`),
}

var blockedHostnames = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"0.0.0.0":   true,
	"::1":       true,
}

// IsSafeURL reports whether raw is an http(s) URL whose host is not a
// loopback, private, link-local or multicast literal. It never panics.
func IsSafeURL(raw string) bool {
	return ValidateURL(raw) == nil
}

// ValidateURL is IsSafeURL returning the reason for rejection
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: got %q", ErrUnsafeScheme, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ErrMissingHost
	}
	if isReservedHostLiteral(host) {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
	}
	return nil
}

func isReservedHostLiteral(host string) bool {
	host = strings.TrimSuffix(host, ".")
	if blockedHostnames[host] {
		return true
	}
	for _, re := range privateIPv4Patterns {
		if re.MatchString(host) {
			return true
		}
	}
	// IPv6 literals, including IPv4-mapped forms of the ranges above
	if strings.Contains(host, ":") {
		if addr, err := netip.ParseAddr(host); err == nil {
			return isReservedAddr(addr)
		}
	}
	return false
}

func isReservedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsUnspecified() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast()
}

// IsWhitelistedHostname reports whether hostname matches an entry exactly or
// a "*.domain" entry, which covers domain itself and any subdomain of it.
func IsWhitelistedHostname(hostname string, whitelist []string) bool {
	hostname = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
	if hostname == "" {
		return false
	}
	for _, entry := range whitelist {
		entry = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(entry)), ".")
		if entry == "" {
			continue
		}
		if domain, ok := strings.CutPrefix(entry, "*."); ok {
			if hostname == domain || strings.HasSuffix(hostname, "."+domain) {
				return true
			}
			continue
		}
		if hostname == entry {
			return true
		}
	}
	return false
}

// HostResolver looks up the addresses of a host
type HostResolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// ValidateResolvedURL runs ValidateURL and then checks every address the host
// resolves to. The result only holds for the moment of the lookup; a later
// connection may resolve differently.
func ValidateResolvedURL(ctx context.Context, raw string, resolver HostResolver) error {
	if err := ValidateURL(raw); err != nil {
		return err
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	u, _ := url.Parse(strings.TrimSpace(raw))
	host := u.Hostname()
	if addr, err := netip.ParseAddr(host); err == nil {
		if isReservedAddr(addr) {
			return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
		}
		return nil
	}
	addrs, err := resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve %s: %v", ErrInvalidURL, host, err)
	}
	for _, a := range addrs {
		if isReservedAddr(a) {
			return fmt.Errorf("%w: %s resolves to %s", ErrPrivateAddress, host, a)
		}
	}
	return nil
}
