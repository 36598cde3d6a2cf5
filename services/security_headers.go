package services

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// SecurityHeaders sets response headers hardening browsers against the API
type SecurityHeaders struct {
	config *SecurityHeadersConfig
}

// SecurityHeadersConfig contains security header configuration
type SecurityHeadersConfig struct {
	CSPPolicy         string
	HSTSEnabled       bool
	HSTSMaxAge        int64
	HSTSIncludeSub    bool
	FrameOptions      string
	ReferrerPolicy    string
	PermissionsPolicy string
	// NoStorePrefixes are path prefixes whose responses must not be cached
	NoStorePrefixes []string
}

// DefaultSecurityHeadersConfig returns headers suited to a JSON API.
// HSTS is only sent in production, where TLS terminates in front of us.
func DefaultSecurityHeadersConfig() *SecurityHeadersConfig {
	return &SecurityHeadersConfig{
		CSPPolicy:         "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'self'",
		HSTSEnabled:       IsProduction(),
		HSTSMaxAge:        31536000,
		HSTSIncludeSub:    true,
		FrameOptions:      "DENY",
		ReferrerPolicy:    "strict-origin-when-cross-origin",
		PermissionsPolicy: "camera=(), microphone=(), geolocation=(), payment=()",
		NoStorePrefixes:   []string{"/api/admin"},
	}
}

func NewSecurityHeaders(config *SecurityHeadersConfig) *SecurityHeaders {
	if config == nil {
		config = DefaultSecurityHeadersConfig()
	}
	return &SecurityHeaders{config: config}
}

// Middleware returns the security headers middleware
func (sh *SecurityHeaders) Middleware() fiber.Handler {
	hsts := ""
	if sh.config.HSTSEnabled {
		hsts = fmt.Sprintf("max-age=%d", sh.config.HSTSMaxAge)
		if sh.config.HSTSIncludeSub {
			hsts += "; includeSubDomains"
		}
	}

	return func(c *fiber.Ctx) error {
		if sh.config.CSPPolicy != "" {
			c.Set("Content-Security-Policy", sh.config.CSPPolicy)
		}
		if hsts != "" {
			c.Set("Strict-Transport-Security", hsts)
		}
		if sh.config.FrameOptions != "" {
			c.Set("X-Frame-Options", sh.config.FrameOptions)
		}
		if sh.config.ReferrerPolicy != "" {
			c.Set("Referrer-Policy", sh.config.ReferrerPolicy)
		}
		if sh.config.PermissionsPolicy != "" {
			c.Set("Permissions-Policy", sh.config.PermissionsPolicy)
		}
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Permitted-Cross-Domain-Policies", "none")

		for _, p := range sh.config.NoStorePrefixes {
			if strings.HasPrefix(c.Path(), p) {
				c.Set("Cache-Control", "no-store")
				break
			}
		}

		err := c.Next()
		c.Response().Header.Del("Server")
		c.Response().Header.Del("X-Powered-By")
		return err
	}
}
