package services

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig       `yaml:"server"`
	RateLimits  RateLimitPresets   `yaml:"rate_limits"`
	RateLimiter RateLimiterOptions `yaml:"rate_limiter"`
	Security    SecurityPolicy     `yaml:"security"`
	Logging     LoggingConfig      `yaml:"logging"`
	CMS         CMSConfig          `yaml:"cms"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr" validate:"required"`
	BodyLimit int    `yaml:"body_limit" validate:"gte=0"`
}

// RateLimitPresets holds the three named policies
type RateLimitPresets struct {
	Strict   RateLimitConfig `yaml:"strict"`
	Standard RateLimitConfig `yaml:"standard"`
	Lenient  RateLimitConfig `yaml:"lenient"`
}

// Lookup returns the preset called name ("strict", "standard" or "lenient")
func (p RateLimitPresets) Lookup(name string) (RateLimitConfig, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "strict":
		return p.Strict, true
	case "", "standard":
		return p.Standard, true
	case "lenient":
		return p.Lenient, true
	}
	return RateLimitConfig{}, false
}

type SecurityPolicy struct {
	// TrustedProxies lists the peers (IPs or CIDRs) whose forwarded headers
	// are honored. Defaults to loopback; an explicit empty list trusts the
	// headers from any peer.
	TrustedProxies       []string `yaml:"trusted_proxies"`
	AdminAllowList       []string `yaml:"admin_allowlist"`
	ResolveOutboundHosts bool     `yaml:"resolve_outbound_hosts"`
	JWTIssuer            string   `yaml:"jwt_issuer"`

	// secrets come from the environment only
	APIToken       string `yaml:"-"`
	APITokenBcrypt string `yaml:"-"`
	JWTSecret      string `yaml:"-"`
}

type LoggingConfig struct {
	Production               bool         `yaml:"production"`
	RecentEvents             int          `yaml:"recent_events" validate:"gte=0"`
	RateLimitEventsPerSecond float64      `yaml:"rate_limit_events_per_second" validate:"gte=0"`
	RateLimitEventBurst      int          `yaml:"rate_limit_event_burst" validate:"gte=0"`
	S3                       S3SinkConfig `yaml:"s3"`
}

type CMSConfig struct {
	BaseURL      string        `yaml:"base_url" validate:"omitempty,url"`
	AllowedHosts []string      `yaml:"allowed_hosts"`
	Timeout      time.Duration `yaml:"timeout"`
}

// DefaultConfig is used when no config file exists
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080", BodyLimit: 1 * 1024 * 1024},
		RateLimits: RateLimitPresets{
			Strict:   StrictRateLimit,
			Standard: StandardRateLimit,
			Lenient:  LenientRateLimit,
		},
		RateLimiter: RateLimiterOptions{
			Shards:        32,
			MaxEntries:    100000,
			SweepInterval: time.Minute,
		},
		Security: SecurityPolicy{
			TrustedProxies: []string{"127.0.0.1", "::1"},
			AdminAllowList: []string{"127.0.0.1", "::1"},
		},
		Logging: LoggingConfig{
			RecentEvents:             1000,
			RateLimitEventsPerSecond: 20,
			RateLimitEventBurst:      50,
		},
		CMS: CMSConfig{Timeout: 10 * time.Second},
	}
}

// LoadConfig reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config.applyEnv()

	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func (c *Config) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Addr = ":" + port
	}
	c.Security.APIToken = os.Getenv("API_AUTH_TOKEN")
	c.Security.APITokenBcrypt = os.Getenv("API_AUTH_TOKEN_BCRYPT")
	c.Security.JWTSecret = os.Getenv("JWT_SECRET")
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		c.Security.TrustedProxies = splitList(v)
	}
	if v := os.Getenv("ADMIN_ALLOWLIST"); v != "" {
		c.Security.AdminAllowList = splitList(v)
	}
	if v := os.Getenv("CMS_BASE_URL"); v != "" {
		c.CMS.BaseURL = v
	}
	if IsProduction() {
		c.Logging.Production = true
	}
	s3 := &c.Logging.S3
	s3.Endpoint = firstNonEmpty(os.Getenv("S3_ENDPOINT"), s3.Endpoint)
	s3.Bucket = firstNonEmpty(os.Getenv("S3_BUCKET"), s3.Bucket)
	s3.AccessKey = firstNonEmpty(os.Getenv("S3_ACCESS_KEY_ID"), s3.AccessKey)
	s3.SecretKey = firstNonEmpty(os.Getenv("S3_SECRET_ACCESS_KEY"), s3.SecretKey)
}

// IsProduction reports whether GO_ENV or ENVIRONMENT is "production"
func IsProduction() bool {
	return os.Getenv("GO_ENV") == "production" || os.Getenv("ENVIRONMENT") == "production"
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
