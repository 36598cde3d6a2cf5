package middleware

import (
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/yourusername/publicsite/services"
)

// Rejection is a terminal response produced by a security check
type Rejection struct {
	Status  int
	Message string
}

func (r *Rejection) Error() string { return r.Message }

// Send writes the rejection as {"error": message}
func (r *Rejection) Send(c *fiber.Ctx) error {
	return c.Status(r.Status).JSON(fiber.Map{"error": r.Message})
}

// SecurityConfig wires the collaborators of Security
type SecurityConfig struct {
	Limiter        *services.RateLimiter
	Logger         *services.SecurityLogger
	Authorizer     services.Authorizer
	TrustedProxies []string
	// LogAuthSuccess emits auth_success for every authorized request
	LogAuthSuccess bool
}

// Security runs the inbound checks for API handlers
type Security struct {
	limiter        *services.RateLimiter
	logger         *services.SecurityLogger
	authorizer     services.Authorizer
	ips            *IPResolver
	logAuthSuccess bool
}

func NewSecurity(cfg SecurityConfig) (*Security, error) {
	ips, err := NewIPResolver(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	s := &Security{
		limiter:        cfg.Limiter,
		logger:         cfg.Logger,
		authorizer:     cfg.Authorizer,
		ips:            ips,
		logAuthSuccess: cfg.LogAuthSuccess,
	}
	if s.limiter == nil {
		s.limiter = services.NewRateLimiter(services.RateLimiterOptions{})
	}
	if s.logger == nil {
		s.logger = services.NewSecurityLogger(nil)
	}
	if s.authorizer == nil {
		s.authorizer = services.NewStaticTokenAuthorizer("")
	}
	return s, nil
}

// ClientIP returns the client address, computed once per request
func (s *Security) ClientIP(c *fiber.Ctx) string {
	if ip, ok := c.Locals(localsClientIP).(string); ok {
		return ip
	}
	ip := s.ips.ClientIP(c)
	c.Locals(localsClientIP, ip)
	return ip
}

func (s *Security) requestInfo(c *fiber.Ctx) services.RequestInfo {
	s.ClientIP(c)
	return RequestInfo(c)
}

// CheckRateLimit consumes one request from identifier's budget. An empty
// identifier means the client IP. Rate limit headers are set either way.
func (s *Security) CheckRateLimit(c *fiber.Ctx, cfg services.RateLimitConfig, identifier string) *Rejection {
	if cfg.Window <= 0 || cfg.MaxRequests <= 0 {
		cfg = services.StandardRateLimit
	}
	if identifier == "" {
		identifier = s.ClientIP(c)
	}

	exceeded := s.limiter.CheckAndConsume(identifier, cfg)
	reset := s.limiter.ResetTime(identifier, cfg)

	c.Set("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(s.limiter.RemainingRequests(identifier, cfg)))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

	if !exceeded {
		return nil
	}

	retry := int(math.Ceil(reset.Sub(s.limiter.Now()).Seconds()))
	if retry < 1 {
		retry = 1
	}
	c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retry))
	s.logger.LogRateLimitExceeded(identifier, cfg, s.requestInfo(c))
	return &Rejection{Status: fiber.StatusTooManyRequests, Message: "Too many requests. Please try again later."}
}

// CheckAllowList rejects clients outside list
func (s *Security) CheckAllowList(c *fiber.Ctx, list *AllowList) *Rejection {
	if list.Contains(s.ClientIP(c)) {
		return nil
	}
	s.logger.LogUnauthorizedAccess("IP not whitelisted", s.requestInfo(c))
	return &Rejection{Status: fiber.StatusForbidden, Message: "Forbidden"}
}

// RateLimit returns a handler enforcing cfg per client IP and route.
// Records are keyed by window, so routes with equal windows would otherwise
// share one counter.
func (s *Security) RateLimit(cfg services.RateLimitConfig) fiber.Handler {
	return s.Guard(GuardOptions{RateLimit: cfg, KeyByRoute: true})
}

// AllowListed returns a handler admitting only clients inside list
func (s *Security) AllowListed(list *AllowList) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rej := s.CheckAllowList(c, list); rej != nil {
			return rej.Send(c)
		}
		return c.Next()
	}
}

// GuardOptions selects the checks Guard runs
type GuardOptions struct {
	// RateLimit defaults to StandardRateLimit
	RateLimit     services.RateLimitConfig
	SkipRateLimit bool
	// KeyByRoute gives each route its own budget per client
	KeyByRoute bool
	// AllowList, when set, restricts access to the listed addresses
	AllowList   *AllowList
	RequireAuth bool
	// TokenHeader names a header carrying the token instead of Authorization
	TokenHeader string
}

// Guard composes the checks: client IP, rate limit, allow-list, authorization.
// The first objection ends the request.
func (s *Security) Guard(opts GuardOptions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := s.ClientIP(c)

		if !opts.SkipRateLimit {
			id := ip
			if opts.KeyByRoute {
				id = RouteKey(ip, c.Route().Path)
			}
			if rej := s.CheckRateLimit(c, opts.RateLimit, id); rej != nil {
				return rej.Send(c)
			}
		}

		if opts.AllowList != nil {
			if rej := s.CheckAllowList(c, opts.AllowList); rej != nil {
				return rej.Send(c)
			}
		}

		if opts.RequireAuth {
			explicit := ""
			if opts.TokenHeader != "" {
				explicit = c.Get(opts.TokenHeader)
			}
			if rej := s.CheckAuth(c, explicit); rej != nil {
				return rej.Send(c)
			}
		}

		return c.Next()
	}
}

// RouteKey is the limiter identifier for a client on one route
func RouteKey(ip, route string) string {
	return ip + "|" + route
}

// GetClientIP returns the address resolved by a Security check earlier in the chain
func GetClientIP(c *fiber.Ctx) string {
	ip, ok := c.Locals(localsClientIP).(string)
	if !ok {
		return ""
	}
	return ip
}

// RequestInfo describes the request for security event logging
func RequestInfo(c *fiber.Ctx) services.RequestInfo {
	ip := GetClientIP(c)
	if ip == "" {
		ip = UnknownIP
	}
	return services.RequestInfo{
		IP:        ip,
		UserAgent: c.Get(fiber.HeaderUserAgent),
		Path:      c.Path(),
		Method:    c.Method(),
	}
}
