package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/yourusername/publicsite/services"
)

const (
	localsSubject  = "auth_subject"
	localsClientIP = "client_ip"

	reasonMissingToken = "missing authentication token"
	reasonInvalidToken = "invalid authentication token"
)

// BearerToken returns the token of a "Bearer" Authorization header. A bare
// scheme or any other scheme yields "".
func BearerToken(c *fiber.Ctx) string {
	h := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(h) < 6 || !strings.EqualFold(h[:6], "bearer") {
		return ""
	}
	rest := h[6:]
	if rest == "" {
		return ""
	}
	if rest[0] != ' ' && rest[0] != '\t' {
		return ""
	}
	return strings.TrimSpace(rest)
}

// CheckAuth authorizes explicitToken, or the bearer token when explicitToken
// is empty. On success the subject is stored for GetSubject.
func (s *Security) CheckAuth(c *fiber.Ctx, explicitToken string) *Rejection {
	token := explicitToken
	if token == "" {
		token = BearerToken(c)
	}
	if token == "" {
		s.logger.LogUnauthorizedAccess(reasonMissingToken, s.requestInfo(c))
		return &Rejection{Status: fiber.StatusUnauthorized, Message: "Unauthorized"}
	}

	subject, err := s.authorizer.Authorize(c.UserContext(), token)
	if err != nil {
		reason := reasonInvalidToken
		if errors.Is(err, services.ErrMissingToken) {
			reason = reasonMissingToken
		}
		s.logger.LogUnauthorizedAccess(reason, s.requestInfo(c))
		return &Rejection{Status: fiber.StatusUnauthorized, Message: "Unauthorized"}
	}

	c.Locals(localsSubject, subject)
	if s.logAuthSuccess {
		s.logger.LogAuthAttempt(true, subject, "", s.requestInfo(c))
	}
	return nil
}

// RequireAuth rejects requests without a valid bearer token
func (s *Security) RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rej := s.CheckAuth(c, ""); rej != nil {
			return rej.Send(c)
		}
		return c.Next()
	}
}

// GetSubject returns the authenticated subject, or "" if the request was not authorized
func GetSubject(c *fiber.Ctx) string {
	subject, ok := c.Locals(localsSubject).(string)
	if !ok {
		return ""
	}
	return subject
}
