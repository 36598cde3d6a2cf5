package middleware_test

import (
	"io"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/publicsite/middleware"
)

func ipApp(t *testing.T, trusted []string) *fiber.App {
	t.Helper()
	r, err := middleware.NewIPResolver(trusted)
	require.NoError(t, err)
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(r.ClientIP(c))
	})
	return app
}

func clientIP(t *testing.T, app *fiber.App, headers map[string]string) string {
	t.Helper()
	resp := get(t, app, "/", headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestClientIP_NoTrustedProxies(t *testing.T) {
	app := ipApp(t, nil)

	cases := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"first forwarded entry", map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.1"}, "203.0.113.1"},
		{"forwarded with spaces", map[string]string{"X-Forwarded-For": "  198.51.100.3  "}, "198.51.100.3"},
		{"forwarded beats real ip", map[string]string{"X-Forwarded-For": "198.51.100.3", "X-Real-IP": "198.51.100.4"}, "198.51.100.3"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "198.51.100.4"},
		{"ipv6 compressed", map[string]string{"X-Forwarded-For": "2001:0db8:0000:0000:0000:0000:0000:0001"}, "2001:db8::1"},
		{"bracketed with port", map[string]string{"X-Forwarded-For": "[2001:db8::1]:443"}, "2001:db8::1"},
		{"ipv4 with port", map[string]string{"X-Real-IP": "192.0.2.1:8080"}, "192.0.2.1"},
		{"mapped ipv4", map[string]string{"X-Forwarded-For": "::ffff:192.0.2.9"}, "192.0.2.9"},
		{"nothing", nil, middleware.UnknownIP},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, clientIP(t, app, tc.headers))
		})
	}
}

func TestClientIP_TrustedProxyIgnoresSpoofing(t *testing.T) {
	// app.Test connections come from 0.0.0.0
	app := ipApp(t, []string{"10.0.0.0/8"})

	got := clientIP(t, app, map[string]string{"X-Forwarded-For": "203.0.113.66"})
	assert.Equal(t, "0.0.0.0", got, "headers from an untrusted peer are ignored")
}

func TestClientIP_TrustedProxyHonorsHeaders(t *testing.T) {
	app := ipApp(t, []string{"0.0.0.0/32"})

	assert.Equal(t, "203.0.113.66", clientIP(t, app, map[string]string{"X-Forwarded-For": "203.0.113.66"}))
	assert.Equal(t, "0.0.0.0", clientIP(t, app, nil), "falls back to the peer address")
}

func TestNewIPResolver_Invalid(t *testing.T) {
	_, err := middleware.NewIPResolver([]string{"10.0.0.0/99"})
	assert.Error(t, err)
}
