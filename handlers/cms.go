package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/yourusername/publicsite/middleware"
	"github.com/yourusername/publicsite/services"
)

// maxCMSBody caps how much of an upstream response is relayed
const maxCMSBody = 2 * 1024 * 1024

// CMSHandler relays article listings from the headless CMS
type CMSHandler struct {
	guard        *services.OutboundGuard
	baseURL      string
	allowedHosts []string
	timeout      time.Duration
}

func NewCMSHandler(guard *services.OutboundGuard, cfg services.CMSConfig) *CMSHandler {
	hosts := cfg.AllowedHosts
	if len(hosts) == 0 && cfg.BaseURL != "" {
		if u, err := url.Parse(cfg.BaseURL); err == nil && u.Hostname() != "" {
			hosts = []string{u.Hostname()}
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CMSHandler{
		guard:        guard,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		allowedHosts: hosts,
		timeout:      timeout,
	}
}

// Articles proxies GET {base}/articles?locale=xx
func (h *CMSHandler) Articles(c *fiber.Ctx) error {
	if h.baseURL == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "CMS not configured"})
	}

	target := h.baseURL + "/articles"
	if locale := strings.TrimSpace(c.Query("locale")); locale != "" {
		target += "?locale=" + url.QueryEscape(locale)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	resp, err := h.guard.SafeRequestWithWhitelist(ctx, target, h.allowedHosts, services.RequestOptions{
		Header:  http.Header{"Accept": []string{"application/json"}},
		Request: middleware.RequestInfo(c),
	})
	if err != nil {
		if errors.Is(err, services.ErrBlockedURL) || errors.Is(err, services.ErrHostNotWhitelisted) {
			log.Printf("cms: upstream refused: %v", err)
		} else {
			log.Printf("cms: upstream request failed: %v", err)
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Upstream unavailable"})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("cms: upstream returned %d", resp.StatusCode)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Upstream unavailable"})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCMSBody))
	if err != nil || !json.Valid(body) {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Upstream returned an invalid response"})
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	c.Set(fiber.HeaderCacheControl, "public, max-age=60")
	return c.Send(body)
}
