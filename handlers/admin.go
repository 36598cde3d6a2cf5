package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/yourusername/publicsite/middleware"
	"github.com/yourusername/publicsite/services"
)

// AdminHandler exposes the security event buffer and rate limiter state
type AdminHandler struct {
	events  *services.MemorySink
	limiter *services.RateLimiter
	presets services.RateLimitPresets
}

func NewAdminHandler(events *services.MemorySink, limiter *services.RateLimiter, presets services.RateLimitPresets) *AdminHandler {
	return &AdminHandler{events: events, limiter: limiter, presets: presets}
}

// SecurityEvents returns the most recent events, newest last.
// Optional ?type= filters by event type.
func (h *AdminHandler) SecurityEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var events []services.SecurityEvent
	if t := services.SecurityEventType(strings.TrimSpace(c.Query("type"))); t != "" {
		if !t.Valid() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Unknown event type"})
		}
		events = h.events.OfType(t)
		if len(events) > limit {
			events = events[len(events)-limit:]
		}
	} else {
		events = h.events.Events(limit)
	}
	if events == nil {
		events = []services.SecurityEvent{}
	}

	return c.JSON(fiber.Map{
		"events": events,
		"count":  len(events),
		"total":  h.events.Len(),
	})
}

// lookup resolves ?identifier=, ?route= and ?preset=. Route-scoped limits
// (every RateLimit route and the admin group) key clients as "ip|route", so
// ?identifier=1.2.3.4&route=/api/contact addresses the contact form budget.
func (h *AdminHandler) lookup(c *fiber.Ctx) (string, services.RateLimitConfig, error) {
	identifier := strings.TrimSpace(c.Query("identifier"))
	if identifier == "" {
		return "", services.RateLimitConfig{}, fiber.NewError(fiber.StatusBadRequest, "identifier is required")
	}
	if route := strings.TrimSpace(c.Query("route")); route != "" {
		identifier = middleware.RouteKey(identifier, route)
	}
	preset := c.Query("preset")
	cfg, ok := h.presets.Lookup(preset)
	if !ok {
		return "", services.RateLimitConfig{}, fiber.NewError(fiber.StatusBadRequest, "unknown preset")
	}
	return identifier, cfg, nil
}

// RateLimitStatus reports the budget left for identifier under a preset
func (h *AdminHandler) RateLimitStatus(c *fiber.Ctx) error {
	identifier, cfg, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"identifier":   identifier,
		"window":       cfg.Window.String(),
		"max_requests": cfg.MaxRequests,
		"remaining":    h.limiter.RemainingRequests(identifier, cfg),
		"reset_at":     h.limiter.ResetTime(identifier, cfg).UTC().Format(time.RFC3339),
	})
}

// ClearRateLimit forgets the window for identifier under a preset
func (h *AdminHandler) ClearRateLimit(c *fiber.Ctx) error {
	identifier, cfg, err := h.lookup(c)
	if err != nil {
		return err
	}
	h.limiter.Clear(identifier, cfg)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AdminHandler) RateLimitStats(c *fiber.Ctx) error {
	st := h.limiter.Stats()
	resp := fiber.Map{
		"entries":        st.Entries,
		"evicted_count":  st.EvictedCount,
		"sweep_count":    st.SweepCount,
		"exceeded_count": st.ExceededCount,
		"uptime":         st.Uptime.Round(time.Second).String(),
	}
	if !st.LastSweepTime.IsZero() {
		resp["last_sweep_time"] = st.LastSweepTime.UTC().Format(time.RFC3339)
	}
	return c.JSON(resp)
}
