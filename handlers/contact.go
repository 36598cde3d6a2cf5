package handlers

import (
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/yourusername/publicsite/middleware"
	"github.com/yourusername/publicsite/models"
	"github.com/yourusername/publicsite/services"
)

type ContactHandler struct {
	repo      models.ContactRepositoryInterface
	validator *validator.Validate
	events    *services.SecurityLogger
}

func NewContactHandler(repo models.ContactRepositoryInterface, events *services.SecurityLogger) *ContactHandler {
	if events == nil {
		events = services.NewSecurityLogger(nil)
	}
	return &ContactHandler{repo: repo, validator: validator.New(), events: events}
}

// Submit stores a contact form message
func (h *ContactHandler) Submit(c *fiber.Ctx) error {
	var req models.CreateContactRequest
	if err := c.BodyParser(&req); err != nil {
		h.invalidInput(c, "unparseable body")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	req.Normalize()

	if err := h.validator.Struct(&req); err != nil {
		fields := []string{}
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
		}
		h.invalidInput(c, "validation failed", fields...)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid contact message", "fields": fields})
	}

	msg := req.ToMessage(middleware.GetClientIP(c))
	if err := h.repo.Create(msg); err != nil {
		log.Printf("contact: failed to store message: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to send message"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": msg.ID})
}

func (h *ContactHandler) invalidInput(c *fiber.Ctx, reason string, fields ...string) {
	ev := services.SecurityEvent{
		Type:     services.EventInvalidInput,
		Message:  "Invalid contact form submission: " + reason,
		Metadata: map[string]any{"reason": reason},
	}
	if len(fields) > 0 {
		ev.Metadata["fields"] = fields
	}
	ri := middleware.RequestInfo(c)
	ev.IP, ev.UserAgent, ev.Path, ev.Method = ri.IP, ri.UserAgent, ri.Path, ri.Method
	h.events.LogSecurityEvent(ev)
}
