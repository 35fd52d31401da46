package handler

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/coupon-issuer/internal/model"
	"github.com/fairyhunter13/coupon-issuer/internal/service"
)

// AdminServiceInterface defines the interface for event lifecycle logic.
type AdminServiceInterface interface {
	CreateEvent(ctx context.Context, req *model.CreateEventRequest) error
	InitializeStock(ctx context.Context, eventID string, totalStock int) (*service.InitResult, error)
	GetEvent(ctx context.Context, eventID string) (*model.Event, error)
	DeactivateEvent(ctx context.Context, eventID string) error
}

// AdminHandler handles HTTP requests for the event admin surface.
type AdminHandler struct {
	service   AdminServiceInterface
	validator *validator.Validate
}

// NewAdminHandler creates a new AdminHandler with the given service and validator.
func NewAdminHandler(svc AdminServiceInterface, v *validator.Validate) *AdminHandler {
	return &AdminHandler{service: svc, validator: v}
}

// CreateEvent handles POST /api/v1/admin/events.
func (h *AdminHandler) CreateEvent(c *fiber.Ctx) error {
	var req model.CreateEventRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: " + err.Error()})
	}

	if err := h.service.CreateEvent(c.Context(), &req); err != nil {
		if errors.Is(err, service.ErrEventExists) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "event already exists"})
		}
		if errors.Is(err, service.ErrInvalidRequest) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		log.Error().Err(err).Str("event_id", req.EventID).Msg("failed to create event")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	log.Info().Str("event_id", req.EventID).Int("total_stock", *req.TotalStock).Msg("event created")
	return c.Status(fiber.StatusCreated).Send(nil)
}

// InitializeStock handles POST /api/v1/admin/events/:event_id/stock?initial_stock=N.
// Re-running with the same total is a no-op and still returns 200.
func (h *AdminHandler) InitializeStock(c *fiber.Ctx) error {
	eventID := c.Params("event_id")
	if eventID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request: event_id is required",
		})
	}

	rawStock := c.Query("initial_stock")
	initialStock, err := strconv.Atoi(rawStock)
	if err != nil || initialStock < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request: initial_stock must be a non-negative integer",
		})
	}

	res, err := h.service.InitializeStock(c.Context(), eventID, initialStock)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		log.Error().Err(err).Str("event_id", eventID).Msg("failed to initialize stock")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "service temporarily unavailable",
		})
	}

	message := "stock initialized successfully"
	if !res.Seeded {
		message = "stock already initialized for this event"
	}
	log.Info().
		Str("event_id", eventID).
		Int("initial_stock", initialStock).
		Bool("seeded", res.Seeded).
		Msg("stock initialization requested")

	return c.JSON(fiber.Map{
		"event_id":      res.EventID,
		"initial_stock": res.TotalStock,
		"message":       message,
	})
}

// GetEvent handles GET /api/v1/admin/events/:event_id.
func (h *AdminHandler) GetEvent(c *fiber.Ctx) error {
	eventID := c.Params("event_id")
	if eventID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request: event_id is required",
		})
	}

	event, err := h.service.GetEvent(c.Context(), eventID)
	if err != nil {
		if errors.Is(err, service.ErrEventNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "event not found"})
		}
		log.Error().Err(err).Str("event_id", eventID).Msg("failed to get event")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}
	return c.JSON(event)
}

// DeactivateEvent handles POST /api/v1/admin/events/:event_id/deactivate.
func (h *AdminHandler) DeactivateEvent(c *fiber.Ctx) error {
	eventID := c.Params("event_id")
	if eventID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request: event_id is required",
		})
	}

	if err := h.service.DeactivateEvent(c.Context(), eventID); err != nil {
		if errors.Is(err, service.ErrEventNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "event not found"})
		}
		log.Error().Err(err).Str("event_id", eventID).Msg("failed to deactivate event")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	log.Info().Str("event_id", eventID).Msg("event deactivated")
	return c.Status(fiber.StatusOK).Send(nil)
}
