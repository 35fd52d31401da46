package handler

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/coupon-issuer/internal/cache"
	"github.com/fairyhunter13/coupon-issuer/internal/model"
	"github.com/fairyhunter13/coupon-issuer/internal/service"
)

// IssuanceServiceInterface defines the interface for issuance business logic.
type IssuanceServiceInterface interface {
	Issue(ctx context.Context, userID, eventID string) (*service.IssueResult, error)
	Status(ctx context.Context, eventID string) (*model.EventStatusResponse, error)
	UserCoupon(ctx context.Context, userID, eventID string) (*model.UserCouponResponse, error)
}

// CouponHandler handles the synchronous issuance surface.
type CouponHandler struct {
	service        IssuanceServiceInterface
	validator      *validator.Validate
	requestTimeout time.Duration
}

// NewCouponHandler creates a new CouponHandler. requestTimeout bounds the
// end-to-end issue path; once the decision passes, the service detaches the
// publish from this deadline itself.
func NewCouponHandler(svc IssuanceServiceInterface, v *validator.Validate, requestTimeout time.Duration) *CouponHandler {
	return &CouponHandler{service: svc, validator: v, requestTimeout: requestTimeout}
}

// formatIssueValidationError converts validator errors to stable messages.
func formatIssueValidationError(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			field := fe.Field()
			tag := fe.Tag()

			switch field {
			case "UserID":
				if tag == "required" {
					return "invalid request: user_id is required"
				}
				if tag == "notblank" {
					return "invalid request: user_id cannot be whitespace only"
				}
				if tag == "max" {
					return "invalid request: user_id exceeds maximum length of 255"
				}
				return "invalid request: user_id is invalid"
			case "EventID":
				if tag == "required" {
					return "invalid request: event_id is required"
				}
				if tag == "notblank" {
					return "invalid request: event_id cannot be whitespace only"
				}
				if tag == "max" {
					return "invalid request: event_id exceeds maximum length of 255"
				}
				return "invalid request: event_id is invalid"
			default:
				if tag == "required" {
					return "invalid request: " + field + " is required"
				}
				return "invalid request: " + field + " is invalid"
			}
		}
	}
	return "invalid request"
}

// IssueCoupon handles POST /api/v1/coupons/issue.
//
// Business FAILs (duplicate user, sold out) are HTTP 200 with success=false:
// the request itself worked, the decision was no. Infrastructure failures
// (store down, event not seeded, publish exhausted) are 503 and safe for the
// client to retry.
func (h *CouponHandler) IssueCoupon(c *fiber.Ctx) error {
	var req model.IssueCouponRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatIssueValidationError(err)})
	}

	ctx, cancel := context.WithTimeout(c.Context(), h.requestTimeout)
	defer cancel()

	res, err := h.service.Issue(ctx, req.UserID, req.EventID)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			log.Error().Err(err).
				Str("request_id", c.GetRespHeader("X-Request-ID")).
				Str("event_id", req.EventID).
				Dur("timeout", h.requestTimeout).
				Msg("issuance timed out")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "service temporarily unavailable",
			})
		case errors.Is(err, service.ErrAlreadyParticipated):
			return c.Status(fiber.StatusOK).JSON(model.IssueCouponResponse{
				Success: false,
				Reason:  cache.CodeAlreadyParticipated,
			})
		case errors.Is(err, service.ErrNoStock):
			return c.Status(fiber.StatusOK).JSON(model.IssueCouponResponse{
				Success: false,
				Reason:  cache.CodeNoStock,
			})
		case errors.Is(err, service.ErrStockNotInitialized):
			log.Warn().
				Str("event_id", req.EventID).
				Msg("issuance attempted against uninitialized event")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "event stock not initialized",
			})
		case errors.Is(err, service.ErrStoreUnavailable):
			log.Error().Err(err).
				Str("request_id", c.GetRespHeader("X-Request-ID")).
				Str("event_id", req.EventID).
				Msg("decision store unavailable")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "service temporarily unavailable",
			})
		case errors.Is(err, service.ErrPublishFailed):
			log.Error().Err(err).
				Str("request_id", c.GetRespHeader("X-Request-ID")).
				Str("user_id", req.UserID).
				Str("event_id", req.EventID).
				Msg("issuance publish failed; decision compensated")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "service temporarily unavailable",
			})
		case errors.Is(err, service.ErrInvalidRequest):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		log.Error().Err(err).
			Str("request_id", c.GetRespHeader("X-Request-ID")).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("user_id", req.UserID).
			Str("event_id", req.EventID).
			Msg("failed to issue coupon")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	log.Info().
		Str("request_id", c.GetRespHeader("X-Request-ID")).
		Str("user_id", req.UserID).
		Str("event_id", req.EventID).
		Str("coupon_id", res.CouponID).
		Int("remaining", res.Remaining).
		Msg("coupon issued")

	remaining := res.Remaining
	return c.Status(fiber.StatusOK).JSON(model.IssueCouponResponse{
		Success:   true,
		CouponID:  res.CouponID,
		Remaining: &remaining,
	})
}

// EventStatus handles GET /api/v1/coupons/status/:event_id.
func (h *CouponHandler) EventStatus(c *fiber.Ctx) error {
	eventID := c.Params("event_id")
	if eventID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request: event_id is required",
		})
	}

	status, err := h.service.Status(c.Context(), eventID)
	if err != nil {
		log.Error().Err(err).Str("event_id", eventID).Msg("failed to read event status")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "service temporarily unavailable",
		})
	}
	return c.JSON(status)
}

// UserCoupon handles GET /api/v1/coupons/user/:user_id/event/:event_id.
func (h *CouponHandler) UserCoupon(c *fiber.Ctx) error {
	userID := c.Params("user_id")
	eventID := c.Params("event_id")
	if userID == "" || eventID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request: user_id and event_id are required",
		})
	}

	resp, err := h.service.UserCoupon(c.Context(), userID, eventID)
	if err != nil {
		log.Error().Err(err).
			Str("user_id", userID).
			Str("event_id", eventID).
			Msg("failed to look up user coupon")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "service temporarily unavailable",
		})
	}
	return c.JSON(resp)
}
