package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Pinger is an interface for health check ping operations.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness of the issuance path's dependencies:
// the decision store, the event-log producer, and the database.
type HealthHandler struct {
	store    Pinger
	producer Pinger
	db       Pinger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(store, producer, db Pinger) *HealthHandler {
	return &HealthHandler{store: store, producer: producer, db: db}
}

// Check performs the health check. The endpoint returns 200 only when every
// dependency the synchronous path needs is reachable; a load balancer can
// then stop routing before requests start failing with 503.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	checks := []struct {
		name   string
		pinger Pinger
	}{
		{"store", h.store},
		{"producer", h.producer},
		{"database", h.db},
	}

	for _, check := range checks {
		if check.pinger == nil {
			continue
		}
		if err := check.pinger.Ping(c.Context()); err != nil {
			log.Error().Err(err).Str("dependency", check.name).Msg("health check failed")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unhealthy",
				"error":  check.name + " connection failed",
			})
		}
	}

	return c.JSON(fiber.Map{
		"status": "healthy",
	})
}
