package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"snaplens/internal/store"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	store *store.Store
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(analysisStore *store.Store) *HealthHandler {
	return &HealthHandler{store: analysisStore}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"analyses":  h.store.Len(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
