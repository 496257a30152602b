package handlers

import (
	"github.com/gofiber/fiber/v2"

	"snaplens/internal/watcher"
)

// WatchHandler toggles desktop screenshot detection at runtime.
type WatchHandler struct {
	watcher *watcher.Watcher
}

// NewWatchHandler creates a new watch handler.
func NewWatchHandler(w *watcher.Watcher) *WatchHandler {
	return &WatchHandler{watcher: w}
}

// HandleToggle processes POST /watch/toggle.
func (h *WatchHandler) HandleToggle(c *fiber.Ctx) error {
	if h.watcher == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"error":   "desktop detection is not available on this server",
		})
	}

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.BodyParser(&req); err != nil || req.Enabled == nil {
		// No explicit state means flip the current one.
		h.watcher.SetEnabled(!h.watcher.Enabled())
	} else {
		h.watcher.SetEnabled(*req.Enabled)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"enabled": h.watcher.Enabled(),
	})
}
