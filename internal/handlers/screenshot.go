package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"snaplens/internal/models"
	"snaplens/internal/screenshot"
	"snaplens/internal/services"
)

// ScreenshotHandler handles push submissions from the mobile shortcut.
type ScreenshotHandler struct {
	processor *services.Processor
	stats     *RequestStats
}

// NewScreenshotHandler creates a new screenshot handler. stats may be nil.
func NewScreenshotHandler(processor *services.Processor, stats *RequestStats) *ScreenshotHandler {
	return &ScreenshotHandler{processor: processor, stats: stats}
}

// ScreenshotRequest is the push endpoint payload.
type ScreenshotRequest struct {
	Image    string                `json:"image"`
	Metadata models.ScreenshotMeta `json:"metadata"`
}

// Handle processes POST /screenshot. The image travels base64-encoded, with
// an optional data URL prefix.
func (h *ScreenshotHandler) Handle(c *fiber.Ctx) error {
	traceID := uuid.New().String()[:8]
	if h.stats != nil {
		h.stats.RecordRequest()
	}

	var req ScreenshotRequest
	if err := c.BodyParser(&req); err != nil {
		log.Printf("❌ [API] [%s] Malformed screenshot request: %v", traceID, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}
	if req.Image == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "no image data provided",
		})
	}

	if req.Metadata.Source == "" {
		req.Metadata.Source = models.SourceMobile
	}

	result, err := h.processor.ProcessBase64(c.Context(), req.Image, req.Metadata)
	if err != nil {
		status := fiber.StatusInternalServerError
		var vErr *screenshot.ValidationError
		if errors.As(err, &vErr) {
			status = fiber.StatusBadRequest
		}
		log.Printf("❌ [API] [%s] Screenshot processing failed: %v", traceID, err)
		return c.Status(status).JSON(result)
	}

	log.Printf("✅ [API] [%s] Screenshot accepted (analysis %s)", traceID, result.AnalysisID)
	return c.JSON(result)
}
