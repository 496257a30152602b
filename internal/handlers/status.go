package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"snaplens/internal/store"
	"snaplens/internal/watcher"
)

// StatusHandler reports service configuration and store occupancy, and
// exposes individual analyses for debugging.
type StatusHandler struct {
	store       *store.Store
	watcher     *watcher.Watcher
	stats       *RequestStats
	telegramSet bool
	visionModel string
	maxAnalyses int
}

// NewStatusHandler creates a new status handler. watcher and stats may be nil
// when desktop detection or request tracking is disabled.
func NewStatusHandler(analysisStore *store.Store, w *watcher.Watcher, stats *RequestStats, telegramConfigured bool, visionModel string, maxAnalyses int) *StatusHandler {
	return &StatusHandler{
		store:       analysisStore,
		watcher:     w,
		stats:       stats,
		telegramSet: telegramConfigured,
		visionModel: visionModel,
		maxAnalyses: maxAnalyses,
	}
}

// Handle responds with the current service status.
func (h *StatusHandler) Handle(c *fiber.Ctx) error {
	watchEnabled := false
	if h.watcher != nil {
		watchEnabled = h.watcher.Enabled()
	}
	resp := fiber.Map{
		"analyses_stored":     h.store.Len(),
		"analyses_capacity":   h.maxAnalyses,
		"telegram_configured": h.telegramSet,
		"vision_model":        h.visionModel,
		"desktop_watch":       watchEnabled,
	}
	if h.stats != nil {
		resp["requests_received"] = h.stats.Count()
		if last, ok := h.stats.LastRequest(); ok {
			resp["last_request_at"] = last.UTC().Format(time.RFC3339)
		}
	}
	return c.JSON(resp)
}

// HandleAnalysis responds with one stored analysis by ID, without the image
// payload.
func (h *StatusHandler) HandleAnalysis(c *fiber.Ctx) error {
	record, ok := h.store.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "analysis not found",
		})
	}
	return c.JSON(fiber.Map{
		"id":             record.ID,
		"source":         record.Meta.Source,
		"filename":       record.Meta.Filename,
		"summary":        record.BriefSummary,
		"classification": record.Classification,
		"created_at":     record.CreatedAt,
	})
}
