package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"snaplens/internal/logging"
	"snaplens/internal/models"
	"snaplens/internal/pipeline"
	"snaplens/internal/screenshot"
	"snaplens/internal/store"
)

// Notifier is the delivery surface the processor talks to. Satisfied by
// TelegramService.
type Notifier interface {
	Configured() bool
	NotifyWithPhoto(ctx context.Context, photo []byte, caption string, keyboard *models.InlineKeyboard) error
	SendMessage(ctx context.Context, text string) error
}

// Processor runs a validated screenshot through the mandatory pipeline
// stages, records the result, and delivers the notification. One call per
// submission; callers decide their own concurrency.
type Processor struct {
	validator *screenshot.Validator
	runner    *pipeline.Runner
	store     *store.Store
	notifier  Notifier
	metrics   *Metrics
}

// NewProcessor creates a screenshot processor.
func NewProcessor(validator *screenshot.Validator, runner *pipeline.Runner, analysisStore *store.Store, notifier Notifier) *Processor {
	return &Processor{
		validator: validator,
		runner:    runner,
		store:     analysisStore,
		notifier:  notifier,
		metrics:   GetMetrics(),
	}
}

// ProcessBase64 validates a base64 submission and runs it through the
// pipeline. Used by the mobile push endpoint.
func (p *Processor) ProcessBase64(ctx context.Context, encoded string, meta models.ScreenshotMeta) (*models.SubmissionResult, error) {
	image, err := p.validator.ValidateBase64(encoded)
	if err != nil {
		p.recordError("validation")
		return failedSubmission(err), err
	}
	return p.process(ctx, image, meta)
}

// ProcessBytes validates a raw image submission and runs it through the
// pipeline. Used by the desktop watcher.
func (p *Processor) ProcessBytes(ctx context.Context, data []byte, meta models.ScreenshotMeta) (*models.SubmissionResult, error) {
	image, err := p.validator.ValidateBytes(data)
	if err != nil {
		p.recordError("validation")
		return failedSubmission(err), err
	}
	return p.process(ctx, image, meta)
}

func (p *Processor) process(ctx context.Context, image models.ImagePayload, meta models.ScreenshotMeta) (*models.SubmissionResult, error) {
	if meta.Source == "" {
		meta.Source = models.SourceMobile
	}
	p.recordScreenshot(string(meta.Source))
	log.Printf("📸 [PROCESS] New %s screenshot (%d bytes)", meta.Source, image.SizeBytes)

	// Both mandatory stages must succeed before anything is stored. A stage
	// failure leaves no partial record behind.
	summary, err := p.timedStage(ctx, "brief_summary", func(ctx context.Context) (string, error) {
		return p.runner.BriefSummary(ctx, image, meta.Source)
	})
	if err != nil {
		p.recordError("vision")
		return failedSubmission(err), err
	}

	var classification *models.ContentClassification
	_, err = p.timedStage(ctx, "classification", func(ctx context.Context) (string, error) {
		var stageErr error
		classification, stageErr = p.runner.Classify(ctx, image)
		return "", stageErr
	})
	if err != nil {
		p.recordError("vision")
		return failedSubmission(err), err
	}

	record := &models.AnalysisRecord{
		Image:        image,
		Meta:         meta,
		BriefSummary: summary,
	}
	id := p.store.Create(record)
	if err := p.store.SetClassification(id, classification); err != nil {
		// Create just returned this ID, so the only way here is an eviction
		// race. The submission result is still valid without follow-ups.
		log.Printf("⚠️ [PROCESS] Could not attach classification to %s: %v", id, err)
	}
	if evicted := p.store.EvictIfOverCapacity(); evicted > 0 {
		log.Printf("🧹 [PROCESS] Store over capacity, evicted %d analyses", evicted)
	}

	p.deliver(ctx, id, image, summary, classification)

	log.Printf("✅ [PROCESS] Analysis %s complete (type: %s)", id, classification.ContentType)
	logging.WithAnalysis(id, string(meta.Source)).Info("analysis complete",
		"content_type", classification.ContentType,
		"image_bytes", image.SizeBytes,
	)
	return &models.SubmissionResult{
		Success:           true,
		AnalysisID:        id,
		Summary:           summary,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
		FollowUpAvailable: p.notifier.Configured(),
		Source:            string(meta.Source),
	}, nil
}

// deliver sends the notification with follow-up buttons. Delivery is
// best-effort: the analysis already succeeded and stays available for
// follow-up actions even if Telegram is down.
func (p *Processor) deliver(ctx context.Context, id string, image models.ImagePayload, summary string, classification *models.ContentClassification) {
	if !p.notifier.Configured() {
		return
	}

	caption := buildCaption(summary, classification)
	keyboard := buildKeyboard(id, classification)

	if err := p.notifier.NotifyWithPhoto(ctx, image.Data, caption, keyboard); err != nil {
		p.recordError("delivery")
		log.Printf("❌ [PROCESS] Notification delivery failed for %s: %v", id, err)
		return
	}

	// Photo captions cap at 1024 characters; a longer summary follows as its
	// own message so nothing is lost to truncation.
	if len(caption) > 1024 {
		if err := p.notifier.SendMessage(ctx, "📝 **Full Summary**\n\n"+summary); err != nil {
			log.Printf("⚠️ [PROCESS] Full summary delivery failed for %s: %v", id, err)
		}
	}
}

func buildCaption(summary string, classification *models.ContentClassification) string {
	caption := "📱 **Screenshot Analysis**\n\n" + summary
	if classification.ContentType != "" && classification.ContentType != "unknown" {
		caption += fmt.Sprintf("\n\n🏷 Type: %s", classification.ContentType)
	}
	if classification.UserIntent != "" {
		caption += fmt.Sprintf("\n💡 %s", classification.UserIntent)
	}
	return caption
}

// buildKeyboard lays out the follow-up buttons: research and deep analysis
// always, webpage content only when a URL was detected.
func buildKeyboard(id string, classification *models.ContentClassification) *models.InlineKeyboard {
	rows := [][]models.InlineKeyboardButton{
		{
			{Text: "🔬 Research Papers", CallbackData: models.ActionKey{Kind: models.ActionResearchLookup, AnalysisID: id}.CallbackData()},
			{Text: "🧠 Deep Research", CallbackData: models.ActionKey{Kind: models.ActionDeepAnalysis, AnalysisID: id}.CallbackData()},
		},
	}
	if classification.WebpageURL != "" {
		rows = append(rows, []models.InlineKeyboardButton{
			{Text: "🌐 Webpage Content", CallbackData: models.ActionKey{Kind: models.ActionWebpageAnalysis, AnalysisID: id}.CallbackData()},
		})
	}
	return &models.InlineKeyboard{InlineKeyboard: rows}
}

func (p *Processor) timedStage(ctx context.Context, stage string, fn func(ctx context.Context) (string, error)) (string, error) {
	start := time.Now()
	out, err := fn(ctx)
	if p.metrics != nil {
		p.metrics.RecordStageLatency(stage, time.Since(start).Seconds())
	}
	return out, err
}

func (p *Processor) recordScreenshot(source string) {
	if p.metrics != nil {
		p.metrics.RecordScreenshot(source)
	}
}

func (p *Processor) recordError(errorType string) {
	if p.metrics != nil {
		p.metrics.RecordError(errorType)
	}
}

func failedSubmission(err error) *models.SubmissionResult {
	return &models.SubmissionResult{
		Success:   false,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Error:     err.Error(),
	}
}
