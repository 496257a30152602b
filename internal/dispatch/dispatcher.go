package dispatch

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"snaplens/internal/logging"
	"snaplens/internal/models"
	"snaplens/internal/store"
)

// TelegramClient is the bot API surface the dispatcher polls and replies
// through. Satisfied by services.TelegramService.
type TelegramClient interface {
	GetUpdates(ctx context.Context, offset int64) ([]models.TelegramUpdate, error)
	AnswerCallbackQuery(ctx context.Context, callbackID string) error
	SendMessage(ctx context.Context, text string) error
}

// StageRunner exposes the deferred analysis stages a follow-up action can
// request. Satisfied by pipeline.Runner.
type StageRunner interface {
	ExtractKeywords(ctx context.Context, image models.ImagePayload) (*models.ResearchKeywords, error)
	DeepAnalysis(ctx context.Context, image models.ImagePayload) (string, error)
}

// PaperSearcher finds academic papers for a keyword set. Satisfied by
// services.ArxivService.
type PaperSearcher interface {
	Search(ctx context.Context, keywords []string) ([]models.Paper, error)
}

// WebpageFetcher retrieves webpage content for the webpage-analysis action.
// Satisfied by services.WebpageService.
type WebpageFetcher interface {
	Fetch(ctx context.Context, rawURL string) models.WebpageResult
}

// ActionMetrics records dispatch outcomes. Satisfied by services.Metrics.
type ActionMetrics interface {
	RecordAction(kind string)
	RecordActionDeduped()
}

// Dispatcher polls Telegram for button presses and runs the requested
// follow-up action against the stored analysis. At most one action per
// (kind, analysis) pair runs at a time; a press that arrives while the same
// action is still running is acknowledged and dropped.
type Dispatcher struct {
	telegram TelegramClient
	store    *store.Store
	runner   StageRunner
	papers   PaperSearcher
	webpages WebpageFetcher
	metrics  ActionMetrics

	interval time.Duration
	cursor   int64

	mu       sync.Mutex
	inFlight map[models.ActionKey]struct{}
	wg       sync.WaitGroup
}

// New creates a dispatcher. interval is the poll cadence.
func New(telegram TelegramClient, analysisStore *store.Store, runner StageRunner, papers PaperSearcher, webpages WebpageFetcher, metrics ActionMetrics, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Dispatcher{
		telegram: telegram,
		store:    analysisStore,
		runner:   runner,
		papers:   papers,
		webpages: webpages,
		metrics:  metrics,
		interval: interval,
		inFlight: make(map[models.ActionKey]struct{}),
	}
}

// Run polls until ctx is cancelled, then waits for in-flight actions to
// finish.
func (d *Dispatcher) Run(ctx context.Context) {
	log.Printf("🔄 [DISPATCH] Polling for button presses every %s", d.interval)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			log.Printf("🛑 [DISPATCH] Poll loop stopped")
			return
		case <-ticker.C:
			d.Poll(ctx)
		}
	}
}

// Poll performs one getUpdates round. The cursor always advances past every
// update that was seen, whether or not its action was accepted, so a failed
// or deduplicated press is never redelivered.
func (d *Dispatcher) Poll(ctx context.Context) {
	updates, err := d.telegram.GetUpdates(ctx, d.cursor)
	if err != nil {
		log.Printf("⚠️ [DISPATCH] getUpdates failed: %v", err)
		return
	}

	for _, update := range updates {
		if update.UpdateID >= d.cursor {
			d.cursor = update.UpdateID + 1
		}
		if update.CallbackQuery == nil {
			continue
		}
		d.handleCallback(ctx, update.CallbackQuery)
	}
}

// PollCursor reports the next update offset. Exposed for tests.
func (d *Dispatcher) PollCursor() int64 {
	return d.cursor
}

func (d *Dispatcher) handleCallback(ctx context.Context, cb *models.TelegramCallbackQuery) {
	// Acknowledge first so the client stops its spinner even when the press
	// is dropped below.
	if err := d.telegram.AnswerCallbackQuery(ctx, cb.ID); err != nil {
		log.Printf("⚠️ [DISPATCH] answerCallbackQuery failed: %v", err)
	}

	key, ok := models.ParseActionKey(cb.Data)
	if !ok {
		log.Printf("⚠️ [DISPATCH] Unrecognized callback data %q", cb.Data)
		return
	}

	if !d.tryAcquire(key) {
		log.Printf("⏭ [DISPATCH] %s already running for analysis %s, dropping press", key.Kind, key.AnalysisID)
		if d.metrics != nil {
			d.metrics.RecordActionDeduped()
		}
		return
	}

	if d.metrics != nil {
		d.metrics.RecordAction(key.Kind.String())
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.release(key)
		d.dispatch(ctx, key)
	}()
}

func (d *Dispatcher) tryAcquire(key models.ActionKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, running := d.inFlight[key]; running {
		return false
	}
	d.inFlight[key] = struct{}{}
	return true
}

func (d *Dispatcher) release(key models.ActionKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, key)
}

func (d *Dispatcher) dispatch(ctx context.Context, key models.ActionKey) {
	record, ok := d.store.Get(key.AnalysisID)
	if !ok {
		log.Printf("⚠️ [DISPATCH] Analysis %s not found (evicted?)", key.AnalysisID)
		d.send(ctx, "⚠️ This analysis is no longer available. Take a fresh screenshot to analyze it again.")
		return
	}

	log.Printf("🚀 [DISPATCH] Running %s for analysis %s", key.Kind, key.AnalysisID)
	actionLog := logging.WithAction(logging.WithAnalysis(key.AnalysisID, string(record.Meta.Source)), key.Kind.String(), key.CallbackData())
	started := time.Now()

	switch key.Kind {
	case models.ActionResearchLookup:
		d.runResearchLookup(ctx, record)
	case models.ActionDeepAnalysis:
		d.runDeepAnalysis(ctx, record)
	case models.ActionWebpageAnalysis:
		d.runWebpageAnalysis(ctx, record)
	}

	log.Printf("✅ [DISPATCH] %s for %s finished in %s", key.Kind, key.AnalysisID, time.Since(started).Round(time.Millisecond))
	actionLog.Info("action finished", "duration_ms", time.Since(started).Milliseconds())
}

func (d *Dispatcher) runResearchLookup(ctx context.Context, record *models.AnalysisRecord) {
	keywords, err := d.runner.ExtractKeywords(ctx, record.Image)
	if err != nil {
		log.Printf("❌ [DISPATCH] Keyword extraction failed for %s: %v", record.ID, err)
		d.send(ctx, "❌ Could not extract research keywords from the screenshot.")
		return
	}
	if len(keywords.Keywords) == 0 {
		d.send(ctx, "🔬 No research keywords were found in this screenshot.")
		return
	}

	papers, err := d.papers.Search(ctx, keywords.Keywords)
	if err != nil {
		log.Printf("❌ [DISPATCH] Paper search failed for %s: %v", record.ID, err)
		d.send(ctx, "❌ Paper search failed. Try again in a moment.")
		return
	}

	d.send(ctx, formatPapers(keywords, papers))
}

func (d *Dispatcher) runDeepAnalysis(ctx context.Context, record *models.AnalysisRecord) {
	analysis, err := d.runner.DeepAnalysis(ctx, record.Image)
	if err != nil {
		log.Printf("❌ [DISPATCH] Deep analysis failed for %s: %v", record.ID, err)
		d.send(ctx, "❌ Deep analysis failed. Try again in a moment.")
		return
	}
	d.send(ctx, "🧠 **Deep Analysis**\n\n"+analysis)
}

func (d *Dispatcher) runWebpageAnalysis(ctx context.Context, record *models.AnalysisRecord) {
	if record.Classification == nil || record.Classification.WebpageURL == "" {
		d.send(ctx, "🌐 No webpage URL was detected in this screenshot.")
		return
	}

	result := d.webpages.Fetch(ctx, record.Classification.WebpageURL)
	d.send(ctx, formatWebpage(result))
}

func (d *Dispatcher) send(ctx context.Context, text string) {
	if err := d.telegram.SendMessage(ctx, text); err != nil {
		log.Printf("❌ [DISPATCH] Failed to send result: %v", err)
	}
}

func formatPapers(keywords *models.ResearchKeywords, papers []models.Paper) string {
	var b strings.Builder
	b.WriteString("🔬 **Research Papers**\n\n")
	fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(keywords.Keywords, ", "))
	if keywords.Field != "" && keywords.Field != "unknown" {
		fmt.Fprintf(&b, "Field: %s\n", keywords.Field)
	}
	b.WriteString("\n")

	if len(papers) == 0 {
		b.WriteString("No matching papers found on arXiv.")
		return b.String()
	}

	for i, paper := range papers {
		fmt.Fprintf(&b, "%d. **%s**\n", i+1, paper.Title)
		if len(paper.Authors) > 0 {
			authors := paper.Authors
			if len(authors) > 3 {
				authors = append(authors[:3:3], "et al.")
			}
			fmt.Fprintf(&b, "   %s\n", strings.Join(authors, ", "))
		}
		if paper.Published != "" {
			fmt.Fprintf(&b, "   Published: %s\n", paper.Published)
		}
		fmt.Fprintf(&b, "   %s\n\n", paper.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatWebpage(result models.WebpageResult) string {
	if !result.Success {
		return fmt.Sprintf("🌐 Could not fetch %s: %s", result.URL, result.Error)
	}

	var b strings.Builder
	b.WriteString("🌐 **Webpage Content**\n\n")
	if result.Title != "" {
		fmt.Fprintf(&b, "**%s**\n", result.Title)
	}
	fmt.Fprintf(&b, "%s\n\n", result.URL)
	b.WriteString(result.Excerpt)
	return b.String()
}
