package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"snaplens/internal/models"
	"snaplens/internal/store"
)

type fakeTelegram struct {
	mu       sync.Mutex
	batches  [][]models.TelegramUpdate
	err      error
	answered []string
	sent     []string
}

func (f *fakeTelegram) GetUpdates(ctx context.Context, offset int64) ([]models.TelegramUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeTelegram) AnswerCallbackQuery(ctx context.Context, callbackID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, callbackID)
	return nil
}

func (f *fakeTelegram) SendMessage(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeTelegram) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeRunner struct {
	keywords *models.ResearchKeywords
	deep     string
	err      error
	block    chan struct{} // when set, DeepAnalysis waits on it

	mu    sync.Mutex
	calls int
}

func (f *fakeRunner) ExtractKeywords(ctx context.Context, image models.ImagePayload) (*models.ResearchKeywords, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.keywords, nil
}

func (f *fakeRunner) DeepAnalysis(ctx context.Context, image models.ImagePayload) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return "", f.err
	}
	return f.deep, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePapers struct {
	papers []models.Paper
	err    error
}

func (f *fakePapers) Search(ctx context.Context, keywords []string) ([]models.Paper, error) {
	return f.papers, f.err
}

type fakeWebpages struct {
	result models.WebpageResult
}

func (f *fakeWebpages) Fetch(ctx context.Context, rawURL string) models.WebpageResult {
	return f.result
}

func pressUpdate(updateID int64, data string) models.TelegramUpdate {
	return models.TelegramUpdate{
		UpdateID: updateID,
		CallbackQuery: &models.TelegramCallbackQuery{
			ID:   "cb-" + data,
			Data: data,
		},
	}
}

func newTestDispatcher(tg *fakeTelegram, s *store.Store, runner *fakeRunner, papers *fakePapers, webpages *fakeWebpages) *Dispatcher {
	if runner == nil {
		runner = &fakeRunner{deep: "analysis text"}
	}
	if papers == nil {
		papers = &fakePapers{}
	}
	if webpages == nil {
		webpages = &fakeWebpages{}
	}
	return New(tg, s, runner, papers, webpages, nil, 2*time.Second)
}

func storedRecord(t *testing.T, s *store.Store, classification *models.ContentClassification) string {
	t.Helper()
	id := s.Create(&models.AnalysisRecord{
		Image:        models.ImagePayload{Data: []byte("img"), MediaType: "image/png", SizeBytes: 3},
		BriefSummary: "a summary",
	})
	if classification != nil {
		if err := s.SetClassification(id, classification); err != nil {
			t.Fatalf("SetClassification failed: %v", err)
		}
	}
	return id
}

func TestDispatcher_CursorAdvancesPastEveryUpdate(t *testing.T) {
	tg := &fakeTelegram{batches: [][]models.TelegramUpdate{{
		pressUpdate(5, "not_an_action"),
		{UpdateID: 7}, // plain message, no callback
	}}}
	d := newTestDispatcher(tg, store.New(20), nil, nil, nil)

	d.Poll(context.Background())
	d.wg.Wait()

	if d.PollCursor() != 8 {
		t.Errorf("Cursor should advance past the highest update ID, got %d", d.PollCursor())
	}
	if len(tg.sentMessages()) != 0 {
		t.Errorf("Unrecognized data should not produce messages, got %v", tg.sentMessages())
	}
}

func TestDispatcher_GetUpdatesFailureKeepsCursor(t *testing.T) {
	tg := &fakeTelegram{err: errors.New("network down")}
	d := newTestDispatcher(tg, store.New(20), nil, nil, nil)

	d.Poll(context.Background())

	if d.PollCursor() != 0 {
		t.Errorf("Cursor should not move on a failed poll, got %d", d.PollCursor())
	}
}

func TestDispatcher_AnswersBeforeDispatch(t *testing.T) {
	s := store.New(20)
	id := storedRecord(t, s, nil)
	tg := &fakeTelegram{batches: [][]models.TelegramUpdate{{
		pressUpdate(1, "deep_research_"+id),
	}}}
	d := newTestDispatcher(tg, s, nil, nil, nil)

	d.Poll(context.Background())
	d.wg.Wait()

	if len(tg.answered) != 1 {
		t.Fatalf("Every callback should be acknowledged, answered=%v", tg.answered)
	}
	msgs := tg.sentMessages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "analysis text") {
		t.Errorf("Deep analysis result should be delivered, got %v", msgs)
	}
}

func TestDispatcher_DropsPressWhileSameActionRuns(t *testing.T) {
	s := store.New(20)
	id := storedRecord(t, s, nil)
	runner := &fakeRunner{deep: "slow analysis", block: make(chan struct{})}
	tg := &fakeTelegram{batches: [][]models.TelegramUpdate{
		{pressUpdate(1, "deep_research_"+id)},
		{pressUpdate(2, "deep_research_"+id)},
	}}
	d := newTestDispatcher(tg, s, runner, nil, nil)

	d.Poll(context.Background()) // starts the action, blocked in the runner
	d.Poll(context.Background()) // same key pressed again while running
	close(runner.block)
	d.wg.Wait()

	if runner.callCount() != 1 {
		t.Errorf("Second press of a running action should be dropped, runner ran %d times", runner.callCount())
	}
	if len(tg.answered) != 2 {
		t.Errorf("Dropped presses are still acknowledged, answered %d", len(tg.answered))
	}
	if d.PollCursor() != 3 {
		t.Errorf("Cursor should advance past the dropped press, got %d", d.PollCursor())
	}
}

func TestDispatcher_SameAnalysisDifferentActionsRunTogether(t *testing.T) {
	s := store.New(20)
	id := storedRecord(t, s, &models.ContentClassification{ContentType: "webpage", WebpageURL: "example.org"})
	runner := &fakeRunner{deep: "slow analysis", block: make(chan struct{})}
	webpages := &fakeWebpages{result: models.WebpageResult{URL: "https://example.org", Success: true, Title: "Example", Excerpt: "body"}}
	tg := &fakeTelegram{batches: [][]models.TelegramUpdate{
		{pressUpdate(1, "deep_research_"+id)},
		{pressUpdate(2, "full_webpage_"+id)},
	}}
	d := newTestDispatcher(tg, s, runner, nil, webpages)

	d.Poll(context.Background())
	d.Poll(context.Background())
	close(runner.block)
	d.wg.Wait()

	msgs := tg.sentMessages()
	if len(msgs) != 2 {
		t.Fatalf("Both actions should run, got messages %v", msgs)
	}
}

func TestDispatcher_MissingAnalysisReportsExpiry(t *testing.T) {
	tg := &fakeTelegram{batches: [][]models.TelegramUpdate{{
		pressUpdate(1, "deep_research_1234567890"),
	}}}
	d := newTestDispatcher(tg, store.New(20), nil, nil, nil)

	d.Poll(context.Background())
	d.wg.Wait()

	msgs := tg.sentMessages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "no longer available") {
		t.Errorf("Evicted analysis should produce an expiry message, got %v", msgs)
	}
}

func TestDispatcher_ResearchLookupFormatsPapers(t *testing.T) {
	s := store.New(20)
	id := storedRecord(t, s, nil)
	runner := &fakeRunner{keywords: &models.ResearchKeywords{
		Keywords:   []string{"graph neural networks", "molecules"},
		IsResearch: true,
		Field:      "ML",
	}}
	papers := &fakePapers{papers: []models.Paper{
		{ID: "http://arxiv.org/abs/2101.00001", Title: "Learning on Graphs", Authors: []string{"A. Author"}, Published: "2021-01-01"},
	}}
	tg := &fakeTelegram{batches: [][]models.TelegramUpdate{{
		pressUpdate(1, "arxiv_research_"+id),
	}}}
	d := newTestDispatcher(tg, s, runner, papers, nil)

	d.Poll(context.Background())
	d.wg.Wait()

	msgs := tg.sentMessages()
	if len(msgs) != 1 {
		t.Fatalf("Expected one result message, got %v", msgs)
	}
	for _, want := range []string{"Learning on Graphs", "graph neural networks", "2101.00001"} {
		if !strings.Contains(msgs[0], want) {
			t.Errorf("Result should mention %q:\n%s", want, msgs[0])
		}
	}
}

func TestDispatcher_ResearchLookupNoKeywords(t *testing.T) {
	s := store.New(20)
	id := storedRecord(t, s, nil)
	runner := &fakeRunner{keywords: &models.ResearchKeywords{Field: "unknown"}}
	tg := &fakeTelegram{batches: [][]models.TelegramUpdate{{
		pressUpdate(1, "arxiv_research_"+id),
	}}}
	d := newTestDispatcher(tg, s, runner, nil, nil)

	d.Poll(context.Background())
	d.wg.Wait()

	msgs := tg.sentMessages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "No research keywords") {
		t.Errorf("Empty keyword set should be reported as such, got %v", msgs)
	}
}

func TestDispatcher_WebpageActionWithoutURL(t *testing.T) {
	s := store.New(20)
	id := storedRecord(t, s, &models.ContentClassification{ContentType: "app"})
	tg := &fakeTelegram{batches: [][]models.TelegramUpdate{{
		pressUpdate(1, "full_webpage_"+id),
	}}}
	d := newTestDispatcher(tg, s, nil, nil, nil)

	d.Poll(context.Background())
	d.wg.Wait()

	msgs := tg.sentMessages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "No webpage URL") {
		t.Errorf("Missing URL should be reported, got %v", msgs)
	}
}

func TestDispatcher_WebpageFetchFailureIsReported(t *testing.T) {
	s := store.New(20)
	id := storedRecord(t, s, &models.ContentClassification{ContentType: "webpage", WebpageURL: "example.org"})
	webpages := &fakeWebpages{result: models.WebpageResult{URL: "https://example.org", Error: "HTTP 503"}}
	tg := &fakeTelegram{batches: [][]models.TelegramUpdate{{
		pressUpdate(1, "full_webpage_"+id),
	}}}
	d := newTestDispatcher(tg, s, nil, nil, webpages)

	d.Poll(context.Background())
	d.wg.Wait()

	msgs := tg.sentMessages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "HTTP 503") {
		t.Errorf("Fetch failure should be relayed to the chat, got %v", msgs)
	}
}
