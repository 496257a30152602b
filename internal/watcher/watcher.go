package watcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"snaplens/internal/models"
)

// Handler receives the bytes of a detected screenshot. It is called at most
// once per file.
type Handler func(ctx context.Context, data []byte, meta models.ScreenshotMeta)

// Options configures the desktop screenshot watcher.
type Options struct {
	Dir              string        // directory to monitor
	NamePatterns     []string      // lowercase substrings that mark a screenshot
	FreshnessWindow  time.Duration // reject files older than this
	DebounceInterval time.Duration // suppress rapid write events per file
	SettleDelay      time.Duration // wait for the file to be fully written
	MaxFileBytes     int           // skip files above this size
}

// Watcher monitors a directory for freshly created screenshots and hands
// them to the processing pipeline. Each file is processed at most once,
// however many filesystem events it generates.
type Watcher struct {
	opts    Options
	handler Handler
	enabled atomic.Bool

	mu        sync.Mutex
	processed map[string]struct{}
	lastEvent map[string]time.Time

	now func() time.Time
}

// New creates a watcher. It starts disabled until Run is called.
func New(opts Options, handler Handler) *Watcher {
	if len(opts.NamePatterns) == 0 {
		opts.NamePatterns = []string{"screenshot", "screen shot", "capture", "cleanshot"}
	}
	return &Watcher{
		opts:      opts,
		handler:   handler,
		processed: make(map[string]struct{}),
		lastEvent: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Enabled reports whether detected screenshots are currently processed.
func (w *Watcher) Enabled() bool {
	return w.enabled.Load()
}

// SetEnabled toggles processing without stopping the watch loop.
func (w *Watcher) SetEnabled(on bool) {
	w.enabled.Store(on)
	if on {
		log.Printf("👁 [WATCH] Desktop detection enabled for %s", w.opts.Dir)
	} else {
		log.Printf("🚫 [WATCH] Desktop detection disabled")
	}
}

// Run watches the directory until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsWatcher.Close()

	if err := fsWatcher.Add(w.opts.Dir); err != nil {
		return err
	}

	w.enabled.Store(true)
	log.Printf("👁 [WATCH] Monitoring %s for screenshots", w.opts.Dir)

	for {
		select {
		case <-ctx.Done():
			log.Printf("🛑 [WATCH] Watcher stopped")
			return nil
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				go w.HandleCreate(ctx, event.Name)
			case event.Op&fsnotify.Write == fsnotify.Write:
				go w.HandleWrite(ctx, event.Name)
			}
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("⚠️ [WATCH] Watcher error: %v", err)
		}
	}
}

// HandleCreate processes a newly created file after the settle delay.
func (w *Watcher) HandleCreate(ctx context.Context, path string) {
	w.settle(ctx)
	if !w.isScreenshotFile(path) {
		return
	}
	w.process(ctx, path)
}

// HandleWrite processes a modified file. Write bursts for the same file
// within the debounce interval collapse into one attempt.
func (w *Watcher) HandleWrite(ctx context.Context, path string) {
	if !w.debounce(path) {
		return
	}
	w.settle(ctx)
	if !w.isScreenshotFile(path) {
		return
	}
	w.process(ctx, path)
}

// debounce reports whether this write event should be handled. At most one
// write per file passes per debounce interval.
func (w *Watcher) debounce(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	if last, seen := w.lastEvent[path]; seen && now.Sub(last) < w.opts.DebounceInterval {
		return false
	}
	w.lastEvent[path] = now
	return true
}

func (w *Watcher) settle(ctx context.Context) {
	if w.opts.SettleDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(w.opts.SettleDelay):
	}
}

// isScreenshotFile applies the three gates: image extension, freshness, and
// a screenshot-looking name.
func (w *Watcher) isScreenshotFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg":
	default:
		return false
	}

	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if w.opts.FreshnessWindow > 0 && w.now().Sub(info.ModTime()) > w.opts.FreshnessWindow {
		return false
	}

	name := strings.ToLower(filepath.Base(path))
	for _, pattern := range w.opts.NamePatterns {
		if strings.Contains(name, pattern) {
			return true
		}
	}
	// macOS default naming: "Screenshot 2024-01-01 at 09.41.00.png"
	if strings.HasPrefix(name, "screenshot ") && strings.Contains(name, " at ") {
		return true
	}
	return false
}

// process reads the file and hands it to the pipeline. The file is marked
// processed before the handoff so a concurrent event for the same path
// cannot trigger a second run.
func (w *Watcher) process(ctx context.Context, path string) {
	if !w.enabled.Load() {
		return
	}

	w.mu.Lock()
	if _, done := w.processed[path]; done {
		w.mu.Unlock()
		return
	}
	w.processed[path] = struct{}{}
	w.mu.Unlock()

	log.Printf("📸 [WATCH] Auto-detected screenshot: %s", filepath.Base(path))

	info, err := os.Stat(path)
	if err != nil {
		log.Printf("❌ [WATCH] File disappeared: %s", path)
		return
	}
	if w.opts.MaxFileBytes > 0 && info.Size() > int64(w.opts.MaxFileBytes) {
		log.Printf("⚠️ [WATCH] Screenshot too large (%.1fMB), skipping auto-processing", float64(info.Size())/1024/1024)
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("❌ [WATCH] Failed to read %s: %v", path, err)
		return
	}

	w.handler(ctx, data, models.ScreenshotMeta{
		Source:   models.SourceDesktopAuto,
		App:      "macOS Screenshot",
		Filename: filepath.Base(path),
	})
}
