package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/go-co-op/gocron/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"snaplens/internal/config"
	"snaplens/internal/dispatch"
	"snaplens/internal/handlers"
	"snaplens/internal/logging"
	"snaplens/internal/middleware"
	"snaplens/internal/models"
	"snaplens/internal/pipeline"
	"snaplens/internal/screenshot"
	"snaplens/internal/services"
	"snaplens/internal/store"
	"snaplens/internal/vision"
	"snaplens/internal/watcher"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Snaplens Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Load configuration
	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, Vision: %s)", cfg.Port, cfg.VisionModel)

	if cfg.VisionAPIKey == "" {
		log.Println("⚠️  VISION_API_KEY not set - vision requests will be unauthenticated")
	}

	// Analysis store and metrics
	analysisStore := store.New(cfg.MaxPendingAnalyses)
	services.InitMetrics(analysisStore)

	// Pipeline: vision client + stage runner
	visionService := vision.NewService(cfg.VisionBaseURL, cfg.VisionAPIKey, cfg.VisionModel)
	runner := pipeline.NewRunner(visionService)

	// Telegram delivery
	telegramService := services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.MaxPhotoBytes)
	if telegramService.Configured() {
		log.Println("✅ Telegram notifications enabled")
	} else {
		log.Println("⚠️  TELEGRAM_BOT_TOKEN or TELEGRAM_CHAT_ID not set - notifications disabled")
	}

	// Screenshot processor
	validator := screenshot.NewValidator(screenshot.Limits{
		MaxBytes:        cfg.MaxImageBytes,
		MinBytes:        cfg.MinImageBytes,
		MaxEncodedBytes: cfg.MaxEncodedBytes,
	})
	processor := services.NewProcessor(validator, runner, analysisStore, telegramService)

	// Root context cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Follow-up action dispatcher (Telegram button presses)
	if telegramService.Configured() {
		arxivService := services.NewArxivService()
		webpageService := services.NewWebpageService()
		dispatcher := dispatch.New(
			telegramService,
			analysisStore,
			runner,
			arxivService,
			webpageService,
			services.GetMetrics(),
			cfg.PollInterval,
		)
		go dispatcher.Run(ctx)
	}

	// Desktop screenshot watcher
	var desktopWatcher *watcher.Watcher
	if cfg.WatchEnabled {
		desktopWatcher = watcher.New(watcher.Options{
			Dir:              cfg.WatchDir,
			NamePatterns:     cfg.NamePatterns,
			FreshnessWindow:  cfg.FreshnessWindow,
			DebounceInterval: cfg.DebounceInterval,
			SettleDelay:      cfg.SettleDelay,
			MaxFileBytes:     cfg.MaxImageBytes,
		}, func(ctx context.Context, data []byte, meta models.ScreenshotMeta) {
			if _, err := processor.ProcessBytes(ctx, data, meta); err != nil {
				log.Printf("❌ Desktop screenshot processing failed: %v", err)
			}
		})
		go func() {
			if err := desktopWatcher.Run(ctx); err != nil {
				log.Printf("⚠️  Desktop watcher stopped: %v", err)
			}
		}()
	}

	// Periodic eviction sweep keeps the store bounded even when submissions
	// stop arriving
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		log.Fatalf("❌ Failed to create scheduler: %v", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.EvictSweepInterval),
		gocron.NewTask(func() {
			if evicted := analysisStore.EvictIfOverCapacity(); evicted > 0 {
				log.Printf("🧹 Sweep evicted %d old analyses", evicted)
			}
		}),
		gocron.WithName("store_eviction_sweep"),
	)
	if err != nil {
		log.Fatalf("❌ Failed to schedule eviction sweep: %v", err)
	}
	scheduler.Start()

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Snaplens v1.0",
		ReadTimeout:  120 * time.Second, // vision inference can be slow
		WriteTimeout: 120 * time.Second,
		BodyLimit:    20 * 1024 * 1024, // base64 payloads run ~33% over the raw image
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("snaplens")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	rateLimitConfig := middleware.LoadRateLimitConfig()
	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	// Initialize handlers
	requestStats := handlers.NewRequestStats()
	healthHandler := handlers.NewHealthHandler(analysisStore)
	statusHandler := handlers.NewStatusHandler(analysisStore, desktopWatcher, requestStats, telegramService.Configured(), cfg.VisionModel, cfg.MaxPendingAnalyses)
	screenshotHandler := handlers.NewScreenshotHandler(processor, requestStats)
	watchHandler := handlers.NewWatchHandler(desktopWatcher)

	// Routes
	app.Get("/health", healthHandler.Handle)
	api := app.Group("/api")
	api.Get("/status", statusHandler.Handle)
	api.Get("/analyses/:id", statusHandler.HandleAnalysis)
	api.Post("/screenshot", middleware.SubmitRateLimiter(rateLimitConfig), screenshotHandler.Handle)
	api.Post("/watch/toggle", watchHandler.HandleToggle)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		// Stop the watcher and dispatcher loops
		cancel()

		// Stop background jobs
		if err := scheduler.Shutdown(); err != nil {
			log.Printf("⚠️ Error stopping scheduler: %v", err)
		}

		// Shutdown Fiber
		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
