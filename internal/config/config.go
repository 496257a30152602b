package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port string

	// Vision inference provider (OpenAI-compatible chat completions)
	VisionBaseURL string
	VisionAPIKey  string
	VisionModel   string

	// Telegram notification channel
	TelegramBotToken string
	TelegramChatID   int64

	// Desktop screenshot watcher
	WatchEnabled bool
	WatchDir     string

	// Analysis store
	MaxPendingAnalyses int
	EvictSweepInterval time.Duration

	// Follow-up dispatcher
	PollInterval time.Duration

	// Screenshot validation limits
	MaxImageBytes   int
	MinImageBytes   int
	MaxEncodedBytes int
	MaxPhotoBytes   int // Telegram photo upload ceiling

	// Watcher filtering
	FreshnessWindow  time.Duration
	DebounceInterval time.Duration
	SettleDelay      time.Duration
	NamePatterns     []string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	// Screenshot naming heuristics (comma-separated substrings)
	patternsEnv := getEnv("SCREENSHOT_NAME_PATTERNS", "screenshot,screen shot,capture,cleanshot")
	patterns := strings.Split(patternsEnv, ",")
	for i := range patterns {
		patterns[i] = strings.TrimSpace(strings.ToLower(patterns[i]))
	}

	return &Config{
		Port: getEnv("PORT", "5001"),

		VisionBaseURL: getEnv("VISION_BASE_URL", "https://api.openai.com/v1"),
		VisionAPIKey:  getEnv("VISION_API_KEY", ""),
		VisionModel:   getEnv("VISION_MODEL", "gpt-4o"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getInt64Env("TELEGRAM_CHAT_ID", 0),

		WatchEnabled: getBoolEnv("ENABLE_DESKTOP_DETECTION", false),
		WatchDir:     getEnv("WATCH_DIR", defaultWatchDir()),

		MaxPendingAnalyses: getIntEnv("MAX_PENDING_ANALYSES", 20),
		EvictSweepInterval: getDurationEnv("EVICT_SWEEP_INTERVAL", 30*time.Second),

		PollInterval: getDurationEnv("CALLBACK_POLL_INTERVAL", 2*time.Second),

		MaxImageBytes:   getIntEnv("MAX_IMAGE_BYTES", 15*1024*1024),
		MinImageBytes:   getIntEnv("MIN_IMAGE_BYTES", 1024),
		MaxEncodedBytes: getIntEnv("MAX_ENCODED_BYTES", 13_000_000),
		MaxPhotoBytes:   getIntEnv("MAX_PHOTO_BYTES", 10*1024*1024),

		FreshnessWindow:  getDurationEnv("FRESHNESS_WINDOW", 10*time.Second),
		DebounceInterval: getDurationEnv("DEBOUNCE_INTERVAL", 2*time.Second),
		SettleDelay:      getDurationEnv("SETTLE_DELAY", 500*time.Millisecond),
		NamePatterns:     patterns,
	}
}

func defaultWatchDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home + "/Desktop"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
