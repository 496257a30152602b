package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/leonid-shevtsov/telegold"
	"github.com/yuin/goldmark"

	"snaplens/internal/models"
)

const defaultTelegramAPIBase = "https://api.telegram.org"

// telegramMarkdownConverter converts standard Markdown to Telegram HTML
// using telegold (goldmark with a Telegram HTML renderer).
var telegramMarkdownConverter = goldmark.New(goldmark.WithRenderer(telegold.NewRenderer()))

// TelegramService is the outbound notification channel and the inbound
// event feed for follow-up actions. Every call is a blocking network
// operation with a bounded timeout.
type TelegramService struct {
	apiBase       string
	botToken      string
	chatID        int64
	maxPhotoBytes int
	httpClient    *http.Client
	pollingClient *http.Client // longer timeout for long polling
}

// NewTelegramService creates a Telegram service for one bot and chat.
func NewTelegramService(botToken string, chatID int64, maxPhotoBytes int) *TelegramService {
	return &TelegramService{
		apiBase:       defaultTelegramAPIBase,
		botToken:      botToken,
		chatID:        chatID,
		maxPhotoBytes: maxPhotoBytes,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		pollingClient: &http.Client{
			Timeout: 35 * time.Second, // long polling timeout
		},
	}
}

// SetAPIBase overrides the Bot API base URL. Used by tests.
func (s *TelegramService) SetAPIBase(base string) {
	s.apiBase = base
}

// Configured reports whether a bot token is available.
func (s *TelegramService) Configured() bool {
	return s.botToken != ""
}

func (s *TelegramService) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", s.apiBase, s.botToken, method)
}

// convertToTelegramHTML converts standard Markdown to Telegram-compatible HTML.
func convertToTelegramHTML(text string) string {
	var buf bytes.Buffer
	if err := telegramMarkdownConverter.Convert([]byte(text), &buf); err != nil {
		log.Printf("⚠️ [TELEGRAM] Markdown conversion failed: %v", err)
		return text
	}
	return buf.String()
}

// SendMessage sends a text message to the configured chat. Markdown input
// is converted to Telegram HTML; if Telegram rejects the entities the send
// is retried as plain text.
func (s *TelegramService) SendMessage(ctx context.Context, text string) error {
	return s.sendMessage(ctx, text, nil)
}

// SendMessageWithKeyboard sends a text message carrying inline action buttons.
func (s *TelegramService) SendMessageWithKeyboard(ctx context.Context, text string, keyboard *models.InlineKeyboard) error {
	return s.sendMessage(ctx, text, keyboard)
}

func (s *TelegramService) sendMessage(ctx context.Context, text string, keyboard *models.InlineKeyboard) error {
	// Telegram limit is 4096 characters per message
	if len(text) > 4096 {
		text = text[:4093] + "..."
	}

	payload := map[string]interface{}{
		"chat_id":    s.chatID,
		"text":       convertToTelegramHTML(text),
		"parse_mode": "HTML",
		"link_preview_options": map[string]interface{}{
			"is_disabled": true,
		},
	}
	if keyboard != nil {
		payload["reply_markup"] = keyboard
	}

	errStr, err := s.post(ctx, "sendMessage", payload)
	if err != nil {
		return err
	}
	if errStr == "" {
		return nil
	}

	if strings.Contains(errStr, "can't parse entities") {
		// Retry with plain text
		log.Printf("⚠️ [TELEGRAM] HTML parsing failed, retrying without parse_mode")

		payload = map[string]interface{}{
			"chat_id": s.chatID,
			"text":    stripMarkdown(text),
		}
		if keyboard != nil {
			payload["reply_markup"] = keyboard
		}
		errStr, err = s.post(ctx, "sendMessage", payload)
		if err != nil {
			return err
		}
		if errStr != "" {
			return fmt.Errorf("Telegram API error (plain): %s", errStr)
		}
		return nil
	}

	return fmt.Errorf("Telegram API error: %s", errStr)
}

// post sends a JSON payload to a Bot API method. It returns the response
// body text when Telegram answered non-200, and an error only for
// transport-level failures.
func (s *TelegramService) post(ctx context.Context, method string, payload map[string]interface{}) (string, error) {
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, "POST", s.methodURL(method), bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return "", nil
	}
	respBody, _ := io.ReadAll(resp.Body)
	return string(respBody), nil
}

// SendPhoto uploads a photo with a caption and optional inline keyboard.
// Captions are truncated to Telegram's 1024-character limit.
func (s *TelegramService) SendPhoto(ctx context.Context, photo []byte, caption string, keyboard *models.InlineKeyboard) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	writer.WriteField("chat_id", fmt.Sprintf("%d", s.chatID))

	if caption != "" {
		if len(caption) > 1024 {
			caption = caption[:1021] + "..."
		}
		writer.WriteField("caption", convertToTelegramHTML(caption))
		writer.WriteField("parse_mode", "HTML")
	}

	if keyboard != nil {
		markup, err := json.Marshal(keyboard)
		if err != nil {
			return fmt.Errorf("failed to serialize keyboard: %w", err)
		}
		writer.WriteField("reply_markup", string(markup))
	}

	part, err := writer.CreateFormFile("photo", "screenshot.png")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	part.Write(photo)
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", s.methodURL("sendPhoto"), &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send photo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Telegram API error: %s", string(body))
	}

	log.Printf("📸 [TELEGRAM] Sent photo to chat %d (%d bytes)", s.chatID, len(photo))
	return nil
}

// NotifyWithPhoto delivers the richer photo notification and falls back to
// a text-only message when the photo exceeds the upload ceiling or the
// upload itself fails. The fallback keeps the inline actions.
func (s *TelegramService) NotifyWithPhoto(ctx context.Context, photo []byte, caption string, keyboard *models.InlineKeyboard) error {
	if len(photo) > s.maxPhotoBytes {
		log.Printf("⚠️ [TELEGRAM] Photo too large for upload (%d bytes > %d), sending text only",
			len(photo), s.maxPhotoBytes)
		return s.SendMessageWithKeyboard(ctx, "📷 Screenshot processed\n\n"+caption, keyboard)
	}

	if err := s.SendPhoto(ctx, photo, caption, keyboard); err != nil {
		log.Printf("⚠️ [TELEGRAM] Photo upload failed, falling back to text: %v", err)
		return s.SendMessageWithKeyboard(ctx, "📷 Screenshot processed\n\n"+caption, keyboard)
	}
	return nil
}

// GetUpdates long-polls the Bot API event feed for callback queries newer
// than offset.
func (s *TelegramService) GetUpdates(ctx context.Context, offset int64) ([]models.TelegramUpdate, error) {
	url := fmt.Sprintf("%s?timeout=1&allowed_updates=[\"callback_query\"]", s.methodURL("getUpdates"))
	if offset > 0 {
		url += fmt.Sprintf("&offset=%d", offset)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.pollingClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get updates: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK     bool                    `json:"ok"`
		Result []models.TelegramUpdate `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode updates: %w", err)
	}
	if !result.OK {
		return nil, fmt.Errorf("Telegram API returned not OK")
	}

	return result.Result, nil
}

// AnswerCallbackQuery acknowledges a button press so the remote UI stops
// showing a loading state. Called before dispatch, regardless of outcome.
func (s *TelegramService) AnswerCallbackQuery(ctx context.Context, callbackID string) error {
	errStr, err := s.post(ctx, "answerCallbackQuery", map[string]interface{}{
		"callback_query_id": callbackID,
	})
	if err != nil {
		return err
	}
	if errStr != "" {
		return fmt.Errorf("Telegram API error: %s", errStr)
	}
	return nil
}

// stripMarkdown removes Markdown formatting for the plain text fallback.
func stripMarkdown(text string) string {
	text = strings.ReplaceAll(text, "**", "")
	text = strings.ReplaceAll(text, "__", "")
	codeBlockPattern := regexp.MustCompile("```[a-zA-Z]*\\n([\\s\\S]*?)```")
	text = codeBlockPattern.ReplaceAllString(text, "$1")
	text = strings.ReplaceAll(text, "`", "")
	text = strings.ReplaceAll(text, "~~", "")
	headerPattern := regexp.MustCompile(`(?m)^#{1,6}\s+`)
	text = headerPattern.ReplaceAllString(text, "")
	linkPattern := regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	text = linkPattern.ReplaceAllString(text, "$1 ($2)")
	return text
}
