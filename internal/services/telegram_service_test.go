package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"snaplens/internal/models"
)

type telegramCall struct {
	method  string
	payload map[string]interface{}
	isForm  bool
	photo   int // uploaded photo bytes
}

// fakeBotAPI captures Bot API calls and lets tests script responses.
type fakeBotAPI struct {
	mu      sync.Mutex
	calls   []telegramCall
	respond func(method string) (int, string)
	updates string // canned getUpdates body
}

func newFakeBotAPI() (*fakeBotAPI, *httptest.Server) {
	api := &fakeBotAPI{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]

		call := telegramCall{method: method}
		contentType := r.Header.Get("Content-Type")
		if strings.HasPrefix(contentType, "multipart/form-data") {
			call.isForm = true
			r.ParseMultipartForm(32 << 20)
			call.payload = map[string]interface{}{}
			for k, v := range r.MultipartForm.Value {
				call.payload[k] = v[0]
			}
			if file, _, err := r.FormFile("photo"); err == nil {
				data, _ := io.ReadAll(file)
				call.photo = len(data)
				file.Close()
			}
		} else if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			json.Unmarshal(body, &call.payload)
		}

		api.mu.Lock()
		api.calls = append(api.calls, call)
		api.mu.Unlock()

		if method == "getUpdates" && api.updates != "" {
			w.Write([]byte(api.updates))
			return
		}
		if api.respond != nil {
			status, body := api.respond(method)
			w.WriteHeader(status)
			w.Write([]byte(body))
			return
		}
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	return api, server
}

func (a *fakeBotAPI) callsFor(method string) []telegramCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []telegramCall
	for _, c := range a.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func newTestTelegram(server *httptest.Server) *TelegramService {
	s := NewTelegramService("test-token", 42, 10*1024*1024)
	s.SetAPIBase(server.URL)
	return s
}

func TestTelegramService_Configured(t *testing.T) {
	if NewTelegramService("", 0, 1).Configured() {
		t.Error("Missing bot token means unconfigured")
	}
	if !NewTelegramService("token", 42, 1).Configured() {
		t.Error("A bot token means configured")
	}
}

func TestTelegramService_SendMessageConvertsMarkdown(t *testing.T) {
	api, server := newFakeBotAPI()
	defer server.Close()
	s := newTestTelegram(server)

	if err := s.SendMessage(context.Background(), "**bold** text"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	calls := api.callsFor("sendMessage")
	if len(calls) != 1 {
		t.Fatalf("Expected one sendMessage call, got %d", len(calls))
	}
	text, _ := calls[0].payload["text"].(string)
	if !strings.Contains(text, "<b>bold</b>") {
		t.Errorf("Markdown should convert to Telegram HTML, got %q", text)
	}
	if calls[0].payload["parse_mode"] != "HTML" {
		t.Errorf("parse_mode should be HTML, got %v", calls[0].payload["parse_mode"])
	}
}

func TestTelegramService_SendMessagePlainTextRetry(t *testing.T) {
	api, server := newFakeBotAPI()
	defer server.Close()
	first := true
	api.respond = func(method string) (int, string) {
		if method == "sendMessage" && first {
			first = false
			return http.StatusBadRequest, `{"ok":false,"description":"Bad Request: can't parse entities"}`
		}
		return http.StatusOK, `{"ok":true,"result":{}}`
	}
	s := newTestTelegram(server)

	if err := s.SendMessage(context.Background(), "**broken <markup**"); err != nil {
		t.Fatalf("Retry should recover from entity errors: %v", err)
	}

	calls := api.callsFor("sendMessage")
	if len(calls) != 2 {
		t.Fatalf("Expected an HTML attempt and a plain retry, got %d calls", len(calls))
	}
	if _, hasParseMode := calls[1].payload["parse_mode"]; hasParseMode {
		t.Error("Plain text retry must not set parse_mode")
	}
}

func TestTelegramService_SendMessageTruncates(t *testing.T) {
	api, server := newFakeBotAPI()
	defer server.Close()
	s := newTestTelegram(server)

	if err := s.SendMessage(context.Background(), strings.Repeat("a", 5000)); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	text, _ := api.callsFor("sendMessage")[0].payload["text"].(string)
	if len(text) > 4096+len("<p></p>\n") {
		t.Errorf("Message should be truncated near the 4096 limit, got %d chars", len(text))
	}
}

func TestTelegramService_SendPhotoMultipart(t *testing.T) {
	api, server := newFakeBotAPI()
	defer server.Close()
	s := newTestTelegram(server)

	photo := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	keyboard := &models.InlineKeyboard{InlineKeyboard: [][]models.InlineKeyboardButton{
		{{Text: "Go", CallbackData: "deep_research_1"}},
	}}
	if err := s.SendPhoto(context.Background(), photo, "a caption", keyboard); err != nil {
		t.Fatalf("SendPhoto failed: %v", err)
	}

	calls := api.callsFor("sendPhoto")
	if len(calls) != 1 || !calls[0].isForm {
		t.Fatalf("sendPhoto should be a multipart upload, calls=%d", len(calls))
	}
	if calls[0].photo != len(photo) {
		t.Errorf("Photo bytes should round-trip, got %d want %d", calls[0].photo, len(photo))
	}
	markup, _ := calls[0].payload["reply_markup"].(string)
	if !strings.Contains(markup, "deep_research_1") {
		t.Errorf("Keyboard should travel as a JSON form field, got %q", markup)
	}
	if calls[0].payload["chat_id"] != "42" {
		t.Errorf("chat_id field wrong: %v", calls[0].payload["chat_id"])
	}
}

func TestTelegramService_NotifyWithPhotoFallsBackOnSize(t *testing.T) {
	api, server := newFakeBotAPI()
	defer server.Close()
	s := NewTelegramService("test-token", 42, 16) // 16 byte photo ceiling
	s.SetAPIBase(server.URL)

	big := make([]byte, 64)
	keyboard := &models.InlineKeyboard{InlineKeyboard: [][]models.InlineKeyboardButton{
		{{Text: "Go", CallbackData: "deep_research_1"}},
	}}
	if err := s.NotifyWithPhoto(context.Background(), big, "caption", keyboard); err != nil {
		t.Fatalf("NotifyWithPhoto failed: %v", err)
	}

	if len(api.callsFor("sendPhoto")) != 0 {
		t.Error("Oversize photo must not be uploaded")
	}
	msgs := api.callsFor("sendMessage")
	if len(msgs) != 1 {
		t.Fatalf("Expected a text fallback, got %d sendMessage calls", len(msgs))
	}
	if msgs[0].payload["reply_markup"] == nil {
		t.Error("Fallback must keep the inline keyboard")
	}
}

func TestTelegramService_NotifyWithPhotoFallsBackOnUploadError(t *testing.T) {
	api, server := newFakeBotAPI()
	defer server.Close()
	api.respond = func(method string) (int, string) {
		if method == "sendPhoto" {
			return http.StatusBadRequest, `{"ok":false,"description":"PHOTO_INVALID_DIMENSIONS"}`
		}
		return http.StatusOK, `{"ok":true,"result":{}}`
	}
	s := newTestTelegram(server)

	if err := s.NotifyWithPhoto(context.Background(), []byte{1, 2, 3}, "caption", nil); err != nil {
		t.Fatalf("Fallback should succeed: %v", err)
	}
	if len(api.callsFor("sendMessage")) != 1 {
		t.Error("Upload failure should fall back to a text message")
	}
}

func TestTelegramService_GetUpdates(t *testing.T) {
	api, server := newFakeBotAPI()
	defer server.Close()
	api.updates = `{"ok":true,"result":[
		{"update_id":100,"callback_query":{"id":"cb1","data":"deep_research_17"}},
		{"update_id":101,"callback_query":{"id":"cb2","data":"arxiv_research_17"}}
	]}`
	s := newTestTelegram(server)

	updates, err := s.GetUpdates(context.Background(), 0)
	if err != nil {
		t.Fatalf("GetUpdates failed: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("Expected two updates, got %d", len(updates))
	}
	if updates[0].CallbackQuery == nil || updates[0].CallbackQuery.Data != "deep_research_17" {
		t.Errorf("Callback data should decode, got %+v", updates[0].CallbackQuery)
	}
	if updates[1].UpdateID != 101 {
		t.Errorf("Update IDs should decode, got %d", updates[1].UpdateID)
	}
}

func TestTelegramService_GetUpdatesNotOK(t *testing.T) {
	api, server := newFakeBotAPI()
	defer server.Close()
	api.updates = `{"ok":false,"result":[]}`
	s := newTestTelegram(server)

	if _, err := s.GetUpdates(context.Background(), 0); err == nil {
		t.Error("A not-ok response should surface as an error")
	}
}

func TestTelegramService_AnswerCallbackQuery(t *testing.T) {
	api, server := newFakeBotAPI()
	defer server.Close()
	s := newTestTelegram(server)

	if err := s.AnswerCallbackQuery(context.Background(), "cb-123"); err != nil {
		t.Fatalf("AnswerCallbackQuery failed: %v", err)
	}
	calls := api.callsFor("answerCallbackQuery")
	if len(calls) != 1 || calls[0].payload["callback_query_id"] != "cb-123" {
		t.Errorf("Callback ID should be forwarded, got %+v", calls)
	}
}

func TestStripMarkdown(t *testing.T) {
	in := "# Title\n**bold** and `code` and [link](https://example.org)"
	out := stripMarkdown(in)
	for _, banned := range []string{"#", "**", "`", "]("} {
		if strings.Contains(out, banned) {
			t.Errorf("stripMarkdown left %q in %q", banned, out)
		}
	}
	if !strings.Contains(out, "link (https://example.org)") {
		t.Errorf("Links should keep their target, got %q", out)
	}
}
