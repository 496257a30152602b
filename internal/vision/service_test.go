package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"snaplens/internal/models"
)

func testImage() models.ImagePayload {
	data := make([]byte, 2048)
	copy(data, "\x89PNG\r\n\x1a\n")
	return models.ImagePayload{Data: data, MediaType: "image/png", SizeBytes: len(data)}
}

func TestService_Analyze(t *testing.T) {
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("Failed to decode request payload: %v", err)
		}
		if payload["model"] != "test-model" {
			t.Errorf("Expected model test-model, got %v", payload["model"])
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": "A settings screen."}},
			},
		})
	}))
	defer server.Close()

	svc := NewService(server.URL, "test-key", "test-model")
	result, err := svc.Analyze(context.Background(), testImage(), "Describe this screenshot.")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result != "A settings screen." {
		t.Errorf("Unexpected result: %q", result)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Expected bearer auth, got %q", gotAuth)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("Unexpected path: %s", gotPath)
	}
}

func TestService_AnalyzeAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "rate limited"}`))
	}))
	defer server.Close()

	svc := NewService(server.URL, "test-key", "test-model")
	_, err := svc.Analyze(context.Background(), testImage(), "prompt")
	if err == nil {
		t.Fatal("Expected error on 429 response")
	}
	if !strings.Contains(err.Error(), "API error 429") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestService_AnalyzeEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	svc := NewService(server.URL, "", "test-model")
	_, err := svc.Analyze(context.Background(), testImage(), "prompt")
	if err == nil {
		t.Fatal("Expected error on empty choices")
	}
}
