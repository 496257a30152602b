package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"snaplens/internal/models"
)

// Service analyzes screenshot images using a vision-capable model behind an
// OpenAI-compatible chat completions endpoint.
type Service struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
}

// NewService creates a vision service for the given provider.
func NewService(baseURL, apiKey, model string) *Service {
	return &Service{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL:   baseURL,
		apiKey:    apiKey,
		model:     model,
		maxTokens: 800,
	}
}

// Analyze sends the image and prompt to the vision model and returns the
// model's text response. A non-200 response or timeout is a stage failure;
// the caller decides whether that aborts a submission or surfaces a
// user-visible message.
func (s *Service) Analyze(ctx context.Context, image models.ImagePayload, prompt string) (string, error) {
	base64Image := base64.StdEncoding.EncodeToString(image.Data)
	dataURL := fmt.Sprintf("data:%s;base64,%s", image.MediaType, base64Image)

	payload := map[string]interface{}{
		"model":      s.model,
		"max_tokens": s.maxTokens,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": []map[string]interface{}{
					{
						"type": "text",
						"text": prompt,
					},
					{
						"type": "image_url",
						"image_url": map[string]interface{}{
							"url": dataURL,
						},
					},
				},
			},
		},
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to serialize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/chat/completions", bytes.NewBuffer(jsonPayload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("[VISION] API error from %s: %d - %s", s.baseURL, resp.StatusCode, string(body))
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("no response from vision model")
	}

	content := apiResp.Choices[0].Message.Content
	log.Printf("[VISION] Image analyzed via %s (%d bytes in, %d chars out)",
		s.model, image.SizeBytes, len(content))

	return content, nil
}
