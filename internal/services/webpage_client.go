package services

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const webpageUserAgent = "Snaplens-Bot/1.0 (+https://snaplens.example.com/bot)"

// WebpageClient wraps an HTTP client tuned for fetching pages referenced
// by screenshots.
type WebpageClient struct {
	httpClient  *http.Client
	userAgent   string
	maxBodySize int64
}

// NewWebpageClient creates a webpage fetch client with a bounded body size.
func NewWebpageClient(maxBodySize int64) *WebpageClient {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &WebpageClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   15 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects (max 10)")
				}
				return nil
			},
		},
		userAgent:   webpageUserAgent,
		maxBodySize: maxBodySize,
	}
}

// Get fetches a URL with browser-like headers.
func (c *WebpageClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	return c.httpClient.Do(req)
}

// ReadBody reads a response body up to the configured ceiling.
func (c *WebpageClient) ReadBody(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, c.maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > c.maxBodySize {
		return nil, fmt.Errorf("response body exceeds %d bytes", c.maxBodySize)
	}
	return data, nil
}
