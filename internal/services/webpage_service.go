package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/markusmobius/go-trafilatura"
	cache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"snaplens/internal/models"
)

const (
	webpageMaxBodySize = 10 * 1024 * 1024
	webpageMaxExcerpt  = 1500
)

// WebpageService fetches and summarizes the main content of a webpage
// detected in a screenshot. A failed fetch is a normal, reportable outcome
// carried in the result, never a process-level error.
type WebpageService struct {
	client         *WebpageClient
	robotsChecker  *RobotsChecker
	contentCache   *cache.Cache
	domainLimiters sync.Map // map[string]*rate.Limiter
	allowPrivate   bool     // tests only
}

// NewWebpageService creates a webpage fetch service.
func NewWebpageService() *WebpageService {
	return &WebpageService{
		client:        NewWebpageClient(webpageMaxBodySize),
		robotsChecker: NewRobotsChecker(webpageUserAgent),
		contentCache:  cache.New(1*time.Hour, 10*time.Minute),
	}
}

// Fetch retrieves the page at rawURL and extracts its title and an excerpt
// of the main content. The https scheme is assumed when none is given.
func (s *WebpageService) Fetch(ctx context.Context, rawURL string) models.WebpageResult {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	result := models.WebpageResult{URL: rawURL}

	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Host == "" {
		result.Error = "invalid URL"
		return result
	}
	if !s.allowPrivate {
		if err := validateTargetHost(parsedURL.Hostname()); err != nil {
			result.Error = err.Error()
			return result
		}
	}

	if cached, found := s.contentCache.Get(rawURL); found {
		log.Printf("✅ [WEBPAGE] Cache hit for %s", rawURL)
		return cached.(models.WebpageResult)
	}

	allowed, err := s.robotsChecker.CanFetch(ctx, rawURL)
	if err == nil && !allowed {
		result.Error = "blocked by robots.txt"
		return result
	}

	if err := s.waitDomain(ctx, parsedURL.Host); err != nil {
		result.Error = "rate limit wait cancelled"
		return result
	}

	resp, err := s.client.Get(ctx, rawURL)
	if err != nil {
		log.Printf("❌ [WEBPAGE] Failed to fetch %s: %v", rawURL, err)
		result.Error = fmt.Sprintf("fetch failed: %v", err)
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return result
	}

	body, err := s.client.ReadBody(resp.Body)
	if err != nil {
		result.Error = fmt.Sprintf("read failed: %v", err)
		return result
	}

	extracted, err := trafilatura.Extract(bytes.NewReader(body), trafilatura.Options{
		OriginalURL: parsedURL,
	})
	if err != nil || extracted == nil {
		result.Error = "no content extracted from page"
		return result
	}

	result.Title = extracted.Metadata.Title
	result.Excerpt = extracted.ContentText
	if len(result.Excerpt) > webpageMaxExcerpt {
		result.Excerpt = result.Excerpt[:webpageMaxExcerpt] + "…"
	}
	result.Success = true

	s.contentCache.Set(rawURL, result, cache.DefaultExpiration)
	log.Printf("✅ [WEBPAGE] Fetched %s (title: %q, %d chars)", rawURL, result.Title, len(result.Excerpt))
	return result
}

// waitDomain applies a per-domain rate limit of 1 req/s.
func (s *WebpageService) waitDomain(ctx context.Context, domain string) error {
	limiter, _ := s.domainLimiters.LoadOrStore(domain, rate.NewLimiter(rate.Limit(1), 2))
	return limiter.(*rate.Limiter).Wait(ctx)
}

// validateTargetHost blocks localhost and private ranges (SSRF protection).
func validateTargetHost(hostname string) error {
	hostname = strings.ToLower(hostname)

	if hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1" {
		return fmt.Errorf("localhost URLs are not allowed")
	}

	privateRanges := []string{
		"192.168.", "10.", "172.16.", "172.17.", "172.18.", "172.19.",
		"172.20.", "172.21.", "172.22.", "172.23.", "172.24.", "172.25.",
		"172.26.", "172.27.", "172.28.", "172.29.", "172.30.", "172.31.",
		"169.254.",
		"fd",
	}
	for _, prefix := range privateRanges {
		if strings.HasPrefix(hostname, prefix) {
			return fmt.Errorf("private IP addresses are not allowed")
		}
	}

	return nil
}
