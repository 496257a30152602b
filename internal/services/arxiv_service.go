package services

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"snaplens/internal/models"
)

const defaultArxivAPIBase = "http://export.arxiv.org/api/query"

// ArxivService searches the arXiv Atom API for papers matching keyword
// terms. An empty result list is a valid, non-error outcome.
type ArxivService struct {
	apiBase    string
	httpClient *http.Client
	maxResults int
}

// NewArxivService creates a paper-search service.
func NewArxivService() *ArxivService {
	return &ArxivService{
		apiBase: defaultArxivAPIBase,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxResults: 5,
	}
}

// SetAPIBase overrides the query endpoint. Used by tests.
func (s *ArxivService) SetAPIBase(base string) {
	s.apiBase = base
}

// atomFeed mirrors the subset of the arXiv Atom response we consume.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string       `xml:"id"`
	Title     string       `xml:"title"`
	Published string       `xml:"published"`
	Authors   []atomAuthor `xml:"author"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

// Search queries arXiv for papers relevant to the given keywords, most
// relevant first. At most the first three keywords are used.
func (s *ArxivService) Search(ctx context.Context, keywords []string) ([]models.Paper, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	if len(keywords) > 3 {
		keywords = keywords[:3]
	}

	query := url.QueryEscape(strings.Join(keywords, " AND "))
	reqURL := fmt.Sprintf("%s?search_query=all:%s&start=0&max_results=%d&sortBy=relevance&sortOrder=descending",
		s.apiBase, query, s.maxResults)

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arXiv request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arXiv API error %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to parse Atom feed: %w", err)
	}

	papers := make([]models.Paper, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		paper := models.Paper{
			ID:    strings.TrimSpace(entry.ID),
			Title: strings.Join(strings.Fields(entry.Title), " "),
		}
		for _, author := range entry.Authors {
			paper.Authors = append(paper.Authors, author.Name)
		}
		// Atom timestamps are RFC3339; keep the date part only
		if len(entry.Published) >= 10 {
			paper.Published = entry.Published[:10]
		}
		papers = append(papers, paper)
	}

	log.Printf("🔬 [ARXIV] Found %d paper(s) for keywords %v", len(papers), keywords)
	return papers, nil
}
