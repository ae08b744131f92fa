// Package search proxies web search results from Tavily for prompt
// augmentation. Calls are single-shot and best-effort: no retry policy.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

type Service struct {
	apiKey   string
	endpoint string
	http     *http.Client
}

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	IncludeImages bool   `json:"include_images"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
		URL     string `json:"url"`
	} `json:"results"`
}

func New(apiKey, endpoint string, hc *http.Client) *Service {
	return &Service{
		apiKey:   apiKey,
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     hc,
	}
}

// Search returns up to count results for the query. Without an API key it
// returns nothing rather than failing the caller.
func (s *Service) Search(ctx context.Context, query string, count int) ([]Result, error) {
	if s.apiKey == "" {
		log.Warn().Msg("search requested but TAVILY_API_KEY is not configured")
		return nil, nil
	}

	payload, err := json.Marshal(tavilyRequest{
		APIKey:     s.apiKey,
		Query:      query,
		MaxResults: count,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search provider returned status %d", resp.StatusCode)
	}

	var tavResp tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&tavResp); err != nil {
		return nil, err
	}

	results := make([]Result, 0, count)
	for _, item := range tavResp.Results {
		if len(results) == count {
			break
		}
		title := item.Title
		if title == "" {
			title = "Untitled"
		}
		results = append(results, Result{Title: title, Snippet: item.Content, URL: item.URL})
	}
	return results, nil
}

var searchKeywords = []string{
	"latest", "recent", "today", "current", "breaking", "news",
	"update", "launched", "released", "price", "cost", "weather",
	"stock", "score", "result", "statistics", "trend", "vs", "versus",
	"compare", "review", "2024", "2025", "this week", "this month",
}

var searchPatterns = []string{
	"what happened", "what's new", "tell me about", "who won",
}

// ShouldSearch decides heuristically whether a prompt likely needs fresh
// web context.
func ShouldSearch(query string) bool {
	lowered := strings.ToLower(query)
	for _, kw := range searchKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	for _, p := range searchPatterns {
		if strings.Contains(lowered, p) {
			return true
		}
	}
	return false
}
