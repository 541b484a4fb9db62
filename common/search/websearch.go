package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"deepresearch.app/core/internal/research"
)

// HTTPAdapter is the default Search Adapter backend: an external web-search
// HTTP API, rate-limited through a shared RateLimiter.
type HTTPAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *RateLimiter
}

func NewHTTPAdapter(baseURL, apiKey string, limiter *RateLimiter) *HTTPAdapter {
	return &HTTPAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 20 * time.Second},
		limiter: limiter,
	}
}

type webSearchResponse struct {
	Results []struct {
		Title    string  `json:"title"`
		URL      string  `json:"url"`
		Content  string  `json:"content"`
		Score    float64 `json:"score"`
		ImageURL string  `json:"image_url"`
	} `json:"results"`
}

func (a *HTTPAdapter) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("search rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/search", nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	q := req.URL.Query()
	q.Set("q", query)
	q.Set("max_results", strconv.Itoa(maxResults))
	req.URL.RawQuery = q.Encode()
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search adapter returned status %d", resp.StatusCode)
	}

	var parsed webSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		result := Result{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
			Score:   r.Score,
		}
		if r.ImageURL != "" {
			result.Image = &research.Image{URL: r.ImageURL}
		}
		results = append(results, result)
	}
	return results, nil
}
