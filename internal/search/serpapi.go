package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const serpAPIURL = "https://serpapi.com/search.json"

// SerpAPIProvider queries the google_images engine of SerpAPI.
type SerpAPIProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewSerpAPIProvider(apiKey, baseURL string, client *http.Client) *SerpAPIProvider {
	if baseURL == "" {
		baseURL = serpAPIURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SerpAPIProvider{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (s *SerpAPIProvider) Name() string { return string(ProviderTypeSerpAPI) }

func (s *SerpAPIProvider) Search(ctx context.Context, query string, page int) ([]Result, error) {
	if page < 1 {
		page = 1
	}
	params := url.Values{}
	params.Set("engine", "google_images")
	params.Set("q", query)
	params.Set("api_key", s.apiKey)
	params.Set("ijn", strconv.Itoa(page-1))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("serpapi request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serpapi: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		ImagesResults []struct {
			Title     string `json:"title"`
			Original  string `json:"original"`
			Thumbnail string `json:"thumbnail"`
		} `json:"images_results"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("serpapi decode (status %d): %w", resp.StatusCode, err)
	}
	if body.Error != "" {
		return nil, fmt.Errorf("serpapi error: %s", body.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serpapi: status %d", resp.StatusCode)
	}

	out := make([]Result, 0, len(body.ImagesResults))
	for _, it := range body.ImagesResults {
		media := it.Original
		if media == "" {
			media = it.Thumbnail
		}
		if media == "" {
			continue
		}
		out = append(out, Result{Key: media, MediaURL: media, Title: it.Title, Source: s.Name()})
	}
	return out, nil
}
