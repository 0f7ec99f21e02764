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

const (
	googleCSEURL      = "https://www.googleapis.com/customsearch/v1"
	googleCSEPageSize = 10
)

// GoogleProvider uses the Custom Search JSON API in image mode.
type GoogleProvider struct {
	apiKey   string
	searchID string
	baseURL  string
	client   *http.Client
}

func NewGoogleProvider(apiKey, searchID, baseURL string, client *http.Client) *GoogleProvider {
	if baseURL == "" {
		baseURL = googleCSEURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &GoogleProvider{apiKey: apiKey, searchID: searchID, baseURL: baseURL, client: client}
}

func (g *GoogleProvider) Name() string { return string(ProviderTypeGoogle) }

func (g *GoogleProvider) Search(ctx context.Context, query string, page int) ([]Result, error) {
	if page < 1 {
		page = 1
	}
	params := url.Values{}
	params.Set("key", g.apiKey)
	params.Set("cx", g.searchID)
	params.Set("q", query)
	params.Set("searchType", "image")
	params.Set("num", strconv.Itoa(googleCSEPageSize))
	params.Set("start", strconv.Itoa((page-1)*googleCSEPageSize+1))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("google request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		Items []struct {
			Title string `json:"title"`
			Link  string `json:"link"`
			Image struct {
				ContextLink string `json:"contextLink"`
			} `json:"image"`
		} `json:"items"`
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("google decode (status %d): %w", resp.StatusCode, err)
	}
	if body.Error.Code != 0 {
		return nil, fmt.Errorf("google api error (%d): %s", body.Error.Code, body.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google: status %d", resp.StatusCode)
	}

	out := make([]Result, 0, len(body.Items))
	for _, it := range body.Items {
		if it.Link == "" {
			continue
		}
		out = append(out, Result{Key: it.Link, MediaURL: it.Link, Title: it.Title, Source: g.Name()})
	}
	return out, nil
}
