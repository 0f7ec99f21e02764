package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	duckDuckGoURL      = "https://html.duckduckgo.com/html/"
	duckDuckGoPageSize = 30
	defaultUserAgent   = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// DuckDuckGoProvider scrapes the DuckDuckGo HTML endpoint. It needs no API key.
type DuckDuckGoProvider struct {
	baseURL   string
	client    *http.Client
	userAgent string
}

func NewDuckDuckGoProvider(baseURL string, client *http.Client) *DuckDuckGoProvider {
	if baseURL == "" {
		baseURL = duckDuckGoURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &DuckDuckGoProvider{baseURL: baseURL, client: client, userAgent: defaultUserAgent}
}

func (d *DuckDuckGoProvider) Name() string { return string(ProviderTypeDuckDuckGo) }

func (d *DuckDuckGoProvider) Search(ctx context.Context, query string, page int) ([]Result, error) {
	if page < 1 {
		page = 1
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("kl", "wt-wt")
	if page > 1 {
		params.Set("s", strconv.Itoa((page-1)*duckDuckGoPageSize))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo parse: %w", err)
	}
	if doc.Find("form#challenge-form, .anomaly-modal__modal").Length() > 0 {
		return nil, ErrBlocked
	}

	var out []Result
	doc.Find(".result").Each(func(_ int, s *goquery.Selection) {
		a := s.Find("a.result__a").First()
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		link := duckDuckGoTarget(href)
		if link == "" {
			return
		}
		out = append(out, Result{
			Key:      link,
			MediaURL: link,
			Title:    strings.Join(strings.Fields(a.Text()), " "),
			Source:   d.Name(),
		})
	})
	return out, nil
}

// duckDuckGoTarget unwraps "/l/?uddg=<url>" redirect links.
func duckDuckGoTarget(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.HasPrefix(u.Path, "/l/") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
		return ""
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return u.String()
	}
	return ""
}
