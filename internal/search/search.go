// Package search fans a query out to several image search providers,
// merges their results and filters out anything a user was already shown
// for the same query.
package search

import (
	"context"
	"errors"
)

// Provider is one search backend. Implementations must be safe for
// concurrent use. page starts at 1; each provider maps it onto its own
// offset scheme.
type Provider interface {
	Search(ctx context.Context, query string, page int) ([]Result, error)
	Name() string
}

// Result is a single provider hit. Key identifies the result for dedup
// (normally the canonical URL). MediaURL is what gets delivered.
type Result struct {
	Key      string `json:"key"`
	MediaURL string `json:"media_url"`
	Title    string `json:"title,omitempty"`
	Source   string `json:"source"`
}

// ProviderType selects a provider implementation in the Factory.
type ProviderType string

const (
	ProviderTypeDuckDuckGo ProviderType = "duckduckgo"
	ProviderTypeGoogle     ProviderType = "google"
	ProviderTypeSerpAPI    ProviderType = "serpapi"
	ProviderTypeStatic     ProviderType = "static"
)

var (
	ErrMissingAPIKey       = errors.New("API key is required")
	ErrMissingSearchID     = errors.New("search ID is required")
	ErrUnsupportedProvider = errors.New("unsupported search provider")
	ErrEmptyQuery          = errors.New("empty query")
	ErrBlocked             = errors.New("search provider blocked the request")
)
