package search

import (
	"fmt"
	"net/http"
	"strings"
)

// ProviderConfig configures one provider instance.
type ProviderConfig struct {
	Type     ProviderType
	Name     string
	APIKey   string
	SearchID string
	BaseURL  string
	// Static results for ProviderTypeStatic, keyed by page.
	Static map[int][]string
}

// Factory builds providers from configuration.
type Factory struct {
	client *http.Client
}

func NewFactory(client *http.Client) *Factory {
	return &Factory{client: client}
}

func (f *Factory) Create(cfg ProviderConfig) (Provider, error) {
	switch ProviderType(strings.ToLower(string(cfg.Type))) {
	case ProviderTypeDuckDuckGo:
		return NewDuckDuckGoProvider(cfg.BaseURL, f.client), nil
	case ProviderTypeGoogle:
		if cfg.APIKey == "" {
			return nil, ErrMissingAPIKey
		}
		if cfg.SearchID == "" {
			return nil, ErrMissingSearchID
		}
		return NewGoogleProvider(cfg.APIKey, cfg.SearchID, cfg.BaseURL, f.client), nil
	case ProviderTypeSerpAPI:
		if cfg.APIKey == "" {
			return nil, ErrMissingAPIKey
		}
		return NewSerpAPIProvider(cfg.APIKey, cfg.BaseURL, f.client), nil
	case ProviderTypeStatic:
		pages := make(map[int][]Result, len(cfg.Static))
		for page, urls := range cfg.Static {
			for _, u := range urls {
				pages[page] = append(pages[page], Result{Key: u, MediaURL: u})
			}
		}
		return NewStaticProvider(cfg.Name, pages), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Type)
	}
}

// CreateAll builds every configured provider, stopping at the first error.
func (f *Factory) CreateAll(cfgs []ProviderConfig) ([]Provider, error) {
	out := make([]Provider, 0, len(cfgs))
	for _, c := range cfgs {
		p, err := f.Create(c)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", c.Type, err)
		}
		out = append(out, p)
	}
	return out, nil
}
