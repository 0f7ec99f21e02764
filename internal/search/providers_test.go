package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const duckDuckGoPage = `<html><body>
<div class="result results_links"><div class="links_main">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fa.jpg&rut=x">A  cat</a>
</div></div>
<div class="result"><a class="result__a" href="https://example.com/b.jpg">B</a></div>
<div class="result"><a class="result__a" href="javascript:void(0)">bad</a></div>
</body></html>`

func TestDuckDuckGoProvider(t *testing.T) {
	var gotQuery, gotOffset string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotOffset = r.URL.Query().Get("s")
		_, _ = w.Write([]byte(duckDuckGoPage))
	}))
	defer srv.Close()

	p := NewDuckDuckGoProvider(srv.URL, srv.Client())
	res, err := p.Search(context.Background(), "cats", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if gotQuery != "cats" || gotOffset != "30" {
		t.Fatalf("query=%q offset=%q", gotQuery, gotOffset)
	}
	if len(res) != 2 {
		t.Fatalf("results = %+v", res)
	}
	if res[0].Key != "https://example.com/a.jpg" || res[0].Title != "A cat" {
		t.Fatalf("first result = %+v", res[0])
	}
}

func TestDuckDuckGoBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><form id="challenge-form"></form></html>`))
	}))
	defer srv.Close()

	_, err := NewDuckDuckGoProvider(srv.URL, srv.Client()).Search(context.Background(), "cats", 1)
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
}

func TestGoogleProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("searchType") != "image" || q.Get("start") != "11" || q.Get("key") != "k" || q.Get("cx") != "cx" {
			t.Errorf("unexpected params: %v", q)
		}
		_, _ = w.Write([]byte(`{"items":[{"title":"one","link":"https://i/1.png"},{"title":"none","link":""}]}`))
	}))
	defer srv.Close()

	res, err := NewGoogleProvider("k", "cx", srv.URL, srv.Client()).Search(context.Background(), "cats", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || res[0].MediaURL != "https://i/1.png" || res[0].Source != "google" {
		t.Fatalf("results = %+v", res)
	}
}

func TestGoogleProviderAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota"}}`))
	}))
	defer srv.Close()

	if _, err := NewGoogleProvider("k", "cx", srv.URL, srv.Client()).Search(context.Background(), "cats", 1); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSerpAPIProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("engine") != "google_images" || q.Get("ijn") != "1" {
			t.Errorf("unexpected params: %v", q)
		}
		_, _ = w.Write([]byte(`{"images_results":[{"original":"https://o/1.jpg"},{"thumbnail":"https://t/2.jpg"},{}]}`))
	}))
	defer srv.Close()

	res, err := NewSerpAPIProvider("k", srv.URL, srv.Client()).Search(context.Background(), "cats", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 2 || res[1].Key != "https://t/2.jpg" {
		t.Fatalf("results = %+v", res)
	}
}

func TestFactory(t *testing.T) {
	f := NewFactory(nil)
	tests := []struct {
		name string
		cfg  ProviderConfig
		err  error
	}{
		{"duckduckgo", ProviderConfig{Type: ProviderTypeDuckDuckGo}, nil},
		{"google missing key", ProviderConfig{Type: ProviderTypeGoogle}, ErrMissingAPIKey},
		{"google missing cx", ProviderConfig{Type: ProviderTypeGoogle, APIKey: "k"}, ErrMissingSearchID},
		{"serpapi", ProviderConfig{Type: ProviderTypeSerpAPI, APIKey: "k"}, nil},
		{"static", ProviderConfig{Type: ProviderTypeStatic, Static: map[int][]string{1: {"u"}}}, nil},
		{"unknown", ProviderConfig{Type: "bing"}, ErrUnsupportedProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := f.Create(tt.cfg)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("err = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil || p == nil {
				t.Fatalf("create: %v", err)
			}
		})
	}
}
