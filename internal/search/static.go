package search

import (
	"context"
	"sync"
)

// StaticProvider serves fixed results per page. It backs tests and the
// "static" provider type used for demos without network access.
type StaticProvider struct {
	name  string
	pages map[int][]Result
	err   error

	mu    sync.Mutex
	calls []int
}

func NewStaticProvider(name string, pages map[int][]Result) *StaticProvider {
	if name == "" {
		name = string(ProviderTypeStatic)
	}
	return &StaticProvider{name: name, pages: pages}
}

// WithError makes every call fail with err.
func (s *StaticProvider) WithError(err error) *StaticProvider {
	s.err = err
	return s
}

func (s *StaticProvider) Name() string { return s.name }

func (s *StaticProvider) Search(ctx context.Context, _ string, page int) ([]Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, page)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	src := s.pages[page]
	out := make([]Result, len(src))
	copy(out, src)
	return out, nil
}

// Calls returns the pages requested so far.
func (s *StaticProvider) Calls() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.calls))
	copy(out, s.calls)
	return out
}
