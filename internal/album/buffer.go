// Package album stages multi-item payloads a curator assembles before a
// broadcast. Entries live in memory only and expire after a fixed TTL.
package album

import (
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultTTL     = 600 * time.Second
	DefaultMaxSize = 256
	// MaxItems matches the platform's album size limit.
	MaxItems = 10
)

var stagedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "curator_album_items_staged_total",
	Help: "Items added to album staging.",
})

// Album is a staged, ordered list of item refs.
type Album struct {
	ID        string
	Refs      []string
	CreatedAt time.Time
}

type Buffer struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *Album]
	ttl   time.Duration
	now   func() time.Time
}

func New(maxSize int, ttl time.Duration) *Buffer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Buffer{
		cache: expirable.NewLRU[string, *Album](maxSize, nil, ttl),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Add appends ref to the album id, creating it on first use. Duplicate refs
// and refs beyond MaxItems are ignored. It returns the album size.
func (b *Buffer) Add(id, ref string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.getLocked(id)
	if !ok {
		a = &Album{ID: id, CreatedAt: b.now()}
	}
	if len(a.Refs) < MaxItems && !slices.Contains(a.Refs, ref) {
		a.Refs = append(a.Refs, ref)
		stagedTotal.Inc()
	}
	// Re-adding refreshes LRU order; expiry is still judged from CreatedAt.
	b.cache.Add(id, a)
	return len(a.Refs)
}

// Get returns a copy of the album if it exists and is younger than the TTL.
func (b *Buffer) Get(id string) (Album, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.getLocked(id)
	if !ok {
		return Album{}, false
	}
	return Album{ID: a.ID, Refs: slices.Clone(a.Refs), CreatedAt: a.CreatedAt}, true
}

// Take returns the album and removes it.
func (b *Buffer) Take(id string) (Album, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.getLocked(id)
	if !ok {
		return Album{}, false
	}
	b.cache.Remove(id)
	return *a, true
}

func (b *Buffer) Len() int {
	return b.cache.Len()
}

func (b *Buffer) getLocked(id string) (*Album, bool) {
	a, ok := b.cache.Get(id)
	if !ok {
		return nil, false
	}
	if b.now().Sub(a.CreatedAt) > b.ttl {
		b.cache.Remove(id)
		return nil, false
	}
	return a, true
}
