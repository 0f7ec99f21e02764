// Package eventbus fans out in-process domain events (catalog changes,
// broadcasts, reconciles) to subscribers such as the audit recorder.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

type Kind string

const (
	ItemAdded         Kind = "item.added"
	ItemEvicted       Kind = "item.evicted"
	CatalogReconciled Kind = "catalog.reconciled"
	BroadcastFinished Kind = "broadcast.finished"
	ConfigReloaded    Kind = "config.reloaded"
)

// Event is a finished curator or system action. ActorID is 0 for actions
// the bot took on its own (scheduled reconcile, delivery-failure eviction).
type Event struct {
	Kind    Kind
	At      time.Time
	ActorID int64
	Target  string
	OK      int
	Fail    int
	Err     string
	Took    time.Duration
	Meta    map[string]any
}

// Bus delivers events without blocking the publisher. A subscriber whose
// buffer is full misses the event and the drop is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	dropped atomic.Uint64
}

func New() *Bus { return &Bus{subs: map[uint64]chan Event{}} }

func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a buffered channel and a func that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Dropped counts events lost to full subscriber buffers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }
