// Package catalog manages the set of curator-approved content items.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"curatorbot/internal/storage"
	logx "curatorbot/pkg/logx"
)

// Store is the persistence the catalog needs.
type Store interface {
	InsertItem(ctx context.Context, ref string) (storage.ContentItem, bool, error)
	GetItemByRef(ctx context.Context, ref string) (storage.ContentItem, error)
	ListItems(ctx context.Context, limit, offset int) ([]storage.ContentItem, error)
	CountItems(ctx context.Context) (int, error)
	DeleteItem(ctx context.Context, id int64) (bool, error)
}

// ExistenceChecker confirms that an item still exists at its upstream source.
type ExistenceChecker interface {
	ItemExists(ctx context.Context, ref string) (bool, error)
}

type Options struct {
	// CheckRate caps existence checks per second during reconcile (0 = unlimited).
	CheckRate  float64
	CheckBurst int
	// PageSize is the batch size used to walk the catalog.
	PageSize int
}

type Manager struct {
	store Store
	log   logx.Logger
	opts  Options
}

func New(store Store, log logx.Logger, opts Options) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 200
	}
	if opts.CheckBurst <= 0 {
		opts.CheckBurst = 1
	}
	return &Manager{store: store, log: log.With(logx.String("comp", "catalog")), opts: opts}
}

// AddItem inserts ref. Adding a ref that is already known is a no-op that
// returns the existing item with created=false.
func (m *Manager) AddItem(ctx context.Context, ref string) (storage.ContentItem, bool, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return storage.ContentItem{}, false, errors.New("catalog: empty ref")
	}
	it, created, err := m.store.InsertItem(ctx, ref)
	if err != nil {
		return storage.ContentItem{}, false, fmt.Errorf("catalog add: %w", err)
	}
	if created {
		m.log.Info("item added", logx.String("ref", ref), logx.ItemID(it.ID))
	}
	return it, created, nil
}

// Evict removes the item with ref along with all of its exposures.
// It reports whether an item was removed.
func (m *Manager) Evict(ctx context.Context, ref string) (bool, error) {
	it, err := m.store.GetItemByRef(ctx, strings.TrimSpace(ref))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("catalog evict: %w", err)
	}
	return m.EvictItem(ctx, it)
}

func (m *Manager) EvictItem(ctx context.Context, it storage.ContentItem) (bool, error) {
	ok, err := m.store.DeleteItem(ctx, it.ID)
	if err != nil {
		return false, fmt.Errorf("catalog evict: %w", err)
	}
	if ok {
		m.log.Info("item evicted", logx.String("ref", it.Ref), logx.ItemID(it.ID))
	}
	return ok, nil
}

func (m *Manager) List(ctx context.Context, limit, offset int) ([]storage.ContentItem, error) {
	return m.store.ListItems(ctx, limit, offset)
}

func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.store.CountItems(ctx)
}

// ReconcileReport summarizes one reconcile pass.
type ReconcileReport struct {
	Checked int
	Evicted int
	// Errors counts checks that failed; those items are kept.
	Errors int
	Took   time.Duration
}

// ReconcileStale asks checker about every known item and evicts the ones
// confirmed missing. Check errors leave the item in place. Only store
// failures and context cancellation are returned as errors.
func (m *Manager) ReconcileStale(ctx context.Context, checker ExistenceChecker) (ReconcileReport, error) {
	start := time.Now()
	var rep ReconcileReport
	if checker == nil {
		return rep, errors.New("catalog reconcile: nil checker")
	}

	var lim *rate.Limiter
	if m.opts.CheckRate > 0 {
		lim = rate.NewLimiter(rate.Limit(m.opts.CheckRate), m.opts.CheckBurst)
	}

	// Snapshot ids first so evictions do not shift the paging window.
	var items []storage.ContentItem
	for offset := 0; ; offset += m.opts.PageSize {
		page, err := m.store.ListItems(ctx, m.opts.PageSize, offset)
		if err != nil {
			return rep, fmt.Errorf("catalog reconcile: %w", err)
		}
		items = append(items, page...)
		if len(page) < m.opts.PageSize {
			break
		}
	}

	for _, it := range items {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				rep.Took = time.Since(start)
				return rep, err
			}
		}
		if err := ctx.Err(); err != nil {
			rep.Took = time.Since(start)
			return rep, err
		}
		rep.Checked++
		exists, err := checker.ItemExists(ctx, it.Ref)
		if err != nil {
			rep.Errors++
			m.log.Debug("existence check failed", logx.String("ref", it.Ref), logx.Err(err))
			continue
		}
		if exists {
			continue
		}
		ok, err := m.EvictItem(ctx, it)
		if err != nil {
			rep.Took = time.Since(start)
			return rep, err
		}
		if ok {
			rep.Evicted++
		}
	}
	rep.Took = time.Since(start)
	m.log.Info("reconcile finished",
		logx.Int("checked", rep.Checked),
		logx.Int("evicted", rep.Evicted),
		logx.Int("errors", rep.Errors),
		logx.Duration("took", rep.Took),
	)
	return rep, nil
}
