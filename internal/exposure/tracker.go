// Package exposure tracks which catalog items each user has received and
// picks items a user has not seen yet.
package exposure

import (
	"context"
	"errors"
	"fmt"

	"curatorbot/internal/storage"
	logx "curatorbot/pkg/logx"
)

// Store is the persistence the tracker needs.
type Store interface {
	SampleUnseen(ctx context.Context, userID int64, n int) ([]storage.ContentItem, error)
	ReserveUnseen(ctx context.Context, userID int64, n int) ([]storage.ContentItem, error)
	InsertExposure(ctx context.Context, userID, itemID int64) (bool, error)
	DeleteExposure(ctx context.Context, userID, itemID int64) error
	CountExposures(ctx context.Context, userID int64) (int, error)
	CountUnseen(ctx context.Context, userID int64) (int, error)
	RecordItemFailure(ctx context.Context, itemID int64) (int, error)
	ResetItemFailures(ctx context.Context, itemID int64) error
}

// Evictor removes an item from the catalog.
type Evictor interface {
	EvictItem(ctx context.Context, it storage.ContentItem) (bool, error)
}

type Options struct {
	// ReserveOnPick writes provisional exposures atomically with selection.
	ReserveOnPick bool
	// EvictAfterFailures is the number of failed deliveries before an item is
	// evicted. Values below 2 evict on the first failure.
	EvictAfterFailures int
}

// Outcome describes what ConfirmDelivery did.
type Outcome int

const (
	// Recorded: a new exposure was written.
	Recorded Outcome = iota
	// AlreadyRecorded: the exposure existed (retried confirmation or reservation).
	AlreadyRecorded
	// Evicted: delivery failed and the item was removed from the catalog.
	Evicted
	// FailureCounted: delivery failed, the item stays until the threshold is reached.
	FailureCounted
)

func (o Outcome) String() string {
	switch o {
	case Recorded:
		return "recorded"
	case AlreadyRecorded:
		return "already_recorded"
	case Evicted:
		return "evicted"
	case FailureCounted:
		return "failure_counted"
	default:
		return "unknown"
	}
}

type Tracker struct {
	store   Store
	evictor Evictor
	opts    Options
	log     logx.Logger
}

func New(store Store, evictor Evictor, log logx.Logger, opts Options) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{store: store, evictor: evictor, opts: opts, log: log.With(logx.String("comp", "exposure"))}
}

// PickUnseen returns a uniform random sample of at most count items the user
// has not received. An empty result means the user has seen everything.
//
// Without reserve mode the pick and the later ConfirmDelivery are not atomic:
// two concurrent picks for the same user may return the same item. The
// exposure insert is idempotent so tracked state never double counts.
func (t *Tracker) PickUnseen(ctx context.Context, userID int64, count int) ([]storage.ContentItem, error) {
	if count <= 0 {
		return nil, nil
	}
	var (
		items []storage.ContentItem
		err   error
	)
	if t.opts.ReserveOnPick {
		items, err = t.store.ReserveUnseen(ctx, userID, count)
	} else {
		items, err = t.store.SampleUnseen(ctx, userID, count)
	}
	if err != nil {
		return nil, fmt.Errorf("pick unseen: %w", err)
	}
	return items, nil
}

// ConfirmDelivery records the result of sending it to the user.
//
// delivered=true writes the exposure (idempotently). delivered=false means the
// upstream item could not be delivered: no exposure is kept and the item is
// evicted, immediately or once EvictAfterFailures is reached.
func (t *Tracker) ConfirmDelivery(ctx context.Context, userID int64, it storage.ContentItem, delivered bool) (Outcome, error) {
	if delivered {
		inserted, err := t.store.InsertExposure(ctx, userID, it.ID)
		if err != nil {
			return 0, fmt.Errorf("confirm delivery: %w", err)
		}
		if it.DeliveryFailures > 0 {
			if err := t.store.ResetItemFailures(ctx, it.ID); err != nil {
				t.log.Warn("reset failures failed", logx.ItemID(it.ID), logx.Err(err))
			}
		}
		if inserted {
			return Recorded, nil
		}
		return AlreadyRecorded, nil
	}

	if t.opts.ReserveOnPick {
		if err := t.store.DeleteExposure(ctx, userID, it.ID); err != nil {
			return 0, fmt.Errorf("release reservation: %w", err)
		}
	}

	if t.opts.EvictAfterFailures > 1 {
		n, err := t.store.RecordItemFailure(ctx, it.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return Evicted, nil
			}
			return 0, fmt.Errorf("record failure: %w", err)
		}
		if n < t.opts.EvictAfterFailures {
			t.log.Debug("delivery failure counted", logx.ItemID(it.ID), logx.Int("failures", n))
			return FailureCounted, nil
		}
	}

	if _, err := t.evictor.EvictItem(ctx, it); err != nil {
		return 0, err
	}
	return Evicted, nil
}

// Release drops a reservation made by PickUnseen without touching the item.
// Used when delivery failed for a reason unrelated to the item itself.
func (t *Tracker) Release(ctx context.Context, userID int64, it storage.ContentItem) error {
	if !t.opts.ReserveOnPick {
		return nil
	}
	if err := t.store.DeleteExposure(ctx, userID, it.ID); err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	return nil
}

// Seen returns how many catalog items the user has received.
func (t *Tracker) Seen(ctx context.Context, userID int64) (int, error) {
	return t.store.CountExposures(ctx, userID)
}

// Unseen returns the size of the user's unseen set.
func (t *Tracker) Unseen(ctx context.Context, userID int64) (int, error) {
	return t.store.CountUnseen(ctx, userID)
}
