// Package cooldown limits how often a user may trigger an action class.
package cooldown

import (
	"context"
	"fmt"
	"time"

	"curatorbot/internal/storage"
)

// Action classes gated by the bot.
const (
	ActionRandom = "random"
	ActionSearch = "search"
)

// Decision is the outcome of a gate check. Remaining is zero when Allowed.
type Decision struct {
	Allowed   bool
	Remaining time.Duration
}

// Store is the persistence the gate needs.
type Store interface {
	TryAcquireCooldown(ctx context.Context, userID int64, action string, now time.Time, minInterval time.Duration) (bool, time.Time, error)
	PruneCooldowns(ctx context.Context, cutoff time.Time) (int64, error)
}

type Gate struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Gate {
	return &Gate{store: store, now: time.Now}
}

// TryAcquire records an attempt for (user, action) if at least minInterval has
// passed since the last allowed one. The check and update are one atomic
// store operation, so concurrent attempts cannot both pass.
func (g *Gate) TryAcquire(ctx context.Context, userID int64, action string, minInterval time.Duration) (Decision, error) {
	if minInterval <= 0 {
		return Decision{Allowed: true}, nil
	}
	now := g.now()
	ok, last, err := g.store.TryAcquireCooldown(ctx, userID, action, now, minInterval)
	if err != nil {
		return Decision{}, fmt.Errorf("cooldown %s: %w", action, err)
	}
	if ok {
		return Decision{Allowed: true}, nil
	}
	remaining := last.Add(minInterval).Sub(now)
	if remaining <= 0 {
		// Clock skew between the statement and this read; report the minimum wait.
		remaining = time.Second
	}
	return Decision{Remaining: remaining}, nil
}

// Prune drops entries older than olderThan. Pass every interval the gate
// enforces: the cutoff is raised to the longest of them, since an entry
// younger than its interval still denies requests.
func (g *Gate) Prune(ctx context.Context, olderThan time.Duration, intervals ...time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	for _, iv := range intervals {
		if iv > olderThan {
			olderThan = iv
		}
	}
	return g.store.PruneCooldowns(ctx, g.now().Add(-olderThan))
}

var _ Store = (*storage.Store)(nil)
