package bot

import (
	"context"
	"fmt"
	"math"
	"time"

	"curatorbot/internal/cooldown"
	"curatorbot/internal/eventbus"
	"curatorbot/internal/exposure"
	"curatorbot/internal/storage"
	kit "curatorbot/internal/transport"
	"curatorbot/internal/transport/telegram/router"
	logx "curatorbot/pkg/logx"
)

const (
	msgWelcome   = "Welcome! Pick an option below or use /help."
	msgExhausted = "You have seen everything in the catalog. Check back later for new items."
	msgFailed    = "Something went wrong, please try again later."
)

func (b *Bot) handleStart(ctx context.Context, req *router.Request) error {
	b.sendWelcome(ctx, req)
	return nil
}

func (b *Bot) sendWelcome(ctx context.Context, req *router.Request) {
	req.Reply(ctx, msgWelcome, &kit.SendOptions{Buttons: [][]kit.Button{
		{{Text: "Random", Data: "menu:random"}, {Text: "Search", Data: "menu:search"}},
		{{Text: "Help", Data: "menu:help"}},
	}})
}

func (b *Bot) handleMenu(ctx context.Context, req *router.Request) error {
	switch req.Payload {
	case "random":
		return b.handleRandom(ctx, req)
	case "search":
		return b.promptSearch(ctx, req)
	default:
		req.Reply(ctx, "Use /random for unseen items or /search <query> to look for images.", nil)
		return nil
	}
}

// allow applies the per-user cooldown and tells the user how long to wait
// when denied.
func (b *Bot) allow(ctx context.Context, req *router.Request, action string, interval time.Duration) bool {
	if req.IsOwner {
		return true
	}
	d, err := b.deps.Cooldown.TryAcquire(ctx, req.FromID, action, interval)
	if err != nil {
		req.Logger.Error("cooldown check failed", logx.Err(err))
		req.Reply(ctx, msgFailed, nil)
		return false
	}
	if !d.Allowed {
		req.Reply(ctx, waitMessage(d.Remaining), nil)
		return false
	}
	return true
}

func waitMessage(remaining time.Duration) string {
	secs := int(math.Ceil(remaining.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("Please wait %d seconds before making another request.", secs)
}

func (b *Bot) handleRandom(ctx context.Context, req *router.Request) error {
	cfg := b.settings()
	if !b.allow(ctx, req, cooldown.ActionRandom, cfg.RandomCooldown) {
		return nil
	}
	items, err := b.deps.Tracker.PickUnseen(ctx, req.FromID, cfg.BatchSize)
	if err != nil {
		req.Reply(ctx, msgFailed, nil)
		return err
	}
	if len(items) == 0 {
		req.Reply(ctx, msgExhausted, nil)
		return nil
	}

	// Reservations of items not yet handled are dropped on every exit path.
	rest := items
	defer func() { b.release(ctx, req, rest) }()

	delivered := 0
	for len(rest) > 0 {
		it := rest[0]
		sendErr := req.Adapter.SendItem(ctx, req.Chat, it.Ref)
		switch {
		case sendErr == nil:
			rest = rest[1:]
			if _, err := b.deps.Tracker.ConfirmDelivery(ctx, req.FromID, it, true); err != nil {
				return err
			}
			delivered++
		case kit.IsItemGone(sendErr):
			rest = rest[1:]
			out, err := b.deps.Tracker.ConfirmDelivery(ctx, req.FromID, it, false)
			if err != nil {
				return err
			}
			req.Logger.Info("item undeliverable", logx.String("ref", it.Ref), logx.String("outcome", out.String()))
			if out == exposure.Evicted {
				b.publish(eventbus.Event{Kind: eventbus.ItemEvicted, Target: it.Ref, OK: 1, Meta: map[string]any{"reason": "delivery_failed"}})
			}
		case kit.IsUnreachable(sendErr) || ctx.Err() != nil:
			req.Logger.Info("delivery stopped", logx.Int("pending", len(rest)), logx.Err(sendErr))
			return nil
		default:
			rest = rest[1:]
			b.release(ctx, req, []storage.ContentItem{it})
			req.Logger.Warn("send item failed", logx.String("ref", it.Ref), logx.Err(sendErr))
		}
	}
	if delivered == 0 {
		req.Reply(ctx, "Those items are no longer available, please try again later.", nil)
	}
	return nil
}

// release drops reservations for items that were never delivered. It runs
// detached from ctx so a timed-out request still cleans up.
func (b *Bot) release(ctx context.Context, req *router.Request, items []storage.ContentItem) {
	if len(items) == 0 {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for _, it := range items {
		if err := b.deps.Tracker.Release(rctx, req.FromID, it); err != nil {
			req.Logger.Warn("release failed", logx.ItemID(it.ID), logx.Err(err))
		}
	}
}
