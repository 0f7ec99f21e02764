package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"curatorbot/internal/cooldown"
	"curatorbot/internal/search"
	kit "curatorbot/internal/transport"
	"curatorbot/internal/transport/telegram/router"
	logx "curatorbot/pkg/logx"
)

func (b *Bot) handleSearch(ctx context.Context, req *router.Request) error {
	q := strings.TrimSpace(req.ArgText())
	if q == "" {
		return b.promptSearch(ctx, req)
	}
	return b.runSearch(ctx, req, q)
}

func (b *Bot) promptSearch(ctx context.Context, req *router.Request) error {
	b.pending.Add(req.FromID, modeSearch)
	req.Reply(ctx, "What should I search for? Send a word or phrase, or /cancel.", nil)
	return nil
}

func (b *Bot) handleCancel(ctx context.Context, req *router.Request) error {
	if b.pending.Remove(req.FromID) {
		req.Reply(ctx, "Cancelled.", nil)
		return nil
	}
	req.Reply(ctx, "Nothing to cancel.", nil)
	return nil
}

func (b *Bot) runSearch(ctx context.Context, req *router.Request, query string) error {
	cfg := b.settings()
	if len(cfg.Providers) == 0 {
		req.Reply(ctx, "Search is not available right now.", nil)
		return nil
	}
	if !b.allow(ctx, req, cooldown.ActionSearch, cfg.SearchCooldown) {
		return nil
	}

	batch, err := b.deps.Search.Search(ctx, req.FromID, query, cfg.Providers)
	if errors.Is(err, search.ErrEmptyQuery) {
		return b.promptSearch(ctx, req)
	}
	if err != nil {
		req.Reply(ctx, msgFailed, nil)
		return err
	}

	results := batch.Results
	if len(results) > cfg.DisplayLimit {
		results = results[:cfg.DisplayLimit]
	}
	if len(results) == 0 {
		text := fmt.Sprintf("No new results for %q.", batch.Query)
		if len(batch.Failed) == len(cfg.Providers) {
			text = "Search sources are not responding, please try again later."
		}
		req.Reply(ctx, text, nil)
		return nil
	}

	urls := make([]string, len(results))
	for i, r := range results {
		urls[i] = r.MediaURL
	}
	if err := req.Adapter.SendMedia(ctx, req.Chat, urls); err != nil {
		req.Logger.Info("media send failed, falling back to links", logx.Err(err))
		req.Reply(ctx, linksText(batch.Query, results), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	}
	if len(batch.Failed) > 0 {
		req.Reply(ctx, "Some sources did not respond: "+strings.Join(batch.Failed, ", "), nil)
	}
	return nil
}

func linksText(query string, results []search.Result) string {
	var sb strings.Builder
	sb.WriteString("Results for <b>" + html.EscapeString(query) + "</b>:\n")
	for i, r := range results {
		label := r.Title
		if label == "" {
			label = r.MediaURL
		}
		fmt.Fprintf(&sb, "%d. <a href=\"%s\">%s</a>\n", i+1, html.EscapeString(r.MediaURL), html.EscapeString(label))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Fallback handles non-command messages: album staging for curators and
// answers to a pending prompt.
func (b *Bot) Fallback(ctx context.Context, req *router.Request) error {
	msg := req.Message()
	if msg == nil {
		return nil
	}
	if req.IsOwner && msg.HasMedia {
		b.stage(ctx, req, msg)
		return nil
	}
	if mode, ok := b.pending.Get(req.FromID); ok && mode == modeSearch {
		if q := strings.TrimSpace(msg.Text); q != "" {
			b.pending.Remove(req.FromID)
			return b.runSearch(ctx, req, q)
		}
	}
	if msg.IsPrivate && strings.TrimSpace(msg.Text) != "" {
		req.Reply(ctx, "Use /random, /search <query> or /help.", nil)
	}
	return nil
}
