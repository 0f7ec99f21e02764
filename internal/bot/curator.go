package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"curatorbot/internal/catalog"
	"curatorbot/internal/eventbus"
	kit "curatorbot/internal/transport"
	"curatorbot/internal/transport/telegram/router"
	logx "curatorbot/pkg/logx"
)

// refsFromRequest collects item refs from the arguments, or from the replied
// message when there are none.
func (b *Bot) refsFromRequest(ctx context.Context, req *router.Request) ([]string, []string) {
	var refs, bad []string
	for _, raw := range req.Args {
		ref, err := b.resolveRef(ctx, req, raw)
		if err != nil {
			bad = append(bad, raw)
			continue
		}
		refs = append(refs, ref)
	}
	if len(req.Args) == 0 {
		if msg := req.Message(); msg != nil && msg.ReplyToID != 0 {
			refs = append(refs, kit.ItemRef{ChatID: msg.ReplyToChatID, MessageID: msg.ReplyToID}.String())
		}
	}
	return refs, bad
}

func (b *Bot) resolveRef(ctx context.Context, req *router.Request, raw string) (string, error) {
	ref, err := kit.ParseItemRef(raw)
	if err != nil {
		return "", err
	}
	if ref.Username != "" {
		id, err := req.Adapter.ResolveChat(ctx, ref.Username)
		if err != nil {
			return "", err
		}
		ref.ChatID = id
	}
	if !ref.Resolved() {
		return "", kit.ErrBadRef
	}
	return ref.String(), nil
}

func (b *Bot) handleAdd(ctx context.Context, req *router.Request) error {
	refs, bad := b.refsFromRequest(ctx, req)
	if len(refs) == 0 && len(bad) == 0 {
		req.Reply(ctx, "Usage: /add <link|chat_id:msg_id> ... or reply /add to a message.", nil)
		return nil
	}
	added, known := 0, 0
	for _, ref := range refs {
		_, created, err := b.deps.Catalog.AddItem(ctx, ref)
		if err != nil {
			req.Reply(ctx, msgFailed, nil)
			return err
		}
		if !created {
			known++
			continue
		}
		added++
		b.publish(eventbus.Event{Kind: eventbus.ItemAdded, ActorID: req.FromID, Target: ref, OK: 1})
	}
	req.Reply(ctx, countLine(added, known, bad, "added", "already in catalog"), nil)
	return nil
}

func (b *Bot) handleEvict(ctx context.Context, req *router.Request) error {
	refs, bad := b.refsFromRequest(ctx, req)
	if len(refs) == 0 && len(bad) == 0 {
		req.Reply(ctx, "Usage: /evict <link|chat_id:msg_id> ...", nil)
		return nil
	}
	removed, unknown := 0, 0
	for _, ref := range refs {
		ok, err := b.deps.Catalog.Evict(ctx, ref)
		if err != nil {
			req.Reply(ctx, msgFailed, nil)
			return err
		}
		if !ok {
			unknown++
			continue
		}
		removed++
		b.publish(eventbus.Event{Kind: eventbus.ItemEvicted, ActorID: req.FromID, Target: ref, OK: 1, Meta: map[string]any{"reason": "manual"}})
	}
	req.Reply(ctx, countLine(removed, unknown, bad, "removed", "not in catalog"), nil)
	return nil
}

func countLine(done, skipped int, bad []string, doneLabel, skippedLabel string) string {
	line := fmt.Sprintf("%d %s, %d %s.", done, doneLabel, skipped, skippedLabel)
	if len(bad) > 0 {
		line += "\nUnrecognized: " + strings.Join(bad, ", ")
	}
	return line
}

func (b *Bot) handleReconcile(ctx context.Context, req *router.Request) error {
	req.Reply(ctx, "Checking catalog items...", nil)
	rep, err := b.Reconcile(ctx, req.Adapter, req.FromID)
	if err != nil {
		req.Reply(ctx, "Reconcile stopped: "+err.Error(), nil)
		return err
	}
	req.Reply(ctx, fmt.Sprintf("Checked %d items, evicted %d, %d checks failed (%s).",
		rep.Checked, rep.Evicted, rep.Errors, rep.Took.Round(time.Millisecond)), nil)
	return nil
}

// Reconcile evicts catalog items the checker reports missing and publishes
// the report. actor is 0 for scheduled runs.
func (b *Bot) Reconcile(ctx context.Context, checker catalog.ExistenceChecker, actor int64) (catalog.ReconcileReport, error) {
	rep, err := b.deps.Catalog.ReconcileStale(ctx, checker)
	e := eventbus.Event{
		Kind:    eventbus.CatalogReconciled,
		ActorID: actor,
		OK:      rep.Checked - rep.Evicted,
		Fail:    rep.Evicted,
		Took:    rep.Took,
		Meta:    map[string]any{"checked": rep.Checked, "check_errors": rep.Errors},
	}
	if err != nil {
		e.Err = err.Error()
	}
	b.publish(e)
	return rep, err
}

func (b *Bot) handleStats(ctx context.Context, req *router.Request) error {
	users, err := b.deps.Users.CountUsers(ctx)
	if err != nil {
		req.Reply(ctx, msgFailed, nil)
		return err
	}
	items, err := b.deps.Catalog.Count(ctx)
	if err != nil {
		req.Reply(ctx, msgFailed, nil)
		return err
	}
	seen, err := b.deps.Tracker.Seen(ctx, req.FromID)
	if err != nil {
		req.Logger.Warn("seen count failed", logx.Err(err))
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Users: %d\n", users)
	fmt.Fprintf(&sb, "Catalog items: %d\n", items)
	fmt.Fprintf(&sb, "Seen by you: %d\n", seen)
	if b.deps.Albums != nil {
		fmt.Fprintf(&sb, "Staged albums: %d", b.deps.Albums.Len())
	}
	req.Reply(ctx, strings.TrimRight(sb.String(), "\n"), nil)
	return nil
}

func (b *Bot) handleStatus(ctx context.Context, req *router.Request) error {
	var sb strings.Builder
	if b.deps.Tasks != nil {
		sb.WriteString("Tasks:\n")
		for _, t := range b.deps.Tasks() {
			fmt.Fprintf(&sb, "- %s running=%d restarts=%d panics=%d", t.Name, t.Running, t.Restarts, t.Panics)
			if t.LastErr != "" {
				sb.WriteString(" err=" + t.LastErr)
			}
			sb.WriteString("\n")
		}
	}
	if b.deps.Jobs != nil {
		sb.WriteString("Jobs:\n")
		for _, j := range b.deps.Jobs() {
			fmt.Fprintf(&sb, "- %s (%s) next=%s", j.Name, j.Schedule, formatTime(j.Next))
			if !j.LastRun.IsZero() {
				sb.WriteString(" last=" + formatTime(j.LastRun))
			}
			if j.LastErr != "" {
				sb.WriteString(" err=" + j.LastErr)
			}
			sb.WriteString("\n")
		}
	}
	if sb.Len() == 0 {
		sb.WriteString("No runtime information.")
	}
	req.Reply(ctx, strings.TrimRight(sb.String(), "\n"), nil)
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

// stage keeps curator media-group messages so a later /broadcast reply can
// send the whole album.
func (b *Bot) stage(ctx context.Context, req *router.Request, msg *kit.Message) {
	if msg.AlbumID == "" || b.deps.Albums == nil {
		req.Reply(ctx, "Reply /broadcast to this message to send it to everyone, or /add to catalog it.", nil)
		return
	}
	ref := kit.ItemRef{ChatID: msg.ChatID, MessageID: msg.ID}.String()
	if n := b.deps.Albums.Add(msg.AlbumID, ref); n == 1 {
		req.Reply(ctx, "Album staged. Reply /broadcast to any of its items to send it to everyone.", nil)
	}
}
