package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"curatorbot/internal/broadcast"
	"curatorbot/internal/eventbus"
	kit "curatorbot/internal/transport"
	"curatorbot/internal/transport/telegram/router"
	logx "curatorbot/pkg/logx"
)

// broadcastPayload picks what to send: a staged album when replying to one
// of its items, the replied message itself, or the argument text.
func (b *Bot) broadcastPayload(req *router.Request) (broadcast.Payload, string) {
	if text := strings.TrimSpace(req.ArgText()); text != "" {
		return broadcast.Payload{Text: text}, "text"
	}
	msg := req.Message()
	if msg == nil || msg.ReplyToID == 0 {
		return broadcast.Payload{}, ""
	}
	if msg.ReplyToAlbumID != "" && b.deps.Albums != nil {
		if a, ok := b.deps.Albums.Take(msg.ReplyToAlbumID); ok && len(a.Refs) > 0 {
			return broadcast.Payload{Album: a.Refs}, "album"
		}
	}
	ref := kit.ItemRef{ChatID: msg.ReplyToChatID, MessageID: msg.ReplyToID}
	return broadcast.Payload{Ref: ref.String()}, "item"
}

func (b *Bot) handleBroadcast(ctx context.Context, req *router.Request) error {
	p, kind := b.broadcastPayload(req)
	if kind == "" {
		req.Reply(ctx, "Usage: /broadcast <text>, or reply /broadcast to a message or album.", nil)
		return nil
	}
	roster, err := b.deps.Users.ListUserIDs(ctx)
	if err != nil {
		req.Reply(ctx, msgFailed, nil)
		return err
	}
	if len(roster) == 0 {
		req.Reply(ctx, "No users to broadcast to.", nil)
		return nil
	}

	curator := req.FromID
	chat := req.Chat
	name := fmt.Sprintf("%s by %d", kind, curator)
	id, err := b.deps.Broadcast.SubmitNotify(name, p, roster, func(st broadcast.JobStatus) {
		b.publish(eventbus.Event{
			Kind:    eventbus.BroadcastFinished,
			ActorID: curator,
			Target:  st.ID,
			OK:      st.Sent,
			Fail:    st.Failed,
			Took:    st.DoneAt.Sub(st.StartedAt),
			Meta:    map[string]any{"kind": kind, "total": st.Total, "unreachable": st.Unreachable},
		})
		nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := req.Adapter.SendText(nctx, chat, formatJobStatus(st), nil); err != nil {
			b.log.Debug("broadcast report failed", logx.String("job", st.ID), logx.Err(err))
		}
	})
	switch {
	case errors.Is(err, broadcast.ErrQueueFull):
		req.Reply(ctx, "Too many broadcasts queued, try again later.", nil)
		return nil
	case err != nil:
		req.Reply(ctx, "Broadcast not started: "+err.Error(), nil)
		return err
	}
	req.Reply(ctx, fmt.Sprintf("Broadcast %s queued for %d users. Check with /bcstatus %s", id, len(roster), id), nil)
	return nil
}

func (b *Bot) handleBroadcastStatus(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		req.Reply(ctx, "Usage: /bcstatus <id>", nil)
		return nil
	}
	st, ok := b.deps.Broadcast.Status(req.Args[0])
	if !ok {
		req.Reply(ctx, "Unknown broadcast id.", nil)
		return nil
	}
	req.Reply(ctx, formatJobStatus(st), nil)
	return nil
}

func formatJobStatus(st broadcast.JobStatus) string {
	state := "queued"
	switch {
	case !st.DoneAt.IsZero():
		state = "finished"
	case st.Running:
		state = "running"
	}
	line := fmt.Sprintf("Broadcast %s %s: %d/%d done, %d sent, %d failed (%d unreachable)",
		st.ID, state, st.Done, st.Total, st.Sent, st.Failed, st.Unreachable)
	if !st.DoneAt.IsZero() && !st.StartedAt.IsZero() {
		line += fmt.Sprintf(" in %s", st.DoneAt.Sub(st.StartedAt).Round(time.Millisecond))
	}
	return line
}
