package bot

import (
	"context"
	"strings"

	kit "curatorbot/internal/transport"
	"curatorbot/internal/transport/telegram/router"
	logx "curatorbot/pkg/logx"
)

// mwPrivateOnly drops anything that does not come from a private chat.
func (b *Bot) mwPrivateOnly(next router.HandlerFunc) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		if !isPrivate(req) {
			return nil
		}
		return next(ctx, req)
	}
}

func isPrivate(req *router.Request) bool {
	if msg := req.Update.Message; msg != nil {
		return msg.IsPrivate
	}
	if cb := req.Update.Callback; cb != nil {
		return cb.ChatID == cb.FromID
	}
	return false
}

// mwTrackUser registers the sender so they are part of the broadcast roster.
func (b *Bot) mwTrackUser(next router.HandlerFunc) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		if msg := req.Update.Message; msg != nil && msg.FromID != 0 && b.deps.Users != nil {
			if err := b.deps.Users.UpsertUser(ctx, msg.FromID, msg.FromUsername, msg.FromFirstName); err != nil {
				req.Logger.Warn("user upsert failed", logx.Err(err))
			}
		}
		return next(ctx, req)
	}
}

// mwMembership blocks users who have not joined every required channel.
// Curators and the re-check button pass through.
func (b *Bot) mwMembership(next router.HandlerFunc) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		if req.IsOwner || req.Command == "cb:gate" {
			return next(ctx, req)
		}
		missing := b.missingChannels(ctx, req)
		if len(missing) == 0 {
			return next(ctx, req)
		}
		b.sendJoinPrompt(ctx, req, missing)
		return nil
	}
}

// missingChannels returns the required channels the user is not in. A failed
// lookup counts as not joined.
func (b *Bot) missingChannels(ctx context.Context, req *router.Request) []string {
	var missing []string
	for _, ch := range b.settings().RequiredChannels {
		ok, err := req.Adapter.IsMember(ctx, ch, req.FromID)
		if err != nil {
			req.Logger.Debug("membership lookup failed", logx.String("channel", ch), logx.Err(err))
		}
		if !ok {
			missing = append(missing, ch)
		}
	}
	return missing
}

func (b *Bot) sendJoinPrompt(ctx context.Context, req *router.Request, missing []string) {
	var rows [][]kit.Button
	for _, ch := range missing {
		if u := channelURL(ch); u != "" {
			rows = append(rows, []kit.Button{{Text: "Join " + ch, URL: u}})
		}
	}
	rows = append(rows, []kit.Button{{Text: "I've joined", Data: "gate:check"}})
	text := "Please join " + strings.Join(missing, ", ") + " to use this bot, then tap the button below."
	req.Reply(ctx, text, &kit.SendOptions{Buttons: rows, DisablePreview: true})
}

// channelURL builds a public link for "@name" or "https://t.me/name" entries.
// Numeric chat ids have no public link.
func channelURL(ch string) string {
	ch = strings.TrimSpace(ch)
	switch {
	case strings.HasPrefix(ch, "https://"), strings.HasPrefix(ch, "http://"):
		return ch
	case strings.HasPrefix(ch, "@"):
		return "https://t.me/" + ch[1:]
	default:
		return ""
	}
}

func (b *Bot) handleGateCheck(ctx context.Context, req *router.Request) error {
	if missing := b.missingChannels(ctx, req); len(missing) > 0 {
		b.sendJoinPrompt(ctx, req, missing)
		return nil
	}
	if cb := req.Update.Callback; cb != nil && cb.MessageID != 0 {
		ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
		if err := req.Adapter.EditText(ctx, ref, "Thanks for joining!", nil); err != nil {
			req.Logger.Debug("edit join prompt failed", logx.Err(err))
		}
	}
	b.sendWelcome(ctx, req)
	return nil
}
