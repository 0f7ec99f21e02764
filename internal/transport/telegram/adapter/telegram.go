// Package adapter implements transport.Adapter on top of telebot.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "curatorbot/internal/runtime/supervisor"
	kit "curatorbot/internal/transport"
	logx "curatorbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// ProbeChat receives throwaway copies when checking that an item still
	// exists upstream. Zero disables ItemExists.
	ProbeChat int64
	// APIURL overrides the Bot API endpoint (tests, local bot API server).
	APIURL string
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Pointer[chan<- kit.Update]
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	droppedUpdates atomic.Int64

	menuMu   sync.Mutex
	menuHash uint64
	http     *http.Client
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, http: &http.Client{Timeout: 8 * time.Second}}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		URL:    cfg.APIURL,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			a.log.Warn("telebot handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a.bot = b
	a.registerHandlers()
	return a, nil
}

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if m := c.Message(); m != nil {
			a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: convertMessage(m)})
		}
		return nil
	})
	a.bot.Handle(tele.OnMedia, func(c tele.Context) error {
		if m := c.Message(); m != nil {
			a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: convertMessage(m)})
		}
		return nil
	})
	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil || cb.Sender == nil {
			return nil
		}
		up := kit.Callback{ID: cb.ID, FromID: cb.Sender.ID, Data: cb.Data}
		if m := cb.Message; m != nil && m.Chat != nil {
			up.ChatID = m.Chat.ID
			up.MessageID = m.ID
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateCallback, Callback: &up})
		return nil
	})
}

func convertMessage(m *tele.Message) *kit.Message {
	msg := &kit.Message{
		ID:       m.ID,
		Text:     m.Text,
		AlbumID:  m.AlbumID,
		HasMedia: m.Photo != nil || m.Video != nil || m.Animation != nil || m.Document != nil || m.Audio != nil,
	}
	if msg.Text == "" {
		msg.Text = m.Caption
	}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
		msg.IsPrivate = m.Chat.Type == tele.ChatPrivate
	}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
		msg.FromFirstName = m.Sender.FirstName
	}
	if r := m.ReplyTo; r != nil {
		msg.ReplyToID = r.ID
		msg.ReplyToAlbumID = r.AlbumID
		if r.Chat != nil {
			msg.ReplyToChatID = r.Chat.ID
		}
	}
	return msg
}

func (a *Adapter) sendUpdate(up kit.Update) {
	p := a.out.Load()
	if p == nil || *p == nil {
		return
	}
	select {
	case *p <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(&out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go("updates.drop_report", func(c context.Context) error {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return nil
			case <-t.C:
				a.reportDropped(cap(out))
			}
		}
	})
	sup.Go("telebot.stop_on_cancel", func(c context.Context) error {
		<-c.Done()
		a.bot.Stop()
		return nil
	})
	// telebot's Start blocks until Stop; restart it if it returns early.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		if c.Err() == nil {
			return errors.New("poller exited")
		}
		return nil
	}, rtsup.WithBackoff(500*time.Millisecond, 10*time.Second))
	return nil
}

func (a *Adapter) reportDropped(capacity int) {
	if n := a.droppedUpdates.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", n), logx.Int("chan_cap", capacity))
	}
}

// Stop never blocks shutdown for long on the getUpdates long poll.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.out.Store(nil)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()
	go a.bot.Stop()

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with error", logx.Err(err))
	}
	a.log.Info("polling stopped")
	return nil
}

func sendOptions(opt *kit.SendOptions) *tele.SendOptions {
	if opt == nil {
		return &tele.SendOptions{}
	}
	return &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ReplyMarkup:           inlineMarkup(opt.Buttons),
	}
}

func inlineMarkup(rows [][]kit.Button) *tele.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	kb := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		r := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			r = append(r, tele.InlineButton{Text: b.Text, URL: b.URL, Data: b.Data})
		}
		kb = append(kb, r)
	}
	return &tele.ReplyMarkup{InlineKeyboard: kb}
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chat := tele.ChatID(to.ChatID)
	var first kit.MessageRef
	for i, chunk := range splitText(text, textLimit, parseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		so := sendOptions(opt)
		if i > 0 {
			so.ReplyMarkup = nil
		}
		msg, err := a.bot.Send(chat, chunk, so)
		if err != nil {
			return first, classify(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	chunks := splitText(text, textLimit, "")
	_, err := a.bot.Edit(m, chunks[0], sendOptions(opt))
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
		return classify(err)
	}
	return nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

func storedMessage(ref string) (tele.StoredMessage, error) {
	r, err := kit.ParseItemRef(ref)
	if err != nil {
		return tele.StoredMessage{}, err
	}
	if !r.Resolved() {
		return tele.StoredMessage{}, fmt.Errorf("%w: unresolved username %q", kit.ErrBadRef, r.Username)
	}
	return tele.StoredMessage{ChatID: r.ChatID, MessageID: strconv.Itoa(r.MessageID)}, nil
}

// SendItem copies the referenced message to the recipient without the
// "forwarded from" header.
func (a *Adapter) SendItem(ctx context.Context, to kit.ChatTarget, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := storedMessage(ref)
	if err != nil {
		return err
	}
	_, err = a.bot.Copy(tele.ChatID(to.ChatID), src)
	return classify(err)
}

// SendBatch copies several messages in one request when they share a source
// chat, so media albums arrive grouped. Mixed sources fall back to one copy
// per ref.
func (a *Adapter) SendBatch(ctx context.Context, to kit.ChatTarget, refs []string) error {
	if len(refs) == 0 {
		return nil
	}
	if len(refs) == 1 {
		return a.SendItem(ctx, to, refs[0])
	}
	var (
		fromChat int64
		ids      = make([]int, 0, len(refs))
		mixed    bool
	)
	for i, ref := range refs {
		r, err := kit.ParseItemRef(ref)
		if err != nil {
			return err
		}
		if !r.Resolved() {
			return fmt.Errorf("%w: unresolved username %q", kit.ErrBadRef, r.Username)
		}
		if i == 0 {
			fromChat = r.ChatID
		} else if r.ChatID != fromChat {
			mixed = true
		}
		ids = append(ids, r.MessageID)
	}
	if mixed {
		for _, ref := range refs {
			if err := a.SendItem(ctx, to, ref); err != nil {
				return err
			}
		}
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.Raw("copyMessages", map[string]any{
		"chat_id":      to.ChatID,
		"from_chat_id": fromChat,
		"message_ids":  ids,
	})
	return classify(err)
}

// SendMedia sends image URLs as one album (max 10 per album).
func (a *Adapter) SendMedia(ctx context.Context, to kit.ChatTarget, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(urls) == 1 {
		_, err := a.bot.Send(tele.ChatID(to.ChatID), &tele.Photo{File: tele.FromURL(urls[0])})
		return classify(err)
	}
	album := make(tele.Album, 0, min(len(urls), 10))
	for _, u := range urls[:min(len(urls), 10)] {
		album = append(album, &tele.Photo{File: tele.FromURL(u)})
	}
	_, err := a.bot.SendAlbum(tele.ChatID(to.ChatID), album)
	return classify(err)
}

// ItemExists copies the item into the probe chat and deletes the copy.
// A copy refused because the source message is gone reports false with a
// nil error; any other failure is returned so the caller keeps the item.
func (a *Adapter) ItemExists(ctx context.Context, ref string) (bool, error) {
	if a.cfg.ProbeChat == 0 {
		return false, errors.New("telegram probe chat not configured")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	src, err := storedMessage(ref)
	if err != nil {
		return false, err
	}
	msg, err := a.bot.Copy(tele.ChatID(a.cfg.ProbeChat), src)
	if err != nil {
		err = classifyProbe(err)
		if kit.IsItemGone(err) {
			return false, nil
		}
		return false, err
	}
	if derr := a.bot.Delete(msg); derr != nil {
		a.log.Debug("probe copy not deleted", logx.String("ref", ref), logx.Err(derr))
	}
	return true, nil
}

type chatRecipient string

func (c chatRecipient) Recipient() string { return string(c) }

func normalizeChat(chat string) string {
	chat = strings.TrimSpace(chat)
	if chat == "" {
		return ""
	}
	if _, err := strconv.ParseInt(chat, 10, 64); err == nil {
		return chat
	}
	chat = strings.TrimPrefix(chat, "https://t.me/")
	chat = strings.TrimPrefix(chat, "t.me/")
	return "@" + strings.TrimPrefix(chat, "@")
}

// IsMember reports whether userID is a member, admin or owner of chat
// (numeric id or @username).
func (a *Adapter) IsMember(ctx context.Context, chat string, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	cm, err := a.bot.ChatMemberOf(chatRecipient(normalizeChat(chat)), &tele.User{ID: userID})
	if err != nil {
		return false, classify(err)
	}
	switch cm.Role {
	case tele.Member, tele.Administrator, tele.Creator:
		return true, nil
	}
	return false, nil
}

func (a *Adapter) ResolveChat(ctx context.Context, username string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c, err := a.bot.ChatByUsername(normalizeChat(username))
	if err != nil {
		return 0, classify(err)
	}
	return c.ID, nil
}

// UpdateMenuCommands calls setMyCommands only when the list changed.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	for _, c := range cmds {
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}

	type cmd struct {
		Command     string `json:"command"`
		Description string `json:"description"`
	}
	payload := struct {
		Commands []cmd `json:"commands"`
	}{Commands: make([]cmd, 0, len(cmds))}
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		payload.Commands = append(payload.Commands, cmd{Command: c.Command, Description: d})
		if len(payload.Commands) >= 100 {
			break
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	base := strings.TrimRight(a.cfg.APIURL, "/")
	if base == "" {
		base = tele.DefaultApiURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/bot"+strings.TrimSpace(a.cfg.Token)+"/setMyCommands", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode/100 != 2 || !out.OK {
		if out.Description != "" {
			return fmt.Errorf("telegram setMyCommands failed: %s (code=%d http=%d)", out.Description, out.ErrorCode, resp.StatusCode)
		}
		return fmt.Errorf("telegram setMyCommands failed: http=%d", resp.StatusCode)
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(payload.Commands)))
	return nil
}

var _ kit.Adapter = (*Adapter)(nil)
var _ kit.CommandMenuUpdater = (*Adapter)(nil)
