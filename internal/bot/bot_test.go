package bot

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"curatorbot/internal/album"
	"curatorbot/internal/broadcast"
	"curatorbot/internal/catalog"
	"curatorbot/internal/cooldown"
	"curatorbot/internal/eventbus"
	"curatorbot/internal/exposure"
	"curatorbot/internal/search"
	"curatorbot/internal/storage"
	kit "curatorbot/internal/transport"
	"curatorbot/internal/transport/telegram/router"
	"curatorbot/internal/transport/transporttest"
	logx "curatorbot/pkg/logx"
)

const curatorID = 99

type fixture struct {
	bot    *Bot
	fake   *transporttest.Fake
	st     *storage.Store
	cat    *catalog.Manager
	events <-chan eventbus.Event
	msgID  int
}

func newFixture(t *testing.T, cfg Settings) *fixture {
	t.Helper()
	return newFixtureWith(t, cfg, exposure.Options{})
}

func newFixtureWith(t *testing.T, cfg Settings, opts exposure.Options) *fixture {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "bot.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	fake := transporttest.New()
	cat := catalog.New(st, logx.Nop(), catalog.Options{})
	bc := broadcast.New(broadcast.Config{Workers: 2, RatePerSec: 1000, RetryMax: 1}, fake, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)
	t.Cleanup(func() {
		bc.Stop(context.Background())
		cancel()
	})

	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	t.Cleanup(unsub)

	b := New(Deps{
		Users:     st,
		Cooldown:  cooldown.New(st),
		Catalog:   cat,
		Tracker:   exposure.New(st, cat, logx.Nop(), opts),
		Search:    search.NewAggregator(st, logx.Nop(), search.Options{ProviderTimeout: time.Second}),
		Broadcast: bc,
		Albums:    album.New(0, time.Minute),
		Bus:       bus,
	}, cfg, logx.Nop())
	return &fixture{bot: b, fake: fake, st: st, cat: cat, events: events}
}

func (f *fixture) addItems(t *testing.T, refs ...string) {
	t.Helper()
	for _, r := range refs {
		if _, _, err := f.cat.AddItem(context.Background(), r); err != nil {
			t.Fatalf("add %s: %v", r, err)
		}
	}
}

// request builds a private-chat message request.
func (f *fixture) request(from int64, text string) *router.Request {
	f.msgID++
	msg := &kit.Message{ID: f.msgID, ChatID: from, FromID: from, FromUsername: "u", IsPrivate: true, Text: text}
	var args []string
	if fields := strings.Fields(text); len(fields) > 0 && strings.HasPrefix(fields[0], "/") {
		args = fields[1:]
	}
	return &router.Request{
		Update:  kit.Update{Kind: kit.UpdateMessage, Message: msg},
		Chat:    kit.ChatTarget{ChatID: from},
		FromID:  from,
		Args:    args,
		IsOwner: from == curatorID,
		Adapter: f.fake,
		Logger:  logx.Nop(),
	}
}

func (f *fixture) run(t *testing.T, h router.HandlerFunc, req *router.Request) {
	t.Helper()
	if err := router.Chain(h, f.bot.Middleware()...)(context.Background(), req); err != nil {
		t.Fatalf("handler: %v", err)
	}
}

func (f *fixture) lastText(t *testing.T, chat int64) string {
	t.Helper()
	texts := f.fake.Texts(chat)
	if len(texts) == 0 {
		t.Fatalf("no text sent to %d", chat)
	}
	return texts[len(texts)-1]
}

func (f *fixture) itemsSentTo(chat int64) []string {
	var out []string
	for _, s := range f.fake.Sent() {
		if s.ChatID == chat && s.Kind == "item" {
			out = append(out, s.Refs...)
		}
	}
	return out
}

func (f *fixture) waitEvent(t *testing.T, kind eventbus.Kind) eventbus.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-f.events:
			if e.Kind == kind {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestRandomDeliversThenExhausts(t *testing.T) {
	f := newFixture(t, Settings{BatchSize: 5})
	f.addItems(t, "-100:1", "-100:2", "-100:3")

	f.run(t, f.bot.handleRandom, f.request(1, "/random"))
	if got := f.itemsSentTo(1); len(got) != 3 {
		t.Fatalf("sent %v, want 3 items", got)
	}
	f.run(t, f.bot.handleRandom, f.request(1, "/random"))
	if got := f.lastText(t, 1); got != msgExhausted {
		t.Fatalf("reply = %q", got)
	}
	if got := f.itemsSentTo(1); len(got) != 3 {
		t.Fatalf("items repeated: %v", got)
	}
}

func TestRandomReleasesReservationsOnSendFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"unreachable recipient", kit.ErrUnreachable},
		{"transient send error", errors.New("telegram: internal server error (500)")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixtureWith(t, Settings{BatchSize: 5}, exposure.Options{ReserveOnPick: true})
			f.addItems(t, "-100:1", "-100:2", "-100:3", "-100:4", "-100:5")

			f.fake.ChatErr[1] = tt.err
			f.run(t, f.bot.handleRandom, f.request(1, "/random"))
			if seen, err := f.st.CountExposures(ctx, 1); err != nil || seen != 0 {
				t.Fatalf("exposures after failed delivery = %d, %v", seen, err)
			}
			if unseen, err := f.st.CountUnseen(ctx, 1); err != nil || unseen != 5 {
				t.Fatalf("unseen after failed delivery = %d, %v", unseen, err)
			}

			delete(f.fake.ChatErr, 1)
			f.run(t, f.bot.handleRandom, f.request(1, "/random"))
			if got := f.itemsSentTo(1); len(got) != 5 {
				t.Fatalf("sent %v, want all 5 items", got)
			}
		})
	}
}

func TestRandomEvictsGoneItem(t *testing.T) {
	f := newFixture(t, Settings{BatchSize: 5})
	f.addItems(t, "-100:1", "-100:2")
	f.fake.Gone["-100:2"] = true

	f.run(t, f.bot.handleRandom, f.request(1, "/random"))

	e := f.waitEvent(t, eventbus.ItemEvicted)
	if e.Target != "-100:2" {
		t.Fatalf("evicted %q", e.Target)
	}
	n, err := f.cat.Count(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("catalog count = %d, %v", n, err)
	}
	if got := f.itemsSentTo(1); len(got) != 1 || got[0] != "-100:1" {
		t.Fatalf("sent %v", got)
	}
}

func TestRandomCooldown(t *testing.T) {
	f := newFixture(t, Settings{BatchSize: 1, RandomCooldown: time.Hour})
	f.addItems(t, "-100:1", "-100:2")

	f.run(t, f.bot.handleRandom, f.request(1, "/random"))
	f.run(t, f.bot.handleRandom, f.request(1, "/random"))
	if got := f.lastText(t, 1); !strings.HasPrefix(got, "Please wait ") {
		t.Fatalf("reply = %q", got)
	}
	if got := f.itemsSentTo(1); len(got) != 1 {
		t.Fatalf("sent %v", got)
	}

	// Curators are not rate limited.
	f.run(t, f.bot.handleRandom, f.request(curatorID, "/random"))
	f.run(t, f.bot.handleRandom, f.request(curatorID, "/random"))
	if got := f.itemsSentTo(curatorID); len(got) != 2 {
		t.Fatalf("curator got %v", got)
	}
}

func TestWaitMessage(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{90 * time.Second, "Please wait 90 seconds before making another request."},
		{1500 * time.Millisecond, "Please wait 2 seconds before making another request."},
		{0, "Please wait 1 seconds before making another request."},
	}
	for _, tt := range tests {
		if got := waitMessage(tt.in); got != tt.want {
			t.Errorf("waitMessage(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMembershipGate(t *testing.T) {
	f := newFixture(t, Settings{RequiredChannels: []string{"@news"}})

	f.run(t, f.bot.handleStart, f.request(1, "/start"))
	last, _ := f.fake.Last(1)
	if !strings.Contains(last.Text, "@news") {
		t.Fatalf("expected join prompt, got %q", last.Text)
	}
	if len(last.Buttons) != 2 || last.Buttons[0][0].URL != "https://t.me/news" || last.Buttons[1][0].Data != "gate:check" {
		t.Fatalf("buttons = %+v", last.Buttons)
	}

	f.fake.SetMember("@news", 1, true)
	f.run(t, f.bot.handleStart, f.request(1, "/start"))
	if got := f.lastText(t, 1); got != msgWelcome {
		t.Fatalf("reply = %q", got)
	}

	f.run(t, f.bot.handleStart, f.request(curatorID, "/start"))
	if got := f.lastText(t, curatorID); got != msgWelcome {
		t.Fatalf("curator reply = %q", got)
	}
}

func TestMembershipLookupErrorBlocks(t *testing.T) {
	f := newFixture(t, Settings{RequiredChannels: []string{"-1001"}})
	f.fake.MemberErr = kit.ErrUnreachable

	f.run(t, f.bot.handleStart, f.request(1, "/start"))
	last, _ := f.fake.Last(1)
	if len(last.Buttons) != 1 || last.Buttons[0][0].Data != "gate:check" {
		t.Fatalf("buttons = %+v", last.Buttons)
	}
}

func TestGroupMessagesIgnored(t *testing.T) {
	f := newFixture(t, Settings{})
	req := f.request(1, "/start")
	req.Update.Message.IsPrivate = false
	req.Update.Message.ChatID = -500
	req.Chat = kit.ChatTarget{ChatID: -500}

	f.run(t, f.bot.handleStart, req)
	if sent := f.fake.Sent(); len(sent) != 0 {
		t.Fatalf("unexpected sends: %+v", sent)
	}
	if n, _ := f.st.CountUsers(context.Background()); n != 0 {
		t.Fatalf("users = %d", n)
	}
}

func TestSearchPromptThenAnswer(t *testing.T) {
	provider := search.NewStaticProvider("static", map[int][]search.Result{
		1: {{Key: "a", MediaURL: "https://img/a"}, {Key: "b", MediaURL: "https://img/b"}, {Key: "c", MediaURL: "https://img/c"}},
	})
	f := newFixture(t, Settings{DisplayLimit: 2, Providers: []search.Provider{provider}})

	f.run(t, f.bot.handleSearch, f.request(1, "/search"))
	if got := f.lastText(t, 1); !strings.Contains(got, "What should I search for") {
		t.Fatalf("prompt = %q", got)
	}

	f.run(t, f.bot.Fallback, f.request(1, "cats"))
	last, _ := f.fake.Last(1)
	if last.Kind != "media" || len(last.Refs) != 2 {
		t.Fatalf("last = %+v", last)
	}

	// The prompt is consumed; plain text now gets a hint.
	f.run(t, f.bot.Fallback, f.request(1, "dogs"))
	if got := f.lastText(t, 1); !strings.HasPrefix(got, "Use /random") {
		t.Fatalf("reply = %q", got)
	}
}

func TestSearchNoProviders(t *testing.T) {
	f := newFixture(t, Settings{})
	f.run(t, f.bot.handleSearch, f.request(1, "/search cats"))
	if got := f.lastText(t, 1); got != "Search is not available right now." {
		t.Fatalf("reply = %q", got)
	}
}

func TestCancelPendingSearch(t *testing.T) {
	f := newFixture(t, Settings{Providers: []search.Provider{search.NewStaticProvider("", nil)}})
	f.run(t, f.bot.handleSearch, f.request(1, "/search"))
	f.run(t, f.bot.handleCancel, f.request(1, "/cancel"))
	if got := f.lastText(t, 1); got != "Cancelled." {
		t.Fatalf("reply = %q", got)
	}
	f.run(t, f.bot.handleCancel, f.request(1, "/cancel"))
	if got := f.lastText(t, 1); got != "Nothing to cancel." {
		t.Fatalf("reply = %q", got)
	}
}

func TestAddAndEvict(t *testing.T) {
	f := newFixture(t, Settings{})
	f.fake.Chats["pics"] = -100777

	f.run(t, f.bot.handleAdd, f.request(curatorID, "/add -100:5 https://t.me/pics/9 garbage"))
	if got := f.lastText(t, curatorID); got != "2 added, 0 already in catalog.\nUnrecognized: garbage" {
		t.Fatalf("reply = %q", got)
	}
	if e := f.waitEvent(t, eventbus.ItemAdded); e.ActorID != curatorID {
		t.Fatalf("event = %+v", e)
	}
	if _, err := f.st.GetItemByRef(context.Background(), "-100777:9"); err != nil {
		t.Fatalf("resolved ref not stored: %v", err)
	}

	f.run(t, f.bot.handleAdd, f.request(curatorID, "/add -100:5"))
	if got := f.lastText(t, curatorID); got != "0 added, 1 already in catalog." {
		t.Fatalf("reply = %q", got)
	}

	f.run(t, f.bot.handleEvict, f.request(curatorID, "/evict -100:5 -100:6"))
	if got := f.lastText(t, curatorID); got != "1 removed, 1 not in catalog." {
		t.Fatalf("reply = %q", got)
	}
	if n, _ := f.cat.Count(context.Background()); n != 1 {
		t.Fatalf("catalog count = %d", n)
	}
}

func TestAddFromReply(t *testing.T) {
	f := newFixture(t, Settings{})
	req := f.request(curatorID, "/add")
	req.Update.Message.ReplyToID = 41
	req.Update.Message.ReplyToChatID = curatorID

	f.run(t, f.bot.handleAdd, req)
	if _, err := f.st.GetItemByRef(context.Background(), "99:41"); err != nil {
		t.Fatalf("reply ref not stored: %v", err)
	}
}

func TestReconcilePublishesReport(t *testing.T) {
	f := newFixture(t, Settings{})
	f.addItems(t, "-100:1", "-100:2", "-100:3")
	f.fake.Gone["-100:3"] = true

	f.run(t, f.bot.handleReconcile, f.request(curatorID, "/reconcile"))
	e := f.waitEvent(t, eventbus.CatalogReconciled)
	if e.OK != 2 || e.Fail != 1 || e.ActorID != curatorID {
		t.Fatalf("event = %+v", e)
	}
	if got := f.lastText(t, curatorID); !strings.HasPrefix(got, "Checked 3 items, evicted 1") {
		t.Fatalf("reply = %q", got)
	}
}

func TestBroadcastStagedAlbum(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		if err := f.st.UpsertUser(ctx, id, "", ""); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < 2; i++ {
		req := f.request(curatorID, "")
		req.Update.Message.HasMedia = true
		req.Update.Message.AlbumID = "grp"
		f.run(t, f.bot.Fallback, req)
	}
	if got := f.lastText(t, curatorID); !strings.HasPrefix(got, "Album staged") {
		t.Fatalf("reply = %q", got)
	}

	req := f.request(curatorID, "/broadcast")
	req.Update.Message.ReplyToID = 1
	req.Update.Message.ReplyToChatID = curatorID
	req.Update.Message.ReplyToAlbumID = "grp"
	f.run(t, f.bot.handleBroadcast, req)

	e := f.waitEvent(t, eventbus.BroadcastFinished)
	// The curator sent /broadcast, so they are on the roster too.
	if e.OK != 4 || e.Fail != 0 || e.Meta["kind"] != "album" {
		t.Fatalf("event = %+v", e)
	}
	for _, id := range []int64{1, 2, 3} {
		last, ok := f.fake.Last(id)
		if !ok || last.Kind != "batch" || len(last.Refs) != 2 {
			t.Fatalf("user %d got %+v", id, last)
		}
	}
	if f.bot.deps.Albums.Len() != 0 {
		t.Fatalf("album not consumed")
	}
}

func TestBroadcastUsage(t *testing.T) {
	f := newFixture(t, Settings{})
	f.run(t, f.bot.handleBroadcast, f.request(curatorID, "/broadcast"))
	if got := f.lastText(t, curatorID); !strings.HasPrefix(got, "Usage: /broadcast") {
		t.Fatalf("reply = %q", got)
	}
}

func TestFormatJobStatus(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	st := broadcast.JobStatus{ID: "bc-1", Total: 5, Done: 5, Sent: 3, Failed: 2, Unreachable: 1, StartedAt: start, DoneAt: start.Add(1500 * time.Millisecond)}
	want := "Broadcast bc-1 finished: 5/5 done, 3 sent, 2 failed (1 unreachable) in 1.5s"
	if got := formatJobStatus(st); got != want {
		t.Fatalf("formatJobStatus = %q, want %q", got, want)
	}
}

func TestChannelURL(t *testing.T) {
	tests := map[string]string{
		"@news":                "https://t.me/news",
		"https://t.me/+abcdef": "https://t.me/+abcdef",
		"-100123":              "",
	}
	for in, want := range tests {
		if got := channelURL(in); got != want {
			t.Errorf("channelURL(%q) = %q, want %q", in, got, want)
		}
	}
}
