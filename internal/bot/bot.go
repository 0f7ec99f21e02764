// Package bot holds the chat-facing command handlers: random delivery,
// search, curator catalog tools and broadcasts. Handlers are plain
// router.HandlerFuncs; the heavy lifting lives in the domain packages.
package bot

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"curatorbot/internal/album"
	"curatorbot/internal/broadcast"
	"curatorbot/internal/catalog"
	"curatorbot/internal/cooldown"
	"curatorbot/internal/eventbus"
	"curatorbot/internal/exposure"
	rtsup "curatorbot/internal/runtime/supervisor"
	"curatorbot/internal/scheduler"
	"curatorbot/internal/search"
	"curatorbot/internal/transport/telegram/router"
	logx "curatorbot/pkg/logx"
)

// Users is the user registry the handlers need.
type Users interface {
	UpsertUser(ctx context.Context, id int64, username, firstName string) error
	ListUserIDs(ctx context.Context) ([]int64, error)
	CountUsers(ctx context.Context) (int, error)
}

// Deps are the long-lived services the handlers call into.
type Deps struct {
	Users     Users
	Cooldown  *cooldown.Gate
	Catalog   *catalog.Manager
	Tracker   *exposure.Tracker
	Search    *search.Aggregator
	Broadcast *broadcast.Service
	Albums    *album.Buffer
	Bus       *eventbus.Bus

	// Optional runtime introspection for /status.
	Jobs  func() []scheduler.JobInfo
	Tasks func() []rtsup.TaskStats
}

// Settings are the hot-reloadable knobs.
type Settings struct {
	RandomCooldown   time.Duration
	SearchCooldown   time.Duration
	BatchSize        int
	DisplayLimit     int
	RequiredChannels []string
	Providers        []search.Provider
}

const (
	pendingTTL  = 5 * time.Minute
	pendingSize = 4096

	modeSearch = "search"
)

type Bot struct {
	deps Deps
	log  logx.Logger

	mu  sync.RWMutex
	cfg Settings

	// pending holds users whose next plain message is input for a prompt.
	pending *expirable.LRU[int64, string]
}

func New(deps Deps, cfg Settings, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{
		deps:    deps,
		log:     log.With(logx.String("comp", "bot")),
		pending: expirable.NewLRU[int64, string](pendingSize, nil, pendingTTL),
	}
	b.Apply(cfg)
	return b
}

// Apply swaps the settings. Safe while handlers run.
func (b *Bot) Apply(cfg Settings) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.DisplayLimit <= 0 {
		cfg.DisplayLimit = 10
	}
	cfg.RequiredChannels = append([]string(nil), cfg.RequiredChannels...)
	cfg.Providers = append([]search.Provider(nil), cfg.Providers...)
	b.mu.Lock()
	b.cfg = cfg
	b.mu.Unlock()
}

func (b *Bot) settings() Settings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

// Commands is the command table for the router.
func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "welcome and menu", Handle: b.handleStart},
		{Name: "random", Aliases: []string{"r"}, Description: "get unseen items", Timeout: time.Minute, Handle: b.handleRandom},
		{Name: "search", Aliases: []string{"s"}, Description: "search images", Usage: "/search <query>", Timeout: time.Minute, Handle: b.handleSearch},
		{Name: "cancel", Description: "cancel a pending prompt", Handle: b.handleCancel},

		{Name: "add", Description: "add items to the catalog", Usage: "/add <link|chat_id:msg_id> ...", Access: router.AccessOwnerOnly, Handle: b.handleAdd},
		{Name: "evict", Description: "remove items from the catalog", Usage: "/evict <link|chat_id:msg_id> ...", Access: router.AccessOwnerOnly, Handle: b.handleEvict},
		{Name: "reconcile", Description: "drop catalog items that no longer exist", Access: router.AccessOwnerOnly, Timeout: 30 * time.Minute, Handle: b.handleReconcile},
		{Name: "broadcast", Aliases: []string{"bc"}, Description: "send to every user", Usage: "/broadcast <text> or reply to an item", Access: router.AccessOwnerOnly, Handle: b.handleBroadcast},
		{Name: "bcstatus", Description: "broadcast job status", Usage: "/bcstatus <id>", Access: router.AccessOwnerOnly, Handle: b.handleBroadcastStatus},
		{Name: "stats", Description: "users and catalog size", Access: router.AccessOwnerOnly, Handle: b.handleStats},
		{Name: "status", Description: "runtime tasks and jobs", Access: router.AccessOwnerOnly, Hidden: true, Handle: b.handleStatus},
	}
}

// Callbacks is the inline button table for the router.
func (b *Bot) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Prefix: "menu", Timeout: time.Minute, Handle: b.handleMenu},
		{Prefix: "gate", Handle: b.handleGateCheck},
	}
}

// Middleware runs inside the router's recover/log/timeout chain.
func (b *Bot) Middleware() []router.Middleware {
	return []router.Middleware{b.mwPrivateOnly, b.mwTrackUser, b.mwMembership}
}

func (b *Bot) publish(e eventbus.Event) {
	b.deps.Bus.Publish(e)
}
