package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"curatorbot/internal/album"
	"curatorbot/internal/audit"
	"curatorbot/internal/bot"
	"curatorbot/internal/broadcast"
	"curatorbot/internal/catalog"
	"curatorbot/internal/config"
	"curatorbot/internal/cooldown"
	"curatorbot/internal/eventbus"
	"curatorbot/internal/exposure"
	"curatorbot/internal/metrics"
	rtsup "curatorbot/internal/runtime/supervisor"
	"curatorbot/internal/scheduler"
	"curatorbot/internal/search"
	"curatorbot/internal/storage"
	kit "curatorbot/internal/transport"
	telegram "curatorbot/internal/transport/telegram/adapter"
	"curatorbot/internal/transport/telegram/router"
	logx "curatorbot/pkg/logx"
)

const (
	jobReconcile     = "catalog.reconcile"
	jobCooldownPrune = "cooldown.prune"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.Bus
	store *storage.Store

	adapter *telegram.Adapter
	router  *router.Router
	bot     *bot.Bot

	cooldown  *cooldown.Gate
	broadcast *broadcast.Service
	sched     *scheduler.Service
	metrics   *metrics.Server

	httpClient *http.Client
	updates    chan kit.Update
}

// New loads the config, opens the store and wires every service. Nothing
// runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:       cfgm,
		bus:        eventbus.New(),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		updates:    make(chan kit.Update, 256),
	}

	// The chat log sink needs the adapter, which needs a logger. Start with
	// the chat sink off, then enable it once the target is known.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, log := logx.New(bootCfg, func(ctx context.Context, chatID int64, text string) error {
		if a.adapter == nil {
			return nil
		}
		_, err := a.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
		return err
	})
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))

	probe, _ := parseChatID(cfg.Telegram.ProbeChat)
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollTimeoutDuration(),
		ProbeChat:   probe,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	a.adapter = ad
	if id, ok := parseChatID(cfg.Telegram.GroupLog); ok {
		logSvc.SetChatTarget(id)
	}
	logSvc.Apply(logCfg)

	store, err := OpenStore(ctx, cfg, log)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	a.store = store
	a.log.Info("storage ready", logx.String("driver", cfg.Storage.Driver))

	providers, err := buildProviders(cfg, a.httpClient)
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, fmt.Errorf("search providers: %w", err)
	}

	cat := catalog.New(store, log, catalog.Options{CheckRate: cfg.Catalog.CheckRate})
	a.cooldown = cooldown.New(store)
	a.broadcast = broadcast.New(mapBroadcastConfig(cfg), ad, log.With(logx.String("comp", "broadcast")))
	a.sched = scheduler.New(cfg.Catalog.Timezone, log.With(logx.String("comp", "scheduler")))

	a.bot = bot.New(bot.Deps{
		Users:    store,
		Cooldown: a.cooldown,
		Catalog:  cat,
		Tracker: exposure.New(store, cat, log, exposure.Options{
			ReserveOnPick:      cfg.Exposure.ReserveOnPick,
			EvictAfterFailures: cfg.Exposure.EvictAfterFailures,
		}),
		Search: search.NewAggregator(store, log, search.Options{
			ProviderTimeout: cfg.Search.Timeout(),
			EscalationPage:  cfg.Search.EscalationPage,
		}),
		Broadcast: a.broadcast,
		Albums:    album.New(cfg.Album.MaxSize, cfg.Album.TTLDuration()),
		Bus:       a.bus,
		Jobs:      a.sched.Jobs,
		Tasks:     a.taskStats,
	}, botSettings(cfg, providers), log)

	a.router = router.New(ad, log.With(logx.String("comp", "commands")), router.Options{
		Fallback:   a.bot.Fallback,
		Middleware: a.bot.Middleware(),
	})
	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)

	if err := a.scheduleJobs(cfg); err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewServer(cfg.Metrics.ListenAddr(), store, log.With(logx.String("comp", "metrics")))
		if cfg.Metrics.Pprof {
			a.metrics.EnableProfiler()
		}
	}
	return a, nil
}

func (a *App) scheduleJobs(cfg *config.Config) error {
	if _, ok := parseChatID(cfg.Telegram.ProbeChat); ok {
		err := a.sched.Add(scheduler.Job{
			Name:     jobReconcile,
			Schedule: cfg.Catalog.ReconcileSchedule,
			Timeout:  time.Hour,
			Run: func(ctx context.Context) error {
				rep, err := a.bot.Reconcile(ctx, a.adapter, 0)
				if err != nil {
					return err
				}
				a.log.Info("catalog reconciled", logx.Int("checked", rep.Checked), logx.Int("evicted", rep.Evicted),
					logx.Int("errors", rep.Errors), logx.Duration("took", rep.Took))
				return nil
			},
		})
		if err != nil {
			return err
		}
	} else {
		a.sched.Remove(jobReconcile)
		if cfg.Catalog.ReconcileSchedule != "" {
			a.log.Warn("catalog.reconcile_schedule set but telegram.probe_chat is not a chat id; reconcile disabled")
		}
	}

	prune := cfg.Cooldown.PruneAfterDuration()
	intervals := []time.Duration{cfg.Cooldown.RandomInterval(), cfg.Cooldown.SearchInterval()}
	return a.sched.Add(scheduler.Job{
		Name:     jobCooldownPrune,
		Schedule: cfg.Cooldown.PruneSpec(),
		Timeout:  time.Minute,
		Run: func(ctx context.Context) error {
			n, err := a.cooldown.Prune(ctx, prune, intervals...)
			if err != nil {
				return err
			}
			if n > 0 {
				a.log.Debug("cooldowns pruned", logx.Int64("removed", n))
			}
			return nil
		},
	})
}

// Store exposes the opened State Store.
func (a *App) Store() *storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) taskStats() []rtsup.TaskStats {
	var out []rtsup.TaskStats
	for _, s := range []*rtsup.Supervisor{a.sup, a.adapter.Supervisor(), a.router.Supervisor()} {
		if s != nil {
			out = append(out, s.Snapshot()...)
		}
	}
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		// reject provider configs the factory cannot build
		_, err := buildProviders(cfg, a.httpClient)
		return err
	})

	a.router.SetRegistry(run, a.bot.Commands(), a.bot.Callbacks())
	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.resolveLogTarget(run, a.cfgm.Get())

	a.broadcast.Start(run)
	a.sched.Start(run)

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(256)
	rec := audit.NewRecorder(a.store, a.log.With(logx.String("comp", "audit")))
	a.sup.Go("audit.recorder", func(c context.Context) error {
		defer unsub()
		return rec.Run(c, events)
	})

	if a.metrics != nil {
		a.sup.Go("metrics.http", a.metrics.Run)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// resolveLogTarget looks up a username log chat; numeric ids were set in New.
func (a *App) resolveLogTarget(ctx context.Context, cfg *config.Config) {
	raw := cfg.Telegram.GroupLog
	if id, ok := parseChatID(raw); ok {
		a.logs.SetChatTarget(id)
		return
	}
	if raw == "" {
		a.logs.SetChatTarget(0)
		return
	}
	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	id, err := a.adapter.ResolveChat(rctx, raw)
	if err != nil {
		a.log.Warn("log chat not resolved", logx.String("chat", raw), logx.Err(err))
		return
	}
	a.logs.SetChatTarget(id)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("broadcast", 3*time.Second, func(c context.Context) error { a.broadcast.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
