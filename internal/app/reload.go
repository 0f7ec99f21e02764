package app

import (
	"context"
	"strings"

	"curatorbot/internal/config"
	"curatorbot/internal/eventbus"
	logx "curatorbot/pkg/logx"
)

// reloadLoop applies committed configs from the manager until ctx is done.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RequiresRestart(oldCfg, newCfg); len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("sections", restart))
	}

	// Set the chat target before Apply so an enabled sink has somewhere to go.
	a.resolveLogTarget(ctx, newCfg)
	a.logs.Apply(mapLogConfig(newCfg))

	a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)
	a.broadcast.Apply(mapBroadcastConfig(newCfg))

	providers, err := buildProviders(newCfg, a.httpClient)
	if err != nil {
		a.log.Warn("invalid search providers; keeping previous settings", logx.Err(err))
	} else {
		a.bot.Apply(botSettings(newCfg, providers))
	}

	if err := a.scheduleJobs(newCfg); err != nil {
		a.log.Warn("job schedule not updated", logx.Err(err))
	}

	a.bus.Publish(eventbus.Event{
		Kind: eventbus.ConfigReloaded,
		OK:   len(sections),
		Meta: map[string]any{"sections": sections},
	})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
