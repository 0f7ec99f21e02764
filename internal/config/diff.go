package config

import (
	"reflect"
	"strings"

	logx "curatorbot/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ between two configs
// plus safe log fields describing the new values. Secrets are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		!reflect.DeepEqual(oldCfg.Telegram.RequiredChannels, newCfg.Telegram.RequiredChannels) ||
		oldCfg.Telegram.GroupLog != newCfg.Telegram.GroupLog ||
		oldCfg.Telegram.ProbeChat != newCfg.Telegram.ProbeChat {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Strings("telegram.required_channels", newCfg.Telegram.RequiredChannels),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.Storage.Driver != newCfg.Storage.Driver ||
		oldCfg.Storage.Path != newCfg.Storage.Path ||
		oldCfg.Storage.DSN != newCfg.Storage.DSN ||
		oldCfg.Storage.BusyTimeout != newCfg.Storage.BusyTimeout ||
		oldCfg.Storage.MaxConns != newCfg.Storage.MaxConns {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Cooldown != newCfg.Cooldown {
		changed = append(changed, "cooldown")
		attrs = append(attrs,
			logx.String("cooldown.random", newCfg.Cooldown.Random),
			logx.String("cooldown.search", newCfg.Cooldown.Search),
		)
	}
	if oldCfg.Exposure != newCfg.Exposure {
		changed = append(changed, "exposure")
		attrs = append(attrs,
			logx.Int("exposure.batch_size", newCfg.Exposure.BatchSize),
			logx.Bool("exposure.reserve_on_pick", newCfg.Exposure.ReserveOnPick),
			logx.Int("exposure.evict_after_failures", newCfg.Exposure.EvictAfterFailures),
		)
	}
	if !reflect.DeepEqual(oldCfg.Search, newCfg.Search) {
		changed = append(changed, "search")
		types := make([]string, 0, len(newCfg.Search.Providers))
		for _, p := range newCfg.Search.Providers {
			types = append(types, p.Type)
		}
		attrs = append(attrs, logx.Strings("search.providers", types))
	}
	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.Int("broadcast.workers", newCfg.Broadcast.Workers),
			logx.Int("broadcast.rate_per_sec", newCfg.Broadcast.RatePerSec),
		)
	}
	if oldCfg.Album != newCfg.Album {
		changed = append(changed, "album")
	}
	if oldCfg.Catalog != newCfg.Catalog {
		changed = append(changed, "catalog")
		attrs = append(attrs, logx.String("catalog.reconcile_schedule", newCfg.Catalog.ReconcileSchedule))
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.Bool("metrics.enabled", newCfg.Metrics.Enabled))
	}
	return changed, attrs
}

// RequiresRestart reports changes that only take effect on process restart.
func RequiresRestart(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		out = append(out, "telegram")
	}
	if oldCfg.Storage.Driver != newCfg.Storage.Driver || oldCfg.Storage.Path != newCfg.Storage.Path ||
		oldCfg.Storage.DSN != newCfg.Storage.DSN || oldCfg.Storage.MaxConns != newCfg.Storage.MaxConns ||
		oldCfg.Storage.BusyTimeout != newCfg.Storage.BusyTimeout {
		out = append(out, "storage")
	}
	if oldCfg.Metrics != newCfg.Metrics {
		out = append(out, "metrics")
	}
	return out
}
