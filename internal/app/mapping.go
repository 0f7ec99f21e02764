package app

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"curatorbot/internal/bot"
	"curatorbot/internal/broadcast"
	"curatorbot/internal/config"
	"curatorbot/internal/search"
	"curatorbot/internal/storage"
	logx "curatorbot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
		MaxConns:    sc.MaxConns,
	}, nil
}

// OpenStore opens the configured State Store, applying migrations. The CLI
// uses it for commands that do not start the bot.
func OpenStore(ctx context.Context, cfg *config.Config, log logx.Logger) (*storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage (%s): %w", sc.Driver, err)
	}
	return st, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapBroadcastConfig(cfg *config.Config) broadcast.Config {
	bc := cfg.Broadcast
	return broadcast.Config{
		Workers:    bc.Workers,
		RatePerSec: bc.RatePerSec,
		RetryMax:   bc.RetryMax,
		QueueSize:  bc.QueueSize,
		StatusMax:  bc.StatusMax,
		StatusTTL:  config.MustDuration(bc.StatusTTL, 0),
	}
}

func mapProviderConfigs(cfg *config.Config) []search.ProviderConfig {
	out := make([]search.ProviderConfig, 0, len(cfg.Search.Providers))
	for _, p := range cfg.Search.Providers {
		out = append(out, search.ProviderConfig{
			Type:     search.ProviderType(strings.ToLower(strings.TrimSpace(p.Type))),
			Name:     p.Name,
			APIKey:   p.APIKey,
			SearchID: p.SearchID,
			BaseURL:  p.BaseURL,
			Static:   p.StaticPages(),
		})
	}
	return out
}

func buildProviders(cfg *config.Config, client *http.Client) ([]search.Provider, error) {
	return search.NewFactory(client).CreateAll(mapProviderConfigs(cfg))
}

func botSettings(cfg *config.Config, providers []search.Provider) bot.Settings {
	return bot.Settings{
		RandomCooldown:   cfg.Cooldown.RandomInterval(),
		SearchCooldown:   cfg.Cooldown.SearchInterval(),
		BatchSize:        cfg.Exposure.Batch(),
		DisplayLimit:     cfg.Search.Limit(),
		RequiredChannels: cfg.Telegram.RequiredChannels,
		Providers:        providers,
	}
}

// parseChatID accepts a numeric chat id. ok is false for usernames and
// empty values.
func parseChatID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
