package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks cross-field rules that the strict decoder cannot.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required (or set "+EnvBotToken+")"))
	}
	durations := map[string]string{
		"telegram.poll_timeout":   cfg.Telegram.PollTimeout,
		"storage.busy_timeout":    cfg.Storage.BusyTimeout,
		"cooldown.random":         cfg.Cooldown.Random,
		"cooldown.search":         cfg.Cooldown.Search,
		"cooldown.prune_after":    cfg.Cooldown.PruneAfter,
		"search.provider_timeout": cfg.Search.ProviderTimeout,
		"broadcast.status_ttl":    cfg.Broadcast.StatusTTL,
		"album.ttl":               cfg.Album.TTL,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres (or set "+EnvStorageDSN+")"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", cfg.Storage.Driver))
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for path, spec := range map[string]string{
		"catalog.reconcile_schedule": cfg.Catalog.ReconcileSchedule,
		"cooldown.prune_schedule":    cfg.Cooldown.PruneSchedule,
	} {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}

	if cfg.Exposure.BatchSize < 0 || cfg.Exposure.BatchSize > 10 {
		errs = append(errs, errors.New("exposure.batch_size must be between 1 and 10"))
	}
	if cfg.Search.DisplayLimit < 0 || cfg.Search.DisplayLimit > 10 {
		errs = append(errs, errors.New("search.display_limit must be between 1 and 10"))
	}
	for i, p := range cfg.Search.Providers {
		if strings.TrimSpace(p.Type) == "" {
			errs = append(errs, fmt.Errorf("search.providers[%d].type is required", i))
		}
		for page := range p.Static {
			if n, err := strconv.Atoi(page); err != nil || n < 1 {
				errs = append(errs, fmt.Errorf("search.providers[%d].static: page %q is not a positive number", i, page))
			}
		}
	}
	return errors.Join(errs...)
}
