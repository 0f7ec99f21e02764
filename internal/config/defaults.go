package config

import (
	"strconv"
	"strings"
	"time"
)

const (
	DefaultCooldown        = 15 * time.Minute
	DefaultPruneAfter      = 24 * time.Hour
	DefaultPruneSchedule   = "@hourly"
	DefaultBatchSize       = 5
	DefaultDisplayLimit    = 10
	DefaultProviderTimeout = 8 * time.Second
	DefaultAlbumTTL        = 600 * time.Second
	DefaultPollTimeout     = 10 * time.Second
	DefaultMetricsAddr     = "127.0.0.1:9090"
)

// RandomInterval is the /random cooldown. "0s" disables it.
func (c CooldownConfig) RandomInterval() time.Duration {
	return intervalOrDefault(c.Random, DefaultCooldown)
}

func (c CooldownConfig) SearchInterval() time.Duration {
	return intervalOrDefault(c.Search, DefaultCooldown)
}

func (c CooldownConfig) PruneAfterDuration() time.Duration {
	return MustDuration(c.PruneAfter, DefaultPruneAfter)
}

func (c CooldownConfig) PruneSpec() string {
	if s := strings.TrimSpace(c.PruneSchedule); s != "" {
		return s
	}
	return DefaultPruneSchedule
}

func (e ExposureConfig) Batch() int {
	if e.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return e.BatchSize
}

func (s SearchConfig) Limit() int {
	if s.DisplayLimit <= 0 {
		return DefaultDisplayLimit
	}
	return s.DisplayLimit
}

func (s SearchConfig) Timeout() time.Duration {
	return MustDuration(s.ProviderTimeout, DefaultProviderTimeout)
}

// StaticPages converts the string page keys of a static provider to ints.
// Invalid keys are skipped; Validate reports them.
func (p ProviderConfig) StaticPages() map[int][]string {
	if len(p.Static) == 0 {
		return nil
	}
	out := make(map[int][]string, len(p.Static))
	for k, v := range p.Static {
		n, err := strconv.Atoi(k)
		if err != nil || n < 1 {
			continue
		}
		out[n] = v
	}
	return out
}

func (a AlbumConfig) TTLDuration() time.Duration {
	return MustDuration(a.TTL, DefaultAlbumTTL)
}

func (t TelegramConfig) PollTimeoutDuration() time.Duration {
	return MustDuration(t.PollTimeout, DefaultPollTimeout)
}

func (m MetricsConfig) ListenAddr() string {
	if a := strings.TrimSpace(m.Addr); a != "" {
		return a
	}
	return DefaultMetricsAddr
}

// IsOwner reports whether userID is a configured curator.
func (t TelegramConfig) IsOwner(userID int64) bool {
	return containsID(t.OwnerUserIDs, userID)
}
