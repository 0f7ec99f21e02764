package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  poll_timeout: 20s
  required_channels: ["@news"]
logging:
  level: info
  console: true
storage:
  driver: sqlite
  path: ./data/curator.db
cooldown:
  random: 1m
  search: 30s
exposure:
  batch_size: 3
search:
  provider_timeout: 5s
  display_limit: 10
  providers:
    - type: duckduckgo
    - type: static
      static:
        "1": ["https://a/1.jpg"]
catalog:
  reconcile_schedule: "0 4 * * *"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || !cfg.Telegram.IsOwner(42) {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Cooldown.RandomInterval() != time.Minute || cfg.Cooldown.SearchInterval() != 30*time.Second {
		t.Fatalf("cooldown = %+v", cfg.Cooldown)
	}
	if cfg.Exposure.Batch() != 3 || cfg.Search.Timeout() != 5*time.Second {
		t.Fatalf("exposure/search = %+v %+v", cfg.Exposure, cfg.Search)
	}
	pages := cfg.Search.Providers[1].StaticPages()
	if len(pages[1]) != 1 {
		t.Fatalf("static pages = %v", pages)
	}
	if m.Get() != cfg {
		t.Fatalf("Get did not return committed config")
	}
}

func TestDefaults(t *testing.T) {
	var cfg Config
	if cfg.Cooldown.RandomInterval() != DefaultCooldown {
		t.Fatalf("default cooldown = %v", cfg.Cooldown.RandomInterval())
	}
	if cfg.Album.TTLDuration() != 600*time.Second {
		t.Fatalf("default album ttl = %v", cfg.Album.TTLDuration())
	}
	if cfg.Exposure.Batch() != DefaultBatchSize || cfg.Search.Limit() != 10 {
		t.Fatalf("defaults wrong")
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	body := strings.Replace(sampleYAML, "  batch_size: 3", "  batch_size: 3\n  bogus: true", 1)
	m := NewManager(writeFile(t, "config.yaml", body))
	if _, err := m.Load(); err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestTrailingJSONRejected(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram":{"token":"x"}} {}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatalf("expected trailing data error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvBotToken, "env-token")
	t.Setenv(EnvAdminID, "7, 42")
	t.Setenv(EnvTimeLimitMin, "5")
	t.Setenv(EnvStorageDSN, "postgres://u:p@h/db")

	cfg := &Config{Telegram: TelegramConfig{Token: "file", OwnerUserIDs: []int64{42}}}
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 2 || !cfg.Telegram.IsOwner(7) {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.Cooldown.RandomInterval() != 5*time.Minute {
		t.Fatalf("cooldown = %v", cfg.Cooldown.RandomInterval())
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN == "" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	t.Setenv(EnvAdminID, "abc")
	if err := ApplyEnv(&Config{}); err == nil {
		t.Fatalf("expected error for bad admin id")
	}
}

func TestLoadDotEnv(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file: %v", err)
	}
	p := writeFile(t, ".env", "CURATOR_TEST_DOTENV=hello\n")
	t.Setenv("CURATOR_TEST_DOTENV", "")
	os.Unsetenv("CURATOR_TEST_DOTENV")
	if err := LoadDotEnv(p); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("CURATOR_TEST_DOTENV"); got != "hello" {
		t.Fatalf("env = %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"ok", func(*Config) {}, ""},
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"bad duration", func(c *Config) { c.Cooldown.Random = "soon" }, "cooldown.random"},
		{"sqlite path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"bad driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"bad cron", func(c *Config) { c.Catalog.ReconcileSchedule = "every day" }, "catalog.reconcile_schedule"},
		{"batch size", func(c *Config) { c.Exposure.BatchSize = 50 }, "exposure.batch_size"},
		{"static page", func(c *Config) {
			c.Search.Providers = []ProviderConfig{{Type: "static", Static: map[string][]string{"zero": nil}}}
		}, "static"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Telegram: TelegramConfig{Token: "t"},
				Storage:  StorageConfig{Driver: "sqlite", Path: "x.db"},
			}
			tt.mut(cfg)
			err := Validate(cfg)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestReloadPublishesOnChange(t *testing.T) {
	p := writeFile(t, "config.yaml", sampleYAML)
	m := NewManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if m.reload(context.Background()) {
		t.Fatalf("unchanged file was republished")
	}

	changed := strings.Replace(sampleYAML, "random: 1m", "random: 2m", 1)
	if err := os.WriteFile(p, []byte(changed), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !m.reload(context.Background()) {
		t.Fatalf("changed file was not published")
	}
	select {
	case cfg := <-ch:
		if cfg.Cooldown.RandomInterval() != 2*time.Minute {
			t.Fatalf("published cooldown = %v", cfg.Cooldown.RandomInterval())
		}
	default:
		t.Fatalf("subscriber got nothing")
	}

	invalid := strings.Replace(changed, `token: "123:abc"`, `token: ""`, 1)
	_ = os.WriteFile(p, []byte(invalid), 0o600)
	if m.reload(context.Background()) {
		t.Fatalf("invalid config was published")
	}
	if m.Get().Cooldown.RandomInterval() != 2*time.Minute {
		t.Fatalf("rejected config was committed")
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatalf("subscriber did not receive newest config")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Cooldown: CooldownConfig{Random: "1m"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "b"}, Cooldown: CooldownConfig{Random: "2m"}}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "telegram,cooldown" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatalf("no attrs")
	}
	if got := RequiresRestart(oldCfg, newCfg); len(got) != 1 || got[0] != "telegram" {
		t.Fatalf("restart = %v", got)
	}
}

func TestCooldownZeroDisables(t *testing.T) {
	t.Setenv(EnvTimeLimitMin, "0")
	cfg := &Config{}
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if got := cfg.Cooldown.RandomInterval(); got != 0 {
		t.Fatalf("random cooldown = %v, want 0", got)
	}
	if got := (CooldownConfig{}).SearchInterval(); got != DefaultCooldown {
		t.Fatalf("empty search cooldown = %v, want default", got)
	}
}
