package app

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"curatorbot/internal/config"
	"curatorbot/internal/scheduler"
	logx "curatorbot/pkg/logx"
)

func TestParseChatID(t *testing.T) {
	tests := []struct {
		in   string
		id   int64
		isID bool
	}{
		{"-1001234", -1001234, true},
		{" 42 ", 42, true},
		{"@logs", 0, false},
		{"", 0, false},
		{"0", 0, false},
	}
	for _, tt := range tests {
		id, ok := parseChatID(tt.in)
		if id != tt.id || ok != tt.isID {
			t.Errorf("parseChatID(%q) = %d, %v", tt.in, id, ok)
		}
	}
}

func TestBotSettingsDefaults(t *testing.T) {
	cfg := &config.Config{}
	cfg.Telegram.RequiredChannels = []string{"@news"}
	cfg.Cooldown.Search = "30s"

	s := botSettings(cfg, nil)
	if s.RandomCooldown != config.DefaultCooldown || s.SearchCooldown != 30*time.Second {
		t.Fatalf("cooldowns = %v / %v", s.RandomCooldown, s.SearchCooldown)
	}
	if s.BatchSize != config.DefaultBatchSize || s.DisplayLimit != config.DefaultDisplayLimit {
		t.Fatalf("limits = %d / %d", s.BatchSize, s.DisplayLimit)
	}
	if len(s.RequiredChannels) != 1 {
		t.Fatalf("channels = %v", s.RequiredChannels)
	}
}

func TestBuildProviders(t *testing.T) {
	cfg := &config.Config{}
	cfg.Search.Providers = []config.ProviderConfig{
		{Type: "DuckDuckGo"},
		{Type: "static", Name: "demo", Static: map[string][]string{"1": {"https://img/1"}, "x": {"skip"}}},
	}
	ps, err := buildProviders(cfg, http.DefaultClient)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if len(ps) != 2 || ps[0].Name() != "duckduckgo" || ps[1].Name() != "demo" {
		t.Fatalf("providers = %v", ps)
	}

	cfg.Search.Providers = []config.ProviderConfig{{Type: "google"}}
	if _, err := buildProviders(cfg, http.DefaultClient); err == nil {
		t.Fatal("expected error for google without api key")
	}
}

func TestMapStorageConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage = config.StorageConfig{Driver: " SQLite ", Path: "data/x.db"}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Driver != "sqlite" || sc.BusyTimeout != 5*time.Second {
		t.Fatalf("storage config = %+v", sc)
	}

	cfg.Storage.BusyTimeout = "soon"
	if _, err := mapStorageConfig(cfg); err == nil {
		t.Fatal("expected duration error")
	}
}

func TestOpenStore(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage = config.StorageConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "curator.db")}
	st, err := OpenStore(context.Background(), cfg, logx.Nop())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer st.Close()
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestScheduleJobsFollowsProbeChat(t *testing.T) {
	a := &App{log: logx.Nop(), sched: scheduler.New("UTC", logx.Nop())}
	cfg := &config.Config{}
	cfg.Telegram.ProbeChat = "-100123"
	cfg.Catalog.ReconcileSchedule = "@daily"

	names := func() []string {
		var out []string
		for _, j := range a.sched.Jobs() {
			out = append(out, j.Name)
		}
		return out
	}
	if err := a.scheduleJobs(cfg); err != nil {
		t.Fatalf("scheduleJobs: %v", err)
	}
	if got := names(); len(got) != 2 {
		t.Fatalf("jobs = %v, want reconcile and prune", got)
	}

	cfg.Telegram.ProbeChat = ""
	if err := a.scheduleJobs(cfg); err != nil {
		t.Fatalf("scheduleJobs: %v", err)
	}
	if got := names(); len(got) != 1 || got[0] != jobCooldownPrune {
		t.Fatalf("jobs after clearing probe chat = %v", got)
	}
}
