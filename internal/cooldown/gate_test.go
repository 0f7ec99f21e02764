package cooldown

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"curatorbot/internal/storage"
	logx "curatorbot/pkg/logx"
)

func newGate(t *testing.T) (*Gate, *time.Time) {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "cd.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	g := New(st)
	g.now = func() time.Time { return now }
	return g, &now
}

func TestTryAcquireMonotonic(t *testing.T) {
	g, now := newGate(t)
	ctx := context.Background()

	d, err := g.TryAcquire(ctx, 1, ActionRandom, time.Minute)
	if err != nil || !d.Allowed {
		t.Fatalf("first: %+v err=%v", d, err)
	}

	*now = now.Add(20 * time.Second)
	d, err = g.TryAcquire(ctx, 1, ActionRandom, time.Minute)
	if err != nil || d.Allowed {
		t.Fatalf("second: %+v err=%v", d, err)
	}
	if d.Remaining != 40*time.Second {
		t.Fatalf("remaining = %v, want 40s", d.Remaining)
	}

	*now = now.Add(d.Remaining)
	d, err = g.TryAcquire(ctx, 1, ActionRandom, time.Minute)
	if err != nil || !d.Allowed {
		t.Fatalf("after window: %+v err=%v", d, err)
	}
}

func TestDeniedAttemptDoesNotExtendWindow(t *testing.T) {
	g, now := newGate(t)
	ctx := context.Background()
	_, _ = g.TryAcquire(ctx, 1, ActionSearch, time.Minute)

	*now = now.Add(50 * time.Second)
	if d, _ := g.TryAcquire(ctx, 1, ActionSearch, time.Minute); d.Allowed {
		t.Fatalf("expected denial")
	}
	*now = now.Add(10 * time.Second)
	if d, _ := g.TryAcquire(ctx, 1, ActionSearch, time.Minute); !d.Allowed {
		t.Fatalf("denied attempt extended the window")
	}
}

func TestZeroIntervalAlwaysAllows(t *testing.T) {
	g, _ := newGate(t)
	for i := 0; i < 3; i++ {
		d, err := g.TryAcquire(context.Background(), 1, ActionRandom, 0)
		if err != nil || !d.Allowed {
			t.Fatalf("attempt %d: %+v err=%v", i, d, err)
		}
	}
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	g, _ := newGate(t)
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := g.TryAcquire(context.Background(), 42, ActionRandom, time.Hour)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	if n := allowed.Load(); n != 1 {
		t.Fatalf("allowed = %d, want 1", n)
	}
}

func TestPrune(t *testing.T) {
	g, now := newGate(t)
	ctx := context.Background()
	_, _ = g.TryAcquire(ctx, 1, ActionRandom, time.Minute)
	*now = now.Add(2 * time.Hour)
	_, _ = g.TryAcquire(ctx, 2, ActionRandom, time.Minute)

	n, err := g.Prune(ctx, time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("prune = %d, err=%v", n, err)
	}
}

func TestPruneKeepsLiveWindows(t *testing.T) {
	tests := []struct {
		name      string
		interval  time.Duration
		pruneAge  time.Duration
		elapsed   time.Duration
		wantPrune int64
	}{
		{"interval longer than prune age", 48 * time.Hour, 24 * time.Hour, 25 * time.Hour, 0},
		{"interval shorter than prune age", time.Hour, 24 * time.Hour, 25 * time.Hour, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, now := newGate(t)
			ctx := context.Background()
			if d, err := g.TryAcquire(ctx, 1, ActionRandom, tt.interval); err != nil || !d.Allowed {
				t.Fatalf("first: %+v err=%v", d, err)
			}
			*now = now.Add(tt.elapsed)

			n, err := g.Prune(ctx, tt.pruneAge, tt.interval, time.Minute)
			if err != nil || n != tt.wantPrune {
				t.Fatalf("prune = %d, err=%v, want %d", n, err, tt.wantPrune)
			}
			d, err := g.TryAcquire(ctx, 1, ActionRandom, tt.interval)
			if err != nil {
				t.Fatal(err)
			}
			if wantAllowed := tt.elapsed >= tt.interval; d.Allowed != wantAllowed {
				t.Fatalf("allowed = %v after %v into a %v cooldown", d.Allowed, tt.elapsed, tt.interval)
			}
		})
	}
}
