package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logx "curatorbot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "curator.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "none"}, logx.Nop()); err != ErrDisabled {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	if _, err := Open(context.Background(), Config{Driver: "mysql"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestOpenTwiceKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curator.db")
	ctx := context.Background()
	st, err := Open(ctx, Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, _, err := st.InsertItem(ctx, "1:1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_ = st.Close()

	st, err = Open(ctx, Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if n, _ := st.CountItems(ctx); n != 1 {
		t.Fatalf("items after reopen = %d, want 1", n)
	}
}

func TestRebind(t *testing.T) {
	s := &Store{dialect: dialectPostgres}
	got := s.rebind(`SELECT 1 WHERE a = ? AND b IN (?,?)`)
	want := `SELECT 1 WHERE a = $1 AND b IN ($2,$3)`
	if got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}
	s.dialect = dialectSQLite
	if got := s.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite rebind changed query: %q", got)
	}
}

func TestMigrateURLForPostgres(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@h:5432/db":   "pgx5://u:p@h:5432/db",
		"postgresql://u:p@h:5432/db": "pgx5://u:p@h:5432/db",
		"pgx5://h/db":                "pgx5://h/db",
	}
	for in, want := range cases {
		if got := migrateURLForPostgres(in); got != want {
			t.Fatalf("migrateURLForPostgres(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, openTestStore(t))
}

// runStoreSuite runs driver-independent checks against an empty store.
func runStoreSuite(t *testing.T, st *Store) {
	t.Run("users", func(t *testing.T) { checkUsers(t, st) })
	t.Run("items", func(t *testing.T) { checkItems(t, st) })
	t.Run("exposures", func(t *testing.T) { checkExposures(t, st) })
	t.Run("reserve", func(t *testing.T) { checkReserve(t, st) })
	t.Run("search_history", func(t *testing.T) { checkSearchHistory(t, st) })
	t.Run("cooldowns", func(t *testing.T) { checkCooldowns(t, st) })
	t.Run("audit", func(t *testing.T) { checkAudit(t, st) })
}

func checkUsers(t *testing.T, st *Store) {
	ctx := context.Background()
	if err := st.UpsertUser(ctx, 7, "alice", "Alice"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	first, err := st.GetUser(ctx, 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := st.UpsertUser(ctx, 7, "alice2", "Al"); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	u, err := st.GetUser(ctx, 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.Username != "alice2" || u.FirstName != "Al" {
		t.Fatalf("metadata not refreshed: %+v", u)
	}
	if !u.FirstSeenAt.Equal(first.FirstSeenAt) {
		t.Fatalf("first_seen_at changed: %v -> %v", first.FirstSeenAt, u.FirstSeenAt)
	}
	if _, err := st.GetUser(ctx, 999); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_ = st.UpsertUser(ctx, 8, "", "")
	ids, err := st.ListUserIDs(ctx)
	if err != nil || len(ids) != 2 {
		t.Fatalf("roster = %v, err=%v", ids, err)
	}
}

func checkItems(t *testing.T, st *Store) {
	ctx := context.Background()
	a, created, err := st.InsertItem(ctx, "-100:1")
	if err != nil || !created {
		t.Fatalf("insert: created=%v err=%v", created, err)
	}
	b, created, err := st.InsertItem(ctx, "-100:1")
	if err != nil || created {
		t.Fatalf("duplicate insert: created=%v err=%v", created, err)
	}
	if a.ID != b.ID {
		t.Fatalf("duplicate insert returned different row: %d vs %d", a.ID, b.ID)
	}
	if _, _, err := st.InsertItem(ctx, "  "); err == nil {
		t.Fatalf("expected error for empty ref")
	}

	n, err := st.RecordItemFailure(ctx, a.ID)
	if err != nil || n != 1 {
		t.Fatalf("failure count = %d, err=%v", n, err)
	}
	n, _ = st.RecordItemFailure(ctx, a.ID)
	if n != 2 {
		t.Fatalf("failure count = %d, want 2", n)
	}
	if err := st.ResetItemFailures(ctx, a.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, _ := st.GetItem(ctx, a.ID)
	if got.DeliveryFailures != 0 {
		t.Fatalf("failures after reset = %d", got.DeliveryFailures)
	}
	if _, err := st.RecordItemFailure(ctx, 1<<40); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	ok, err := st.DeleteItem(ctx, a.ID)
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	ok, _ = st.DeleteItem(ctx, a.ID)
	if ok {
		t.Fatalf("second delete reported existing item")
	}
}

func checkExposures(t *testing.T, st *Store) {
	ctx := context.Background()
	const user = 1001
	var ids []int64
	for i := 0; i < 10; i++ {
		it, _, err := st.InsertItem(ctx, fmt.Sprintf("exp:%d", i))
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		ids = append(ids, it.ID)
	}
	base, _ := st.CountItems(ctx)

	for _, id := range ids[:3] {
		ok, err := st.InsertExposure(ctx, user, id)
		if err != nil || !ok {
			t.Fatalf("insert exposure: ok=%v err=%v", ok, err)
		}
	}
	if ok, _ := st.InsertExposure(ctx, user, ids[0]); ok {
		t.Fatalf("duplicate exposure inserted")
	}
	unseen, _ := st.CountUnseen(ctx, user)
	if unseen != base-3 {
		t.Fatalf("unseen = %d, want %d", unseen, base-3)
	}

	sample, err := st.SampleUnseen(ctx, user, 100)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	for _, it := range sample {
		for _, seen := range ids[:3] {
			if it.ID == seen {
				t.Fatalf("sample returned exposed item %d", it.ID)
			}
		}
	}

	if _, err := st.DeleteItem(ctx, ids[0]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := st.CountExposures(ctx, user); n != 2 {
		t.Fatalf("exposures after delete = %d, want 2", n)
	}
	if has, _ := st.HasExposure(ctx, user, ids[0]); has {
		t.Fatalf("exposure survived item delete")
	}
	if err := st.DeleteExposure(ctx, user, ids[1]); err != nil {
		t.Fatalf("delete exposure: %v", err)
	}
	if n, _ := st.CountExposures(ctx, user); n != 1 {
		t.Fatalf("exposures = %d, want 1", n)
	}
}

func checkReserve(t *testing.T, st *Store) {
	ctx := context.Background()
	const user = 2002
	for i := 0; i < 6; i++ {
		if _, _, err := st.InsertItem(ctx, fmt.Sprintf("res:%d", i)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	total, _ := st.CountItems(ctx)

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		seen = map[int64]int{}
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := st.ReserveUnseen(ctx, user, 3)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			mu.Lock()
			for _, it := range items {
				seen[it.ID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	for id, n := range seen {
		if n > 1 {
			t.Fatalf("item %d reserved %d times", id, n)
		}
	}
	if n, _ := st.CountExposures(ctx, user); n != len(seen) || n > total {
		t.Fatalf("exposures = %d, reserved = %d, total = %d", n, len(seen), total)
	}
}

func checkSearchHistory(t *testing.T, st *Store) {
	ctx := context.Background()
	keys := []string{"https://a", "https://b", "https://c"}
	n, err := st.InsertSearchHistory(ctx, 5, "cats", keys[:2])
	if err != nil || n != 2 {
		t.Fatalf("insert history: n=%d err=%v", n, err)
	}
	n, _ = st.InsertSearchHistory(ctx, 5, "cats", keys)
	if n != 1 {
		t.Fatalf("second insert n=%d, want 1", n)
	}
	seen, err := st.SeenResultKeys(ctx, 5, "cats", append(keys, "https://d"))
	if err != nil {
		t.Fatalf("seen: %v", err)
	}
	if len(seen) != 3 || seen["https://d"] {
		t.Fatalf("seen = %v", seen)
	}
	other, _ := st.SeenResultKeys(ctx, 5, "dogs", keys)
	if len(other) != 0 {
		t.Fatalf("history leaked across queries: %v", other)
	}
	if c, _ := st.CountSearchHistory(ctx, 5, "cats"); c != 3 {
		t.Fatalf("history count = %d", c)
	}
}

func checkCooldowns(t *testing.T, st *Store) {
	ctx := context.Background()
	now := time.Now()
	ok, _, err := st.TryAcquireCooldown(ctx, 9, "random", now, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, last, err := st.TryAcquireCooldown(ctx, 9, "random", now.Add(10*time.Second), time.Minute)
	if err != nil || ok {
		t.Fatalf("second acquire: ok=%v err=%v", ok, err)
	}
	if last.UnixMilli() != now.UnixMilli() {
		t.Fatalf("blocking timestamp = %v, want %v", last, now)
	}
	ok, _, _ = st.TryAcquireCooldown(ctx, 9, "search", now.Add(10*time.Second), time.Minute)
	if !ok {
		t.Fatalf("actions must be independent")
	}
	ok, _, _ = st.TryAcquireCooldown(ctx, 9, "random", now.Add(61*time.Second), time.Minute)
	if !ok {
		t.Fatalf("acquire after interval denied")
	}

	n, err := st.PruneCooldowns(ctx, now.Add(30*time.Second))
	if err != nil || n != 1 {
		t.Fatalf("prune removed %d, err=%v", n, err)
	}
	if _, err := st.GetCooldown(ctx, 9, "search"); err != ErrNotFound {
		t.Fatalf("expected pruned entry, got %v", err)
	}
}

func checkAudit(t *testing.T, st *Store) {
	ctx := context.Background()
	if err := st.Audit(ctx, AuditEntry{ActorID: 1, Action: "broadcast", OK: 3, Fail: 2}); err != nil {
		t.Fatalf("audit: %v", err)
	}
	if err := st.Audit(ctx, AuditEntry{ActorID: 1, Action: "evict", Target: "1:2", Error: "gone"}); err != nil {
		t.Fatalf("audit: %v", err)
	}
	got, err := st.RecentAudit(ctx, 10)
	if err != nil || len(got) != 2 {
		t.Fatalf("recent audit: %v err=%v", got, err)
	}
	if got[0].Action != "evict" || got[0].Error != "gone" || got[1].OK != 3 {
		t.Fatalf("unexpected audit rows: %+v", got)
	}
}
