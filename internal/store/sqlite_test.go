package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"menubot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "bot.db"), logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUserActivityLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		if err := s.AddOrReactivateUser(ctx, id); err != nil {
			t.Fatalf("AddOrReactivateUser(%s): %v", id, err)
		}
	}
	if err := s.SetActive(ctx, "2", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	ids, err := s.ListActiveUserIDs(ctx)
	if err != nil {
		t.Fatalf("ListActiveUserIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 active users, got %v", ids)
	}

	// Inbound contact reactivates without duplicating the row.
	if err := s.AddOrReactivateUser(ctx, "2"); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	ids, _ = s.ListActiveUserIDs(ctx)
	if len(ids) != 3 {
		t.Fatalf("expected 3 active users after reactivation, got %v", ids)
	}
}

func TestPeriodSeedingAndCounters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p := Period{Year: 2026, Month: 8}
	buttons := []string{"item_one", "item_two"}

	if err := s.EnsurePeriod(ctx, p, buttons); err != nil {
		t.Fatalf("EnsurePeriod: %v", err)
	}
	// Seeding is idempotent and never resets existing counts.
	if err := s.IncrementButtonCounter(ctx, p, "item_one"); err != nil {
		t.Fatalf("IncrementButtonCounter: %v", err)
	}
	if err := s.EnsurePeriod(ctx, p, buttons); err != nil {
		t.Fatalf("EnsurePeriod again: %v", err)
	}

	rows, err := s.ReadPeriod(ctx, p)
	if err != nil {
		t.Fatalf("ReadPeriod: %v", err)
	}
	wantOrder := []string{"item_one", "item_two", ActiveUsersKey, InactiveUsersKey}
	if len(rows) != len(wantOrder) {
		t.Fatalf("expected %d rows, got %v", len(wantOrder), rows)
	}
	for i, b := range wantOrder {
		if rows[i].Button != b {
			t.Fatalf("row %d: want %q, got %q", i, b, rows[i].Button)
		}
	}
	if rows[0].Count != 1 {
		t.Fatalf("item_one count: got %d", rows[0].Count)
	}
}

func TestCountByActivityRefreshesSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p := Period{Year: 2026, Month: 8}

	if err := s.EnsurePeriod(ctx, p, nil); err != nil {
		t.Fatalf("EnsurePeriod: %v", err)
	}
	for _, id := range []string{"1", "2", "3"} {
		if err := s.AddOrReactivateUser(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SetActive(ctx, "3", false); err != nil {
		t.Fatal(err)
	}

	c, err := s.CountByActivity(ctx, p)
	if err != nil {
		t.Fatalf("CountByActivity: %v", err)
	}
	if c.Active != 2 || c.Inactive != 1 || c.Total() != 3 {
		t.Fatalf("counts: %+v", c)
	}

	rows, _ := s.ReadPeriod(ctx, p)
	byKey := map[string]int{}
	for _, r := range rows {
		byKey[r.Button] = r.Count
	}
	if byKey[ActiveUsersKey] != 2 || byKey[InactiveUsersKey] != 1 {
		t.Fatalf("snapshot rows not refreshed: %v", byKey)
	}
}

func TestListPeriodsChronological(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Insert out of order; the period string sorts chronologically.
	for _, p := range []Period{{2026, 2}, {2025, 11}, {2026, 1}} {
		if err := s.EnsurePeriod(ctx, p, nil); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.ListPeriods(ctx)
	if err != nil {
		t.Fatalf("ListPeriods: %v", err)
	}
	want := []Period{{2025, 11}, {2026, 1}, {2026, 2}}
	if len(got) != len(want) {
		t.Fatalf("periods: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("period %d: want %v, got %v", i, want[i], got[i])
		}
	}
}

func TestPeriodStringRoundTrip(t *testing.T) {
	p := PeriodOf(time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC), time.UTC)
	if p.String() != "2026-08" {
		t.Fatalf("String: got %q", p.String())
	}
	back, err := ParsePeriod("2026-08")
	if err != nil || back != p {
		t.Fatalf("ParsePeriod: %v %v", back, err)
	}
	if _, err := ParsePeriod("garbage"); err == nil {
		t.Fatal("garbage period must not parse")
	}
}

func TestBackupTo(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.AddOrReactivateUser(ctx, "1"); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "backups", "bot.db")
	if err := s.BackupTo(ctx, dst); err != nil {
		t.Fatalf("BackupTo: %v", err)
	}
	info, err := os.Stat(dst)
	if err != nil || info.Size() == 0 {
		t.Fatalf("backup file missing or empty: %v", err)
	}

	// The snapshot opens as a standalone database.
	b, err := Open(dst, logx.Nop())
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer b.Close()
	ids, err := b.ListActiveUserIDs(ctx)
	if err != nil || len(ids) != 1 {
		t.Fatalf("backup content: %v %v", ids, err)
	}
}
