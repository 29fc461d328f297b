package stats

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"menubot/internal/catalog"
	"menubot/internal/session"
	"menubot/internal/store"
	"menubot/pkg/logx"
)

// fakeStore keeps period tables in memory with the same seeding and
// snapshot-refresh behavior as the sqlite implementation.
type fakeStore struct {
	active   int
	inactive int
	periods  []store.Period
	rows     map[string][]store.CounterRow
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string][]store.CounterRow{}}
}

func (f *fakeStore) seed(p store.Period, rows []store.CounterRow) {
	f.periods = append(f.periods, p)
	f.rows[p.String()] = rows
}

func (f *fakeStore) AddOrReactivateUser(ctx context.Context, id string) error { return nil }
func (f *fakeStore) SetActive(ctx context.Context, id string, a bool) error   { return nil }
func (f *fakeStore) ListActiveUserIDs(ctx context.Context) ([]string, error)  { return nil, nil }

func (f *fakeStore) CountByActivity(ctx context.Context, p store.Period) (store.ActivityCounts, error) {
	rows := f.rows[p.String()]
	for i := range rows {
		switch rows[i].Button {
		case store.ActiveUsersKey:
			rows[i].Count = f.active
		case store.InactiveUsersKey:
			rows[i].Count = f.inactive
		}
	}
	f.rows[p.String()] = rows
	return store.ActivityCounts{Active: f.active, Inactive: f.inactive}, nil
}

func (f *fakeStore) EnsurePeriod(ctx context.Context, p store.Period, buttons []string) error {
	if _, ok := f.rows[p.String()]; ok {
		return nil
	}
	rows := make([]store.CounterRow, 0, len(buttons)+2)
	for _, b := range buttons {
		rows = append(rows, store.CounterRow{Button: b})
	}
	rows = append(rows,
		store.CounterRow{Button: store.ActiveUsersKey},
		store.CounterRow{Button: store.InactiveUsersKey})
	f.seed(p, rows)
	return nil
}

func (f *fakeStore) IncrementButtonCounter(ctx context.Context, p store.Period, b string) error {
	rows := f.rows[p.String()]
	for i := range rows {
		if rows[i].Button == b {
			rows[i].Count++
		}
	}
	f.rows[p.String()] = rows
	return nil
}

func (f *fakeStore) ReadPeriod(ctx context.Context, p store.Period) ([]store.CounterRow, error) {
	out := make([]store.CounterRow, len(f.rows[p.String()]))
	copy(out, f.rows[p.String()])
	return out, nil
}

func (f *fakeStore) ListPeriods(ctx context.Context) ([]store.Period, error) {
	out := make([]store.Period, len(f.periods))
	copy(out, f.periods)
	return out, nil
}

func (f *fakeStore) Path() string                                   { return "" }
func (f *fakeStore) BackupTo(ctx context.Context, dst string) error { return nil }
func (f *fakeStore) Close() error                                   { return nil }

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"keyboards.json": `{
			"start": {"item_one": "Товар 1", "item_two": "Товар 2", "stat": "Статистика"},
			"stat": {"row1": {"stat_backward": "◀️"}, "row2": {"stat_forward": "▶️"}}
		}`,
		"messages.json": `{
			"start": "Привет",
			"all_stat": "Всего: %d (+%d / -%d) нажатий %d\n%s",
			"stat": "За месяц: %d (+%d / -%d) нажатий %d\n%s"
		}`,
		"stats.json": `["item_one", "item_two"]`,
	}
	if err := writeFiles(dir, files); err != nil {
		t.Fatal(err)
	}
	c, err := catalog.Load(dir, []string{"start", "broadcast", "stat"}, logx.Nop())
	if err != nil {
		t.Fatalf("catalog.Load: %v", err)
	}
	return c
}

func writeFiles(dir string, files map[string]string) error {
	jsonDir := filepath.Join(dir, "json")
	if err := os.MkdirAll(jsonDir, 0o755); err != nil {
		return err
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(jsonDir, name), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func newEngine(t *testing.T, fs *fakeStore, current store.Period) (*Engine, *session.Store) {
	t.Helper()
	sessions := session.NewStore()
	eng := New(fs, testCatalog(t), sessions, func() store.Period { return current }, logx.Nop())
	return eng, sessions
}

func TestComputeDeltasNewestFirst(t *testing.T) {
	fs := newFakeStore()
	fs.seed(store.Period{Year: 2025, Month: 12}, []store.CounterRow{
		{Button: "item_one", Count: 5},
		{Button: "item_two", Count: 3},
		{Button: store.ActiveUsersKey, Count: 10},
		{Button: store.InactiveUsersKey, Count: 2},
	})
	fs.seed(store.Period{Year: 2026, Month: 1}, []store.CounterRow{
		{Button: "item_one", Count: 7},
		{Button: "item_two", Count: 0},
		{Button: store.ActiveUsersKey, Count: 15},
		{Button: store.InactiveUsersKey, Count: 5},
	})
	fs.active, fs.inactive = 20, 6

	eng, _ := newEngine(t, fs, store.Period{Year: 2026, Month: 1})
	pages, err := eng.Compute(context.Background())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("expected summary + 2 months, got %d pages", len(pages))
	}

	// Summary uses refreshed live counts, not deltas.
	if !strings.Contains(pages[0].Plain, "Всего: 26 (+20 / -6)") {
		t.Fatalf("summary wrong: %q", pages[0].Plain)
	}

	// Newest month first; its activity figures are deltas vs December.
	if !strings.Contains(pages[1].Plain, "Январь, 2026") {
		t.Fatalf("expected January page first, got %q", pages[1].Plain)
	}
	// January snapshot was refreshed to 20/6 by the summary pass, so the
	// delta against December's 10/2 is +10/+4.
	if !strings.Contains(pages[1].Plain, "(+10 / -4)") {
		t.Fatalf("January deltas wrong: %q", pages[1].Plain)
	}

	// Earliest month diffs against zero.
	if !strings.Contains(pages[2].Plain, "Декабрь, 2025") {
		t.Fatalf("expected December page last, got %q", pages[2].Plain)
	}
	if !strings.Contains(pages[2].Plain, "(+10 / -2)") {
		t.Fatalf("December deltas wrong: %q", pages[2].Plain)
	}

	// Button lines carry authored labels and the tracked totals.
	if !strings.Contains(pages[2].Plain, "— «Товар 1»: 5") {
		t.Fatalf("label line missing: %q", pages[2].Plain)
	}
	if !strings.Contains(pages[2].Plain, "нажатий 8") {
		t.Fatalf("December total should exclude synthetic rows: %q", pages[2].Plain)
	}
}

func TestResetCachesPages(t *testing.T) {
	fs := newFakeStore()
	fs.active = 3
	current := store.Period{Year: 2026, Month: 8}
	eng, sessions := newEngine(t, fs, current)

	first, err := eng.Reset(context.Background(), 42)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	sess, ok := sessions.Peek(42)
	if !ok || len(sess.StatPages) == 0 {
		t.Fatal("pages not cached on the session")
	}
	if sess.StatPages[0].Plain != first.Plain {
		t.Fatal("cached first page differs from returned one")
	}
}

func TestScrollBoundaries(t *testing.T) {
	fs := newFakeStore()
	fs.seed(store.Period{Year: 2026, Month: 7}, []store.CounterRow{
		{Button: "item_one", Count: 1},
		{Button: store.ActiveUsersKey, Count: 1},
		{Button: store.InactiveUsersKey, Count: 0},
	})
	current := store.Period{Year: 2026, Month: 8}
	eng, _ := newEngine(t, fs, current)
	ctx := context.Background()

	pages, err := eng.Compute(ctx)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if _, err := eng.Reset(ctx, 7); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	// Forward from the summary lands on the newest month.
	res, err := eng.Scroll(ctx, 7, pages[0].Plain, true)
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	if res.Page == nil || res.Page.Plain != pages[1].Plain {
		t.Fatalf("expected second page, got %+v", res)
	}

	// Backward from the first page is a no-op notice.
	res, err = eng.Scroll(ctx, 7, pages[0].Plain, false)
	if err != nil || res.Notice != NoticeNoMore {
		t.Fatalf("expected boundary notice, got %+v (%v)", res, err)
	}

	// Forward past the end too.
	res, err = eng.Scroll(ctx, 7, pages[len(pages)-1].Plain, true)
	if err != nil || res.Notice != NoticeNoMore {
		t.Fatalf("expected boundary notice, got %+v (%v)", res, err)
	}

	// A surface that matches no cached page degrades to the first-page notice.
	res, err = eng.Scroll(ctx, 7, "stale text", true)
	if err != nil || res.Notice != NoticeFirstPage {
		t.Fatalf("expected first-page notice, got %+v (%v)", res, err)
	}
}

func TestMonthName(t *testing.T) {
	for i, want := range []string{"Январь", "Декабрь"} {
		m := []time.Month{time.January, time.December}[i]
		if got := monthName(m); got != want {
			t.Fatalf("monthName(%d) = %q, want %q", m, got, want)
		}
	}
	if got := monthName(time.Month(13)); got != fmt.Sprintf("месяц %d", 13) {
		t.Fatalf("out-of-range month: %q", got)
	}
	p := store.Period{Year: 2026, Month: time.August}
	if got := monthName(p.Month); got != "Август" {
		t.Fatalf("period month: %q", got)
	}
}
