// Package stats renders the paginated usage report: one grand-summary page
// with live activity counts, then one page per stored calendar month,
// newest first. Computed sequences are cached per admin chat so scroll
// presses don't re-query storage.
package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"menubot/internal/catalog"
	"menubot/internal/session"
	"menubot/internal/store"
	"menubot/pkg/logx"
	"menubot/pkg/tgui"
)

// Transient notices surfaced as ephemeral callback answers.
const (
	NoticeFirstPage = "Вы на первой странице 🏠"
	NoticeNoMore    = "Больше значений нет 😢"
)

var monthNames = [...]string{
	"Январь", "Февраль", "Март", "Апрель", "Май", "Июнь",
	"Июль", "Август", "Сентябрь", "Октябрь", "Ноябрь", "Декабрь",
}

func monthName(m time.Month) string {
	if m < time.January || m > time.December {
		return fmt.Sprintf("месяц %d", int(m))
	}
	return monthNames[m-1]
}

type Engine struct {
	store    store.Store
	catalog  *catalog.Catalog
	sessions *session.Store
	log      logx.Logger
	now      func() store.Period
}

func New(st store.Store, cat *catalog.Catalog, sessions *session.Store, now func() store.Period, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{store: st, catalog: cat, sessions: sessions, log: log, now: now}
}

// periodFigures is one period's report inputs: the activity deltas against
// the previous snapshot and the formatted per-button block.
type periodFigures struct {
	active   int
	inactive int
	total    int
	lines    string
}

// figures renders the counter block for one period. Synthetic rows become
// deltas against prev (zero for the earliest period); button rows keep
// their seeded order and sum into total.
func (e *Engine) figures(rows []store.CounterRow, prev map[string]int) periodFigures {
	var f periodFigures
	var lines []string
	for _, r := range rows {
		switch r.Button {
		case store.ActiveUsersKey:
			f.active = r.Count - prev[store.ActiveUsersKey]
		case store.InactiveUsersKey:
			f.inactive = r.Count - prev[store.InactiveUsersKey]
		default:
			lines = append(lines, fmt.Sprintf("— «%s»: %d", e.catalog.StatLabel(r.Button), r.Count))
			f.total += r.Count
		}
	}
	f.lines = strings.Join(lines, "\n")
	return f
}

func fillTemplate(tpl string, f periodFigures) string {
	return fmt.Sprintf(tpl, f.active+f.inactive, f.active, f.inactive, f.total, f.lines)
}

// Compute builds the full page sequence. The first page is a grand summary
// from live counts; computing it also refreshes the current period's
// synthetic snapshot rows.
func (e *Engine) Compute(ctx context.Context) ([]session.StatPage, error) {
	current := e.now()
	if err := e.store.EnsurePeriod(ctx, current, e.catalog.StatButtons()); err != nil {
		return nil, fmt.Errorf("stats: seed period: %w", err)
	}
	if _, err := e.store.CountByActivity(ctx, current); err != nil {
		return nil, fmt.Errorf("stats: refresh counts: %w", err)
	}

	currentRows, err := e.store.ReadPeriod(ctx, current)
	if err != nil {
		return nil, err
	}
	summary := fillTemplate(e.catalog.Template("all_stat"), e.figures(currentRows, nil))
	pages := []session.StatPage{newPage(summary)}

	periods, err := e.store.ListPeriods(ctx)
	if err != nil {
		return nil, err
	}
	tpl := e.catalog.Template("stat")
	var monthly []session.StatPage
	prev := map[string]int{}
	for _, p := range periods {
		rows, err := e.store.ReadPeriod(ctx, p)
		if err != nil {
			return nil, err
		}
		body := fillTemplate(tpl, e.figures(rows, prev))
		header := tgui.Quote(tgui.H("🗓 ") + tgui.B(fmt.Sprintf("%s, %d", monthName(p.Month), p.Year)))
		monthly = append(monthly, newPage(fmt.Sprintf("%s\n\n%s", header, body)))
		prev = snapshot(rows)
	}
	// Newest month right after the summary.
	for i := len(monthly) - 1; i >= 0; i-- {
		pages = append(pages, monthly[i])
	}
	e.log.Debug("stats computed", logx.Int("pages", len(pages)), logx.Int("periods", len(periods)))
	return pages, nil
}

func snapshot(rows []store.CounterRow) map[string]int {
	m := make(map[string]int, 2)
	for _, r := range rows {
		if r.Button == store.ActiveUsersKey || r.Button == store.InactiveUsersKey {
			m[r.Button] = r.Count
		}
	}
	return m
}

func newPage(html string) session.StatPage {
	return session.StatPage{HTML: html, Plain: tgui.StripTags(html)}
}

// Reset computes the sequence, caches it on the chat's session and returns
// the first page. Used by the /stat command and the refresh button.
func (e *Engine) Reset(ctx context.Context, chatID int64) (session.StatPage, error) {
	pages, err := e.Compute(ctx)
	if err != nil {
		return session.StatPage{}, err
	}
	e.sessions.Update(chatID, func(s *session.Session) { s.StatPages = pages })
	return pages[0], nil
}

// ScrollResult is either a page to show or a transient notice, never both.
type ScrollResult struct {
	Page   *session.StatPage
	Notice string
}

// Scroll moves one page from the one currently shown, located by plain-text
// match against the cached sequence. Boundary presses and unlocatable
// current pages degrade to notices instead of errors.
func (e *Engine) Scroll(ctx context.Context, chatID int64, shownText string, forward bool) (ScrollResult, error) {
	sess, _ := e.sessions.Peek(chatID)
	pages := sess.StatPages
	if len(pages) == 0 {
		var err error
		if pages, err = e.Compute(ctx); err != nil {
			return ScrollResult{}, err
		}
		e.sessions.Update(chatID, func(s *session.Session) { s.StatPages = pages })
	}

	idx := -1
	for i, p := range pages {
		if p.Plain == shownText {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Stale surface, e.g. the report changed since it was rendered.
		return ScrollResult{Notice: NoticeFirstPage}, nil
	}
	if forward {
		idx++
	} else {
		idx--
	}
	if idx < 0 || idx >= len(pages) {
		return ScrollResult{Notice: NoticeNoMore}, nil
	}
	return ScrollResult{Page: &pages[idx]}, nil
}
