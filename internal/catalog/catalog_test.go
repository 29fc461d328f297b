package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"menubot/pkg/logx"
)

var defaultExclusions = []string{"start", "broadcast", "stat"}

const keyboardsFixture = `{
  "start": {
    "catalog": "Каталог",
    "about": "О нас",
    "stat": "Статистика"
  },
  "catalog": {
    "item_one": "Товар 1",
    "links": {"item_two": "Товар 2", "https://example.com": "Сайт"}
  },
  "about": {
    "back": "К началу"
  },
  "stat": {
    "row1": {"stat_backward": "◀️", "legend_a": "Фильтр А"},
    "row2": {"stat": "🔄", "legend_b": "Фильтр Б"},
    "row3": {"stat_forward": "▶️"}
  },
  "cancel_broadcast": {"cancel_broadcast": "Отменить рассылку"},
  "edit_broadcast": {
    "skip_pictures": "Без картинки",
    "cancel_broadcast": "Отменить рассылку"
  },
  "confirm_broadcast": {
    "confirm_broadcast": "Отправить",
    "cancel_broadcast": "Отменить рассылку"
  }
}`

const messagesFixture = `{
  "start": "Привет!",
  "catalog": "Выберите товар",
  "item_one": "Описание товара 1",
  "item_two": "Описание товара 2",
  "about": "Мы молодцы",
  "all_stat": "Всего: %d (+%d / -%d)\nНажатий: %d\n%s",
  "stat": "Пользователи: %d (+%d / -%d)\nНажатий: %d\n%s",
  "broadcast": "Активных получателей: %d",
  "broadcast_text": "Текст рассылки:\n%s",
  "broadcast_result": "%s\n\nПолучат: %d",
  "broadcast_end": "%s\n\nДоставлено: %d\nОт: %s (@%s)"
}`

const statsFixture = `["item_one", "item_two"]`

func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	jsonDir := filepath.Join(dir, "json")
	imgDir := filepath.Join(dir, "images")
	for _, d := range []string{jsonDir, imgDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	files := map[string]string{
		filepath.Join(jsonDir, "keyboards.json"): keyboardsFixture,
		filepath.Join(jsonDir, "messages.json"):  messagesFixture,
		filepath.Join(jsonDir, "stats.json"):     statsFixture,
		filepath.Join(imgDir, "start.png"):       "png",
		filepath.Join(imgDir, "item_two.png"):    "png",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func loadFixture(t *testing.T) *Catalog {
	t.Helper()
	c, err := Load(writeFixture(t), defaultExclusions, logx.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return c
}

func TestOrderedObjectParsing(t *testing.T) {
	entries, err := parseOrderedObject([]byte(`{"b": "2", "a": "1", "row": {"x": "10", "y": "20"}}`))
	if err != nil {
		t.Fatalf("parseOrderedObject: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Key != "b" || entries[1].Key != "a" || entries[2].Key != "row" {
		t.Fatalf("order not preserved: %+v", entries)
	}
	if len(entries[2].Nested) != 2 || entries[2].Nested[0].Key != "x" {
		t.Fatalf("nested object mangled: %+v", entries[2])
	}
}

func TestBackButtonSynthesis(t *testing.T) {
	c := loadFixture(t)

	// catalog's parent is start; its keyboard ends with a back row.
	kb := c.Keyboard("catalog")
	rows := kb.InlineKeyboard
	last := rows[len(rows)-1]
	if len(last) != 1 || last[0].Data != "start" {
		t.Fatalf("expected trailing back button to start, got %+v", last)
	}

	// start matches an exclusion suffix: no back row.
	for _, row := range c.Keyboard("start").InlineKeyboard {
		for _, btn := range row {
			if btn.Text == backLabel {
				t.Fatalf("start keyboard must not get a back button")
			}
		}
	}

	// about declares its own back entry: nothing synthesized.
	node, _ := c.Menu("about")
	if node.BackTarget != "" {
		t.Fatalf("explicit back entry must suppress synthesis, got %q", node.BackTarget)
	}

	// broadcast-suffixed keys are excluded too.
	if node, _ := c.Menu("cancel_broadcast"); node.BackTarget != "" {
		t.Fatalf("excluded suffix must suppress synthesis, got %q", node.BackTarget)
	}
}

func TestBackRoundTrip(t *testing.T) {
	c := loadFixture(t)
	for _, key := range c.menuOrder {
		node := c.menus[key]
		if node.BackTarget == "" {
			continue
		}
		parent, ok := c.Menu(node.BackTarget)
		if !ok {
			t.Fatalf("%s: back target %q is not a menu", key, node.BackTarget)
		}
		found := false
		for _, row := range parent.Rows {
			for _, b := range row {
				if b.NavigateTo == key {
					found = true
				}
			}
		}
		if !found {
			t.Fatalf("%s: parent %q has no button leading back here", key, node.BackTarget)
		}
	}
}

func TestStatKeyboardCollapse(t *testing.T) {
	c := loadFixture(t)
	kb := c.Keyboard("stat")
	if len(kb.InlineKeyboard) != 1 {
		t.Fatalf("expected a single row, got %d", len(kb.InlineKeyboard))
	}
	row := kb.InlineKeyboard[0]
	want := []string{"stat_backward", "stat", "stat_forward"}
	if len(row) != len(want) {
		t.Fatalf("expected %d buttons, got %d", len(want), len(row))
	}
	for i, data := range want {
		if row[i].Data != data {
			t.Fatalf("button %d: want %q, got %q", i, data, row[i].Data)
		}
	}
	// Dropped columns still resolve as stat names.
	if got := c.StatLabel("legend_a"); got != "Фильтр А" {
		t.Fatalf("legend lookup: got %q", got)
	}
}

func TestButtonOrderPreserved(t *testing.T) {
	c := loadFixture(t)
	rows := c.Keyboard("start").InlineKeyboard
	want := []string{"catalog", "about", "stat"}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(rows))
	}
	for i, data := range want {
		if rows[i][0].Data != data {
			t.Fatalf("row %d: want %q, got %q", i, data, rows[i][0].Data)
		}
	}
}

func TestURLButton(t *testing.T) {
	c := loadFixture(t)
	var found bool
	for _, row := range c.Keyboard("catalog").InlineKeyboard {
		for _, btn := range row {
			if btn.URL == "https://example.com" {
				if btn.Data != "" {
					t.Fatalf("URL button must not carry callback data")
				}
				found = true
			}
		}
	}
	if !found {
		t.Fatal("external link button missing")
	}
}

func TestPayloadShape(t *testing.T) {
	c := loadFixture(t)

	p, ok := c.Payload("item_one")
	if !ok {
		t.Fatal("item_one payload missing")
	}
	if p.Text == "" || p.Media != "" {
		t.Fatalf("item_one should be text-only: %+v", p)
	}
	// No own keyboard: falls back to a single back button to its parent.
	if p.Markup == nil || p.Markup.InlineKeyboard[0][0].Data != "catalog" {
		t.Fatalf("item_one fallback keyboard wrong: %+v", p.Markup)
	}

	p, ok = c.Payload("item_two")
	if !ok {
		t.Fatal("item_two payload missing")
	}
	if p.Media == "" || p.Caption != "Описание товара 2" || p.Text != "" {
		t.Fatalf("item_two should carry media+caption: %+v", p)
	}
}

func TestStartPayload(t *testing.T) {
	c := loadFixture(t)
	p := c.StartPayload()
	if !p.HasMedia() {
		t.Fatal("start payload should use the shipped image")
	}
	if p.Caption != "Привет!" {
		t.Fatalf("start caption: got %q", p.Caption)
	}
	if p.Markup != c.Keyboard("start") {
		t.Fatal("start payload must carry the root keyboard")
	}
}

func TestStatButtons(t *testing.T) {
	c := loadFixture(t)
	if !c.IsStatButton("item_one") || c.IsStatButton("about") {
		t.Fatal("trackable set wrong")
	}
	if got := c.StatLabel("item_one"); got != "Товар 1" {
		t.Fatalf("StatLabel: got %q", got)
	}
	if got := c.StatLabel("unknown_key"); got != "unknown_key" {
		t.Fatalf("unknown label should echo the key, got %q", got)
	}
}

func TestPayloadMerge(t *testing.T) {
	c := loadFixture(t)
	p, _ := c.Payload("about")

	if got := p.Merge(nil); got != p {
		t.Fatal("nil override should return the payload unchanged")
	}

	merged := p.Merge(&Payload{Text: "другой текст"})
	if merged.Text != "другой текст" {
		t.Fatalf("override text not applied: %q", merged.Text)
	}
	if merged.Markup != p.Markup {
		t.Fatal("untouched fields must survive the merge")
	}
	if p.Text == "другой текст" {
		t.Fatal("merge must not mutate the original payload")
	}
}
