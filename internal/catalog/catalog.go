// Package catalog loads the bot's authored resources (menus, message
// templates, images) from the data directory and builds the navigation
// graph and per-key payloads. Built once at startup; immutable afterwards.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tele "gopkg.in/telebot.v4"

	"menubot/pkg/logx"
)

// Button is one inline-keyboard entry: a navigation callback or an
// external link, never both.
type Button struct {
	Label       string
	NavigateTo  string
	ExternalURL string
}

// MenuNode is one navigable screen: its ordered button rows and the
// back-target resolved by reverse lookup (empty when suppressed or no
// parent exists).
type MenuNode struct {
	Key          string
	Rows         [][]Button
	BackTarget   string
	explicitBack bool
}

// Payload is the renderable unit for one selection. Exactly one of Text or
// Caption+Media is set.
type Payload struct {
	Key     string
	Text    string
	Caption string
	Media   string // image file path or platform file reference
	Markup  *tele.ReplyMarkup
}

// HasMedia reports whether the payload renders as a photo.
func (p *Payload) HasMedia() bool { return p != nil && p.Media != "" }

// Merge overlays the non-zero fields of override onto a copy of p. A nil
// override returns p unchanged.
func (p *Payload) Merge(override *Payload) *Payload {
	if override == nil {
		return p
	}
	out := *p
	if override.Text != "" {
		out.Text = override.Text
	}
	if override.Caption != "" {
		out.Caption = override.Caption
	}
	if override.Media != "" {
		out.Media = override.Media
	}
	if override.Markup != nil {
		out.Markup = override.Markup
	}
	return &out
}

// BodyTemplate returns the template text regardless of render mode.
func (p *Payload) BodyTemplate() string {
	if p.Media != "" {
		return p.Caption
	}
	return p.Text
}

type Catalog struct {
	menuOrder []string
	menus     map[string]*MenuNode
	keyboards map[string]*tele.ReplyMarkup

	messages    map[string]string
	messageKeys []string
	images      map[string]string

	statButtons   []string
	labelByTarget map[string]string

	payloads     map[string]*Payload
	startPayload *Payload
}

// Load reads <dir>/json/*.json and <dir>/images/* and builds the catalog.
// Required documents: keyboards, messages, stats.
func Load(dir string, backExclusions []string, log logx.Logger) (*Catalog, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	raw, err := loadJSONDocs(filepath.Join(dir, "json"))
	if err != nil {
		return nil, err
	}
	for _, need := range []string{"keyboards", "messages", "stats"} {
		if _, ok := raw[need]; !ok {
			return nil, fmt.Errorf("catalog: missing required document %q", need)
		}
	}

	c := &Catalog{
		menus:         map[string]*MenuNode{},
		keyboards:     map[string]*tele.ReplyMarkup{},
		messages:      map[string]string{},
		images:        map[string]string{},
		labelByTarget: map[string]string{},
		payloads:      map[string]*Payload{},
	}

	if err := c.parseMenus(raw["keyboards"]); err != nil {
		return nil, fmt.Errorf("catalog: keyboards: %w", err)
	}
	if err := c.parseMessages(raw["messages"]); err != nil {
		return nil, fmt.Errorf("catalog: messages: %w", err)
	}
	if err := json.Unmarshal(raw["stats"], &c.statButtons); err != nil {
		return nil, fmt.Errorf("catalog: stats: %w", err)
	}
	if err := c.loadImages(filepath.Join(dir, "images")); err != nil {
		return nil, err
	}

	c.resolveBackTargets(backExclusions)
	c.buildKeyboards()
	c.buildPayloads()

	log.Info("catalog loaded",
		logx.Int("menus", len(c.menus)),
		logx.Int("messages", len(c.messages)),
		logx.Int("images", len(c.images)),
		logx.Int("stat_buttons", len(c.statButtons)))
	return c, nil
}

// loadJSONDocs reads every *.json file into a logical group keyed by the
// file stem. A document with a single top-level key is unwrapped.
func loadJSONDocs(dir string) (map[string]json.RawMessage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", dir, err)
	}
	out := map[string]json.RawMessage{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		stem := strings.TrimSuffix(e.Name(), ".json")
		out[stem] = unwrapSingleKey(b)
	}
	return out, nil
}

func unwrapSingleKey(doc []byte) json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(doc, &m); err != nil || len(m) != 1 {
		return doc
	}
	for _, v := range m {
		return v
	}
	return doc
}

func (c *Catalog) parseMenus(doc json.RawMessage) error {
	menus, err := parseOrderedObject(doc)
	if err != nil {
		return err
	}
	for _, m := range menus {
		if m.Nested == nil {
			return fmt.Errorf("menu %q: expected an object of buttons", m.Key)
		}
		node := &MenuNode{Key: m.Key}
		for _, b := range m.Nested {
			if b.Key == "back" {
				node.explicitBack = true
			}
			if b.Nested != nil {
				// Nested mapping: one multi-button row.
				row := make([]Button, 0, len(b.Nested))
				for _, sub := range b.Nested {
					row = append(row, newButton(sub.Key, sub.Value))
					c.recordLabel(sub.Key, sub.Value)
				}
				node.Rows = append(node.Rows, row)
				continue
			}
			node.Rows = append(node.Rows, []Button{newButton(b.Key, b.Value)})
			c.recordLabel(b.Key, b.Value)
		}
		c.menuOrder = append(c.menuOrder, m.Key)
		c.menus[m.Key] = node
	}
	return nil
}

func newButton(target, label string) Button {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return Button{Label: label, ExternalURL: target}
	}
	return Button{Label: label, NavigateTo: target}
}

// recordLabel remembers the first label seen for a callback target; the
// stats report uses it as the human name of the counter.
func (c *Catalog) recordLabel(target, label string) {
	if _, ok := c.labelByTarget[target]; !ok && label != "" {
		c.labelByTarget[target] = label
	}
}

func (c *Catalog) parseMessages(doc json.RawMessage) error {
	msgs, err := parseOrderedObject(doc)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if m.Nested != nil {
			return fmt.Errorf("message %q: expected a string template", m.Key)
		}
		c.messageKeys = append(c.messageKeys, m.Key)
		c.messages[m.Key] = m.Value
	}
	return nil
}

func (c *Catalog) loadImages(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("catalog: read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		c.images[stem] = filepath.Join(dir, name)
	}
	return nil
}

// --- lookups ---

// Payload returns the payload registered for a selection.
func (c *Catalog) Payload(key string) (*Payload, bool) {
	p, ok := c.payloads[key]
	return p, ok
}

// StartPayload is the /start response (photo + caption + root keyboard).
func (c *Catalog) StartPayload() *Payload { return c.startPayload }

// Template returns the raw message template for key ("" when absent).
func (c *Catalog) Template(key string) string { return c.messages[key] }

// Keyboard returns the rendered inline keyboard for a menu key.
func (c *Catalog) Keyboard(key string) *tele.ReplyMarkup { return c.keyboards[key] }

// Menu returns the navigation node for a menu key.
func (c *Catalog) Menu(key string) (*MenuNode, bool) {
	n, ok := c.menus[key]
	return n, ok
}

// StatButtons lists the trackable button keys, in authored order.
func (c *Catalog) StatButtons() []string { return c.statButtons }

// StatLabel resolves a button key to its human label, falling back to the
// raw key when no keyboard mentions it.
func (c *Catalog) StatLabel(target string) string {
	if l, ok := c.labelByTarget[target]; ok {
		return l
	}
	return target
}

// IsStatButton reports whether presses of target are counted.
func (c *Catalog) IsStatButton(target string) bool {
	for _, b := range c.statButtons {
		if b == target {
			return true
		}
	}
	return false
}
