package catalog

import (
	"strings"

	tele "gopkg.in/telebot.v4"

	"menubot/pkg/tgui"
)

// Callback data recognized by the router beyond plain navigation. The
// values double as counter keys, so they stay stable across releases.
const (
	CBBroadcast        = "broadcast"
	CBCancelBroadcast  = "cancel_broadcast"
	CBConfirmBroadcast = "confirm_broadcast"
	CBSkipPictures     = "skip_pictures"
	CBStat             = "stat"
	CBStatForward      = "stat_forward"
	CBStatBackward     = "stat_backward"
)

const backLabel = "Назад ⬅️"

// resolveBackTargets computes, for every menu, the menu that should own its
// back button: the first menu in authored order containing a button that
// navigates to it. Menus whose key ends with an excluded suffix, and menus
// declaring their own "back" entry, get none.
func (c *Catalog) resolveBackTargets(exclusions []string) {
	for _, key := range c.menuOrder {
		node := c.menus[key]
		if node.explicitBack || excluded(key, exclusions) {
			continue
		}
		node.BackTarget = c.findParent(key)
	}
}

func (c *Catalog) findParent(key string) string {
	for _, candidate := range c.menuOrder {
		if candidate == key {
			continue
		}
		for _, row := range c.menus[candidate].Rows {
			for _, b := range row {
				if b.NavigateTo == key {
					return candidate
				}
			}
		}
	}
	return ""
}

func excluded(key string, exclusions []string) bool {
	for _, suf := range exclusions {
		if strings.HasSuffix(key, suf) {
			return true
		}
	}
	return false
}

// buildKeyboards renders every menu node into a telebot markup, appending
// the synthesized back button as its own trailing row. The stats keyboard
// is then collapsed to a single row holding the first button of each
// authored row; the trailing columns only supply counter labels.
func (c *Catalog) buildKeyboards() {
	for key, node := range c.menus {
		c.keyboards[key] = c.renderMenu(node)
	}
	if stat, ok := c.keyboards["stat"]; ok {
		row := make([]tele.InlineButton, 0, len(stat.InlineKeyboard))
		for _, r := range stat.InlineKeyboard {
			row = append(row, r[0])
		}
		c.keyboards["stat"] = &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{row}}
	}
}

func (c *Catalog) renderMenu(node *MenuNode) *tele.ReplyMarkup {
	kb := tgui.NewInline()
	for _, row := range node.Rows {
		btns := make([]tele.Btn, 0, len(row))
		for _, b := range row {
			btns = append(btns, renderButton(b))
		}
		kb.Row(btns...)
	}
	if node.BackTarget != "" {
		kb.Row(tgui.Btn(backLabel, node.BackTarget))
	}
	return kb.Markup()
}

func renderButton(b Button) tele.Btn {
	if b.ExternalURL != "" {
		return tgui.URLBtn(b.Label, b.ExternalURL)
	}
	return tgui.Btn(b.Label, b.NavigateTo)
}

// backOnlyKeyboard makes a single-button keyboard returning to parent.
func (c *Catalog) backOnlyKeyboard(parent string) *tele.ReplyMarkup {
	kb := tgui.NewInline()
	kb.Row(tgui.Btn(backLabel, parent))
	return kb.Markup()
}

// buildPayloads registers one payload per message template. A template whose
// key has an image renders as a photo with a caption; otherwise as text. The
// markup is the same-key keyboard when one exists, else a back-only keyboard
// to the menu that links here, else nothing.
func (c *Catalog) buildPayloads() {
	for _, key := range c.messageKeys {
		text := c.messages[key]
		p := &Payload{Key: key}
		if img, ok := c.images[key]; ok {
			p.Media = img
			p.Caption = text
		} else {
			p.Text = text
		}
		if kb, ok := c.keyboards[key]; ok {
			p.Markup = kb
		} else if parent := c.findParent(key); parent != "" {
			p.Markup = c.backOnlyKeyboard(parent)
		}
		c.payloads[key] = p
	}
	c.startPayload = &Payload{
		Key:     "cmd_start",
		Caption: c.messages["start"],
		Media:   c.images["start"],
		Markup:  c.keyboards["start"],
	}
	if c.startPayload.Media == "" {
		// No start image shipped: degrade to a plain text greeting.
		c.startPayload.Text = c.startPayload.Caption
		c.startPayload.Caption = ""
	}
}

// Broadcast conversation keyboards are authored like any other menu; their
// keys end in "broadcast" so no back button is synthesized onto them.

// CancelKeyboard is shown on the control message while collecting text.
func (c *Catalog) CancelKeyboard() *tele.ReplyMarkup { return c.keyboards["cancel_broadcast"] }

// EditKeyboard is shown while collecting media; it carries the skip and
// cancel controls.
func (c *Catalog) EditKeyboard() *tele.ReplyMarkup { return c.keyboards["edit_broadcast"] }

// ConfirmKeyboard is shown with the assembled preview.
func (c *Catalog) ConfirmKeyboard() *tele.ReplyMarkup { return c.keyboards["confirm_broadcast"] }

// RecipientKeyboard is attached to every delivered broadcast message.
func (c *Catalog) RecipientKeyboard() *tele.ReplyMarkup { return c.keyboards["broadcast"] }
