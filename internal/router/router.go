// Package router classifies inbound transport updates and drives the
// matching engine: start greetings, menu navigation, the admin stats and
// database commands, and the broadcast conversation steps.
package router

import (
	"context"
	"strconv"
	"strings"

	"menubot/internal/broadcast"
	"menubot/internal/catalog"
	"menubot/internal/session"
	"menubot/internal/stats"
	"menubot/internal/store"
	"menubot/internal/transport"
	"menubot/pkg/logx"
)

const dbDumpCaption = "База данных <b>успешно</b> выгружена ✅"

type Router struct {
	adapter   transport.Adapter
	store     store.Store
	catalog   *catalog.Catalog
	sessions  *session.Store
	stats     *stats.Engine
	broadcast *broadcast.Engine
	log       logx.Logger

	adminChatID   int64
	defaultAnswer string
	now           func() store.Period
	opts          *transport.SendOptions
}

type Deps struct {
	Adapter   transport.Adapter
	Store     store.Store
	Catalog   *catalog.Catalog
	Sessions  *session.Store
	Stats     *stats.Engine
	Broadcast *broadcast.Engine
	Log       logx.Logger

	AdminChatID   int64
	DefaultAnswer string
	Now           func() store.Period
}

func New(d Deps) *Router {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		adapter:       d.Adapter,
		store:         d.Store,
		catalog:       d.Catalog,
		sessions:      d.Sessions,
		stats:         d.Stats,
		broadcast:     d.Broadcast,
		log:           log.With(logx.String("component", "router")),
		adminChatID:   d.AdminChatID,
		defaultAnswer: d.DefaultAnswer,
		now:           d.Now,
		opts:          &transport.SendOptions{ParseMode: "HTML", DisablePreview: true},
	}
}

// Route dispatches one update. Failures are logged, never propagated; a
// broken update must not take the loop down.
func (r *Router) Route(ctx context.Context, u transport.Update) {
	var err error
	switch u.Kind {
	case transport.UpdateMessage:
		if u.Message != nil {
			err = r.handleMessage(ctx, u.Message)
		}
	case transport.UpdateCallback:
		if u.Callback != nil {
			err = r.handleCallback(ctx, u.Callback)
		}
	}
	if err != nil {
		r.log.Error("handle update", logx.String("kind", string(u.Kind)), logx.Err(err))
	}
}

func (r *Router) isAdmin(chatID int64) bool {
	return r.adminChatID != 0 && chatID == r.adminChatID
}

func (r *Router) touchUser(ctx context.Context, userID int64) {
	if err := r.store.AddOrReactivateUser(ctx, strconv.FormatInt(userID, 10)); err != nil {
		r.log.Warn("record activity", logx.Int64("user", userID), logx.Err(err))
	}
}

func (r *Router) handleMessage(ctx context.Context, m *transport.Message) error {
	r.touchUser(ctx, m.FromID)

	cmd, _, _ := strings.Cut(m.Text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	switch cmd {
	case "/start":
		return r.sendStart(ctx, m.ChatID)
	case "/mail":
		if r.isAdmin(m.ChatID) {
			return r.broadcast.Begin(ctx, m.ChatID, nil)
		}
	case "/stat":
		if r.isAdmin(m.ChatID) {
			r.deleteInbound(ctx, m)
			return r.sendStats(ctx, m.ChatID)
		}
	case "/db":
		if r.isAdmin(m.ChatID) {
			r.deleteInbound(ctx, m)
			_, err := r.adapter.SendDocument(ctx, transport.ChatTarget{ChatID: m.ChatID}, r.store.Path(), dbDumpCaption)
			return err
		}
	}

	if r.isAdmin(m.ChatID) {
		if sess, ok := r.sessions.Peek(m.ChatID); ok {
			switch sess.State {
			case session.StateCollectText:
				return r.broadcast.CollectText(ctx, m)
			case session.StateCollectMedia:
				return r.broadcast.CollectMedia(ctx, m)
			}
		}
	}

	if r.defaultAnswer != "" {
		_, err := r.adapter.SendText(ctx, transport.ChatTarget{ChatID: m.ChatID}, r.defaultAnswer, nil)
		return err
	}
	return nil
}

func (r *Router) sendStart(ctx context.Context, chatID int64) error {
	p := r.catalog.StartPayload()
	to := transport.ChatTarget{ChatID: chatID}
	opts := r.withMarkup(p.Markup)
	var err error
	if p.HasMedia() {
		_, err = r.adapter.SendPhoto(ctx, to, p.Media, p.Caption, opts)
	} else {
		_, err = r.adapter.SendText(ctx, to, p.Text, opts)
	}
	return err
}

func (r *Router) handleCallback(ctx context.Context, cb *transport.Callback) error {
	r.touchUser(ctx, cb.FromID)
	admin := r.isAdmin(cb.ChatID)

	switch cb.Data {
	case catalog.CBBroadcast:
		if admin {
			defer r.ack(ctx, cb)
			return r.broadcast.Begin(ctx, cb.ChatID, cb)
		}
	case catalog.CBCancelBroadcast:
		if admin {
			defer r.ack(ctx, cb)
			return r.broadcast.Cancel(ctx, cb)
		}
		return nil
	case catalog.CBSkipPictures:
		if admin {
			defer r.ack(ctx, cb)
			return r.broadcast.SkipPictures(ctx, cb)
		}
		return nil
	case catalog.CBConfirmBroadcast:
		if admin {
			defer r.ack(ctx, cb)
			return r.broadcast.Confirm(ctx, cb)
		}
		return nil
	case catalog.CBStat:
		if admin {
			return r.resetStats(ctx, cb)
		}
		return nil
	case catalog.CBStatForward, catalog.CBStatBackward:
		if admin {
			return r.scrollStats(ctx, cb)
		}
		return nil
	}

	return r.navigate(ctx, cb, nil)
}

// ack dismisses the button spinner without a notice.
func (r *Router) ack(ctx context.Context, cb *transport.Callback) {
	if err := r.adapter.AnswerCallback(ctx, cb.ID, ""); err != nil {
		r.log.Debug("answer callback", logx.Err(err))
	}
}

func (r *Router) statOpts() *transport.SendOptions {
	return r.withMarkup(r.catalog.Keyboard("stat"))
}

func (r *Router) withMarkup(kb any) *transport.SendOptions {
	o := *r.opts
	o.ReplyMarkupAdapter = kb
	return &o
}

func (r *Router) sendStats(ctx context.Context, chatID int64) error {
	page, err := r.stats.Reset(ctx, chatID)
	if err != nil {
		return err
	}
	_, err = r.adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, page.HTML, r.statOpts())
	return err
}

// resetStats recomputes the report and jumps the surface back to the first
// page. Pressing refresh while already on an unchanged first page edits
// nothing; that degrades to a transient notice.
func (r *Router) resetStats(ctx context.Context, cb *transport.Callback) error {
	page, err := r.stats.Reset(ctx, cb.ChatID)
	if err != nil {
		return err
	}
	ref := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	if err := r.adapter.EditText(ctx, ref, page.HTML, r.statOpts()); err != nil {
		if transport.IsStaleEdit(err) {
			return r.adapter.AnswerCallback(ctx, cb.ID, stats.NoticeFirstPage)
		}
		return err
	}
	return r.adapter.AnswerCallback(ctx, cb.ID, "")
}

func (r *Router) scrollStats(ctx context.Context, cb *transport.Callback) error {
	res, err := r.stats.Scroll(ctx, cb.ChatID, cb.MessageText, cb.Data == catalog.CBStatForward)
	if err != nil {
		return err
	}
	if res.Notice != "" {
		return r.adapter.AnswerCallback(ctx, cb.ID, res.Notice)
	}
	ref := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	if err := r.adapter.EditText(ctx, ref, res.Page.HTML, r.statOpts()); err != nil && !transport.IsStaleEdit(err) {
		return err
	}
	return r.adapter.AnswerCallback(ctx, cb.ID, "")
}

// navigate swaps the pressed surface to the payload registered for the
// callback data, counting the press when the button is trackable. Non-zero
// fields of override replace the looked-up payload's.
func (r *Router) navigate(ctx context.Context, cb *transport.Callback, override *catalog.Payload) error {
	if r.catalog.IsStatButton(cb.Data) {
		r.countPress(ctx, cb.Data)
	}
	defer r.ack(ctx, cb)

	p, ok := r.catalog.Payload(cb.Data)
	if !ok {
		if r.defaultAnswer == "" {
			return nil
		}
		p = &catalog.Payload{Text: r.defaultAnswer}
	}
	p = p.Merge(override)
	ref := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	opts := r.withMarkup(p.Markup)

	if p.HasMedia() {
		err := r.adapter.EditMedia(ctx, ref, p.Media, p.Caption, opts)
		if transport.IsStaleEdit(err) {
			return nil
		}
		return err
	}
	return r.renderText(ctx, cb, p.Text, opts)
}

// renderText edits the surface in place when it is a text message;
// otherwise it sends a fresh message and drops the old surface, tolerating
// an already-deleted original.
func (r *Router) renderText(ctx context.Context, cb *transport.Callback, text string, opts *transport.SendOptions) error {
	ref := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	if cb.MessageHasText {
		err := r.adapter.EditText(ctx, ref, text, opts)
		if transport.IsStaleEdit(err) {
			return nil
		}
		return err
	}
	if _, err := r.adapter.SendText(ctx, transport.ChatTarget{ChatID: cb.ChatID}, text, opts); err != nil {
		return err
	}
	if err := r.adapter.DeleteMessage(ctx, ref); err != nil && !transport.IsStaleEdit(err) {
		return err
	}
	return nil
}

// countPress lazily seeds the current period before incrementing; the
// first press of a new month creates the month's rows.
func (r *Router) countPress(ctx context.Context, button string) {
	period := r.now()
	if err := r.store.EnsurePeriod(ctx, period, r.catalog.StatButtons()); err != nil {
		r.log.Warn("seed period", logx.Err(err))
		return
	}
	if err := r.store.IncrementButtonCounter(ctx, period, button); err != nil {
		r.log.Warn("count press", logx.String("button", button), logx.Err(err))
	}
}

func (r *Router) deleteInbound(ctx context.Context, m *transport.Message) {
	ref := transport.MessageRef{ChatID: m.ChatID, MessageID: m.ID}
	if err := r.adapter.DeleteMessage(ctx, ref); err != nil && !transport.IsStaleEdit(err) {
		r.log.Warn("delete inbound", logx.Err(err))
	}
}
