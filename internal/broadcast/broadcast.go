// Package broadcast drives the admin mailing conversation and the fan-out
// delivery that follows confirmation. The conversation is a small state
// machine kept in the chat session: collect the body text, optionally
// collect a picture, confirm, send. Delivery runs with bounded concurrency;
// a rate-limited recipient suspends only its own task.
package broadcast

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"menubot/internal/catalog"
	"menubot/internal/session"
	"menubot/internal/store"
	"menubot/internal/transport"
	"menubot/pkg/logx"
	"menubot/pkg/tgui"
)

const inProgressText = "⏳ <b>Рассылка в процессе…</b>"

type Config struct {
	// Concurrency caps simultaneous in-flight deliveries.
	Concurrency int
	// RatePerSec throttles sends globally; zero disables the limiter.
	RatePerSec float64
}

type Engine struct {
	adapter  transport.Adapter
	store    store.Store
	catalog  *catalog.Catalog
	sessions *session.Store
	log      logx.Logger

	cfg     Config
	limiter *rate.Limiter
	now     func() store.Period
	opts    *transport.SendOptions

	// running joins in-flight fan-outs on shutdown.
	running sync.WaitGroup
}

func New(a transport.Adapter, st store.Store, cat *catalog.Catalog, sessions *session.Store, cfg Config, now func() store.Period, log logx.Logger) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 20
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		adapter:  a,
		store:    st,
		catalog:  cat,
		sessions: sessions,
		log:      log.With(logx.String("component", "broadcast")),
		cfg:      cfg,
		now:      now,
		opts:     &transport.SendOptions{ParseMode: "HTML"},
	}
	if cfg.RatePerSec > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Concurrency)
	}
	return e
}

// Wait blocks until all in-flight fan-outs finish. Called on shutdown.
func (e *Engine) Wait() { e.running.Wait() }

func (e *Engine) activeCount(ctx context.Context) (int, error) {
	ids, err := e.store.ListActiveUserIDs(ctx)
	return len(ids), err
}

func (e *Engine) markup(kb any) *transport.SendOptions {
	o := *e.opts
	o.ReplyMarkupAdapter = kb
	return &o
}

// Begin opens (or restarts) the conversation: any prior draft and cached
// state is discarded, and a fresh control message shows the active-user
// count with a cancel button. from is the callback surface to reuse when
// the conversation starts from a menu button, nil for the /mail command.
func (e *Engine) Begin(ctx context.Context, chatID int64, from *transport.Callback) error {
	e.sessions.Clear(chatID)

	n, err := e.activeCount(ctx)
	if err != nil {
		return err
	}
	text := fmt.Sprintf(e.catalog.Template("broadcast"), n)
	opts := e.markup(e.catalog.CancelKeyboard())

	ref := transport.MessageRef{ChatID: chatID}
	switch {
	case from != nil && from.MessageHasText:
		ref.MessageID = from.MessageID
		err = e.adapter.EditText(ctx, ref, text, opts)
	case from != nil:
		// Media surface: replace it with a fresh text control message.
		ref, err = e.adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, opts)
		if err == nil {
			old := transport.MessageRef{ChatID: chatID, MessageID: from.MessageID}
			if derr := e.adapter.DeleteMessage(ctx, old); derr != nil && !transport.IsStaleEdit(derr) {
				e.log.Warn("drop old surface", logx.Err(derr))
			}
		}
	default:
		ref, err = e.adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, opts)
	}
	if err != nil {
		return err
	}

	e.sessions.Update(chatID, func(s *session.Session) {
		s.State = session.StateCollectText
		s.Draft = session.Draft{ControlMessageID: ref.MessageID}
	})
	return nil
}

// CollectText consumes the admin's text message as the draft body. The
// inbound message is deleted to keep the conversation on one surface.
func (e *Engine) CollectText(ctx context.Context, msg *transport.Message) error {
	e.deleteInbound(ctx, msg)
	e.sessions.Update(msg.ChatID, func(s *session.Session) {
		s.Draft.Body = msg.Text
		s.State = session.StateCollectMedia
	})
	return e.promptMedia(ctx, msg.ChatID)
}

func (e *Engine) promptMedia(ctx context.Context, chatID int64) error {
	sess, _ := e.sessions.Peek(chatID)
	text := fmt.Sprintf(e.catalog.Template("broadcast_text"), sess.Draft.Body)
	ref := transport.MessageRef{ChatID: chatID, MessageID: sess.Draft.ControlMessageID}
	err := e.adapter.EditText(ctx, ref, text, e.markup(e.catalog.EditKeyboard()))
	if transport.IsStaleEdit(err) {
		// Same prompt re-rendered after bad input; nothing changed.
		return nil
	}
	return err
}

// CollectMedia consumes the admin's next message while waiting for a
// picture. Text or other non-photo content re-prompts; a photo moves the
// draft to confirmation with a media preview.
func (e *Engine) CollectMedia(ctx context.Context, msg *transport.Message) error {
	e.deleteInbound(ctx, msg)
	if msg.PhotoFileID == "" {
		return e.promptMedia(ctx, msg.ChatID)
	}

	e.sessions.Update(msg.ChatID, func(s *session.Session) {
		s.Draft.Media = msg.PhotoFileID
		s.State = session.StateConfirm
	})
	caption, err := e.resultText(ctx, msg.ChatID)
	if err != nil {
		return err
	}
	sess, _ := e.sessions.Peek(msg.ChatID)
	ref := transport.MessageRef{ChatID: msg.ChatID, MessageID: sess.Draft.ControlMessageID}
	return e.adapter.EditMedia(ctx, ref, msg.PhotoFileID, caption, e.markup(e.catalog.ConfirmKeyboard()))
}

// SkipPictures confirms a text-only draft.
func (e *Engine) SkipPictures(ctx context.Context, cb *transport.Callback) error {
	e.sessions.Update(cb.ChatID, func(s *session.Session) {
		s.Draft.Media = ""
		s.State = session.StateConfirm
	})
	text, err := e.resultText(ctx, cb.ChatID)
	if err != nil {
		return err
	}
	ref := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	return e.adapter.EditText(ctx, ref, text, e.markup(e.catalog.ConfirmKeyboard()))
}

func (e *Engine) resultText(ctx context.Context, chatID int64) (string, error) {
	n, err := e.activeCount(ctx)
	if err != nil {
		return "", err
	}
	sess, _ := e.sessions.Peek(chatID)
	return fmt.Sprintf(e.catalog.Template("broadcast_result"), sess.Draft.Body, n), nil
}

// Cancel aborts the conversation at any stage: the draft dies with the
// session and the control message disappears.
func (e *Engine) Cancel(ctx context.Context, cb *transport.Callback) error {
	e.sessions.Clear(cb.ChatID)
	ref := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	if err := e.adapter.DeleteMessage(ctx, ref); err != nil && !transport.IsStaleEdit(err) {
		return err
	}
	return nil
}

// Confirm snapshots the draft, clears the conversation and starts the
// fan-out in the background. The control message shows progress until the
// final report replaces it.
func (e *Engine) Confirm(ctx context.Context, cb *transport.Callback) error {
	sess, ok := e.sessions.Peek(cb.ChatID)
	if !ok || sess.State != session.StateConfirm {
		return fmt.Errorf("broadcast: confirm without a draft")
	}
	draft := sess.Draft
	e.sessions.Clear(cb.ChatID)

	control := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	e.editControl(ctx, control, draft.Media != "", inProgressText)

	sender := senderIdentity{name: cb.FromName, username: cb.FromUser}
	e.running.Add(1)
	go func() {
		defer e.running.Done()
		e.run(ctx, draft, sender, control)
	}()
	return nil
}

type senderIdentity struct {
	name     string
	username string
}

// run delivers the draft to every active user and replaces the control
// message with the final report, whatever happened along the way.
func (e *Engine) run(ctx context.Context, draft session.Draft, sender senderIdentity, control transport.MessageRef) {
	start := time.Now()
	var delivered int64

	defer func() {
		text := fmt.Sprintf(e.catalog.Template("broadcast_end"),
			draft.Body, atomic.LoadInt64(&delivered), sender.name, sender.username)
		e.editControl(ctx, control, draft.Media != "", text)
		e.log.Info("broadcast finished",
			logx.String("body", tgui.TruncRunes(draft.Body, 64)),
			logx.Int64("delivered", atomic.LoadInt64(&delivered)),
			logx.Duration("took", time.Since(start)))
	}()

	users, err := e.store.ListActiveUserIDs(ctx)
	if err != nil {
		e.log.Error("list recipients", logx.Err(err))
		return
	}

	sem := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, uid := range users {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			defer func() { <-sem }()
			if e.sendOne(ctx, uid, draft) {
				atomic.AddInt64(&delivered, 1)
			}
		}(uid)
	}
	wg.Wait()

	// Snapshot refresh after completion: deactivations from this run land
	// in the current period's synthetic rows.
	if _, err := e.store.CountByActivity(ctx, e.now()); err != nil {
		e.log.Warn("refresh activity snapshot", logx.Err(err))
	}
}

// sendOne delivers to a single recipient. Rate-limit responses suspend and
// retry this recipient for as long as the platform asks; any other failure
// deactivates the user and counts the delivery as failed.
func (e *Engine) sendOne(ctx context.Context, uid string, draft session.Draft) bool {
	chatID, err := strconv.ParseInt(uid, 10, 64)
	if err != nil {
		e.log.Warn("bad user id", logx.String("user", uid))
		return false
	}
	target := transport.ChatTarget{ChatID: chatID}
	opts := e.markup(e.catalog.RecipientKeyboard())

	for {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return false
			}
		}
		if draft.Media != "" {
			_, err = e.adapter.SendPhoto(ctx, target, draft.Media, draft.Body, opts)
		} else {
			_, err = e.adapter.SendText(ctx, target, draft.Body, opts)
		}
		if err == nil {
			return true
		}
		if delay, ok := transport.AsRateLimited(err); ok {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
				continue
			case <-ctx.Done():
				timer.Stop()
				return false
			}
		}
		e.log.Warn("send failed", logx.String("user", uid), logx.Err(err))
		if serr := e.store.SetActive(ctx, uid, false); serr != nil {
			e.log.Error("deactivate user", logx.String("user", uid), logx.Err(serr))
		}
		return false
	}
}

// editControl rewrites the control message. Rate limits suspend and retry
// the edit; only a no-longer-editable target falls back to a fresh admin
// message, so a flood-limited report is never delivered twice.
func (e *Engine) editControl(ctx context.Context, ref transport.MessageRef, hasMedia bool, text string) {
	for {
		var err error
		if hasMedia {
			err = e.adapter.EditCaption(ctx, ref, text, e.opts)
		} else {
			err = e.adapter.EditText(ctx, ref, text, e.opts)
		}
		if err == nil {
			return
		}
		if delay, ok := transport.AsRateLimited(err); ok {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
				continue
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
		if !transport.IsStaleEdit(err) {
			e.log.Error("edit control message", logx.Err(err))
			return
		}
		if _, serr := e.adapter.SendText(ctx, transport.ChatTarget{ChatID: ref.ChatID}, text, e.opts); serr != nil {
			e.log.Error("deliver report", logx.Err(serr))
		}
		return
	}
}

func (e *Engine) deleteInbound(ctx context.Context, msg *transport.Message) {
	ref := transport.MessageRef{ChatID: msg.ChatID, MessageID: msg.ID}
	if err := e.adapter.DeleteMessage(ctx, ref); err != nil && !transport.IsStaleEdit(err) {
		e.log.Warn("delete inbound", logx.Err(err))
	}
}
