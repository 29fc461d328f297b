package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromName     string
	FromUsername string
	Text         string
	// PhotoFileID is the platform file reference of the largest attached
	// photo, empty when the message carries no image.
	PhotoFileID string
}

type Callback struct {
	ID        string
	FromID    int64
	FromName  string
	FromUser  string
	ChatID    int64
	MessageID int
	Data      string
	// MessageText is the current text (or caption) of the message the
	// button sits on; the stats pager locates the current page with it.
	MessageText string
	// MessageHasText reports whether the surface is a text message (as
	// opposed to a media message with a caption).
	MessageHasText bool
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// Adapter is the chat-transport collaborator. Every method may fail with a
// RateLimitedError, a stale-edit condition (see IsStaleEdit), or a generic
// delivery failure.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, fileRef, caption string, opt *SendOptions) (MessageRef, error)
	SendDocument(ctx context.Context, to ChatTarget, path, caption string) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	EditCaption(ctx context.Context, ref MessageRef, caption string, opt *SendOptions) error
	EditMedia(ctx context.Context, ref MessageRef, fileRef, caption string, opt *SendOptions) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}
