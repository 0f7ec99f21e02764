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
	ID            int
	ChatID        int64
	FromID        int64
	FromUsername  string
	FromFirstName string
	Text          string
	IsPrivate     bool

	// AlbumID is the platform media group id ("" for single messages).
	AlbumID  string
	HasMedia bool

	// Reply context (zero when the message is not a reply).
	ReplyToID      int
	ReplyToChatID  int64
	ReplyToAlbumID string
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Buttons is an inline keyboard, one slice per row.
	Buttons [][]Button
}

// Button opens URL when set, otherwise sends Data back as a callback.
type Button struct {
	Text string
	URL  string
	Data string
}

// Adapter is the chat transport consumed by the bot and the core services.
//
// Item references are opaque strings produced by ParseItemRef/ItemRef.String.
// Send methods return errors wrapping ErrUnreachable when the recipient can
// no longer be reached and ErrItemGone when the upstream item vanished.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	SendItem(ctx context.Context, to ChatTarget, ref string) error
	SendBatch(ctx context.Context, to ChatTarget, refs []string) error
	SendMedia(ctx context.Context, to ChatTarget, urls []string) error

	ItemExists(ctx context.Context, ref string) (bool, error)
	IsMember(ctx context.Context, chat string, userID int64) (bool, error)
	ResolveChat(ctx context.Context, username string) (int64, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
