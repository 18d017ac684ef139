package transport

import (
	"context"
	"time"
)

// Message is an inbound chat message.
type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	IsGroup      bool
	Date         time.Time
}

// Reply targets the chat and thread the message came from.
func (m *Message) Reply() ChatTarget {
	return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
}

// ChatTarget is a delivery destination: a chat plus optional topic thread.
type ChatTarget struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// HTML is the default send option set for rendered messages.
var HTML = &SendOptions{ParseMode: "HTML", DisablePreview: true}

// Sender delivers text to a destination.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error
}

// ChatAdminChecker reports whether a user administers a group chat.
type ChatAdminChecker interface {
	IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater publishes the bot command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
