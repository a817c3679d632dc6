package transport

import (
	"context"
	"fmt"
)

// TargetKind discriminates delivery destinations.
type TargetKind string

const (
	TargetGroup  TargetKind = "group"
	TargetDirect TargetKind = "direct"
)

// ChatTarget is one delivery destination. Group targets may carry a forum
// topic thread id; direct targets never do.
type ChatTarget struct {
	Kind     TargetKind
	ChatID   int64
	ThreadID int
}

func (t ChatTarget) String() string {
	if t.ThreadID != 0 {
		return fmt.Sprintf("%s:%d/%d", t.Kind, t.ChatID, t.ThreadID)
	}
	return fmt.Sprintf("%s:%d", t.Kind, t.ChatID)
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

// Photo is an image attached to an outgoing message, referenced by URL.
type Photo struct {
	URL string
}

// Message is a rendered, chat-ready post.
type Message struct {
	Text    string
	Photos  []Photo
	Options *SendOptions
}

// Sender delivers messages to chat targets.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendMessage(ctx context.Context, to ChatTarget, msg Message) (MessageRef, error)
}

// Command is an incoming bot command such as "/push 123".
type Command struct {
	Name     string
	Args     []string
	Chat     ChatTarget
	FromID   int64
	FromName string
}

// CommandHandler handles one command and returns the reply text.
type CommandHandler func(ctx context.Context, cmd Command) (string, error)

// Adapter is a chat platform connection: it sends messages and routes
// incoming commands to registered handlers.
type Adapter interface {
	Sender
	Handle(name string, h CommandHandler)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
