// Package rewrite is the rewrite orchestration engine. It decides which
// outgoing chat messages are eligible, asks the generation backend for
// a rewrite with retry and timeout discipline, and applies the result
// to the original message in per-conversation order.
package rewrite

import (
	"strings"
	"time"
)

// EventKind distinguishes inbound chat events.
type EventKind int

const (
	// EventNewMessage is a newly sent message.
	EventNewMessage EventKind = iota + 1
	// EventEdited is an edit of an existing message, including the
	// engine's own edits echoed back.
	EventEdited
	// EventDeleted is a message deletion.
	EventDeleted
)

func (k EventKind) String() string {
	switch k {
	case EventNewMessage:
		return "new_message"
	case EventEdited:
		return "edited"
	case EventDeleted:
		return "deleted"
	}
	return "unknown"
}

// Event is one inbound chat event. Chat ids use the Bot API convention:
// users are positive, basic groups are -id and channels/supergroups are
// -(1e12+id).
type Event struct {
	Kind EventKind
	// ChatID is zero for deletions in private chats and basic groups,
	// where the server does not say which chat the message was in.
	ChatID int64
	// TopicID is the forum topic root message id, or zero.
	TopicID   int
	MessageID int
	Outgoing  bool
	Text      string
	HasText   bool
	// SenderName is the display label used in context lines.
	SenderName string
	Date       time.Time
}

// ContextMessage is one earlier message offered to the model as context.
type ContextMessage struct {
	MessageID  int
	SenderName string
	Text       string
}

// Line renders the message as "sender: text".
func (m ContextMessage) Line() string {
	return m.SenderName + ": " + m.Text
}

// SenderLabel picks the context label for a message author: "Me" for
// the account's own messages, otherwise the peer name, or "Unknown".
func SenderLabel(outgoing bool, peerName string) string {
	if outgoing {
		return "Me"
	}
	if name := strings.TrimSpace(peerName); name != "" {
		return name
	}
	return "Unknown"
}

// channelIDBase is the offset Bot API ids add to channel ids.
const channelIDBase = 1_000_000_000_000

// IsChannelID reports whether chatID denotes a channel or supergroup.
// Those have their own message id space; private chats and basic
// groups share the account's.
func IsChannelID(chatID int64) bool {
	return chatID <= -channelIDBase
}
