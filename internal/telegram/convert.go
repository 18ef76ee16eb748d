package telegram

import (
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"github.com/brainrot/tg-llm-rewrite/internal/rewrite"
)

// topicOf returns the forum topic root id of m, or zero outside topics.
func topicOf(m *tg.Message) int {
	hdr, ok := m.ReplyTo.(*tg.MessageReplyHeader)
	if !ok || !hdr.ForumTopic {
		return 0
	}
	if top, ok := hdr.GetReplyToTopID(); ok {
		return top
	}
	if id, ok := hdr.GetReplyToMsgID(); ok {
		return id
	}
	return 0
}

// outgoing reports whether m was sent by this account. Messages in
// Saved Messages are not always flagged out.
func (p *peerCache) outgoing(m *tg.Message) bool {
	if m.Out {
		return true
	}
	self := p.self()
	if self == 0 {
		return false
	}
	if from, ok := m.GetFromID(); ok {
		return ChatID(from) == self
	}
	return ChatID(m.PeerID) == self
}

// messageEvent converts a message into an engine event. Service and
// empty messages yield false.
func (p *peerCache) messageEvent(kind rewrite.EventKind, mc tg.MessageClass) (rewrite.Event, bool) {
	m, ok := mc.(*tg.Message)
	if !ok {
		return rewrite.Event{}, false
	}
	out := p.outgoing(m)
	return rewrite.Event{
		Kind:       kind,
		ChatID:     ChatID(m.PeerID),
		TopicID:    topicOf(m),
		MessageID:  m.ID,
		Outgoing:   out,
		Text:       m.Message,
		HasText:    strings.TrimSpace(m.Message) != "",
		SenderName: rewrite.SenderLabel(out, p.senderName(m)),
		Date:       time.Unix(int64(m.Date), 0),
	}, true
}

// contextMessages converts history results, newest first as the server
// returns them, into context entries oldest first.
func (p *peerCache) contextMessages(msgs []tg.MessageClass) []rewrite.ContextMessage {
	out := make([]rewrite.ContextMessage, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m, ok := msgs[i].(*tg.Message)
		if !ok || strings.TrimSpace(m.Message) == "" {
			continue
		}
		out = append(out, rewrite.ContextMessage{
			MessageID:  m.ID,
			SenderName: rewrite.SenderLabel(p.outgoing(m), p.senderName(m)),
			Text:       strings.TrimSpace(m.Message),
		})
	}
	return out
}
