package telegram

import (
	"strings"
	"sync"

	"github.com/gotd/td/tg"
)

const channelIDBase = 1_000_000_000_000

// ChatID converts an MTProto peer into a Bot API style chat id, the
// form used in configuration and by list-chats.
func ChatID(p tg.PeerClass) int64 {
	switch v := p.(type) {
	case *tg.PeerUser:
		return v.UserID
	case *tg.PeerChat:
		return -v.ChatID
	case *tg.PeerChannel:
		return -(channelIDBase + v.ChannelID)
	}
	return 0
}

type peerKind int

const (
	kindUser peerKind = iota + 1
	kindChat
	kindChannel
)

// splitChatID reverses ChatID.
func splitChatID(id int64) (peerKind, int64) {
	switch {
	case id > 0:
		return kindUser, id
	case id <= -channelIDBase:
		return kindChannel, -id - channelIDBase
	case id < 0:
		return kindChat, -id
	}
	return 0, 0
}

// displayName joins a user's names, falling back to the username.
func displayName(u *tg.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return ""
}

// peerCache remembers entities seen in updates and RPC results: access
// hashes for addressing edits and names for context lines.
type peerCache struct {
	mu       sync.RWMutex
	selfID   int64
	users    map[int64]*tg.User
	chats    map[int64]*tg.Chat
	channels map[int64]*tg.Channel
}

func newPeerCache() *peerCache {
	return &peerCache{
		users:    make(map[int64]*tg.User),
		chats:    make(map[int64]*tg.Chat),
		channels: make(map[int64]*tg.Channel),
	}
}

func (p *peerCache) setSelf(id int64) {
	p.mu.Lock()
	p.selfID = id
	p.mu.Unlock()
}

func (p *peerCache) self() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.selfID
}

// addUpdateEntities stores entities delivered alongside updates.
func (p *peerCache) addUpdateEntities(e tg.Entities) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, u := range e.Users {
		p.putUserLocked(id, u)
	}
	for id, c := range e.Chats {
		p.chats[id] = c
	}
	for id, c := range e.Channels {
		p.putChannelLocked(id, c)
	}
}

// addEntities stores entities from RPC results.
func (p *peerCache) addEntities(users []tg.UserClass, chats []tg.ChatClass) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, uc := range users {
		if u, ok := uc.(*tg.User); ok {
			p.putUserLocked(u.ID, u)
		}
	}
	for _, cc := range chats {
		switch c := cc.(type) {
		case *tg.Chat:
			p.chats[c.ID] = c
		case *tg.Channel:
			p.putChannelLocked(c.ID, c)
		}
	}
}

// Min entities carry no usable access hash; keep a full one if known.
func (p *peerCache) putUserLocked(id int64, u *tg.User) {
	if old, ok := p.users[id]; ok && u.Min && !old.Min {
		return
	}
	p.users[id] = u
}

func (p *peerCache) putChannelLocked(id int64, c *tg.Channel) {
	if old, ok := p.channels[id]; ok && c.Min && !old.Min {
		return
	}
	p.channels[id] = c
}

// inputPeer builds the addressing peer for a chat id.
func (p *peerCache) inputPeer(chatID int64) (tg.InputPeerClass, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	kind, raw := splitChatID(chatID)
	switch kind {
	case kindUser:
		if raw == p.selfID {
			return &tg.InputPeerSelf{}, true
		}
		if u, ok := p.users[raw]; ok && !u.Min {
			return &tg.InputPeerUser{UserID: raw, AccessHash: u.AccessHash}, true
		}
	case kindChat:
		return &tg.InputPeerChat{ChatID: raw}, true
	case kindChannel:
		if c, ok := p.channels[raw]; ok && !c.Min {
			return &tg.InputPeerChannel{ChannelID: raw, AccessHash: c.AccessHash}, true
		}
	}
	return nil, false
}

// name returns a human label for a chat id, or "".
func (p *peerCache) name(chatID int64) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	kind, raw := splitChatID(chatID)
	switch kind {
	case kindUser:
		if raw == p.selfID {
			return "Saved Messages"
		}
		return displayName(p.users[raw])
	case kindChat:
		if c, ok := p.chats[raw]; ok {
			return c.Title
		}
	case kindChannel:
		if c, ok := p.channels[raw]; ok {
			return c.Title
		}
	}
	return ""
}

// senderName labels the author of m.
func (p *peerCache) senderName(m *tg.Message) string {
	if from, ok := m.GetFromID(); ok {
		return p.name(ChatID(from))
	}
	return p.name(ChatID(m.PeerID))
}
