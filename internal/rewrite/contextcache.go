package rewrite

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// ContextSource supplies the recent conversation preceding a task's
// message, oldest first, as "sender: text" lines.
type ContextSource interface {
	Context(ctx context.Context, t *Task, depth int) []string
}

// HistoryFetcher reads up to limit messages older than beforeID from a
// chat (or a forum topic when topicID is non-zero), oldest first.
type HistoryFetcher interface {
	History(ctx context.Context, chatID int64, topicID int, beforeID, limit int) ([]ContextMessage, error)
}

type scopeKey struct {
	chat  int64
	topic int
}

type scope struct {
	msgs []ContextMessage // ascending by MessageID
	// hydrated is set once a history backfill has been attempted, so a
	// quiet chat is not re-fetched for every message.
	hydrated bool
}

// ContextCache keeps a bounded window of recent messages per
// conversation scope, backfilled from server history at most once per
// scope.
type ContextCache struct {
	fetcher HistoryFetcher
	logger  *slog.Logger

	mu     sync.Mutex
	scopes map[scopeKey]*scope
	limit  int
}

// NewContextCache creates a cache. fetcher may be nil, in which case
// only observed messages are offered as context.
func NewContextCache(fetcher HistoryFetcher, limit int, logger *slog.Logger) *ContextCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextCache{
		fetcher: fetcher,
		logger:  logger,
		scopes:  make(map[scopeKey]*scope),
		limit:   max(limit, 1),
	}
}

// SetLimit changes how many messages are retained per scope, trimming
// existing scopes when it shrinks.
func (c *ContextCache) SetLimit(limit int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limit = max(limit, 1)
	for _, s := range c.scopes {
		s.trim(c.limit)
	}
}

// Observe records a message with text.
func (c *ContextCache) Observe(ev Event) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := scopeKey{ev.ChatID, ev.TopicID}
	s := c.scopes[k]
	if s == nil {
		s = &scope{}
		c.scopes[k] = s
	}
	s.insert(ContextMessage{MessageID: ev.MessageID, SenderName: ev.SenderName, Text: text})
	s.trim(c.limit)
}

// Update replaces the text of a cached message after an edit.
func (c *ContextCache) Update(chatID int64, msgID int, text string) {
	text = strings.TrimSpace(text)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, s := range c.scopes {
		if k.chat != chatID {
			continue
		}
		for i := range s.msgs {
			if s.msgs[i].MessageID == msgID {
				if text == "" {
					s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
				} else {
					s.msgs[i].Text = text
				}
				return
			}
		}
	}
}

// Remove drops deleted messages. A zero chatID matches every chat that
// shares the account-wide message id space.
func (c *ContextCache) Remove(chatID int64, msgIDs []int) {
	if len(msgIDs) == 0 {
		return
	}
	gone := make(map[int]struct{}, len(msgIDs))
	for _, id := range msgIDs {
		gone[id] = struct{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, s := range c.scopes {
		if chatID != 0 && k.chat != chatID {
			continue
		}
		if chatID == 0 && IsChannelID(k.chat) {
			continue
		}
		kept := s.msgs[:0]
		for _, m := range s.msgs {
			if _, ok := gone[m.MessageID]; !ok {
				kept = append(kept, m)
			}
		}
		s.msgs = kept
	}
}

// Retain drops every scope whose chat fails keep.
func (c *ContextCache) Retain(keep func(chatID int64) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.scopes {
		if !keep(k.chat) {
			delete(c.scopes, k)
		}
	}
}

// Context implements [ContextSource]. When the cache holds fewer than
// depth earlier messages and the scope has never been backfilled, it
// reads server history once. Fetch failures degrade to whatever the
// cache holds.
func (c *ContextCache) Context(ctx context.Context, t *Task, depth int) []string {
	if depth <= 0 {
		return nil
	}
	k := scopeKey{t.ChatID, t.TopicID}

	c.mu.Lock()
	s := c.scopes[k]
	if s == nil {
		s = &scope{}
		c.scopes[k] = s
	}
	cached := s.before(t.MessageID, depth)
	backfill := c.fetcher != nil && !s.hydrated && len(cached) < depth
	if backfill {
		s.hydrated = true
	}
	c.mu.Unlock()

	if backfill {
		fetched, err := c.fetcher.History(ctx, t.ChatID, t.TopicID, t.MessageID, depth)
		if err != nil {
			c.logger.Warn("context history unavailable",
				"chat_id", t.ChatID, "topic_id", t.TopicID, "error", err)
		} else {
			c.mu.Lock()
			for _, m := range fetched {
				if strings.TrimSpace(m.Text) != "" {
					s.insert(m)
				}
			}
			s.trim(max(c.limit, depth))
			cached = s.before(t.MessageID, depth)
			c.mu.Unlock()
		}
	}

	lines := make([]string, len(cached))
	for i, m := range cached {
		lines[i] = m.Line()
	}
	return lines
}

// insert adds or replaces m keeping ascending id order.
func (s *scope) insert(m ContextMessage) {
	i := sort.Search(len(s.msgs), func(i int) bool { return s.msgs[i].MessageID >= m.MessageID })
	if i < len(s.msgs) && s.msgs[i].MessageID == m.MessageID {
		s.msgs[i] = m
		return
	}
	s.msgs = append(s.msgs, ContextMessage{})
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = m
}

func (s *scope) trim(limit int) {
	if n := len(s.msgs); n > limit {
		s.msgs = append([]ContextMessage(nil), s.msgs[n-limit:]...)
	}
}

// before returns up to n messages with ids below msgID, oldest first.
func (s *scope) before(msgID, n int) []ContextMessage {
	end := sort.Search(len(s.msgs), func(i int) bool { return s.msgs[i].MessageID >= msgID })
	start := max(end-n, 0)
	return append([]ContextMessage(nil), s.msgs[start:end]...)
}
