// Package settings holds the hot-reloadable rewrite settings. A
// [Snapshot] is immutable once built; the [Store] swaps whole snapshots
// atomically so readers never observe a partial update.
package settings

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/brainrot/tg-llm-rewrite/internal/config"
)

// Params are the inputs to [NewSnapshot].
type Params struct {
	SystemPrompt  string
	Chats         []int64
	Model         string
	Credential    string
	ContextDepth  int
	IgnorePattern string
	StripMarkdown bool
	MaxAttempts   int
}

// Snapshot is one immutable, validated set of rewrite settings. The
// zero value is not valid; build snapshots with [NewSnapshot].
type Snapshot struct {
	systemPrompt  string
	chats         map[int64]struct{}
	model         string
	credential    string
	contextDepth  int
	ignoreSrc     string
	ignore        *regexp.Regexp
	stripMarkdown bool
	maxAttempts   int
	valid         bool
}

// NewSnapshot validates p and returns the snapshot it describes.
func NewSnapshot(p Params) (*Snapshot, error) {
	if strings.TrimSpace(p.SystemPrompt) == "" {
		return nil, errors.New("system prompt must not be empty")
	}
	if len(p.Chats) == 0 {
		return nil, errors.New("monitored chat set must not be empty")
	}
	if strings.TrimSpace(p.Model) == "" {
		return nil, errors.New("model must not be empty")
	}
	if p.ContextDepth < 0 {
		return nil, errors.New("context depth must not be negative")
	}
	if p.MaxAttempts < 1 {
		return nil, errors.New("max attempts must be at least 1")
	}

	s := &Snapshot{
		systemPrompt:  p.SystemPrompt,
		chats:         make(map[int64]struct{}, len(p.Chats)),
		model:         p.Model,
		credential:    p.Credential,
		contextDepth:  p.ContextDepth,
		ignoreSrc:     p.IgnorePattern,
		stripMarkdown: p.StripMarkdown,
		maxAttempts:   p.MaxAttempts,
		valid:         true,
	}
	for _, id := range p.Chats {
		s.chats[id] = struct{}{}
	}
	if p.IgnorePattern != "" {
		re, err := regexp.Compile(p.IgnorePattern)
		if err != nil {
			return nil, fmt.Errorf("ignore pattern: %w", err)
		}
		s.ignore = re
	}
	return s, nil
}

// FromConfig builds a snapshot from the backend and rewrite sections of
// a rewrite-mode config.
func FromConfig(cfg *config.Config) (*Snapshot, error) {
	if cfg.Backend == nil || cfg.Rewrite == nil {
		return nil, errors.New("config has no backend or rewrite section")
	}
	return NewSnapshot(Params{
		SystemPrompt:  cfg.Rewrite.SystemPrompt,
		Chats:         cfg.Rewrite.Chats,
		Model:         cfg.Backend.Model,
		Credential:    cfg.Backend.APIKey,
		ContextDepth:  cfg.Rewrite.ContextDepth(),
		IgnorePattern: cfg.Rewrite.IgnorePattern,
		StripMarkdown: cfg.Rewrite.StripMarkdown,
		MaxAttempts:   cfg.Rewrite.MaxAttempts,
	})
}

// SystemPrompt returns the rewrite instructions sent with every call.
func (s *Snapshot) SystemPrompt() string { return s.systemPrompt }

// Model returns the backend model identifier.
func (s *Snapshot) Model() string { return s.model }

// Credential returns the backend API key. Empty for local backends.
func (s *Snapshot) Credential() string { return s.credential }

// ContextDepth returns how many preceding messages are sent as
// context. Zero disables context.
func (s *Snapshot) ContextDepth() int { return s.contextDepth }

// StripMarkdown reports whether markdown is removed from generated
// text before editing.
func (s *Snapshot) StripMarkdown() bool { return s.stripMarkdown }

// MaxAttempts returns the generation attempt limit per task.
func (s *Snapshot) MaxAttempts() int { return s.maxAttempts }

// Monitors reports whether chatID is in the monitored set.
func (s *Snapshot) Monitors(chatID int64) bool {
	_, ok := s.chats[chatID]
	return ok
}

// Chats returns the monitored chat ids in ascending order.
func (s *Snapshot) Chats() []int64 {
	out := make([]int64, 0, len(s.chats))
	for id := range s.chats {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Ignores reports whether text matches the configured ignore pattern.
func (s *Snapshot) Ignores(text string) bool {
	return s.ignore != nil && s.ignore.MatchString(text)
}

// Equal reports whether two snapshots carry the same settings.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.systemPrompt == o.systemPrompt &&
		s.model == o.model &&
		s.credential == o.credential &&
		s.contextDepth == o.contextDepth &&
		s.ignoreSrc == o.ignoreSrc &&
		s.stripMarkdown == o.stripMarkdown &&
		s.maxAttempts == o.maxAttempts &&
		slices.Equal(s.Chats(), o.Chats())
}

// String summarises the snapshot without the prompt or credential.
func (s *Snapshot) String() string {
	return fmt.Sprintf("model=%s chats=%v context=%d attempts=%d", s.model, s.Chats(), s.contextDepth, s.maxAttempts)
}

// Store publishes the current snapshot to concurrent readers.
type Store struct {
	cur atomic.Pointer[Snapshot]
}

// NewStore returns a store holding initial, which must be valid.
func NewStore(initial *Snapshot) (*Store, error) {
	st := &Store{}
	if err := st.Install(initial); err != nil {
		return nil, err
	}
	return st, nil
}

// Current returns the snapshot in effect. It never blocks.
func (st *Store) Current() *Snapshot {
	return st.cur.Load()
}

// Install atomically replaces the current snapshot. An invalid snapshot
// is rejected and the current one stays in effect.
func (st *Store) Install(s *Snapshot) error {
	if s == nil || !s.valid {
		return errors.New("refusing to install invalid settings snapshot")
	}
	st.cur.Store(s)
	return nil
}
