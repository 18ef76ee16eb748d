package rewrite

import (
	"strings"
	"sync"
	"time"
)

// DefaultLedgerTTL is how long the engine remembers its own edits.
const DefaultLedgerTTL = 5 * time.Minute

type msgKey struct {
	chat int64
	msg  int
}

type ledgerEntry struct {
	text string
	at   time.Time
}

// EditLedger remembers the text the engine wrote into each message, so
// that the engine's own edits echoed back by the server are not
// mistaken for user activity or rewritten again.
type EditLedger struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[msgKey]ledgerEntry
}

// NewEditLedger creates a ledger whose entries expire after ttl.
func NewEditLedger(ttl time.Duration) *EditLedger {
	if ttl <= 0 {
		ttl = DefaultLedgerTTL
	}
	return &EditLedger{ttl: ttl, now: time.Now, entries: make(map[msgKey]ledgerEntry)}
}

// Record notes that the engine wrote text into the message.
func (l *EditLedger) Record(chatID int64, msgID int, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	l.entries[msgKey{chatID, msgID}] = ledgerEntry{text: strings.TrimSpace(text), at: l.now()}
}

// Forget drops the record for a message, e.g. after a failed edit.
func (l *EditLedger) Forget(chatID int64, msgID int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, msgKey{chatID, msgID})
}

// Produced reports whether the engine wrote exactly text into the
// message within the TTL.
func (l *EditLedger) Produced(chatID int64, msgID int, text string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[msgKey{chatID, msgID}]
	if !ok || l.now().Sub(e.at) > l.ttl {
		return false
	}
	return e.text == strings.TrimSpace(text)
}

// Len returns the number of live entries.
func (l *EditLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	return len(l.entries)
}

func (l *EditLedger) pruneLocked() {
	now := l.now()
	for k, e := range l.entries {
		if now.Sub(e.at) > l.ttl {
			delete(l.entries, k)
		}
	}
}
