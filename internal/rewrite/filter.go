package rewrite

import (
	"strings"

	"github.com/brainrot/tg-llm-rewrite/internal/settings"
)

// Verdict is the result of filtering one event.
type Verdict int

const (
	Accepted Verdict = iota
	RejectNotNew
	RejectNotOutgoing
	RejectNotMonitored
	RejectNoText
	RejectOwnOutput
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case RejectNotNew:
		return "not_new_message"
	case RejectNotOutgoing:
		return "not_outgoing"
	case RejectNotMonitored:
		return "chat_not_monitored"
	case RejectNoText:
		return "no_text"
	case RejectOwnOutput:
		return "own_output"
	}
	return "unknown"
}

// Filter decides which events become rewrite tasks.
type Filter struct {
	// Ledger holds the engine's own recent edits. Optional.
	Ledger *EditLedger
}

// Accept applies the eligibility rules in order and returns a new task
// when all pass. It has no side effects beyond allocating the task.
func (f Filter) Accept(ev Event, snap *settings.Snapshot) (*Task, Verdict) {
	if ev.Kind != EventNewMessage {
		return nil, RejectNotNew
	}
	if !ev.Outgoing {
		return nil, RejectNotOutgoing
	}
	if snap == nil || !snap.Monitors(ev.ChatID) {
		return nil, RejectNotMonitored
	}
	if !ev.HasText || strings.TrimSpace(ev.Text) == "" {
		return nil, RejectNoText
	}
	if f.isOwnOutput(ev, snap) {
		return nil, RejectOwnOutput
	}
	return newTask(ev), Accepted
}

func (f Filter) isOwnOutput(ev Event, snap *settings.Snapshot) bool {
	if snap.Ignores(ev.Text) {
		return true
	}
	return f.Ledger != nil && f.Ledger.Produced(ev.ChatID, ev.MessageID, ev.Text)
}
