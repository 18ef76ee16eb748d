package rewrite

import (
	"testing"
	"time"

	"github.com/brainrot/tg-llm-rewrite/internal/settings"
)

func TestFilter_Accept(t *testing.T) {
	store := testStore(t, func(p *settings.Params) { p.IgnorePattern = `^!raw\b` })
	ledger := NewEditLedger(time.Minute)
	ledger.Record(chatA, 50, "Good evening.")
	f := Filter{Ledger: ledger}

	incoming := outgoing(chatA, 1, "hello")
	incoming.Outgoing = false
	edited := outgoing(chatA, 1, "hello")
	edited.Kind = EventEdited
	media := outgoing(chatA, 1, "")
	media.HasText = false

	tests := []struct {
		name string
		ev   Event
		want Verdict
	}{
		{"outgoing text in monitored chat", outgoing(chatA, 1, "hello"), Accepted},
		{"edit event", edited, RejectNotNew},
		{"incoming", incoming, RejectNotOutgoing},
		{"unmonitored chat", outgoing(999, 1, "hello"), RejectNotMonitored},
		{"media without caption", media, RejectNoText},
		{"whitespace only", outgoing(chatA, 1, "  \n"), RejectNoText},
		{"ignore pattern", outgoing(chatA, 1, "!raw keep this"), RejectOwnOutput},
		{"own edit redelivered", outgoing(chatA, 50, "Good evening."), RejectOwnOutput},
		{"same text in another message", outgoing(chatA, 51, "Good evening."), Accepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, got := f.Accept(tt.ev, store.Current())
			if got != tt.want {
				t.Fatalf("verdict = %v, want %v", got, tt.want)
			}
			if (task != nil) != (tt.want == Accepted) {
				t.Errorf("task = %v for verdict %v", task, got)
			}
		})
	}
}

func TestFilter_TaskFields(t *testing.T) {
	ev := outgoing(chatB, 77, "  see you tmrw  ")
	ev.TopicID = 12
	task, v := Filter{}.Accept(ev, testStore(t, nil).Current())
	if v != Accepted {
		t.Fatalf("verdict = %v", v)
	}
	if task.ID == "" || task.ChatID != chatB || task.TopicID != 12 || task.MessageID != 77 {
		t.Errorf("task = %+v", task)
	}
	if task.Original != "see you tmrw" {
		t.Errorf("Original = %q, want trimmed text", task.Original)
	}
	if task.State() != StatePending {
		t.Errorf("State = %v, want pending", task.State())
	}
}

func TestFilter_NilSnapshot(t *testing.T) {
	if _, v := (Filter{}).Accept(outgoing(chatA, 1, "x"), nil); v != RejectNotMonitored {
		t.Errorf("verdict = %v, want %v", v, RejectNotMonitored)
	}
}
