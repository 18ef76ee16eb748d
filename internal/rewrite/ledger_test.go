package rewrite

import (
	"testing"
	"time"
)

func TestEditLedger(t *testing.T) {
	l := NewEditLedger(time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Record(chatA, 1, " Good day. ")
	if !l.Produced(chatA, 1, "Good day.") {
		t.Error("recorded text should be reported")
	}
	if l.Produced(chatA, 1, "Good night.") {
		t.Error("different text must not match")
	}
	if l.Produced(chatB, 1, "Good day.") {
		t.Error("other chat must not match")
	}

	now = now.Add(2 * time.Minute)
	if l.Produced(chatA, 1, "Good day.") {
		t.Error("expired entry must not match")
	}
	if n := l.Len(); n != 0 {
		t.Errorf("Len after expiry = %d, want 0", n)
	}

	l.Record(chatA, 2, "x")
	l.Forget(chatA, 2)
	if l.Produced(chatA, 2, "x") {
		t.Error("forgotten entry must not match")
	}
}

func TestIsChannelID(t *testing.T) {
	for id, want := range map[int64]bool{
		42:             false,
		-4242:          false,
		-1001234567890: true,
	} {
		if got := IsChannelID(id); got != want {
			t.Errorf("IsChannelID(%d) = %v, want %v", id, got, want)
		}
	}
}

func TestSenderLabel(t *testing.T) {
	if got := SenderLabel(true, "Alice"); got != "Me" {
		t.Errorf("outgoing = %q", got)
	}
	if got := SenderLabel(false, " Alice "); got != "Alice" {
		t.Errorf("named = %q", got)
	}
	if got := SenderLabel(false, ""); got != "Unknown" {
		t.Errorf("anonymous = %q", got)
	}
}
