package settings

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/brainrot/tg-llm-rewrite/internal/config"
	"github.com/brainrot/tg-llm-rewrite/internal/events"
)

func testParams() Params {
	return Params{
		SystemPrompt: "rewrite this",
		Chats:        []int64{-100123, 42},
		Model:        "llama3",
		ContextDepth: 10,
		MaxAttempts:  3,
	}
}

func mustSnapshot(t *testing.T, p Params) *Snapshot {
	t.Helper()
	s, err := NewSnapshot(p)
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewSnapshot_Accessors(t *testing.T) {
	p := testParams()
	p.IgnorePattern = `^!raw`
	p.StripMarkdown = true
	s := mustSnapshot(t, p)

	if !s.Monitors(42) || !s.Monitors(-100123) {
		t.Error("Monitors should report configured chats")
	}
	if s.Monitors(7) {
		t.Error("Monitors(7) = true, want false")
	}
	if diff := cmp.Diff([]int64{-100123, 42}, s.Chats()); diff != "" {
		t.Errorf("Chats() mismatch (-want +got):\n%s", diff)
	}
	if !s.Ignores("!raw keep me") || s.Ignores("hello") {
		t.Error("Ignores does not follow the pattern")
	}
	if !s.StripMarkdown() || s.MaxAttempts() != 3 || s.ContextDepth() != 10 {
		t.Errorf("unexpected snapshot %s", s)
	}
}

func TestNewSnapshot_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"blank prompt", func(p *Params) { p.SystemPrompt = "  " }},
		{"no chats", func(p *Params) { p.Chats = nil }},
		{"no model", func(p *Params) { p.Model = "" }},
		{"negative depth", func(p *Params) { p.ContextDepth = -1 }},
		{"zero attempts", func(p *Params) { p.MaxAttempts = 0 }},
		{"bad pattern", func(p *Params) { p.IgnorePattern = "(" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			tt.mutate(&p)
			if _, err := NewSnapshot(p); err == nil {
				t.Fatal("NewSnapshot should fail")
			}
		})
	}
}

func TestSnapshot_ChatsIsACopy(t *testing.T) {
	p := testParams()
	s := mustSnapshot(t, p)
	p.Chats[0] = 999
	chats := s.Chats()
	chats[0] = 999
	if s.Monitors(999) {
		t.Error("snapshot was mutated through caller-held slices")
	}
}

func TestStore_InstallThenCurrent(t *testing.T) {
	first := mustSnapshot(t, testParams())
	st, err := NewStore(first)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if st.Current() != first {
		t.Fatal("Current() should return the initial snapshot")
	}

	p := testParams()
	p.Model = "qwen3:4b"
	second := mustSnapshot(t, p)
	if err := st.Install(second); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if st.Current() != second {
		t.Error("Current() should return the installed snapshot")
	}
}

func TestStore_InvalidInstallKeepsCurrent(t *testing.T) {
	first := mustSnapshot(t, testParams())
	st, _ := NewStore(first)

	if err := st.Install(nil); err == nil {
		t.Error("Install(nil) should fail")
	}
	if err := st.Install(&Snapshot{}); err == nil {
		t.Error("Install of zero snapshot should fail")
	}
	if st.Current() != first {
		t.Error("Current() changed after rejected installs")
	}
}

func TestNewStore_RejectsInvalid(t *testing.T) {
	if _, err := NewStore(nil); err == nil {
		t.Fatal("NewStore(nil) should fail")
	}
}

func TestStore_ConcurrentReaders(t *testing.T) {
	a := mustSnapshot(t, testParams())
	p := testParams()
	p.Model = "other"
	p.Chats = []int64{1}
	b := mustSnapshot(t, p)

	st, _ := NewStore(a)
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := st.Current()
				// A reader sees one whole snapshot or the other.
				if s.Model() == "other" != s.Monitors(1) {
					t.Error("observed a torn snapshot")
					return
				}
			}
		}()
	}
	for i := range 1000 {
		if i%2 == 0 {
			st.Install(b)
		} else {
			st.Install(a)
		}
	}
	close(stop)
	wg.Wait()
}

func TestSnapshot_Equal(t *testing.T) {
	a := mustSnapshot(t, testParams())
	b := mustSnapshot(t, testParams())
	if !a.Equal(b) {
		t.Error("identical params should compare equal")
	}
	p := testParams()
	p.Chats = []int64{42, -100123}
	if !a.Equal(mustSnapshot(t, p)) {
		t.Error("chat order should not matter")
	}
	p.SystemPrompt = "different"
	if a.Equal(mustSnapshot(t, p)) {
		t.Error("different prompts should not compare equal")
	}
}

const watchedConfig = `
telegram:
  api_id: 1
  api_hash: hash
backend:
  model: %MODEL%
rewrite:
  chats: [42]
  system_prompt: be nice
`

func writeConfig(t *testing.T, path, model string) {
	t.Helper()
	raw := strings.ReplaceAll(watchedConfig, "%MODEL%", model)
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func newWatchedStore(t *testing.T) (string, *config.Config, *Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "llama3")
	cfg, err := config.Load(path, config.ModeRewrite)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	st, _ := NewStore(snap)
	return path, cfg, st
}

func TestWatcher_ReloadInstallsChanges(t *testing.T) {
	path, cfg, st := newWatchedStore(t)
	bus := events.New()
	ch := bus.Subscribe(4)
	defer bus.Unsubscribe(ch)

	w := NewWatcher(WatcherConfig{Path: path, Baseline: cfg, Store: st, Bus: bus, Logger: discardLogger()})

	if w.Reload() {
		t.Error("Reload of unchanged file should not install")
	}

	writeConfig(t, path, "qwen3:4b")
	if !w.Reload() {
		t.Fatal("Reload should install changed settings")
	}
	if got := st.Current().Model(); got != "qwen3:4b" {
		t.Errorf("model = %q, want %q", got, "qwen3:4b")
	}

	select {
	case ev := <-ch:
		if ev.Kind != events.KindConfigReloaded {
			t.Errorf("event kind = %q, want %q", ev.Kind, events.KindConfigReloaded)
		}
	case <-time.After(time.Second):
		t.Fatal("no reload event published")
	}
}

func TestWatcher_InvalidReloadKeepsPrevious(t *testing.T) {
	path, cfg, st := newWatchedStore(t)
	before := st.Current()
	w := NewWatcher(WatcherConfig{Path: path, Baseline: cfg, Store: st, Logger: discardLogger()})

	os.WriteFile(path, []byte("telegram: [not, a, map"), 0600)
	if w.Reload() {
		t.Error("Reload of malformed file should not install")
	}
	writeConfig(t, path, "")
	if w.Reload() {
		t.Error("Reload with empty model should not install")
	}
	if st.Current() != before {
		t.Error("settings changed after invalid reloads")
	}
}

func TestWatcher_RunPicksUpWrites(t *testing.T) {
	path, cfg, st := newWatchedStore(t)
	w := NewWatcher(WatcherConfig{
		Path:        path,
		Baseline:    cfg,
		Store:       st,
		Logger:      discardLogger(),
		SettleDelay: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, "mistral")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if st.Current().Model() == "mistral" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("model = %q after write, want %q", st.Current().Model(), "mistral")
}

func TestFrozenChanges(t *testing.T) {
	old := &config.Config{
		Telegram: config.TelegramConfig{APIID: 1, APIHash: "a"},
		Backend:  &config.BackendConfig{Provider: "ollama", URL: "http://a", Model: "m1"},
	}
	cur := &config.Config{
		Telegram: config.TelegramConfig{APIID: 2, APIHash: "a"},
		Backend:  &config.BackendConfig{Provider: "ollama", URL: "http://b", Model: "m2"},
	}
	got := frozenChanges(old, cur)
	want := []string{"telegram.api_id", "backend.url"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frozenChanges mismatch (-want +got):\n%s", diff)
	}
}
