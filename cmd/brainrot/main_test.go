package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/brainrot/tg-llm-rewrite/internal/config"
	"github.com/brainrot/tg-llm-rewrite/internal/telegram"
)

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), &stdout, &stderr, []string{"version"}); err != nil {
		t.Fatalf("run(version) error: %v", err)
	}
	out := stdout.String()
	if !strings.HasPrefix(out, "brainrot ") {
		t.Errorf("version output = %q, want brainrot prefix", out)
	}
	if !strings.Contains(out, "go_version:") {
		t.Errorf("version output missing go_version:\n%s", out)
	}
}

func TestRunVersionJSON(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), &stdout, &stderr, []string{"version", "-o", "json"}); err != nil {
		t.Fatalf("run(version -o json) error: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, stdout.String())
	}
	if info["version"] == "" {
		t.Errorf("version missing from %v", info)
	}
}

func TestRunVersionBadFormat(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), &stdout, &stderr, []string{"version", "-o", "yaml"})
	if err == nil || !strings.Contains(err.Error(), "unknown output format") {
		t.Errorf("err = %v, want unknown output format", err)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), &stdout, &stderr, []string{"frobnicate"}); err == nil {
		t.Error("unknown command should fail")
	}
}

func TestRunMissingConfig(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	for _, args := range [][]string{
		{"--config", missing},
		{"run", "--config", missing},
		{"list-chats", "--config", missing},
	} {
		var stdout, stderr bytes.Buffer
		err := run(context.Background(), &stdout, &stderr, args)
		if err == nil || !strings.Contains(err.Error(), "config file not found") {
			t.Errorf("run(%v) err = %v, want config file not found", args, err)
		}
	}
}

func TestListChatsTooManyArgs(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), &stdout, &stderr, []string{"list-chats", "a", "b"}); err == nil {
		t.Error("list-chats with two queries should fail")
	}
}

func TestPrintChats(t *testing.T) {
	dialogs := []telegram.Dialog{
		{ID: 42, Name: "Alice"},
		{ID: -1001234567890, Name: "Rust Devs"},
	}

	tests := []struct {
		name    string
		dialogs []telegram.Dialog
		query   string
		want    string
	}{
		{"list", dialogs, "", "42\tAlice\n-1001234567890\tRust Devs\n"},
		{"none", nil, "", "No chats found.\n"},
		{"no match", nil, "bob", "No chats matched filter: bob\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printChats(&buf, tt.dialogs, tt.query)
			if diff := cmp.Diff(tt.want, buf.String()); diff != "" {
				t.Errorf("printChats mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRewriteOverride(t *testing.T) {
	env := func(v string) func(string) string {
		return func(key string) string {
			if key == envBypassRewrite {
				return v
			}
			return ""
		}
	}
	tests := []struct {
		flag, env, want string
	}{
		{"", "", ""},
		{"", "  from env ", "from env"},
		{"from flag", "from env", "from flag"},
		{"   ", "from env", "from env"},
		{"", "   ", ""},
	}
	for _, tt := range tests {
		if got := rewriteOverride(tt.flag, env(tt.env)); got != tt.want {
			t.Errorf("rewriteOverride(%q, env=%q) = %q, want %q", tt.flag, tt.env, got, tt.want)
		}
	}
}

func TestEnvSet(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == envDisableCatchUp {
			return "", true
		}
		return "", false
	}
	if !envSet(lookup, envDisableCatchUp) {
		t.Error("a variable set to the empty string counts as set")
	}
	if envSet(lookup, envDisableHistoricalSkip) {
		t.Error("unset variable reported as set")
	}
}

func TestIgnoreCanceled(t *testing.T) {
	if err := ignoreCanceled(fmt.Errorf("stream: %w", context.Canceled)); err != nil {
		t.Errorf("wrapped cancel = %v, want nil", err)
	}
	boom := errors.New("boom")
	if err := ignoreCanceled(boom); !errors.Is(err, boom) {
		t.Errorf("ignoreCanceled(boom) = %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LevelTrace, "json")
	logger.Log(context.Background(), config.LevelTrace, "deep detail")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
	}
	if rec["level"] != "TRACE" {
		t.Errorf("level = %v, want TRACE", rec["level"])
	}

	buf.Reset()
	newLogger(&buf, config.LevelTrace, "text").Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text logger output = %q", buf.String())
	}
}
