package session

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	tgsession "github.com/gotd/td/session"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session_test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetMissing(t *testing.T) {
	s := testStore(t)
	val, err := s.Get(context.Background(), "ns", "missing")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if val != nil {
		t.Errorf("Get() = %q, want nil for missing key", val)
	}
}

func TestSetUpsertAndDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "ns", "key", []byte("v1")); err != nil {
		t.Fatalf("Set(v1): %v", err)
	}
	if err := s.Set(ctx, "ns", "key", []byte("v2")); err != nil {
		t.Fatalf("Set(v2): %v", err)
	}
	val, err := s.Get(ctx, "ns", "key")
	if err != nil || string(val) != "v2" {
		t.Fatalf("Get() = %q, %v; want v2", val, err)
	}

	at, ok, err := s.UpdatedAt(ctx, "ns", "key")
	if err != nil || !ok {
		t.Fatalf("UpdatedAt: ok=%v err=%v", ok, err)
	}
	if time.Since(at) > time.Minute {
		t.Errorf("UpdatedAt = %v, want recent", at)
	}

	if err := s.Delete(ctx, "ns", "key"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "ns", "key"); err != nil {
		t.Errorf("Delete of missing key: %v", err)
	}
	if _, ok, _ := s.UpdatedAt(ctx, "ns", "key"); ok {
		t.Error("deleted key still has a timestamp")
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.Telegram().StoreSession(ctx, []byte(`{"Version":1}`)); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	data, err := s2.Telegram().LoadSession(ctx)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if !bytes.Equal(data, []byte(`{"Version":1}`)) {
		t.Errorf("LoadSession = %q", data)
	}
}

func TestTelegramStorage(t *testing.T) {
	ts := testStore(t).Telegram()
	ctx := context.Background()

	if _, err := ts.LoadSession(ctx); !errors.Is(err, tgsession.ErrNotFound) {
		t.Fatalf("LoadSession on empty store = %v, want ErrNotFound", err)
	}

	if err := ts.SetSelfID(ctx, 777000); err != nil {
		t.Fatal(err)
	}
	if id, err := ts.SelfID(ctx); err != nil || id != 777000 {
		t.Errorf("SelfID = %d, %v", id, err)
	}

	if err := ts.StoreSession(ctx, []byte("blob")); err != nil {
		t.Fatal(err)
	}
	if err := ts.Forget(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.LoadSession(ctx); !errors.Is(err, tgsession.ErrNotFound) {
		t.Errorf("LoadSession after Forget = %v, want ErrNotFound", err)
	}
	if id, _ := ts.SelfID(ctx); id != 0 {
		t.Errorf("SelfID after Forget = %d, want 0", id)
	}
}
