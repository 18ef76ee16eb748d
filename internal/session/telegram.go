package session

import (
	"context"
	"strconv"

	tgsession "github.com/gotd/td/session"
)

const (
	telegramNamespace = "telegram"
	keySession        = "session"
	keySelfID         = "self_id"
)

// TelegramStorage adapts a Store to the Telegram client's session
// storage interface.
type TelegramStorage struct {
	store *Store
}

var _ tgsession.Storage = (*TelegramStorage)(nil)

// Telegram returns the Telegram session storage backed by s.
func (s *Store) Telegram() *TelegramStorage {
	return &TelegramStorage{store: s}
}

// LoadSession returns the saved session, or session.ErrNotFound.
func (t *TelegramStorage) LoadSession(ctx context.Context) ([]byte, error) {
	data, err := t.store.Get(ctx, telegramNamespace, keySession)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, tgsession.ErrNotFound
	}
	return data, nil
}

// StoreSession saves the session.
func (t *TelegramStorage) StoreSession(ctx context.Context, data []byte) error {
	return t.store.Set(ctx, telegramNamespace, keySession, data)
}

// Forget removes the saved session, forcing a fresh login.
func (t *TelegramStorage) Forget(ctx context.Context) error {
	if err := t.store.Delete(ctx, telegramNamespace, keySelfID); err != nil {
		return err
	}
	return t.store.Delete(ctx, telegramNamespace, keySession)
}

// SelfID returns the account id recorded at the last login, or zero.
func (t *TelegramStorage) SelfID(ctx context.Context) (int64, error) {
	raw, err := t.store.Get(ctx, telegramNamespace, keySelfID)
	if err != nil || len(raw) == 0 {
		return 0, err
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

// SetSelfID records the logged-in account id.
func (t *TelegramStorage) SetSelfID(ctx context.Context, id int64) error {
	return t.store.Set(ctx, telegramNamespace, keySelfID, []byte(strconv.FormatInt(id, 10)))
}
