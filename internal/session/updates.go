package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gotd/td/telegram/updates"
)

// UpdatesStorage persists the update sequence state, so that a restart
// can resume the update stream where it stopped instead of starting
// fresh.
type UpdatesStorage struct {
	store *Store
}

var (
	_ updates.StateStorage = (*UpdatesStorage)(nil)
	_ updates.ChannelAccessHasher = (*UpdatesStorage)(nil)
)

// Updates returns the update state storage backed by s.
func (s *Store) Updates() *UpdatesStorage {
	return &UpdatesStorage{store: s}
}

func stateNamespace(userID int64) string {
	return "updates:" + strconv.FormatInt(userID, 10)
}

func channelPtsNamespace(userID int64) string {
	return stateNamespace(userID) + ":channel_pts"
}

func channelHashNamespace(userID int64) string {
	return stateNamespace(userID) + ":channel_hash"
}

// Reset drops all stored update state for the account.
func (u *UpdatesStorage) Reset(ctx context.Context, userID int64) error {
	for _, ns := range []string{stateNamespace(userID), channelPtsNamespace(userID), channelHashNamespace(userID)} {
		if err := u.store.DeleteNamespace(ctx, ns); err != nil {
			return err
		}
	}
	return nil
}

func (u *UpdatesStorage) GetState(ctx context.Context, userID int64) (updates.State, bool, error) {
	raw, err := u.store.Get(ctx, stateNamespace(userID), "state")
	if err != nil || raw == nil {
		return updates.State{}, false, err
	}
	var st updates.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return updates.State{}, false, fmt.Errorf("decode update state: %w", err)
	}
	return st, true, nil
}

func (u *UpdatesStorage) SetState(ctx context.Context, userID int64, state updates.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return u.store.Set(ctx, stateNamespace(userID), "state", raw)
}

// modify applies f to the stored state. A missing state is an error,
// matching the in-memory storage.
func (u *UpdatesStorage) modify(ctx context.Context, userID int64, f func(*updates.State)) error {
	st, ok, err := u.GetState(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("update state for user %d not found", userID)
	}
	f(&st)
	return u.SetState(ctx, userID, st)
}

func (u *UpdatesStorage) SetPts(ctx context.Context, userID int64, pts int) error {
	return u.modify(ctx, userID, func(s *updates.State) { s.Pts = pts })
}

func (u *UpdatesStorage) SetQts(ctx context.Context, userID int64, qts int) error {
	return u.modify(ctx, userID, func(s *updates.State) { s.Qts = qts })
}

func (u *UpdatesStorage) SetDate(ctx context.Context, userID int64, date int) error {
	return u.modify(ctx, userID, func(s *updates.State) { s.Date = date })
}

func (u *UpdatesStorage) SetSeq(ctx context.Context, userID int64, seq int) error {
	return u.modify(ctx, userID, func(s *updates.State) { s.Seq = seq })
}

func (u *UpdatesStorage) SetDateSeq(ctx context.Context, userID int64, date, seq int) error {
	return u.modify(ctx, userID, func(s *updates.State) {
		s.Date = date
		s.Seq = seq
	})
}

func (u *UpdatesStorage) GetChannelPts(ctx context.Context, userID, channelID int64) (int, bool, error) {
	raw, err := u.store.Get(ctx, channelPtsNamespace(userID), strconv.FormatInt(channelID, 10))
	if err != nil || raw == nil {
		return 0, false, err
	}
	pts, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, false, fmt.Errorf("decode channel pts: %w", err)
	}
	return pts, true, nil
}

func (u *UpdatesStorage) SetChannelPts(ctx context.Context, userID, channelID int64, pts int) error {
	return u.store.Set(ctx, channelPtsNamespace(userID), strconv.FormatInt(channelID, 10), []byte(strconv.Itoa(pts)))
}

func (u *UpdatesStorage) ForEachChannels(ctx context.Context, userID int64, f func(ctx context.Context, channelID int64, pts int) error) error {
	all, err := u.store.List(ctx, channelPtsNamespace(userID))
	if err != nil {
		return err
	}
	for k, v := range all {
		channelID, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		pts, err := strconv.Atoi(string(v))
		if err != nil {
			continue
		}
		if err := f(ctx, channelID, pts); err != nil {
			return err
		}
	}
	return nil
}

func (u *UpdatesStorage) GetChannelAccessHash(ctx context.Context, userID, channelID int64) (int64, bool, error) {
	raw, err := u.store.Get(ctx, channelHashNamespace(userID), strconv.FormatInt(channelID, 10))
	if err != nil || raw == nil {
		return 0, false, err
	}
	hash, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("decode channel access hash: %w", err)
	}
	return hash, true, nil
}

func (u *UpdatesStorage) SetChannelAccessHash(ctx context.Context, userID, channelID, accessHash int64) error {
	return u.store.Set(ctx, channelHashNamespace(userID), strconv.FormatInt(channelID, 10), []byte(strconv.FormatInt(accessHash, 10)))
}
