package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/gotd/td/tg"
)

const dialogPageSize = 100

// Dialog is one chat in the account's dialog list.
type Dialog struct {
	ID   int64
	Name string
}

// Dialogs returns every dialog of the account, most recent first.
func (c *Client) Dialogs(ctx context.Context) ([]Dialog, error) {
	api, err := c.rpc()
	if err != nil {
		return nil, err
	}

	var out []Dialog
	seen := make(map[int64]bool)
	req := &tg.MessagesGetDialogsRequest{OffsetPeer: &tg.InputPeerEmpty{}, Limit: dialogPageSize}
	for {
		res, err := api.MessagesGetDialogs(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("list dialogs: %w", err)
		}
		mod, ok := res.AsModified()
		if !ok {
			break
		}
		c.peers.addEntities(mod.GetUsers(), mod.GetChats())

		page := mod.GetDialogs()
		for _, dc := range page {
			d, ok := dc.(*tg.Dialog)
			if !ok {
				continue
			}
			id := ChatID(d.Peer)
			if id == 0 || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, Dialog{ID: id, Name: c.peers.name(id)})
		}

		if _, complete := res.(*tg.MessagesDialogs); complete || len(page) < dialogPageSize {
			break
		}
		next, ok := c.nextDialogOffset(page, mod.GetMessages())
		if !ok {
			break
		}
		req.OffsetDate, req.OffsetID, req.OffsetPeer = next.date, next.id, next.peer
	}
	return out, nil
}

type dialogOffset struct {
	date int
	id   int
	peer tg.InputPeerClass
}

// nextDialogOffset derives the pagination cursor from the last dialog
// of a page and its top message.
func (c *Client) nextDialogOffset(page []tg.DialogClass, msgs []tg.MessageClass) (dialogOffset, bool) {
	last, ok := page[len(page)-1].(*tg.Dialog)
	if !ok {
		return dialogOffset{}, false
	}
	peerID := ChatID(last.Peer)
	peer, ok := c.peers.inputPeer(peerID)
	if !ok {
		return dialogOffset{}, false
	}
	off := dialogOffset{id: last.TopMessage, peer: peer}
	for _, mc := range msgs {
		m, ok := mc.(*tg.Message)
		if ok && m.ID == last.TopMessage && ChatID(m.PeerID) == peerID {
			off.date = m.Date
			break
		}
	}
	return off, true
}

// warmPeers loads the dialog list so access hashes for every chat are
// cached. Concurrent callers share one refresh.
func (c *Client) warmPeers(ctx context.Context) error {
	if !c.refreshMu.TryLock() {
		c.refreshMu.Lock()
		c.refreshMu.Unlock()
		return nil
	}
	defer c.refreshMu.Unlock()
	_, err := c.Dialogs(ctx)
	return err
}

// FilterDialogs keeps dialogs whose name or id contains query, case
// insensitively. An empty query keeps everything.
func FilterDialogs(dialogs []Dialog, query string) []Dialog {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return dialogs
	}
	var out []Dialog
	for _, d := range dialogs {
		if strings.Contains(strings.ToLower(d.Name), q) || strings.Contains(fmt.Sprint(d.ID), q) {
			out = append(out, d)
		}
	}
	return out
}
