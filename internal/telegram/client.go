// Package telegram connects to Telegram as a user account over MTProto.
// It turns updates into engine events, applies edits, and reads chat
// history and the dialog list.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/telegram/updates"
	updhook "github.com/gotd/td/telegram/updates/hook"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"github.com/brainrot/tg-llm-rewrite/internal/buildinfo"
	"github.com/brainrot/tg-llm-rewrite/internal/config"
	"github.com/brainrot/tg-llm-rewrite/internal/events"
	"github.com/brainrot/tg-llm-rewrite/internal/rewrite"
	"github.com/brainrot/tg-llm-rewrite/internal/session"
)

// eventBuffer is how many updates may queue ahead of the engine.
const eventBuffer = 256

// Config configures a Client.
type Config struct {
	APIID   int
	APIHash string
	// Session persists the login and update state.
	Session *session.Store
	Phone   string
	// Login is config.LoginCode or config.LoginQR.
	Login string
	// Proxy is an optional socks5:// URL.
	Proxy string
	// CatchUp replays updates missed while offline.
	CatchUp bool

	Terminal *Terminal
	Bus      *events.Bus
	Logger   *slog.Logger
	// LogLevel and LogJSON shape the protocol-level logger.
	LogLevel slog.Level
	LogJSON  bool
	LogOut   io.Writer
}

// Client is a logged-in Telegram user session.
type Client struct {
	cfg    Config
	logger *slog.Logger
	zap    *zap.Logger

	client   *telegram.Client
	gaps     *updates.Manager
	loggedIn qrlogin.LoggedIn
	peers    *peerCache
	events   chan rewrite.Event

	api  atomic.Pointer[tg.Client]
	self atomic.Pointer[tg.User]

	refreshMu sync.Mutex
}

// New builds a Client. Nothing connects until Run.
func New(cfg Config) (*Client, error) {
	if cfg.APIID <= 0 || cfg.APIHash == "" {
		return nil, errors.New("telegram: api id and hash are required")
	}
	if cfg.Session == nil {
		return nil, errors.New("telegram: session store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LogOut == nil {
		cfg.LogOut = os.Stderr
	}
	if cfg.Terminal == nil {
		cfg.Terminal = &Terminal{In: os.Stdin, Out: os.Stdout}
	}

	resolver, err := proxyResolver(cfg.Proxy)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "telegram"),
		zap:    newZapLogger(cfg.LogOut, cfg.LogLevel, cfg.LogJSON),
		peers:  newPeerCache(),
		events: make(chan rewrite.Event, eventBuffer),
	}

	dispatcher := tg.NewUpdateDispatcher()
	c.register(dispatcher)

	c.gaps = updates.New(updates.Config{
		Handler:      dispatcher,
		Storage:      cfg.Session.Updates(),
		AccessHasher: cfg.Session.Updates(),
		Logger:       c.zap.Named("gaps"),
	})

	// Login tokens arrive before the gap manager is running, so they
	// get their own dispatcher ahead of it.
	loginDispatcher := tg.NewUpdateDispatcher()
	c.loggedIn = qrlogin.OnLoginToken(loginDispatcher)
	handler := telegram.UpdateHandlerFunc(func(ctx context.Context, u tg.UpdatesClass) error {
		if err := loginDispatcher.Handle(ctx, u); err != nil {
			return err
		}
		return c.gaps.Handle(ctx, u)
	})

	opts := telegram.Options{
		Logger:         c.zap,
		SessionStorage: cfg.Session.Telegram(),
		UpdateHandler:  handler,
		Middlewares:    []telegram.Middleware{updhook.UpdateHook(handler.Handle)},
		Device: telegram.DeviceConfig{
			DeviceModel:   "brainrot",
			SystemVersion: buildinfo.UserAgent(),
			AppVersion:    buildinfo.Version,
		},
	}
	if resolver != nil {
		opts.Resolver = resolver
	}
	c.client = telegram.NewClient(cfg.APIID, cfg.APIHash, opts)
	return c, nil
}

// Events returns the inbound event feed consumed by the engine.
func (c *Client) Events() <-chan rewrite.Event { return c.events }

// Self returns the logged-in user once Run has authenticated.
func (c *Client) Self() *tg.User { return c.self.Load() }

// Run connects, logs in if needed and calls f with the connection
// open. The connection closes when f returns or ctx ends.
func (c *Client) Run(ctx context.Context, f func(ctx context.Context) error) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		if err := c.login(ctx); err != nil {
			return err
		}
		self, err := c.client.Self(ctx)
		if err != nil {
			if isAuthError(err) {
				return fmt.Errorf("%w: %v", rewrite.ErrAuthInvalid, err)
			}
			return fmt.Errorf("telegram: fetch own account: %w", err)
		}
		c.self.Store(self)
		c.peers.setSelf(self.ID)
		c.api.Store(c.client.API())
		if err := c.cfg.Session.Telegram().SetSelfID(ctx, self.ID); err != nil {
			c.logger.Warn("failed to record account id", "error", err)
		}
		c.logger.Info("logged in", "user_id", self.ID, "name", displayName(self))
		return f(ctx)
	})
}

func (c *Client) login(ctx context.Context) error {
	if c.cfg.Login == config.LoginQR {
		return loginWithQR(ctx, c.client, c.loggedIn, c.cfg.Terminal)
	}
	return loginWithCode(ctx, c.client, c.cfg.Phone, c.cfg.Terminal)
}

// Stream delivers updates to Events until ctx ends. onReady is called
// once the update state is synchronized. Must be called inside Run.
func (c *Client) Stream(ctx context.Context, onReady func()) error {
	self := c.Self()
	if self == nil {
		return errors.New("telegram: Stream called before login")
	}
	if err := c.warmPeers(ctx); err != nil {
		c.logger.Warn("dialog warm-up failed", "error", err)
	}
	if !c.cfg.CatchUp {
		if err := c.cfg.Session.Updates().Reset(ctx, self.ID); err != nil {
			c.logger.Warn("failed to reset update state", "error", err)
		}
	}
	err := c.gaps.Run(ctx, c.client.API(), self.ID, updates.AuthOptions{
		Forget: !c.cfg.CatchUp,
		OnStart: func(context.Context) {
			c.logger.Info("update stream live", "catch_up", c.cfg.CatchUp)
			c.cfg.Bus.Emit(events.SourceTelegram, events.KindRuntimeReady, map[string]any{
				"self_id": self.ID,
			})
			if onReady != nil {
				onReady()
			}
		},
	})
	if isAuthError(err) {
		return fmt.Errorf("%w: %v", rewrite.ErrAuthInvalid, err)
	}
	return err
}

func (c *Client) register(d tg.UpdateDispatcher) {
	d.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		return c.deliver(ctx, e, rewrite.EventNewMessage, u.Message)
	})
	d.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		return c.deliver(ctx, e, rewrite.EventNewMessage, u.Message)
	})
	d.OnEditMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateEditMessage) error {
		return c.deliver(ctx, e, rewrite.EventEdited, u.Message)
	})
	d.OnEditChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateEditChannelMessage) error {
		return c.deliver(ctx, e, rewrite.EventEdited, u.Message)
	})
	d.OnDeleteMessages(func(ctx context.Context, _ tg.Entities, u *tg.UpdateDeleteMessages) error {
		return c.deliverDeletes(ctx, 0, u.Messages)
	})
	d.OnDeleteChannelMessages(func(ctx context.Context, _ tg.Entities, u *tg.UpdateDeleteChannelMessages) error {
		return c.deliverDeletes(ctx, ChatID(&tg.PeerChannel{ChannelID: u.ChannelID}), u.Messages)
	})
}

func (c *Client) deliver(ctx context.Context, e tg.Entities, kind rewrite.EventKind, mc tg.MessageClass) error {
	c.peers.addUpdateEntities(e)
	ev, ok := c.peers.messageEvent(kind, mc)
	if !ok {
		return nil
	}
	return c.push(ctx, ev)
}

func (c *Client) deliverDeletes(ctx context.Context, chatID int64, ids []int) error {
	for _, id := range ids {
		if err := c.push(ctx, rewrite.Event{Kind: rewrite.EventDeleted, ChatID: chatID, MessageID: id}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) push(ctx context.Context, ev rewrite.Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) rpc() (*tg.Client, error) {
	api := c.api.Load()
	if api == nil {
		return nil, errors.New("telegram: not connected")
	}
	return api, nil
}

// resolve finds the addressing peer for chatID, refreshing the dialog
// list once on a miss.
func (c *Client) resolve(ctx context.Context, chatID int64) (tg.InputPeerClass, error) {
	if p, ok := c.peers.inputPeer(chatID); ok {
		return p, nil
	}
	if err := c.warmPeers(ctx); err != nil {
		return nil, err
	}
	if p, ok := c.peers.inputPeer(chatID); ok {
		return p, nil
	}
	return nil, fmt.Errorf("chat %d is not among the account's dialogs", chatID)
}

// Edit replaces the text of one of the account's messages. Failures
// are returned as *rewrite.EditError.
func (c *Client) Edit(ctx context.Context, chatID int64, msgID int, text string) error {
	api, err := c.rpc()
	if err != nil {
		return &rewrite.EditError{Kind: rewrite.EditOther, Err: err}
	}
	peer, err := c.resolve(ctx, chatID)
	if err != nil {
		if _, ok := tgerr.As(err); ok {
			return classifyEditError(err)
		}
		return &rewrite.EditError{Kind: rewrite.EditNotFound, Err: err}
	}
	_, err = api.MessagesEditMessage(ctx, &tg.MessagesEditMessageRequest{
		Peer:    peer,
		ID:      msgID,
		Message: text,
	})
	return classifyEditError(err)
}

// History reads up to limit messages older than beforeID, oldest
// first. A non-zero topicID reads that forum topic only.
func (c *Client) History(ctx context.Context, chatID int64, topicID, beforeID, limit int) ([]rewrite.ContextMessage, error) {
	api, err := c.rpc()
	if err != nil {
		return nil, err
	}
	peer, err := c.resolve(ctx, chatID)
	if err != nil {
		return nil, err
	}

	var res tg.MessagesMessagesClass
	if topicID != 0 {
		res, err = api.MessagesGetReplies(ctx, &tg.MessagesGetRepliesRequest{
			Peer:     peer,
			MsgID:    topicID,
			OffsetID: beforeID,
			Limit:    limit,
		})
	} else {
		res, err = api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: beforeID,
			Limit:    limit,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("read history of chat %d: %w", chatID, err)
	}
	mod, ok := res.AsModified()
	if !ok {
		return nil, nil
	}
	c.peers.addEntities(mod.GetUsers(), mod.GetChats())
	return c.peers.contextMessages(mod.GetMessages()), nil
}
