package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/brainrot/tg-llm-rewrite/internal/config"
	"github.com/brainrot/tg-llm-rewrite/internal/session"
	"github.com/brainrot/tg-llm-rewrite/internal/telegram"
)

// runListChats logs in and prints every dialog as "id<TAB>name" so the
// ids can be copied into rewrite.chats.
func runListChats(ctx context.Context, stdout, stderr io.Writer, configPath, query string) error {
	cfg, _, err := loadConfig(configPath, config.ModeListChats)
	if err != nil {
		return err
	}
	logger, level, err := setupLogger(stderr, cfg)
	if err != nil {
		return err
	}

	sess, err := session.Open(cfg.Telegram.SessionFile)
	if err != nil {
		return err
	}
	defer sess.Close()

	tgc, err := telegram.New(telegram.Config{
		APIID:    cfg.Telegram.APIID,
		APIHash:  cfg.Telegram.APIHash,
		Session:  sess,
		Phone:    cfg.Telegram.Phone,
		Login:    cfg.Telegram.Login,
		Proxy:    cfg.Telegram.Proxy,
		Logger:   logger,
		LogLevel: level,
		LogJSON:  cfg.LogFormat == "json",
		LogOut:   stderr,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return tgc.Run(ctx, func(ctx context.Context) error {
		dialogs, err := tgc.Dialogs(ctx)
		if err != nil {
			return fmt.Errorf("list chats: %w", err)
		}
		printChats(stdout, telegram.FilterDialogs(dialogs, query), query)
		return nil
	})
}

func printChats(w io.Writer, dialogs []telegram.Dialog, query string) {
	if len(dialogs) == 0 {
		if query != "" {
			fmt.Fprintf(w, "No chats matched filter: %s\n", query)
		} else {
			fmt.Fprintln(w, "No chats found.")
		}
		return
	}
	for _, d := range dialogs {
		fmt.Fprintf(w, "%d\t%s\n", d.ID, d.Name)
	}
}
