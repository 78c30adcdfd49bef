package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/harunnryd/kotori/internal/config"
	"github.com/harunnryd/kotori/internal/errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type TelegramAdapter struct {
	token         string
	updateTimeout int
	eventHandler  EventHandler
	bot           *tgbotapi.BotAPI
	updates       tgbotapi.UpdatesChannel
}

func NewTelegramAdapter(token string, eventHandler EventHandler, updateTimeout int) *TelegramAdapter {
	if updateTimeout <= 0 {
		updateTimeout = config.DefaultTelegramUpdateTimeout
	}
	return &TelegramAdapter{
		token:         token,
		updateTimeout: updateTimeout,
		eventHandler:  eventHandler,
	}
}

func (t *TelegramAdapter) Name() string {
	return "telegram"
}

func (t *TelegramAdapter) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return errors.Wrap(err, "failed to init telegram bot")
	}

	slog.Info("Telegram adapter started", "user", t.bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.updateTimeout

	t.updates = t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update := <-t.updates:
				t.handleUpdate(ctx, update)
			}
		}
	}()

	return nil
}

func (t *TelegramAdapter) Stop(ctx context.Context) error {
	return nil
}

func (t *TelegramAdapter) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil {
		return
	}

	msg := update.Message

	// UpdateID is globally unique, MessageID only per chat; the update ID is
	// what dedup keys on.
	metadata := map[string]string{
		"chat_id":   fmt.Sprintf("%d", msg.Chat.ID),
		"from_id":   fmt.Sprintf("%d", msg.From.ID),
		"from_name": msg.From.UserName,
		"msg_id":    fmt.Sprintf("%d", msg.MessageID),
	}

	if t.eventHandler != nil {
		externalID := fmt.Sprintf("%d", update.UpdateID)
		if err := t.eventHandler(ctx, "telegram", "user_message", externalID, msg.Text, metadata); err != nil {
			slog.Error("Failed to handle Telegram event", "error", err)
		}
	}
}

// Send sends a reply back to Telegram. target is the chat ID.
func (t *TelegramAdapter) Send(ctx context.Context, target string, content string) error {
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return errors.InvalidInput("invalid telegram chat ID: " + err.Error())
	}

	msg := tgbotapi.NewMessage(chatID, content)
	if _, err := t.bot.Send(msg); err != nil {
		return errors.Wrap(err, "failed to send telegram message")
	}

	slog.Debug("Telegram message sent", "chat_id", target)
	return nil
}

func (t *TelegramAdapter) Health(ctx context.Context) error {
	if t.bot == nil {
		return errors.Transient("Telegram bot not initialized")
	}

	if _, err := t.bot.GetMe(); err != nil {
		return errors.Transient("Telegram connection failed: " + err.Error())
	}

	return nil
}
