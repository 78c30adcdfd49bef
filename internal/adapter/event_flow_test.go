package adapter

import (
	"context"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type capturedEvent struct {
	source     string
	eventType  string
	externalID string
	content    string
	metadata   map[string]string
}

func TestTelegramAdapter_EventFlow(t *testing.T) {
	var got capturedEvent

	adapter := NewTelegramAdapter("test-token", func(ctx context.Context, source string, eventType string, externalID string, content string, metadata map[string]string) error {
		got = capturedEvent{
			source:     source,
			eventType:  eventType,
			externalID: externalID,
			content:    content,
			metadata:   metadata,
		}
		return nil
	}, 1)

	adapter.handleUpdate(context.Background(), tgbotapi.Update{
		UpdateID: 99,
		Message: &tgbotapi.Message{
			MessageID: 123,
			Text:      "send the report to jason",
			Chat:      &tgbotapi.Chat{ID: 456},
			From:      &tgbotapi.User{ID: 789, UserName: "alice"},
		},
	})

	if got.source != "telegram" {
		t.Fatalf("source = %q, want %q", got.source, "telegram")
	}
	if got.eventType != "user_message" {
		t.Fatalf("eventType = %q, want %q", got.eventType, "user_message")
	}
	if got.externalID != "99" {
		t.Fatalf("externalID = %q, want %q", got.externalID, "99")
	}
	if got.content != "send the report to jason" {
		t.Fatalf("content = %q, want %q", got.content, "send the report to jason")
	}
	if got.metadata["chat_id"] != "456" {
		t.Fatalf("chat_id = %q, want %q", got.metadata["chat_id"], "456")
	}
}

func TestTelegramAdapter_IgnoresNonMessageUpdates(t *testing.T) {
	called := false

	adapter := NewTelegramAdapter("test-token", func(ctx context.Context, source string, eventType string, externalID string, content string, metadata map[string]string) error {
		called = true
		return nil
	}, 1)

	adapter.handleUpdate(context.Background(), tgbotapi.Update{UpdateID: 100})

	if called {
		t.Fatal("expected non-message update to be dropped")
	}
}
