package ingress

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

type EventType string

const (
	TypeUserMessage EventType = "user_message"
	TypeSystemEvent EventType = "system_event"
	TypeCommand     EventType = "command" // Slash command
	TypeNudge       EventType = "nudge"   // Scheduler re-prompt for a stuck session
)

// Event is the normalized data structure for all inputs.
type Event struct {
	// Identity
	ID     string `json:"id"`     // ULID or external message ID
	Source string `json:"source"` // "slack", "telegram", "cli", "scheduler"

	// Routing
	UserID string `json:"user_id"`

	// Classification
	Type EventType `json:"type"`

	// Payload
	Content string `json:"content"`

	// Context
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`

	// Handler is set by the router for registered slash commands. The worker
	// invokes it under the user's session lock; it never runs on the
	// submitting goroutine.
	Handler func(context.Context, *Event) error `json:"-"`
}

// NewEvent creates a normalized event with a fresh ULID.
func NewEvent(source string, eventType EventType, userID, content string, metadata map[string]string) Event {
	return Event{
		ID:        ulid.Make().String(),
		Source:    source,
		Type:      eventType,
		UserID:    userID,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
}

// GenerateIdempotencyKey creates a deterministic key for the event.
func GenerateIdempotencyKey(source, externalID string) string {
	return fmt.Sprintf("%s:%s", source, externalID)
}

// HashKey returns a SHA256 hash of the idempotency key for storage safety.
func HashKey(key string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(key)))
}
