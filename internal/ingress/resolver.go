package ingress

import (
	"context"
	"fmt"
)

// Resolver determines which user session an event belongs to. Sessions are
// keyed "<source>:<stable adapter id>" so the same chat always maps to the
// same session record.
type Resolver interface {
	ResolveUser(ctx context.Context, event *Event) (string, error)
}

type StandardResolver struct{}

func NewStandardResolver() *StandardResolver {
	return &StandardResolver{}
}

func (r *StandardResolver) ResolveUser(ctx context.Context, event *Event) (string, error) {
	if event == nil {
		return "", fmt.Errorf("event is nil")
	}
	if event.UserID != "" {
		return event.UserID, nil
	}

	if event.Metadata == nil {
		event.Metadata = make(map[string]string)
	}

	var id string
	switch event.Source {
	case "slack":
		if thread, ok := event.Metadata["thread_ts"]; ok && thread != "" {
			id = thread
		} else if channel, ok := event.Metadata["channel_id"]; ok && channel != "" {
			id = channel
		}
	case "telegram":
		if chatID, ok := event.Metadata["chat_id"]; ok && chatID != "" {
			id = chatID
		}
	case "cli":
		id = "local"
	}

	if id == "" {
		return "", fmt.Errorf("cannot resolve user for %s event %s", event.Source, event.ID)
	}

	return fmt.Sprintf("%s:%s", event.Source, id), nil
}
