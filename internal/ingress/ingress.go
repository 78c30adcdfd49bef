// Package ingress normalizes every input source into events, deduplicates
// them, and feeds them to the workers over two lanes: interactive (user
// messages, commands) and background (scheduler traffic).
package ingress

import (
	"context"
	"log/slog"
	"time"

	"github.com/harunnryd/kotori/internal/config"
	"github.com/harunnryd/kotori/internal/errors"
)

// Deduper is the slice of the store worker ingress needs.
type Deduper interface {
	CheckAndMarkKey(key string, ttl time.Duration) bool
}

type RuntimeConfig struct {
	InteractiveSubmitTimeout time.Duration
	DrainTimeout             time.Duration
	DrainPollInterval        time.Duration
	IdempotencyTTL           time.Duration
}

type Ingress struct {
	interactiveQueue         chan *Event
	backgroundQueue          chan *Event
	deduper                  Deduper
	router                   *StandardRouter
	resolver                 Resolver
	interactiveSubmitTimeout time.Duration
	drainTimeout             time.Duration
	drainPollInterval        time.Duration
	idempotencyTTL           time.Duration
}

func NewIngress(interactiveSize, backgroundSize int, runtimeCfg RuntimeConfig, deduper Deduper) *Ingress {
	if interactiveSize <= 0 {
		interactiveSize = config.DefaultIngressInteractiveQueue
	}
	if backgroundSize <= 0 {
		backgroundSize = config.DefaultIngressBackgroundQueue
	}

	if runtimeCfg.InteractiveSubmitTimeout <= 0 {
		if d, err := config.DurationOrDefault("", config.DefaultIngressInteractiveSubmitTimeout); err == nil {
			runtimeCfg.InteractiveSubmitTimeout = d
		}
	}
	if runtimeCfg.DrainTimeout <= 0 {
		if d, err := config.DurationOrDefault("", config.DefaultIngressDrainTimeout); err == nil {
			runtimeCfg.DrainTimeout = d
		}
	}
	if runtimeCfg.DrainPollInterval <= 0 {
		if d, err := config.DurationOrDefault("", config.DefaultIngressDrainPollInterval); err == nil {
			runtimeCfg.DrainPollInterval = d
		}
	}
	if runtimeCfg.IdempotencyTTL <= 0 {
		if d, err := config.DurationOrDefault("", config.DefaultGovernanceIdempotencyTTL); err == nil {
			runtimeCfg.IdempotencyTTL = d
		}
	}

	return &Ingress{
		interactiveQueue:         make(chan *Event, interactiveSize),
		backgroundQueue:          make(chan *Event, backgroundSize),
		deduper:                  deduper,
		router:                   NewStandardRouter(),
		resolver:                 NewStandardResolver(),
		interactiveSubmitTimeout: runtimeCfg.InteractiveSubmitTimeout,
		drainTimeout:             runtimeCfg.DrainTimeout,
		drainPollInterval:        runtimeCfg.DrainPollInterval,
		idempotencyTTL:           runtimeCfg.IdempotencyTTL,
	}
}

// RegisterCommand installs a slash command handler on the router.
func (i *Ingress) RegisterCommand(name string, handler func(context.Context, *Event) error) {
	i.router.RegisterCommand(name, handler)
}

// Submit ingests an event and routes it to the appropriate lane.
// It returns an error if the queue is full (backpressure) or if it's a duplicate.
func (i *Ingress) Submit(ctx context.Context, evt *Event) error {
	if evt == nil {
		return errors.InvalidInput("event is nil")
	}
	if i.deduper == nil {
		return errors.Internal("deduper not initialized")
	}

	slog.Debug("Ingress received event", "id", evt.ID, "type", evt.Type, "source", evt.Source)

	key := GenerateIdempotencyKey(evt.Source, evt.ID)
	if i.deduper.CheckAndMarkKey(key, i.idempotencyTTL) {
		slog.Warn("Duplicate event detected", "key", key)
		return errors.ErrDuplicateEvent
	}

	userID, err := i.resolver.ResolveUser(ctx, evt)
	if err != nil {
		return errors.Wrap(err, "user resolution failed")
	}
	evt.UserID = userID

	dest := i.router.Route(ctx, evt)
	switch dest.Type {
	case DestDrop:
		slog.Info("Event dropped by router", "id", evt.ID)
		return nil
	case DestCommand:
		// Registered commands ride the interactive lane like any other user
		// message; the worker invokes the handler under the session lock.
		slog.Info("Routing command to interactive lane", "id", evt.ID, "user", evt.UserID)
		evt.Type = TypeCommand
		evt.Handler = dest.Handler
	case DestPipeline:
		// Continue to the lanes
	default:
		return errors.InvalidInput("unknown destination type")
	}

	if evt.Type == TypeUserMessage || evt.Type == TypeCommand {
		select {
		case i.interactiveQueue <- evt:
			slog.Debug("Event routed", "id", evt.ID, "lane", "interactive", "user", evt.UserID)
			return nil
		case <-time.After(i.interactiveSubmitTimeout):
			slog.Warn("Interactive queue full, dropping event", "id", evt.ID)
			return errors.ErrTransient
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case i.backgroundQueue <- evt:
		slog.Debug("Event routed", "id", evt.ID, "lane", "background", "user", evt.UserID)
		return nil
	default:
		slog.Warn("Background queue full, dropping event", "id", evt.ID)
		return errors.ErrTransient
	}
}

func (i *Ingress) InteractiveQueue() <-chan *Event {
	return i.interactiveQueue
}

func (i *Ingress) BackgroundQueue() <-chan *Event {
	return i.backgroundQueue
}

// Close gracefully shuts down ingress by draining queues and closing them.
func (i *Ingress) Close() error {
	slog.Info("Ingress shutting down, draining queues")

	drainStart := time.Now()

	drainQueue := func(ch chan *Event, name string) {
		remaining := len(ch)
		if remaining == 0 {
			close(ch)
			return
		}

		slog.Info("Draining queue", "name", name, "remaining", remaining)

		stalled := false
		for remaining > 0 && time.Since(drainStart) < i.drainTimeout {
			select {
			case <-ch:
				remaining--
			case <-time.After(i.drainPollInterval):
				if remaining == len(ch) {
					slog.Warn("Queue drain stalled", "name", name, "remaining", remaining)
					stalled = true
					break
				}
				remaining = len(ch)
			}
			if stalled {
				break
			}
		}

		if remaining > 0 {
			slog.Warn("Queue drain incomplete", "name", name, "remaining", remaining)
		}
		close(ch)
		slog.Info("Queue drained", "name", name)
	}

	drainQueue(i.interactiveQueue, "interactive")
	drainQueue(i.backgroundQueue, "background")

	slog.Info("Ingress shutdown complete")
	return nil
}

// Health checks ingress health
func (i *Ingress) Health(ctx context.Context) error {
	if i.interactiveQueue == nil || i.backgroundQueue == nil {
		return errors.Internal("queues not initialized")
	}

	interactiveUsage := float64(len(i.interactiveQueue)) / float64(cap(i.interactiveQueue))
	backgroundUsage := float64(len(i.backgroundQueue)) / float64(cap(i.backgroundQueue))

	if interactiveUsage > 0.9 {
		return errors.Transient("interactive queue nearly full")
	}

	if backgroundUsage > 0.9 {
		return errors.Transient("background queue nearly full")
	}

	return nil
}
