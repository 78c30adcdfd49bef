// Package worker drains one ingress lane and drives the orchestrator. All
// events for a user run under that user's session lock, so the state machine
// never sees concurrent transitions for one session.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/kotori/internal/concurrency"
	"github.com/harunnryd/kotori/internal/config"
	"github.com/harunnryd/kotori/internal/dialog"
	"github.com/harunnryd/kotori/internal/errors"
	"github.com/harunnryd/kotori/internal/ingress"
)

// Orchestrator is the slice of the kernel the worker drives.
type Orchestrator interface {
	HandleMessage(ctx context.Context, userID, source, text, messageID string) (dialog.OutboundEvent, error)
	HandleNudge(ctx context.Context, userID string) (dialog.OutboundEvent, error)
}

// Sender delivers replies back to the user's platform.
type Sender interface {
	Send(ctx context.Context, userID string, content string) error
}

type RuntimeConfig struct {
	ShutdownTimeout time.Duration
}

type Worker struct {
	mu      sync.RWMutex
	started bool
	quit    chan struct{}
	wg      sync.WaitGroup

	lane   string
	events <-chan *ingress.Event
	orch   Orchestrator
	egress Sender
	locks  *concurrency.SessionLockManager

	shutdownTimeout time.Duration
}

func NewWorker(lane string, events <-chan *ingress.Event, orch Orchestrator, egress Sender, locks *concurrency.SessionLockManager, runtimeCfg RuntimeConfig) *Worker {
	if runtimeCfg.ShutdownTimeout <= 0 {
		d, err := config.DurationOrDefault("", config.DefaultWorkerShutdownTimeout)
		if err == nil {
			runtimeCfg.ShutdownTimeout = d
		}
	}

	return &Worker{
		lane:   lane,
		events: events,
		orch:   orch,
		egress: egress,
		locks:  locks,

		shutdownTimeout: runtimeCfg.ShutdownTimeout,
	}
}

func (w *Worker) Start(ctx context.Context) (context.Context, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil, errors.InvalidInput("worker already started")
	}

	w.started = true
	w.quit = make(chan struct{})

	workerCtx, cancel := context.WithCancel(ctx)

	w.wg.Add(1)
	concurrency.SafeGo(func() {
		defer w.wg.Done()
		defer cancel()

		slog.Info("Worker started", "lane", w.lane)
		w.eventLoop(workerCtx)
		slog.Info("Worker stopped", "lane", w.lane)
	}, nil)

	return workerCtx, nil
}

func (w *Worker) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("Worker stopping (context cancelled)", "lane", w.lane)
			return
		case <-w.quit:
			slog.Info("Worker stopping (quit signal)", "lane", w.lane)
			return
		case evt, ok := <-w.events:
			if !ok {
				slog.Info("Worker stopping (channel closed)", "lane", w.lane)
				return
			}
			w.process(ctx, evt)
		}
	}
}

func (w *Worker) process(ctx context.Context, evt *ingress.Event) {
	start := time.Now()

	slog.Info("Processing event",
		"id", evt.ID,
		"lane", w.lane,
		"user", evt.UserID,
		"type", evt.Type)

	if err := w.processEvent(ctx, evt); err != nil {
		slog.Error("Event processing failed",
			"id", evt.ID,
			"lane", w.lane,
			"error", err)
		return
	}

	slog.Debug("Event processed",
		"id", evt.ID,
		"duration", time.Since(start))
}

func (w *Worker) processEvent(ctx context.Context, evt *ingress.Event) error {
	if err := w.validateEvent(evt); err != nil {
		return fmt.Errorf("validate event: %w", err)
	}

	if w.locks != nil {
		w.locks.Lock(evt.UserID)
		defer w.locks.Unlock(evt.UserID)
	}

	outbound, err := w.handle(ctx, evt)
	if err != nil {
		// The user still gets a reply; the error itself stays in the logs.
		w.reply(ctx, evt.UserID, "Sorry, something went wrong handling that.")
		return fmt.Errorf("orchestrator: %w", err)
	}

	if outbound.Kind != dialog.OutboundNone && outbound.Prompt != "" {
		w.reply(ctx, evt.UserID, outbound.Prompt)
	}

	return nil
}

func (w *Worker) handle(ctx context.Context, evt *ingress.Event) (dialog.OutboundEvent, error) {
	if evt.Handler != nil {
		// Slash-command handlers reply through egress themselves.
		return dialog.OutboundEvent{Kind: dialog.OutboundNone}, evt.Handler(ctx, evt)
	}

	switch evt.Type {
	case ingress.TypeUserMessage, ingress.TypeCommand:
		return w.orch.HandleMessage(ctx, evt.UserID, evt.Source, evt.Content, evt.ID)
	case ingress.TypeNudge:
		return w.orch.HandleNudge(ctx, evt.UserID)
	default:
		slog.Debug("Skipping event type", "id", evt.ID, "type", evt.Type)
		return dialog.OutboundEvent{Kind: dialog.OutboundNone}, nil
	}
}

func (w *Worker) reply(ctx context.Context, userID, content string) {
	if w.egress == nil {
		return
	}
	if err := w.egress.Send(ctx, userID, content); err != nil {
		slog.Error("Failed to send reply", "user", userID, "error", err)
	}
}

func (w *Worker) validateEvent(evt *ingress.Event) error {
	if evt == nil {
		return errors.InvalidInput("event is nil")
	}

	if evt.ID == "" {
		return errors.InvalidInput("event ID is empty")
	}

	if evt.UserID == "" {
		return errors.InvalidInput("user ID is empty")
	}

	if evt.Type == "" {
		return errors.InvalidInput("event type is empty")
	}

	return nil
}

func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		slog.Info("Worker not started, skipping stop", "lane", w.lane)
		return nil
	}

	slog.Info("Stopping worker...", "lane", w.lane)

	close(w.quit)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker stopped gracefully", "lane", w.lane)
		w.started = false
		return nil
	case <-time.After(w.shutdownTimeout):
		slog.Warn("Worker shutdown timeout, force stopping", "lane", w.lane)
		w.started = false
		return errors.Internal("shutdown timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) Health(ctx context.Context) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.started {
		return errors.Internal("worker not started")
	}

	if w.events == nil {
		return errors.Internal("event channel not initialized")
	}

	if w.orch == nil {
		return errors.Internal("orchestrator not configured")
	}

	return nil
}
