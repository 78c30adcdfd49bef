package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/kotori/internal/concurrency"
	"github.com/harunnryd/kotori/internal/dialog"
	"github.com/harunnryd/kotori/internal/errors"
	"github.com/harunnryd/kotori/internal/ingress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOrchestrator struct {
	mu       sync.Mutex
	messages []string
	nudges   []string
	outbound dialog.OutboundEvent
	err      error
}

func (o *stubOrchestrator) HandleMessage(ctx context.Context, userID, source, text, messageID string) (dialog.OutboundEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, userID+"|"+text)
	return o.outbound, o.err
}

func (o *stubOrchestrator) HandleNudge(ctx context.Context, userID string) (dialog.OutboundEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nudges = append(o.nudges, userID)
	return o.outbound, o.err
}

type stubSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *stubSender) Send(ctx context.Context, userID string, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, userID+"|"+content)
	return nil
}

func (s *stubSender) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func startWorker(t *testing.T, orch Orchestrator, egress Sender, events <-chan *ingress.Event) *Worker {
	t.Helper()
	w := NewWorker("interactive", events, orch, egress, concurrency.NewSessionLockManager(), RuntimeConfig{ShutdownTimeout: time.Second})
	_, err := w.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	return w
}

func userEvent(userID, content string) *ingress.Event {
	evt := ingress.NewEvent("cli", ingress.TypeUserMessage, userID, content, nil)
	return &evt
}

func TestWorkerDeliversPrompt(t *testing.T) {
	orch := &stubOrchestrator{outbound: dialog.PromptEvent("What should I use for recipient?")}
	sender := &stubSender{}
	events := make(chan *ingress.Event, 4)
	startWorker(t, orch, sender, events)

	events <- userEvent("cli:local", "draft an email")

	assert.Eventually(t, func() bool {
		sent := sender.snapshot()
		return len(sent) == 1 && sent[0] == "cli:local|What should I use for recipient?"
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerRoutesNudgeToHandleNudge(t *testing.T) {
	orch := &stubOrchestrator{outbound: dialog.PromptEvent("Still waiting on a recipient.")}
	sender := &stubSender{}
	events := make(chan *ingress.Event, 4)
	startWorker(t, orch, sender, events)

	evt := ingress.NewEvent("scheduler", ingress.TypeNudge, "telegram:42", "", nil)
	events <- &evt

	assert.Eventually(t, func() bool {
		orch.mu.Lock()
		defer orch.mu.Unlock()
		return len(orch.nudges) == 1 && orch.nudges[0] == "telegram:42" && len(orch.messages) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerRunsCommandHandlerUnderSessionLock(t *testing.T) {
	orch := &stubOrchestrator{}
	sender := &stubSender{}
	events := make(chan *ingress.Event, 4)
	locks := concurrency.NewSessionLockManager()
	w := NewWorker("interactive", events, orch, sender, locks, RuntimeConfig{ShutdownTimeout: time.Second})
	_, err := w.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop(context.Background()) })

	var ran atomic.Bool
	evt := ingress.NewEvent("cli", ingress.TypeCommand, "cli:local", "/cancel", nil)
	evt.Handler = func(ctx context.Context, _ *ingress.Event) error {
		ran.Store(true)
		return nil
	}

	// Another transition for this user is in flight; the command must queue
	// behind it rather than interleave.
	locks.Lock("cli:local")
	events <- &evt

	time.Sleep(100 * time.Millisecond)
	assert.False(t, ran.Load(), "handler must wait for the session lock")

	locks.Unlock("cli:local")
	assert.Eventually(t, func() bool { return ran.Load() }, time.Second, 10*time.Millisecond)

	orch.mu.Lock()
	defer orch.mu.Unlock()
	assert.Empty(t, orch.messages, "command handlers bypass the orchestrator")
}

func TestWorkerRepliesOnOrchestratorError(t *testing.T) {
	orch := &stubOrchestrator{err: errors.Internal("boom")}
	sender := &stubSender{}
	events := make(chan *ingress.Event, 4)
	startWorker(t, orch, sender, events)

	events <- userEvent("cli:local", "draft an email")

	assert.Eventually(t, func() bool {
		sent := sender.snapshot()
		return len(sent) == 1 && sent[0] == "cli:local|Sorry, something went wrong handling that."
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerSkipsSilentOutcomes(t *testing.T) {
	orch := &stubOrchestrator{outbound: dialog.OutboundEvent{Kind: dialog.OutboundNone}}
	sender := &stubSender{}
	events := make(chan *ingress.Event, 4)
	startWorker(t, orch, sender, events)

	events <- userEvent("cli:local", "hello")

	assert.Eventually(t, func() bool {
		orch.mu.Lock()
		defer orch.mu.Unlock()
		return len(orch.messages) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, sender.snapshot())
}

func TestWorkerIgnoresInvalidEvents(t *testing.T) {
	orch := &stubOrchestrator{outbound: dialog.PromptEvent("ok")}
	sender := &stubSender{}
	events := make(chan *ingress.Event, 4)
	startWorker(t, orch, sender, events)

	events <- &ingress.Event{ID: "x", Type: ingress.TypeUserMessage} // no user ID
	events <- userEvent("cli:local", "draft an email")

	assert.Eventually(t, func() bool {
		orch.mu.Lock()
		defer orch.mu.Unlock()
		return len(orch.messages) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerDoubleStartFails(t *testing.T) {
	events := make(chan *ingress.Event)
	w := startWorker(t, &stubOrchestrator{}, &stubSender{}, events)

	_, err := w.Start(context.Background())
	assert.Error(t, err)
}

func TestWorkerStopOnClosedChannel(t *testing.T) {
	events := make(chan *ingress.Event)
	w := startWorker(t, &stubOrchestrator{}, &stubSender{}, events)

	close(events)
	require.NoError(t, w.Stop(context.Background()))
	assert.Error(t, w.Health(context.Background()))
}
