// Package orchestrator is the conversation kernel: it owns the per-session
// state machine and turns each inbound message into either a prompt back to
// the user or a dispatched action. State is persisted before any side effect
// runs, so a crash can lose work but never double-execute it.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/kotori/internal/dialog"
	kotoriErrors "github.com/harunnryd/kotori/internal/errors"
	"github.com/harunnryd/kotori/internal/intent"
	"github.com/harunnryd/kotori/internal/slot"
	"github.com/harunnryd/kotori/internal/topic"
	"github.com/harunnryd/kotori/internal/validate"
)

// SessionStore is the slice of the store worker the kernel needs.
type SessionStore interface {
	LoadSession(userID string) (*dialog.Session, error)
	SaveSession(sess *dialog.Session) error
	ResetSession(userID string) error
	ListSessions() ([]string, error)
}

// Dispatcher executes an approved action. Detail is a human-readable outcome
// line; entity, when non-nil, is the artifact the action produced and goes on
// the topic stack.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID string, action *dialog.ActionRequest) (detail string, entity *dialog.TopicEntry, err error)
}

type Kernel struct {
	store       SessionStore
	classifier  *intent.Classifier
	extractor   *slot.Extractor
	validator   *validate.Validator
	catalog     *intent.Catalog
	dispatcher  Dispatcher
	archiver    *topic.Archiver
	stackSize   int
	maxTopicAge time.Duration
	now         func() time.Time
}

type KernelOption func(*Kernel)

func WithDispatcher(d Dispatcher) KernelOption {
	return func(k *Kernel) { k.dispatcher = d }
}

func WithArchiver(a *topic.Archiver) KernelOption {
	return func(k *Kernel) { k.archiver = a }
}

func WithClock(now func() time.Time) KernelOption {
	return func(k *Kernel) { k.now = now }
}

func NewKernel(store SessionStore, classifier *intent.Classifier, extractor *slot.Extractor, validator *validate.Validator, catalog *intent.Catalog, stackSize int, maxTopicAge time.Duration, opts ...KernelOption) *Kernel {
	k := &Kernel{
		store:       store,
		classifier:  classifier,
		extractor:   extractor,
		validator:   validator,
		catalog:     catalog,
		stackSize:   stackSize,
		maxTopicAge: maxTopicAge,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// HandleMessage advances userID's session with one inbound message and
// returns what should go back out. Callers serialize per user; the kernel
// itself holds no per-session locks.
func (k *Kernel) HandleMessage(ctx context.Context, userID, source, text, messageID string) (dialog.OutboundEvent, error) {
	sess, err := k.loadOrCreate(userID, source)
	if err != nil {
		return dialog.OutboundEvent{Kind: dialog.OutboundNone}, err
	}

	k.pruneTopics(ctx, sess)

	if isCancellation(text) {
		return k.cancel(ctx, sess)
	}

	switch sess.State {
	case dialog.StateAwaitingClarification:
		return k.handleClarificationReply(ctx, sess, text)
	case dialog.StateAwaitingConfirmation:
		return k.handleConfirmationReply(ctx, sess, text)
	default:
		return k.handleNewCommand(ctx, sess, text, messageID)
	}
}

// HandleNudge re-asks the pending question for a stuck awaiting session. Idle
// sessions produce no output.
func (k *Kernel) HandleNudge(ctx context.Context, userID string) (dialog.OutboundEvent, error) {
	sess, err := k.store.LoadSession(userID)
	if err != nil || sess == nil || !sess.State.Awaiting() {
		return dialog.OutboundEvent{Kind: dialog.OutboundNone}, err
	}

	it := k.catalog.MustGet(sess.PendingAction.Intent)
	if sess.State == dialog.StateAwaitingConfirmation {
		return dialog.PromptEvent(fmt.Sprintf("Still waiting on you: should I go ahead with %s? (yes/no)", it.Name)), nil
	}
	return dialog.PromptEvent(clarificationPrompt(it.Name, slot.Missing(it, sess.PendingAction.Slots))), nil
}

// Cancel aborts any pending action for userID.
func (k *Kernel) Cancel(ctx context.Context, userID string) (dialog.OutboundEvent, error) {
	sess, err := k.loadOrCreate(userID, "")
	if err != nil {
		return dialog.OutboundEvent{Kind: dialog.OutboundNone}, err
	}
	return k.cancel(ctx, sess)
}

// Status summarizes the session for the user.
func (k *Kernel) Status(userID string) (string, error) {
	sess, err := k.store.LoadSession(userID)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "No session yet. Just tell me what you need.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "State: %s", sess.State)
	if sess.PendingAction != nil {
		it := k.catalog.MustGet(sess.PendingAction.Intent)
		fmt.Fprintf(&b, "\nPending: %s", it.Name)
		if missing := slot.Missing(it, sess.PendingAction.Slots); len(missing) > 0 {
			fmt.Fprintf(&b, " (waiting on %s)", strings.Join(missing, ", "))
		}
	}
	if sess.LastOutcome != nil {
		fmt.Fprintf(&b, "\nLast action: %s %s", sess.LastOutcome.Intent, sess.LastOutcome.State)
		if sess.LastOutcome.Detail != "" {
			fmt.Fprintf(&b, " (%s)", sess.LastOutcome.Detail)
		}
	}
	return b.String(), nil
}

// Reset deletes userID's session record.
func (k *Kernel) Reset(userID string) error {
	return k.store.ResetSession(userID)
}

// Snapshot returns a copy of the session for read-only surfaces.
func (k *Kernel) Snapshot(userID string) (*dialog.Session, error) {
	return k.store.LoadSession(userID)
}

// Sessions lists known session user IDs.
func (k *Kernel) Sessions() ([]string, error) {
	return k.store.ListSessions()
}

func (k *Kernel) loadOrCreate(userID, source string) (*dialog.Session, error) {
	sess, err := k.store.LoadSession(userID)
	if err != nil {
		return nil, kotoriErrors.Wrap(err, "load session")
	}
	if sess == nil {
		sess = dialog.NewSession(userID)
	}
	if source != "" {
		sess.Source = source
	}
	return sess, nil
}

func (k *Kernel) save(sess *dialog.Session) error {
	sess.LastUpdatedAt = k.now()
	if err := sess.CheckInvariant(); err != nil {
		return kotoriErrors.Wrap(err, "invariant violated before save")
	}
	return kotoriErrors.Wrap(k.store.SaveSession(sess), "save session")
}

func (k *Kernel) cancel(ctx context.Context, sess *dialog.Session) (dialog.OutboundEvent, error) {
	if !sess.State.Awaiting() {
		return dialog.PromptEvent("Nothing to cancel."), nil
	}

	intentName := sess.PendingAction.Intent
	sess.PendingAction = nil
	sess.State = dialog.StateIdle
	if err := k.save(sess); err != nil {
		return dialog.OutboundEvent{Kind: dialog.OutboundNone}, err
	}
	return dialog.PromptEvent(fmt.Sprintf("Okay, dropped %s.", intentName)), nil
}

func (k *Kernel) handleNewCommand(ctx context.Context, sess *dialog.Session, text, messageID string) (dialog.OutboundEvent, error) {
	it, captures := k.classifier.Classify(text)
	if it.Name == intent.Unknown {
		if err := k.save(sess); err != nil {
			return dialog.OutboundEvent{Kind: dialog.OutboundNone}, err
		}
		return dialog.PromptEvent("I'm not sure what you'd like me to do. Try things like \"draft an email to Jason\" or \"add buy milk to my todo\"."), nil
	}

	action := dialog.NewActionRequest(it.Name, messageID, k.now())
	action.Slots = k.extractor.Extract(ctx, it, text, captures, sess.TopicStack)
	k.touchResolvedTopics(ctx, sess, action)

	return k.applyDecision(ctx, sess, it, action)
}

func (k *Kernel) handleClarificationReply(ctx context.Context, sess *dialog.Session, text string) (dialog.OutboundEvent, error) {
	action := sess.PendingAction
	it := k.catalog.MustGet(action.Intent)
	missing := slot.Missing(it, action.Slots)

	filled := k.extractor.ExtractFragment(ctx, it, text, missing, sess.TopicStack)
	if len(filled) == 0 {
		return dialog.PromptEvent(clarificationPrompt(it.Name, missing)), nil
	}

	for name, s := range filled {
		action.Slots[name] = s
	}
	k.touchResolvedTopics(ctx, sess, action)

	return k.applyDecision(ctx, sess, it, action)
}

func (k *Kernel) handleConfirmationReply(ctx context.Context, sess *dialog.Session, text string) (dialog.OutboundEvent, error) {
	action := sess.PendingAction
	it := k.catalog.MustGet(action.Intent)

	switch {
	case isAffirmation(text):
		return k.execute(ctx, sess, it, action)
	case isDenial(text):
		sess.PendingAction = nil
		sess.State = dialog.StateIdle
		if err := k.save(sess); err != nil {
			return dialog.OutboundEvent{Kind: dialog.OutboundNone}, err
		}
		return dialog.PromptEvent(fmt.Sprintf("Okay, I won't run %s.", it.Name)), nil
	default:
		return dialog.PromptEvent(fmt.Sprintf("Please answer yes or no: should I go ahead with %s?", it.Name)), nil
	}
}

// applyDecision routes a validated action into the right state.
func (k *Kernel) applyDecision(ctx context.Context, sess *dialog.Session, it intent.Intent, action *dialog.ActionRequest) (dialog.OutboundEvent, error) {
	decision := k.validator.Validate(it, action)

	switch decision.Kind {
	case validate.NeedsClarification:
		// A slot the validator names may still hold a sub-floor fill; the
		// pending action only ever waits on slots that are genuinely absent,
		// so the reply path re-extracts them from scratch.
		for _, name := range decision.Missing {
			delete(action.Slots, name)
		}
		sess.PendingAction = action
		sess.State = dialog.StateAwaitingClarification
		if err := k.save(sess); err != nil {
			return dialog.OutboundEvent{Kind: dialog.OutboundNone}, err
		}
		return dialog.PromptEvent(clarificationPrompt(it.Name, decision.Missing)), nil

	case validate.NeedsConfirmation:
		sess.PendingAction = action
		sess.State = dialog.StateAwaitingConfirmation
		if err := k.save(sess); err != nil {
			return dialog.OutboundEvent{Kind: dialog.OutboundNone}, err
		}
		return dialog.PromptEvent(confirmationPrompt(it.Name, decision.Reason)), nil

	default:
		return k.execute(ctx, sess, it, action)
	}
}

// execute persists the Executing state before the side effect runs, then
// records the outcome and resets to idle in a single write.
func (k *Kernel) execute(ctx context.Context, sess *dialog.Session, it intent.Intent, action *dialog.ActionRequest) (dialog.OutboundEvent, error) {
	sess.PendingAction = nil
	sess.State = dialog.StateExecuting
	if err := k.save(sess); err != nil {
		return dialog.OutboundEvent{Kind: dialog.OutboundNone}, err
	}

	var (
		detail string
		entity *dialog.TopicEntry
		err    error
	)
	if k.dispatcher != nil {
		detail, entity, err = k.dispatcher.Dispatch(ctx, sess.UserID, action)
	} else {
		detail = fmt.Sprintf("%s accepted", it.Name)
	}

	outcome := &dialog.Outcome{Intent: it.Name, Detail: detail, At: k.now()}
	if err != nil {
		outcome.State = dialog.StateFailed
		if detail == "" {
			outcome.Detail = err.Error()
		}
		slog.Error("Action dispatch failed", "user", sess.UserID, "intent", it.Name, "error", err)
	} else {
		outcome.State = dialog.StateCompleted
	}

	sess.State = dialog.StateIdle
	sess.LastOutcome = outcome
	if entity != nil && err == nil {
		k.pushTopic(ctx, sess, *entity)
	}
	if saveErr := k.save(sess); saveErr != nil {
		return dialog.OutboundEvent{Kind: dialog.OutboundNone}, saveErr
	}

	if err != nil {
		return dialog.PromptEvent(fmt.Sprintf("Sorry, %s failed: %s", it.Name, outcome.Detail)), nil
	}

	ev := dialog.DispatchEvent(action)
	ev.Prompt = detail
	return ev, nil
}

// touchResolvedTopics moves entities referenced by resolved slots back to the
// front of the stack.
func (k *Kernel) touchResolvedTopics(ctx context.Context, sess *dialog.Session, action *dialog.ActionRequest) {
	for _, s := range action.Slots {
		if s.Source != dialog.SourceResolvedReference {
			continue
		}
		for _, entry := range sess.TopicStack {
			if entry.EntityID == s.Value {
				k.pushTopic(ctx, sess, entry)
				break
			}
		}
	}
}

func (k *Kernel) pushTopic(ctx context.Context, sess *dialog.Session, entry dialog.TopicEntry) {
	entry.InsertedAt = k.now()
	kept, evicted := topic.Push(sess.TopicStack, entry, k.stackSize)
	sess.TopicStack = kept
	k.archiver.Archive(ctx, sess.UserID, evicted)
}

func (k *Kernel) pruneTopics(ctx context.Context, sess *dialog.Session) {
	kept, evicted := topic.PruneAged(sess.TopicStack, k.now(), k.maxTopicAge)
	sess.TopicStack = kept
	k.archiver.Archive(ctx, sess.UserID, evicted)
}
