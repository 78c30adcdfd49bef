package orchestrator

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/kotori/internal/config"
	"github.com/harunnryd/kotori/internal/dialog"
	"github.com/harunnryd/kotori/internal/intent"
	"github.com/harunnryd/kotori/internal/slot"
	"github.com/harunnryd/kotori/internal/validate"
)

// memStore is an in-memory SessionStore that enforces the session invariant on
// every save, like the real store worker does.
type memStore struct {
	sessions map[string]*dialog.Session
	saves    []dialog.State
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*dialog.Session)}
}

func (m *memStore) LoadSession(userID string) (*dialog.Session, error) {
	if sess, ok := m.sessions[userID]; ok {
		return sess.Clone(), nil
	}
	return nil, nil
}

func (m *memStore) SaveSession(sess *dialog.Session) error {
	if err := sess.CheckInvariant(); err != nil {
		return err
	}
	m.sessions[sess.UserID] = sess.Clone()
	m.saves = append(m.saves, sess.State)
	return nil
}

func (m *memStore) ResetSession(userID string) error {
	delete(m.sessions, userID)
	return nil
}

func (m *memStore) ListSessions() ([]string, error) {
	var ids []string
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

type stubDispatcher struct {
	calls        []*dialog.ActionRequest
	err          error
	entity       *dialog.TopicEntry
	stateAtCall  []dialog.State
	store        *memStore
	dispatchUser string
}

func (d *stubDispatcher) Dispatch(ctx context.Context, userID string, action *dialog.ActionRequest) (string, *dialog.TopicEntry, error) {
	d.calls = append(d.calls, action)
	d.dispatchUser = userID
	if d.store != nil {
		if sess, _ := d.store.LoadSession(userID); sess != nil {
			d.stateAtCall = append(d.stateAtCall, sess.State)
		}
	}
	if d.err != nil {
		return "", nil, d.err
	}
	return "done", d.entity, nil
}

func newTestKernel(t *testing.T, store *memStore, dispatcher Dispatcher) *Kernel {
	t.Helper()
	tree, err := intent.Default()
	require.NoError(t, err)

	return NewKernel(
		store,
		intent.NewClassifier(tree),
		slot.NewExtractor(config.DefaultExtractorRuleConfidence, config.DefaultExtractorFragmentConfidence),
		validate.NewValidator(config.GovernanceConfig{
			ConfidenceFloor:   config.DefaultGovernanceConfidenceFloor,
			ConfirmationFloor: config.DefaultGovernanceConfirmationFloor,
		}),
		tree.Catalog(),
		config.DefaultTopicsStackSize,
		24*time.Hour,
		WithDispatcher(dispatcher),
	)
}

// stubFuzzy answers every requested slot from a fixed table, standing in for
// the model-backed layer.
type stubFuzzy struct {
	values map[string]slot.FuzzyValue
}

func (f *stubFuzzy) ExtractSlots(ctx context.Context, it intent.Intent, text string, slots []string) (map[string]slot.FuzzyValue, error) {
	out := make(map[string]slot.FuzzyValue, len(slots))
	for _, name := range slots {
		if fv, ok := f.values[name]; ok {
			out[name] = fv
		}
	}
	return out, nil
}

func newFuzzyTestKernel(t *testing.T, store *memStore, dispatcher Dispatcher, values map[string]slot.FuzzyValue) *Kernel {
	t.Helper()
	tree, err := intent.Default()
	require.NoError(t, err)

	extractor := slot.NewExtractor(
		config.DefaultExtractorRuleConfidence,
		config.DefaultExtractorFragmentConfidence,
		slot.WithFuzzy(&stubFuzzy{values: values}, time.Second),
	)

	return NewKernel(
		store,
		intent.NewClassifier(tree),
		extractor,
		validate.NewValidator(config.GovernanceConfig{
			ConfidenceFloor:   config.DefaultGovernanceConfidenceFloor,
			ConfirmationFloor: config.DefaultGovernanceConfirmationFloor,
		}),
		tree.Catalog(),
		config.DefaultTopicsStackSize,
		24*time.Hour,
		WithDispatcher(dispatcher),
	)
}

func invariantHolds(t *testing.T, store *memStore, userID string) {
	t.Helper()
	sess, err := store.LoadSession(userID)
	require.NoError(t, err)
	if sess != nil {
		require.NoError(t, sess.CheckInvariant())
	}
}

func TestClarificationRoundTrip(t *testing.T) {
	store := newMemStore()
	dispatcher := &stubDispatcher{store: store}
	k := newTestKernel(t, store, dispatcher)
	ctx := context.Background()

	ev, err := k.HandleMessage(ctx, "u1", "cli", "draft an email", "m1")
	require.NoError(t, err)
	assert.Equal(t, dialog.OutboundPrompt, ev.Kind)
	assert.Contains(t, ev.Prompt, "recipient")

	sess, _ := store.LoadSession("u1")
	require.NotNil(t, sess)
	assert.Equal(t, dialog.StateAwaitingClarification, sess.State)
	require.NotNil(t, sess.PendingAction)
	assert.Equal(t, "email_draft", sess.PendingAction.Intent)
	invariantHolds(t, store, "u1")

	ev, err = k.HandleMessage(ctx, "u1", "cli", "to Jason", "m2")
	require.NoError(t, err)
	assert.Equal(t, dialog.OutboundDispatch, ev.Kind)
	require.NotNil(t, ev.Action)
	assert.Equal(t, "jason", ev.Action.Slots["recipient"].Value)

	sess, _ = store.LoadSession("u1")
	assert.Equal(t, dialog.StateIdle, sess.State)
	assert.Nil(t, sess.PendingAction)
	require.NotNil(t, sess.LastOutcome)
	assert.Equal(t, dialog.StateCompleted, sess.LastOutcome.State)
	invariantHolds(t, store, "u1")

	require.Len(t, dispatcher.calls, 1)
	assert.Equal(t, "u1", dispatcher.dispatchUser)
}

func TestHighRiskConfirmationGate(t *testing.T) {
	store := newMemStore()
	dispatcher := &stubDispatcher{store: store}
	k := newTestKernel(t, store, dispatcher)
	ctx := context.Background()

	ev, err := k.HandleMessage(ctx, "u1", "cli", "send the email to jason", "m1")
	require.NoError(t, err)
	assert.Equal(t, dialog.OutboundPrompt, ev.Kind)
	assert.Contains(t, ev.Prompt, "yes/no")

	sess, _ := store.LoadSession("u1")
	assert.Equal(t, dialog.StateAwaitingConfirmation, sess.State)
	assert.Empty(t, dispatcher.calls)
	invariantHolds(t, store, "u1")

	ev, err = k.HandleMessage(ctx, "u1", "cli", "yes", "m2")
	require.NoError(t, err)
	assert.Equal(t, dialog.OutboundDispatch, ev.Kind)
	require.Len(t, dispatcher.calls, 1)
	assert.Equal(t, "email_send", dispatcher.calls[0].Intent)

	sess, _ = store.LoadSession("u1")
	assert.Equal(t, dialog.StateIdle, sess.State)
	invariantHolds(t, store, "u1")
}

func TestConfirmationDenied(t *testing.T) {
	store := newMemStore()
	dispatcher := &stubDispatcher{store: store}
	k := newTestKernel(t, store, dispatcher)
	ctx := context.Background()

	_, err := k.HandleMessage(ctx, "u1", "cli", "send the email to jason", "m1")
	require.NoError(t, err)

	ev, err := k.HandleMessage(ctx, "u1", "cli", "no", "m2")
	require.NoError(t, err)
	assert.Equal(t, dialog.OutboundPrompt, ev.Kind)

	sess, _ := store.LoadSession("u1")
	assert.Equal(t, dialog.StateIdle, sess.State)
	assert.Nil(t, sess.PendingAction)
	assert.Empty(t, dispatcher.calls)
	invariantHolds(t, store, "u1")
}

func TestConfirmationAmbiguousReplyReprompts(t *testing.T) {
	store := newMemStore()
	k := newTestKernel(t, store, &stubDispatcher{store: store})
	ctx := context.Background()

	_, err := k.HandleMessage(ctx, "u1", "cli", "send the email to jason", "m1")
	require.NoError(t, err)

	ev, err := k.HandleMessage(ctx, "u1", "cli", "what do you mean", "m2")
	require.NoError(t, err)
	assert.Equal(t, dialog.OutboundPrompt, ev.Kind)
	assert.Contains(t, ev.Prompt, "yes or no")

	sess, _ := store.LoadSession("u1")
	assert.Equal(t, dialog.StateAwaitingConfirmation, sess.State)
}

func TestPersistBeforeEffect(t *testing.T) {
	store := newMemStore()
	dispatcher := &stubDispatcher{store: store}
	k := newTestKernel(t, store, dispatcher)

	_, err := k.HandleMessage(context.Background(), "u1", "cli", "add buy milk to my todo", "m1")
	require.NoError(t, err)

	require.Len(t, dispatcher.stateAtCall, 1)
	assert.Equal(t, dialog.StateExecuting, dispatcher.stateAtCall[0])
}

func TestDispatchFailureRecordedAndReset(t *testing.T) {
	store := newMemStore()
	dispatcher := &stubDispatcher{store: store, err: errors.New("smtp down")}
	k := newTestKernel(t, store, dispatcher)

	ev, err := k.HandleMessage(context.Background(), "u1", "cli", "add buy milk to my todo", "m1")
	require.NoError(t, err)
	assert.Equal(t, dialog.OutboundPrompt, ev.Kind)
	assert.Contains(t, ev.Prompt, "failed")

	sess, _ := store.LoadSession("u1")
	assert.Equal(t, dialog.StateIdle, sess.State)
	require.NotNil(t, sess.LastOutcome)
	assert.Equal(t, dialog.StateFailed, sess.LastOutcome.State)
	invariantHolds(t, store, "u1")
}

func TestUnknownIntentPrompts(t *testing.T) {
	store := newMemStore()
	k := newTestKernel(t, store, &stubDispatcher{store: store})

	ev, err := k.HandleMessage(context.Background(), "u1", "cli", "flurble wumpus", "m1")
	require.NoError(t, err)
	assert.Equal(t, dialog.OutboundPrompt, ev.Kind)

	sess, _ := store.LoadSession("u1")
	assert.Equal(t, dialog.StateIdle, sess.State)
	assert.Nil(t, sess.PendingAction)
}

func TestCancelFromAwaiting(t *testing.T) {
	store := newMemStore()
	k := newTestKernel(t, store, &stubDispatcher{store: store})
	ctx := context.Background()

	_, err := k.HandleMessage(ctx, "u1", "cli", "draft an email", "m1")
	require.NoError(t, err)

	ev, err := k.HandleMessage(ctx, "u1", "cli", "never mind", "m2")
	require.NoError(t, err)
	assert.Equal(t, dialog.OutboundPrompt, ev.Kind)
	assert.Contains(t, ev.Prompt, "dropped")

	sess, _ := store.LoadSession("u1")
	assert.Equal(t, dialog.StateIdle, sess.State)
	assert.Nil(t, sess.PendingAction)
	invariantHolds(t, store, "u1")
}

func TestCancelWithNothingPending(t *testing.T) {
	store := newMemStore()
	k := newTestKernel(t, store, &stubDispatcher{store: store})

	ev, err := k.Cancel(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Nothing to cancel.", ev.Prompt)
}

func TestReferenceResolutionThroughStack(t *testing.T) {
	store := newMemStore()
	dispatcher := &stubDispatcher{store: store}
	k := newTestKernel(t, store, dispatcher)
	ctx := context.Background()

	now := time.Now().UTC()
	sess := dialog.NewSession("u1")
	sess.TopicStack = []dialog.TopicEntry{
		{EntityID: "A", Kind: dialog.KindEmail, Label: "Q4 Report", InsertedAt: now},
		{EntityID: "B", Kind: dialog.KindContact, Label: "Jason", InsertedAt: now},
	}
	sess.LastUpdatedAt = now
	require.NoError(t, store.SaveSession(sess))

	ev, err := k.HandleMessage(ctx, "u1", "cli", "draft an email to jason", "m1")
	require.NoError(t, err)
	require.Equal(t, dialog.OutboundDispatch, ev.Kind)
	assert.Equal(t, "B", ev.Action.Slots["recipient"].Value)
	assert.Equal(t, dialog.SourceResolvedReference, ev.Action.Slots["recipient"].Source)

	// The referenced contact moved to the front of the stack.
	after, _ := store.LoadSession("u1")
	require.NotEmpty(t, after.TopicStack)
	assert.Equal(t, "B", after.TopicStack[0].EntityID)
}

func TestDispatchEntityPushedToStack(t *testing.T) {
	store := newMemStore()
	dispatcher := &stubDispatcher{
		store:  store,
		entity: &dialog.TopicEntry{EntityID: "draft-1", Kind: dialog.KindEmail, Label: "draft to jason"},
	}
	k := newTestKernel(t, store, dispatcher)

	_, err := k.HandleMessage(context.Background(), "u1", "cli", "draft an email to jason", "m1")
	require.NoError(t, err)

	sess, _ := store.LoadSession("u1")
	require.NotEmpty(t, sess.TopicStack)
	assert.Equal(t, "draft-1", sess.TopicStack[0].EntityID)
}

func TestNudge(t *testing.T) {
	store := newMemStore()
	k := newTestKernel(t, store, &stubDispatcher{store: store})
	ctx := context.Background()

	ev, err := k.HandleNudge(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, dialog.OutboundNone, ev.Kind)

	_, err = k.HandleMessage(ctx, "u1", "cli", "draft an email", "m1")
	require.NoError(t, err)

	ev, err = k.HandleNudge(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, dialog.OutboundPrompt, ev.Kind)
	assert.Contains(t, ev.Prompt, "recipient")
}

func TestStatusSurfaces(t *testing.T) {
	store := newMemStore()
	k := newTestKernel(t, store, &stubDispatcher{store: store})
	ctx := context.Background()

	status, err := k.Status("u1")
	require.NoError(t, err)
	assert.Contains(t, status, "No session")

	_, err = k.HandleMessage(ctx, "u1", "cli", "draft an email", "m1")
	require.NoError(t, err)

	status, err = k.Status("u1")
	require.NoError(t, err)
	assert.Contains(t, status, "awaiting_clarification")
	assert.Contains(t, status, "email_draft")
	assert.Contains(t, status, "recipient")
}

func TestSubFloorFuzzyFillDiscardedAndReasked(t *testing.T) {
	store := newMemStore()
	dispatcher := &stubDispatcher{store: store}
	k := newFuzzyTestKernel(t, store, dispatcher, map[string]slot.FuzzyValue{
		"recipient": {Value: "maybe-jason", Confidence: 0.3},
	})
	ctx := context.Background()

	ev, err := k.HandleMessage(ctx, "u1", "cli", "draft an email", "m1")
	require.NoError(t, err)
	assert.Equal(t, dialog.OutboundPrompt, ev.Kind)
	assert.Contains(t, ev.Prompt, "recipient")

	// The below-floor guess is not kept; the pending action waits on the slot
	// as genuinely absent.
	sess, _ := store.LoadSession("u1")
	require.Equal(t, dialog.StateAwaitingClarification, sess.State)
	require.NotNil(t, sess.PendingAction)
	_, kept := sess.PendingAction.Slots["recipient"]
	assert.False(t, kept)

	ev, err = k.HandleMessage(ctx, "u1", "cli", "to Jason", "m2")
	require.NoError(t, err)
	require.Equal(t, dialog.OutboundDispatch, ev.Kind)
	assert.Equal(t, "jason", ev.Action.Slots["recipient"].Value)

	sess, _ = store.LoadSession("u1")
	assert.Equal(t, dialog.StateIdle, sess.State)
	assert.Nil(t, sess.PendingAction)
	invariantHolds(t, store, "u1")
}

func TestBetweenFloorsFuzzyFillNeedsConfirmation(t *testing.T) {
	store := newMemStore()
	dispatcher := &stubDispatcher{store: store}
	k := newFuzzyTestKernel(t, store, dispatcher, map[string]slot.FuzzyValue{
		"recipient": {Value: "jason", Confidence: 0.6},
	})
	ctx := context.Background()

	ev, err := k.HandleMessage(ctx, "u1", "cli", "draft an email", "m1")
	require.NoError(t, err)
	assert.Equal(t, dialog.OutboundPrompt, ev.Kind)
	assert.Contains(t, ev.Prompt, "low confidence")
	assert.Contains(t, ev.Prompt, "yes/no")

	sess, _ := store.LoadSession("u1")
	require.Equal(t, dialog.StateAwaitingConfirmation, sess.State)
	require.NotNil(t, sess.PendingAction)
	assert.Equal(t, "jason", sess.PendingAction.Slots["recipient"].Value)
	assert.Empty(t, dispatcher.calls)

	ev, err = k.HandleMessage(ctx, "u1", "cli", "yes", "m2")
	require.NoError(t, err)
	require.Equal(t, dialog.OutboundDispatch, ev.Kind)
	require.Len(t, dispatcher.calls, 1)
	assert.Equal(t, "jason", dispatcher.calls[0].Slots["recipient"].Value)
	invariantHolds(t, store, "u1")
}

func TestClarificationUnintelligibleReplyReprompts(t *testing.T) {
	store := newMemStore()
	k := newTestKernel(t, store, &stubDispatcher{store: store})
	ctx := context.Background()

	_, err := k.HandleMessage(ctx, "u1", "cli", "remind me", "m1")
	require.NoError(t, err)

	sess, _ := store.LoadSession("u1")
	require.Equal(t, dialog.StateAwaitingClarification, sess.State)

	// Two slots missing, the fragment fills neither.
	ev, err := k.HandleMessage(ctx, "u1", "cli", "hmm", "m2")
	require.NoError(t, err)
	assert.Equal(t, dialog.OutboundPrompt, ev.Kind)

	sess, _ = store.LoadSession("u1")
	assert.Equal(t, dialog.StateAwaitingClarification, sess.State)
}
