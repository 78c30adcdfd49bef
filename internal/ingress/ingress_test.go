package ingress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kotoriErrors "github.com/harunnryd/kotori/internal/errors"
)

type fakeDeduper struct {
	seen map[string]bool
}

func newFakeDeduper() *fakeDeduper {
	return &fakeDeduper{seen: make(map[string]bool)}
}

func (f *fakeDeduper) CheckAndMarkKey(key string, ttl time.Duration) bool {
	if f.seen[key] {
		return true
	}
	f.seen[key] = true
	return false
}

func newTestIngress() *Ingress {
	return NewIngress(4, 4, RuntimeConfig{
		InteractiveSubmitTimeout: 50 * time.Millisecond,
		DrainTimeout:             time.Second,
		DrainPollInterval:        10 * time.Millisecond,
		IdempotencyTTL:           time.Minute,
	}, newFakeDeduper())
}

func telegramEvent(id, content string) *Event {
	return &Event{
		ID:        id,
		Source:    "telegram",
		Type:      TypeUserMessage,
		Content:   content,
		Metadata:  map[string]string{"chat_id": "42"},
		CreatedAt: time.Now(),
	}
}

func TestSubmit_RoutesInteractiveLane(t *testing.T) {
	ing := newTestIngress()

	evt := telegramEvent("m1", "draft an email")
	require.NoError(t, ing.Submit(context.Background(), evt))

	select {
	case got := <-ing.InteractiveQueue():
		assert.Equal(t, "m1", got.ID)
		assert.Equal(t, "telegram:42", got.UserID)
	default:
		t.Fatal("expected event on interactive lane")
	}
}

func TestSubmit_DuplicateDropped(t *testing.T) {
	ing := newTestIngress()
	ctx := context.Background()

	require.NoError(t, ing.Submit(ctx, telegramEvent("m1", "hello")))

	err := ing.Submit(ctx, telegramEvent("m1", "hello"))
	require.Error(t, err)
	assert.ErrorIs(t, err, kotoriErrors.ErrDuplicateEvent)

	assert.Len(t, ing.InteractiveQueue(), 1)
}

func TestSubmit_NudgeGoesBackground(t *testing.T) {
	ing := newTestIngress()

	evt := &Event{
		ID:     "n1",
		Source: "scheduler",
		Type:   TypeNudge,
		UserID: "telegram:42",
	}
	require.NoError(t, ing.Submit(context.Background(), evt))

	assert.Len(t, ing.BackgroundQueue(), 1)
	assert.Empty(t, ing.InteractiveQueue())
}

func TestSubmit_SlashCommandRidesInteractiveLane(t *testing.T) {
	ing := newTestIngress()

	var handled *Event
	ing.RegisterCommand("/cancel", func(ctx context.Context, evt *Event) error {
		handled = evt
		return nil
	})

	require.NoError(t, ing.Submit(context.Background(), telegramEvent("m1", "/cancel")))
	require.Nil(t, handled, "handler must not run on the submitting goroutine")

	got := <-ing.InteractiveQueue()
	assert.Equal(t, TypeCommand, got.Type)
	assert.Equal(t, "telegram:42", got.UserID)
	require.NotNil(t, got.Handler)

	require.NoError(t, got.Handler(context.Background(), got))
	require.NotNil(t, handled)
	assert.Equal(t, "/cancel", handled.Content)
}

func TestSubmit_UnknownSlashCommandBecomesPipelineCommand(t *testing.T) {
	ing := newTestIngress()

	evt := telegramEvent("m1", "/frobnicate now")
	require.NoError(t, ing.Submit(context.Background(), evt))

	got := <-ing.InteractiveQueue()
	assert.Equal(t, TypeCommand, got.Type)
}

func TestSubmit_InteractiveBackpressure(t *testing.T) {
	ing := newTestIngress()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, ing.Submit(ctx, telegramEvent(string(rune('a'+i)), "hi")))
	}

	err := ing.Submit(ctx, telegramEvent("overflow", "hi"))
	assert.ErrorIs(t, err, kotoriErrors.ErrTransient)
}

func TestSubmit_UnresolvableUserRejected(t *testing.T) {
	ing := newTestIngress()

	evt := &Event{ID: "m1", Source: "telegram", Type: TypeUserMessage, Content: "hi"}
	err := ing.Submit(context.Background(), evt)
	assert.Error(t, err)
}

func TestClose_DrainsQueues(t *testing.T) {
	ing := newTestIngress()
	require.NoError(t, ing.Submit(context.Background(), telegramEvent("m1", "hi")))

	require.NoError(t, ing.Close())

	_, open := <-ing.InteractiveQueue()
	assert.False(t, open)
}

func TestGenerateIdempotencyKey(t *testing.T) {
	assert.Equal(t, "telegram:m1", GenerateIdempotencyKey("telegram", "m1"))
	assert.NotEqual(t, HashKey("telegram:m1"), HashKey("telegram:m2"))
}
