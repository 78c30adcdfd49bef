package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/kotori/internal/config"
	"github.com/harunnryd/kotori/internal/dialog"
	"github.com/harunnryd/kotori/internal/errors"
	"github.com/harunnryd/kotori/internal/ingress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	sessions map[string]*dialog.Session
	listErr  error
}

func (f *fakeSessions) ListSessions() ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	ids := make([]string, 0, len(f.sessions))
	for id := range f.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeSessions) LoadSession(userID string) (*dialog.Session, error) {
	return f.sessions[userID], nil
}

type fakeIngress struct {
	mu     sync.Mutex
	events []*ingress.Event
	err    error
}

func (f *fakeIngress) Submit(ctx context.Context, evt *ingress.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeIngress) snapshot() []*ingress.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*ingress.Event(nil), f.events...)
}

func awaitingSession(userID string, idle time.Duration) *dialog.Session {
	return &dialog.Session{
		UserID:        userID,
		State:         dialog.StateAwaitingClarification,
		PendingAction: dialog.NewActionRequest("email_draft", "msg-1", time.Now()),
		LastUpdatedAt: time.Now().Add(-idle),
	}
}

func newTestScheduler(t *testing.T, sessions SessionReader, submit IngressSubmitter) *Scheduler {
	t.Helper()
	s, err := NewScheduler(sessions, submit, config.SchedulerConfig{
		SweepSchedule: "@every 1h",
		IdlePromptTTL: "10m",
	})
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	return s
}

func TestSweepNudgesIdleAwaitingSession(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]*dialog.Session{
		"telegram:42": awaitingSession("telegram:42", 30*time.Minute),
	}}
	submit := &fakeIngress{}
	s := newTestScheduler(t, sessions, submit)

	s.Sweep(context.Background())

	events := submit.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, ingress.TypeNudge, events[0].Type)
	assert.Equal(t, "scheduler", events[0].Source)
	assert.Equal(t, "telegram:42", events[0].UserID)
	assert.NotEmpty(t, events[0].ID)
}

func TestSweepUsesRecordUserIDForSanitizedListings(t *testing.T) {
	// The store lists sessions by file name, which flattens "telegram:42"
	// to "telegram_42". The nudge must still carry the routable form.
	sessions := &fakeSessions{sessions: map[string]*dialog.Session{
		"telegram_42": awaitingSession("telegram:42", 30*time.Minute),
	}}
	submit := &fakeIngress{}
	s := newTestScheduler(t, sessions, submit)

	s.Sweep(context.Background())

	events := submit.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "telegram:42", events[0].UserID)
}

func TestSweepSkipsFreshAndIdleSessions(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]*dialog.Session{
		"cli:local":   awaitingSession("cli:local", time.Minute),
		"telegram:42": {UserID: "telegram:42", State: dialog.StateIdle, LastUpdatedAt: time.Now().Add(-time.Hour)},
	}}
	submit := &fakeIngress{}
	s := newTestScheduler(t, sessions, submit)

	s.Sweep(context.Background())

	assert.Empty(t, submit.snapshot())
}

func TestSweepNudgesOncePerPendingQuestion(t *testing.T) {
	sess := awaitingSession("telegram:42", 30*time.Minute)
	sessions := &fakeSessions{sessions: map[string]*dialog.Session{"telegram:42": sess}}
	submit := &fakeIngress{}
	s := newTestScheduler(t, sessions, submit)

	s.Sweep(context.Background())
	s.Sweep(context.Background())
	require.Len(t, submit.snapshot(), 1)

	// A new pending question (fresh LastUpdatedAt) is eligible again.
	sess.LastUpdatedAt = time.Now().Add(-20 * time.Minute)
	s.Sweep(context.Background())
	assert.Len(t, submit.snapshot(), 2)
}

func TestSweepRetriesAfterSubmitFailure(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]*dialog.Session{
		"telegram:42": awaitingSession("telegram:42", 30*time.Minute),
	}}
	submit := &fakeIngress{err: errors.ErrTransient}
	s := newTestScheduler(t, sessions, submit)

	s.Sweep(context.Background())
	require.Empty(t, submit.snapshot())

	submit.mu.Lock()
	submit.err = nil
	submit.mu.Unlock()

	s.Sweep(context.Background())
	assert.Len(t, submit.snapshot(), 1)
}

func TestSweepForgetsResolvedSessions(t *testing.T) {
	sess := awaitingSession("telegram:42", 30*time.Minute)
	sessions := &fakeSessions{sessions: map[string]*dialog.Session{"telegram:42": sess}}
	submit := &fakeIngress{}
	s := newTestScheduler(t, sessions, submit)

	s.Sweep(context.Background())
	require.Len(t, submit.snapshot(), 1)

	sess.State = dialog.StateIdle
	sess.PendingAction = nil
	s.Sweep(context.Background())

	s.mu.RLock()
	_, tracked := s.nudged["telegram:42"]
	s.mu.RUnlock()
	assert.False(t, tracked)
}

func TestSchedulerStartStop(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]*dialog.Session{}}
	s := newTestScheduler(t, sessions, &fakeIngress{})

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.NoError(t, s.Health(context.Background()))

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.IsRunning())
	assert.Error(t, s.Health(context.Background()))
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	s, err := NewScheduler(&fakeSessions{}, &fakeIngress{}, config.SchedulerConfig{SweepSchedule: "not a schedule"})
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	assert.Error(t, s.Start(context.Background()))
}
