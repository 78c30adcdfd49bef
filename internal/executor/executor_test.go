package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harunnryd/kotori/internal/dialog"
	"github.com/harunnryd/kotori/internal/errors"
	"github.com/harunnryd/kotori/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeAction(intent string, slots map[string]string) *dialog.ActionRequest {
	action := dialog.NewActionRequest(intent, "msg-1", time.Now())
	for name, value := range slots {
		action.Slots[name] = dialog.Slot{Name: name, Value: value, Source: dialog.SourceDeterministic, Confidence: 0.95}
	}
	return action
}

type recordingExecutor struct {
	name   string
	called bool
	result *Result
	err    error
}

func (e *recordingExecutor) Name() string { return e.name }

func (e *recordingExecutor) Execute(ctx context.Context, userID string, action *dialog.ActionRequest) (*Result, error) {
	e.called = true
	return e.result, e.err
}

func TestRegistryDispatchRoutesByIntent(t *testing.T) {
	registry := NewRegistry()
	ex := &recordingExecutor{
		name:   "todo_add",
		result: &Result{Detail: "added", Entity: &dialog.TopicEntry{EntityID: "t1", Kind: dialog.KindTask, Label: "water plants"}},
	}
	require.NoError(t, registry.Register(ex))

	detail, entity, err := registry.Dispatch(context.Background(), "cli:local", makeAction("todo_add", map[string]string{"task": "water plants"}))
	require.NoError(t, err)
	assert.True(t, ex.called)
	assert.Equal(t, "added", detail)
	require.NotNil(t, entity)
	assert.Equal(t, "t1", entity.EntityID)
}

func TestRegistryDispatchFallsBackForUnknownIntent(t *testing.T) {
	registry := NewRegistry()

	detail, entity, err := registry.Dispatch(context.Background(), "cli:local", makeAction("email_draft", nil))
	require.NoError(t, err)
	assert.Contains(t, detail, "email_draft")
	assert.Nil(t, entity)
}

func TestRegistryDispatchNilAction(t *testing.T) {
	registry := NewRegistry()
	_, _, err := registry.Dispatch(context.Background(), "cli:local", nil)
	assert.Error(t, err)
}

func TestRegistryRegisterDuplicate(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(&recordingExecutor{name: "todo_add"}))
	err := registry.Register(&recordingExecutor{name: "todo_add"})
	assert.ErrorIs(t, err, errors.ErrConflict)
}

func TestRegistryDispatchWrapsExecutorError(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(&recordingExecutor{name: "email_send", err: errors.Transient("smtp down")}))

	_, _, err := registry.Dispatch(context.Background(), "cli:local", makeAction("email_send", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTransient)
}

func TestEmailDraftExecutorWritesDraft(t *testing.T) {
	dir := t.TempDir()
	ex := NewEmailDraftExecutor(dir, nil, "")

	result, err := ex.Execute(context.Background(), "cli:local", makeAction("email_draft", map[string]string{
		"recipient": "jason",
		"subject":   "Q4 report",
	}))
	require.NoError(t, err)
	assert.Contains(t, result.Detail, "jason")
	require.NotNil(t, result.Entity)
	assert.Equal(t, dialog.KindEmail, result.Entity.Kind)
	assert.Equal(t, "Q4 report", result.Entity.Label)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "To: jason")
	assert.Contains(t, string(data), "Subject: Q4 report")
}

type stubMailer struct {
	to, subject string
	err         error
}

func (m *stubMailer) SendMail(ctx context.Context, to, subject, body string) error {
	m.to = to
	m.subject = subject
	return m.err
}

func TestEmailSendExecutorUsesMailer(t *testing.T) {
	mailer := &stubMailer{}
	ex := NewEmailSendExecutor(t.TempDir(), mailer)

	result, err := ex.Execute(context.Background(), "cli:local", makeAction("email_send", map[string]string{
		"recipient": "jason@example.com",
		"subject":   "standup",
	}))
	require.NoError(t, err)
	assert.Equal(t, "jason@example.com", mailer.to)
	assert.Contains(t, result.Detail, "jason@example.com")
}

func TestEmailSendExecutorMailerFailure(t *testing.T) {
	ex := NewEmailSendExecutor(t.TempDir(), &stubMailer{err: errors.Transient("smtp down")})

	_, err := ex.Execute(context.Background(), "cli:local", makeAction("email_send", map[string]string{"recipient": "jason"}))
	assert.Error(t, err)
}

func TestEmailSendExecutorOutboxFallback(t *testing.T) {
	dir := t.TempDir()
	ex := NewEmailSendExecutor(dir, nil)

	_, err := ex.Execute(context.Background(), "cli:local", makeAction("email_send", map[string]string{"recipient": "jason"}))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestTodoExecutorsRoundTrip(t *testing.T) {
	add, list := NewTodoExecutors(t.TempDir())

	result, err := list.Execute(context.Background(), "cli:local", makeAction("todo_list", nil))
	require.NoError(t, err)
	assert.Equal(t, "Your todo list is empty.", result.Detail)

	result, err = add.Execute(context.Background(), "cli:local", makeAction("todo_add", map[string]string{"task": "water plants"}))
	require.NoError(t, err)
	require.NotNil(t, result.Entity)
	assert.Equal(t, dialog.KindTask, result.Entity.Kind)

	_, err = add.Execute(context.Background(), "cli:local", makeAction("todo_add", map[string]string{"task": "buy milk"}))
	require.NoError(t, err)

	result, err = list.Execute(context.Background(), "cli:local", makeAction("todo_list", nil))
	require.NoError(t, err)
	assert.Contains(t, result.Detail, "1. water plants")
	assert.Contains(t, result.Detail, "2. buy milk")
}

func TestTodoExecutorsIsolatePerUser(t *testing.T) {
	add, list := NewTodoExecutors(t.TempDir())

	_, err := add.Execute(context.Background(), "telegram:42", makeAction("todo_add", map[string]string{"task": "water plants"}))
	require.NoError(t, err)

	result, err := list.Execute(context.Background(), "cli:local", makeAction("todo_list", nil))
	require.NoError(t, err)
	assert.Equal(t, "Your todo list is empty.", result.Detail)
}

func TestContactSearchExecutor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	contacts := "- name: Jason Wei\n  email: jason@example.com\n- name: Mara Lindholm\n  email: mara@example.com\n  notes: design lead\n"
	require.NoError(t, os.WriteFile(path, []byte(contacts), 0o644))

	ex := NewContactSearchExecutor(path)

	result, err := ex.Execute(context.Background(), "cli:local", makeAction("contact_search", map[string]string{"query": "jason"}))
	require.NoError(t, err)
	assert.Contains(t, result.Detail, "jason@example.com")
	require.NotNil(t, result.Entity)
	assert.Equal(t, dialog.KindContact, result.Entity.Kind)
	assert.Equal(t, "Jason Wei", result.Entity.Label)

	result, err = ex.Execute(context.Background(), "cli:local", makeAction("contact_search", map[string]string{"query": "nobody"}))
	require.NoError(t, err)
	assert.Contains(t, result.Detail, "No contact")
	assert.Nil(t, result.Entity)
}

func TestContactSearchExecutorMissingFile(t *testing.T) {
	ex := NewContactSearchExecutor(filepath.Join(t.TempDir(), "contacts.yaml"))

	result, err := ex.Execute(context.Background(), "cli:local", makeAction("contact_search", map[string]string{"query": "jason"}))
	require.NoError(t, err)
	assert.Contains(t, result.Detail, "No contact")
}

func TestReminderSetExecutorAppends(t *testing.T) {
	dir := t.TempDir()
	ex := NewReminderSetExecutor(dir)

	result, err := ex.Execute(context.Background(), "cli:local", makeAction("reminder_set", map[string]string{
		"task": "stretch",
		"when": "3pm",
	}))
	require.NoError(t, err)
	assert.Contains(t, result.Detail, "stretch")
	assert.Contains(t, result.Detail, "3pm")

	_, err = ex.Execute(context.Background(), "cli:local", makeAction("reminder_set", map[string]string{
		"task": "call mom",
		"when": "tomorrow",
	}))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "cli_local.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "stretch")
	assert.Contains(t, string(data), "call mom")
}

type stubRouter struct {
	content  string
	err      error
	lastUser string
}

func (r *stubRouter) Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	if len(req.Messages) > 0 {
		r.lastUser = req.Messages[len(req.Messages)-1].Content
	}
	if r.err != nil {
		return nil, r.err
	}
	return &contract.CompletionResponse{Content: r.content}, nil
}

func (r *stubRouter) RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func (r *stubRouter) ListModels() []string { return nil }

func (r *stubRouter) Health(ctx context.Context) error { return nil }

func TestThreadSynthesizeExecutor(t *testing.T) {
	router := &stubRouter{content: "The thread agrees to ship on Friday."}
	ex := NewThreadSynthesizeExecutor(router, "gpt-4o", "", nil)

	result, err := ex.Execute(context.Background(), "cli:local", makeAction("thread_synthesize", map[string]string{"subject": "release plan"}))
	require.NoError(t, err)
	assert.Equal(t, "The thread agrees to ship on Friday.", result.Detail)
	assert.Contains(t, router.lastUser, "release plan")
	require.NotNil(t, result.Entity)
	assert.Equal(t, dialog.KindDocument, result.Entity.Kind)
}

func TestThreadSynthesizeExecutorNoRouter(t *testing.T) {
	ex := NewThreadSynthesizeExecutor(nil, "", "", nil)
	_, err := ex.Execute(context.Background(), "cli:local", makeAction("thread_synthesize", nil))
	assert.ErrorIs(t, err, errors.ErrUnavailable)
}

func TestThreadSynthesizeExecutorEmptySummary(t *testing.T) {
	ex := NewThreadSynthesizeExecutor(&stubRouter{content: "  "}, "gpt-4o", "", nil)
	_, err := ex.Execute(context.Background(), "cli:local", makeAction("thread_synthesize", map[string]string{"subject": "x"}))
	assert.ErrorIs(t, err, errors.ErrInvalidModelOutput)
}
