package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/kotori/internal/dialog"
	"github.com/harunnryd/kotori/internal/errors"
	"github.com/harunnryd/kotori/internal/model"
	"github.com/harunnryd/kotori/internal/model/contract"
	"github.com/harunnryd/kotori/internal/store"

	"github.com/natefinch/atomic"
	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"
)

// EmailDraftExecutor composes a draft and saves it under the workspace drafts
// directory. When a model router is configured the body is generated;
// otherwise a skeleton is written for the user to fill in.
type EmailDraftExecutor struct {
	dir       string
	router    model.ModelRouter
	modelName string
}

func NewEmailDraftExecutor(dir string, router model.ModelRouter, modelName string) *EmailDraftExecutor {
	return &EmailDraftExecutor{dir: dir, router: router, modelName: modelName}
}

func (e *EmailDraftExecutor) Name() string {
	return "email_draft"
}

func (e *EmailDraftExecutor) Execute(ctx context.Context, userID string, action *dialog.ActionRequest) (*Result, error) {
	recipient := slotValue(action, "recipient")
	subject := slotValue(action, "subject")
	if subject == "" {
		subject = "(no subject)"
	}

	body := fmt.Sprintf("Hi %s,\n\n[draft body]\n", recipient)
	if e.router != nil {
		resp, err := e.router.Route(ctx, e.modelName, contract.CompletionRequest{
			System: "You draft short, polite emails. Reply with the email body only.",
			Messages: []contract.Message{
				{Role: "user", Content: fmt.Sprintf("Draft an email to %s about: %s", recipient, subject)},
			},
		})
		if err == nil && strings.TrimSpace(resp.Content) != "" {
			body = resp.Content
		}
	}

	draftID := ulid.Make().String()
	content := fmt.Sprintf("To: %s\nSubject: %s\nDrafted: %s\n\n%s\n", recipient, subject, time.Now().UTC().Format(time.RFC3339), body)

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create drafts directory")
	}
	path := filepath.Join(e.dir, draftID+".md")
	if err := atomic.WriteFile(path, strings.NewReader(content)); err != nil {
		return nil, errors.Wrap(err, "failed to save draft")
	}

	label := subject
	if label == "(no subject)" {
		label = "Draft to " + recipient
	}

	return &Result{
		Detail: fmt.Sprintf("Drafted an email to %s (%s).", recipient, subject),
		Entity: &dialog.TopicEntry{EntityID: draftID, Kind: dialog.KindEmail, Label: label},
	}, nil
}

// Mailer delivers an email through whatever transport the deployment wires in.
type Mailer interface {
	SendMail(ctx context.Context, to, subject, body string) error
}

// EmailSendExecutor sends an email via the configured mailer, or appends it to
// the workspace outbox when no mailer is wired.
type EmailSendExecutor struct {
	dir    string
	mailer Mailer
}

func NewEmailSendExecutor(dir string, mailer Mailer) *EmailSendExecutor {
	return &EmailSendExecutor{dir: dir, mailer: mailer}
}

func (e *EmailSendExecutor) Name() string {
	return "email_send"
}

func (e *EmailSendExecutor) Execute(ctx context.Context, userID string, action *dialog.ActionRequest) (*Result, error) {
	recipient := slotValue(action, "recipient")
	subject := slotValue(action, "subject")
	body := slotValue(action, "body")

	if e.mailer != nil {
		if err := e.mailer.SendMail(ctx, recipient, subject, body); err != nil {
			return nil, errors.Wrap(err, "failed to send email")
		}
	} else {
		if err := os.MkdirAll(e.dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create outbox directory")
		}
		msgID := ulid.Make().String()
		content := fmt.Sprintf("To: %s\nSubject: %s\nSent: %s\n\n%s\n", recipient, subject, time.Now().UTC().Format(time.RFC3339), body)
		if err := atomic.WriteFile(filepath.Join(e.dir, msgID+".md"), strings.NewReader(content)); err != nil {
			return nil, errors.Wrap(err, "failed to write outbox")
		}
	}

	label := subject
	if label == "" {
		label = "Email to " + recipient
	}

	return &Result{
		Detail: "Sent the email to " + recipient + ".",
		Entity: &dialog.TopicEntry{EntityID: ulid.Make().String(), Kind: dialog.KindEmail, Label: label},
	}, nil
}

type todoItem struct {
	ID        string    `json:"id"`
	Task      string    `json:"task"`
	CreatedAt time.Time `json:"created_at"`
}

// todoFile is the shared per-user todo store backing todo_add and todo_list.
type todoFile struct {
	dir string
	mu  sync.Mutex
}

func newTodoFile(dir string) *todoFile {
	return &todoFile{dir: dir}
}

func (f *todoFile) path(userID string) string {
	return filepath.Join(f.dir, store.SessionFileName(userID))
}

func (f *todoFile) load(userID string) ([]todoItem, error) {
	data, err := os.ReadFile(f.path(userID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read todo list")
	}

	var items []todoItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, errors.Wrap(err, "failed to parse todo list")
	}
	return items, nil
}

func (f *todoFile) save(userID string, items []todoItem) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create todo directory")
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal todo list")
	}
	return atomic.WriteFile(f.path(userID), bytes.NewReader(data))
}

type TodoAddExecutor struct {
	file *todoFile
}

type TodoListExecutor struct {
	file *todoFile
}

// NewTodoExecutors returns the add and list executors sharing one store.
func NewTodoExecutors(dir string) (*TodoAddExecutor, *TodoListExecutor) {
	file := newTodoFile(dir)
	return &TodoAddExecutor{file: file}, &TodoListExecutor{file: file}
}

func (e *TodoAddExecutor) Name() string {
	return "todo_add"
}

func (e *TodoAddExecutor) Execute(ctx context.Context, userID string, action *dialog.ActionRequest) (*Result, error) {
	task := slotValue(action, "task")

	e.file.mu.Lock()
	defer e.file.mu.Unlock()

	items, err := e.file.load(userID)
	if err != nil {
		return nil, err
	}

	item := todoItem{ID: ulid.Make().String(), Task: task, CreatedAt: time.Now().UTC()}
	items = append(items, item)
	if err := e.file.save(userID, items); err != nil {
		return nil, err
	}

	return &Result{
		Detail: fmt.Sprintf("Added %q to your todo list (%d items).", task, len(items)),
		Entity: &dialog.TopicEntry{EntityID: item.ID, Kind: dialog.KindTask, Label: task},
	}, nil
}

func (e *TodoListExecutor) Name() string {
	return "todo_list"
}

func (e *TodoListExecutor) Execute(ctx context.Context, userID string, action *dialog.ActionRequest) (*Result, error) {
	e.file.mu.Lock()
	defer e.file.mu.Unlock()

	items, err := e.file.load(userID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return &Result{Detail: "Your todo list is empty."}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You have %d todo item(s):\n", len(items))
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item.Task)
	}
	return &Result{Detail: strings.TrimRight(b.String(), "\n")}, nil
}

// VectorSearcher recalls archived topics for synthesis context.
type VectorSearcher interface {
	SearchVectors(collection string, vector []float32, limit int) ([]store.VectorResult, error)
}

// ThreadSynthesizeExecutor summarizes a thread or document through the model
// router, optionally grounding on archived topics recalled from the vector
// store.
type ThreadSynthesizeExecutor struct {
	router         model.ModelRouter
	modelName      string
	embeddingModel string
	search         VectorSearcher
}

func NewThreadSynthesizeExecutor(router model.ModelRouter, modelName, embeddingModel string, search VectorSearcher) *ThreadSynthesizeExecutor {
	return &ThreadSynthesizeExecutor{
		router:         router,
		modelName:      modelName,
		embeddingModel: embeddingModel,
		search:         search,
	}
}

func (e *ThreadSynthesizeExecutor) Name() string {
	return "thread_synthesize"
}

func (e *ThreadSynthesizeExecutor) Execute(ctx context.Context, userID string, action *dialog.ActionRequest) (*Result, error) {
	if e.router == nil {
		return nil, errors.Unavailable("no model configured for synthesis")
	}

	subject := slotValue(action, "subject")

	prompt := "Summarize the thread about: " + subject
	if recalled := e.recall(ctx, userID, subject); len(recalled) > 0 {
		prompt += "\n\nRelated items previously discussed:\n- " + strings.Join(recalled, "\n- ")
	}

	resp, err := e.router.Route(ctx, e.modelName, contract.CompletionRequest{
		System: "You summarize email threads and documents in a few sentences.",
		Messages: []contract.Message{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "synthesis failed")
	}

	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return nil, errors.InvalidModelOutput("model returned an empty summary")
	}

	return &Result{
		Detail: summary,
		Entity: &dialog.TopicEntry{EntityID: ulid.Make().String(), Kind: dialog.KindDocument, Label: "Summary: " + subject},
	}, nil
}

// recall is best effort; synthesis proceeds without context on any failure.
func (e *ThreadSynthesizeExecutor) recall(ctx context.Context, userID, subject string) []string {
	if e.search == nil {
		return nil
	}

	vector, err := e.router.RouteEmbedding(ctx, e.embeddingModel, subject)
	if err != nil {
		return nil
	}

	results, err := e.search.SearchVectors("topic_archive", vector, 3)
	if err != nil {
		return nil
	}

	var labels []string
	for _, r := range results {
		if !strings.HasPrefix(r.ID, userID+"/") {
			continue
		}
		if r.Content != "" {
			labels = append(labels, r.Content)
		}
	}
	return labels
}

// Contact is one address book entry from the workspace contacts file.
type Contact struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
	Notes string `yaml:"notes,omitempty"`
}

// ContactSearchExecutor looks up contacts in the workspace contacts.yaml.
type ContactSearchExecutor struct {
	path string
}

func NewContactSearchExecutor(path string) *ContactSearchExecutor {
	return &ContactSearchExecutor{path: path}
}

func (e *ContactSearchExecutor) Name() string {
	return "contact_search"
}

func (e *ContactSearchExecutor) Execute(ctx context.Context, userID string, action *dialog.ActionRequest) (*Result, error) {
	query := strings.ToLower(strings.TrimSpace(slotValue(action, "query")))

	contacts, err := e.loadContacts()
	if err != nil {
		return nil, err
	}

	var matches []Contact
	for _, c := range contacts {
		if strings.Contains(strings.ToLower(c.Name), query) || strings.Contains(strings.ToLower(c.Email), query) {
			matches = append(matches, c)
		}
	}

	if len(matches) == 0 {
		return &Result{Detail: fmt.Sprintf("No contact matching %q.", query)}, nil
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })

	var b strings.Builder
	for i, c := range matches {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s <%s>", c.Name, c.Email)
		if c.Notes != "" {
			fmt.Fprintf(&b, " (%s)", c.Notes)
		}
	}

	first := matches[0]
	entityID := first.Email
	if entityID == "" {
		entityID = strings.ToLower(strings.ReplaceAll(first.Name, " ", "_"))
	}

	return &Result{
		Detail: b.String(),
		Entity: &dialog.TopicEntry{EntityID: entityID, Kind: dialog.KindContact, Label: first.Name},
	}, nil
}

func (e *ContactSearchExecutor) loadContacts() ([]Contact, error) {
	data, err := os.ReadFile(e.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read contacts")
	}

	var contacts []Contact
	if err := yaml.Unmarshal(data, &contacts); err != nil {
		return nil, errors.Wrap(err, "failed to parse contacts")
	}
	return contacts, nil
}

type reminder struct {
	ID        string    `json:"id"`
	Task      string    `json:"task"`
	When      string    `json:"when"`
	CreatedAt time.Time `json:"created_at"`
}

// ReminderSetExecutor appends reminders to the per-user reminders file.
type ReminderSetExecutor struct {
	dir string
	mu  sync.Mutex
}

func NewReminderSetExecutor(dir string) *ReminderSetExecutor {
	return &ReminderSetExecutor{dir: dir}
}

func (e *ReminderSetExecutor) Name() string {
	return "reminder_set"
}

func (e *ReminderSetExecutor) Execute(ctx context.Context, userID string, action *dialog.ActionRequest) (*Result, error) {
	task := slotValue(action, "task")
	when := slotValue(action, "when")

	e.mu.Lock()
	defer e.mu.Unlock()

	path := filepath.Join(e.dir, store.SessionFileName(userID))

	var reminders []reminder
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, &reminders); err != nil {
			return nil, errors.Wrap(err, "failed to parse reminders")
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to read reminders")
	}

	item := reminder{ID: ulid.Make().String(), Task: task, When: when, CreatedAt: time.Now().UTC()}
	reminders = append(reminders, item)

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create reminders directory")
	}
	out, err := json.MarshalIndent(reminders, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal reminders")
	}
	if err := atomic.WriteFile(path, bytes.NewReader(out)); err != nil {
		return nil, errors.Wrap(err, "failed to save reminders")
	}

	return &Result{
		Detail: fmt.Sprintf("Reminder set: %s (%s).", task, when),
		Entity: &dialog.TopicEntry{EntityID: item.ID, Kind: dialog.KindTask, Label: task},
	}, nil
}
