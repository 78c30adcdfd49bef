// Package executor holds the side-effect layer: one executor per intent,
// looked up by name once the kernel has approved an action. Executors never
// touch session state; whatever entity they surface travels back through the
// dispatch result.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harunnryd/kotori/internal/dialog"
	"github.com/harunnryd/kotori/internal/errors"
)

// Result is what an executor hands back on success. Entity, when non-nil, is
// pushed onto the session's topic stack.
type Result struct {
	Detail string
	Entity *dialog.TopicEntry
}

type Executor interface {
	Name() string
	Execute(ctx context.Context, userID string, action *dialog.ActionRequest) (*Result, error)
}

// Registry maps intent names to executors and satisfies the kernel's
// dispatcher contract.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	fallback  Executor
}

func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		fallback:  &LoggingExecutor{},
	}
}

func (r *Registry) Register(ex Executor) error {
	if ex == nil {
		return errors.InvalidInput("executor cannot be nil")
	}
	name := ex.Name()
	if name == "" {
		return errors.InvalidInput("executor name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[name]; exists {
		return errors.ErrConflict
	}

	r.executors[name] = ex
	slog.Debug("Executor registered", "name", name)
	return nil
}

// SetFallback replaces the executor used for intents with no registration.
func (r *Registry) SetFallback(ex Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = ex
}

func (r *Registry) Dispatch(ctx context.Context, userID string, action *dialog.ActionRequest) (string, *dialog.TopicEntry, error) {
	if action == nil {
		return "", nil, errors.InvalidInput("action cannot be nil")
	}

	r.mu.RLock()
	ex, ok := r.executors[action.Intent]
	if !ok {
		ex = r.fallback
	}
	r.mu.RUnlock()

	if ex == nil {
		return "", nil, errors.NotFound("no executor for intent: " + action.Intent)
	}

	slog.Info("Dispatching action", "user", userID, "intent", action.Intent, "action_id", action.ID, "executor", ex.Name())

	result, err := ex.Execute(ctx, userID, action)
	if err != nil {
		return "", nil, errors.Wrap(err, fmt.Sprintf("executor %s failed", ex.Name()))
	}
	if result == nil {
		return "", nil, nil
	}
	return result.Detail, result.Entity, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	return names
}

// LoggingExecutor acknowledges actions without performing them. It is the
// default fallback so an incomplete deployment degrades to a visible no-op
// instead of an error.
type LoggingExecutor struct{}

func (e *LoggingExecutor) Name() string {
	return "logging"
}

func (e *LoggingExecutor) Execute(ctx context.Context, userID string, action *dialog.ActionRequest) (*Result, error) {
	slog.Info("Action executed (logging only)", "user", userID, "intent", action.Intent, "slots", len(action.Slots))
	return &Result{Detail: "Done: " + action.Intent}, nil
}

func slotValue(action *dialog.ActionRequest, name string) string {
	if action == nil {
		return ""
	}
	if slot, ok := action.Slots[name]; ok {
		return slot.Value
	}
	return ""
}
