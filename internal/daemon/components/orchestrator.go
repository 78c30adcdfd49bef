package components

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harunnryd/kotori/internal/config"
	"github.com/harunnryd/kotori/internal/daemon"
	"github.com/harunnryd/kotori/internal/executor"
	"github.com/harunnryd/kotori/internal/intent"
	"github.com/harunnryd/kotori/internal/model"
	"github.com/harunnryd/kotori/internal/orchestrator"
	"github.com/harunnryd/kotori/internal/slot"
	"github.com/harunnryd/kotori/internal/store"
	"github.com/harunnryd/kotori/internal/topic"
	"github.com/harunnryd/kotori/internal/validate"
)

// OrchestratorComponent assembles the resolution pipeline: classifier,
// extractor, validator, executors, and the kernel tying them together.
type OrchestratorComponent struct {
	workspaceID     string
	cfg             *config.Config
	storeWorkerComp *StoreWorkerComponent

	kernel      *orchestrator.Kernel
	router      model.ModelRouter
	initialized bool
	started     bool
	mu          sync.RWMutex
	startTime   time.Time
}

func NewOrchestratorComponent(workspaceID string, cfg *config.Config, storeComp *StoreWorkerComponent) *OrchestratorComponent {
	return &OrchestratorComponent{
		workspaceID:     workspaceID,
		cfg:             cfg,
		storeWorkerComp: storeComp,
	}
}

func (o *OrchestratorComponent) Name() string {
	return "Orchestrator"
}

func (o *OrchestratorComponent) Dependencies() []string {
	return []string{"StoreWorker"}
}

func (o *OrchestratorComponent) Init(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.storeWorkerComp == nil {
		return fmt.Errorf("storeWorkerComp not provided")
	}
	storeWorker := o.storeWorkerComp.GetWorker()
	if storeWorker == nil {
		return fmt.Errorf("storeWorker not initialized")
	}
	if o.cfg == nil {
		return fmt.Errorf("config not provided")
	}

	tree, err := intent.Load(o.cfg.Intents.Path)
	if err != nil {
		return fmt.Errorf("load intent tree: %w", err)
	}
	classifier := intent.NewClassifier(tree)

	// The model layer is optional; without it the pipeline is purely
	// deterministic.
	if o.cfg.Models.Provider != "" {
		router, err := model.NewModelRouter(o.cfg.Models)
		if err != nil {
			return fmt.Errorf("init model router: %w", err)
		}
		o.router = router
	}

	extractorOpts := []slot.Option{}
	if o.router != nil {
		fuzzyModel := o.cfg.Extractor.FuzzyModel
		if fuzzyModel == "" {
			fuzzyModel = o.cfg.Models.Provider
		}
		fuzzyTimeout, err := config.DurationOrDefault(o.cfg.Extractor.FuzzyTimeout, config.DefaultExtractorFuzzyTimeout)
		if err != nil {
			return fmt.Errorf("parse extractor fuzzy timeout: %w", err)
		}
		extractorOpts = append(extractorOpts, slot.WithFuzzy(slot.NewModelFuzzyExtractor(o.router, fuzzyModel), fuzzyTimeout))
	}
	extractor := slot.NewExtractor(o.cfg.Extractor.RuleConfidence, o.cfg.Extractor.FragmentConfidence, extractorOpts...)

	validator := validate.NewValidator(o.cfg.Governance)

	registry, err := o.buildExecutors(storeWorker)
	if err != nil {
		return fmt.Errorf("build executors: %w", err)
	}

	maxTopicAge, err := config.DurationOrDefault(o.cfg.Topics.MaxAge, config.DefaultTopicsMaxAge)
	if err != nil {
		return fmt.Errorf("parse topics max age: %w", err)
	}

	kernelOpts := []orchestrator.KernelOption{orchestrator.WithDispatcher(registry)}
	if o.router != nil {
		kernelOpts = append(kernelOpts, orchestrator.WithArchiver(topic.NewArchiver(storeWorker, o.router, o.cfg.Models.Embedding)))
	}

	o.kernel = orchestrator.NewKernel(storeWorker, classifier, extractor, validator, tree.Catalog(), o.cfg.Topics.StackSize, maxTopicAge, kernelOpts...)

	o.initialized = true
	slog.Info("Orchestrator initialized", "component", o.Name(), "model_layer", o.router != nil)
	return nil
}

func (o *OrchestratorComponent) buildExecutors(storeWorker *store.Worker) (*executor.Registry, error) {
	basePath, err := store.GetWorkspacePath(o.workspaceID, o.cfg.Daemon.WorkspacePath)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace path: %w", err)
	}
	for _, dir := range []string{"drafts", "outbox", "todos", "reminders"} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", dir, err)
		}
	}

	registry := executor.NewRegistry()

	todoAdd, todoList := executor.NewTodoExecutors(filepath.Join(basePath, "todos"))
	execs := []executor.Executor{
		executor.NewEmailDraftExecutor(filepath.Join(basePath, "drafts"), o.router, o.cfg.Models.Provider),
		executor.NewEmailSendExecutor(filepath.Join(basePath, "outbox"), nil),
		todoAdd,
		todoList,
		executor.NewThreadSynthesizeExecutor(o.router, o.cfg.Models.Provider, o.cfg.Models.Embedding, storeWorker),
		executor.NewContactSearchExecutor(filepath.Join(basePath, "contacts.yaml")),
		executor.NewReminderSetExecutor(filepath.Join(basePath, "reminders")),
	}
	for _, ex := range execs {
		if err := registry.Register(ex); err != nil {
			return nil, fmt.Errorf("register executor %s: %w", ex.Name(), err)
		}
	}

	return registry, nil
}

func (o *OrchestratorComponent) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized {
		return fmt.Errorf("Orchestrator not initialized")
	}

	o.started = true
	o.startTime = time.Now()
	slog.Info("Orchestrator started", "component", o.Name())
	return nil
}

func (o *OrchestratorComponent) Stop(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.started = false
	slog.Info("Orchestrator stopped", "component", o.Name())
	return nil
}

func (o *OrchestratorComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if !o.initialized {
		return &daemon.ComponentHealth{Name: o.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}

	if !o.started {
		return &daemon.ComponentHealth{Name: o.Name(), Healthy: false, Error: fmt.Errorf("not started")}, nil
	}

	return &daemon.ComponentHealth{Name: o.Name(), Healthy: true}, nil
}

func (o *OrchestratorComponent) GetKernel() *orchestrator.Kernel {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.kernel
}

func (o *OrchestratorComponent) GetRouter() model.ModelRouter {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.router
}
