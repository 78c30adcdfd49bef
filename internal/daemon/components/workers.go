package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/kotori/internal/concurrency"
	"github.com/harunnryd/kotori/internal/config"
	"github.com/harunnryd/kotori/internal/daemon"
	"github.com/harunnryd/kotori/internal/worker"
)

type WorkersComponent struct {
	interactiveWorker *worker.Worker
	backgroundWorker  *worker.Worker
	ingressComp       *IngressComponent
	orchestratorComp  *OrchestratorComponent
	egressComp        *EgressComponent
	cfg               *config.Config
	locks             *concurrency.SessionLockManager
	initialized       bool
	started           bool
	mu                sync.RWMutex
	startTime         time.Time
}

func NewWorkersComponent(cfg *config.Config, ingComp *IngressComponent, orchComp *OrchestratorComponent, egressComp *EgressComponent) *WorkersComponent {
	return &WorkersComponent{
		ingressComp:      ingComp,
		orchestratorComp: orchComp,
		egressComp:       egressComp,
		cfg:              cfg,
		locks:            concurrency.NewSessionLockManager(),
	}
}

func (w *WorkersComponent) Name() string {
	return "Workers"
}

func (w *WorkersComponent) Dependencies() []string {
	return []string{"Ingress", "Orchestrator", "Egress"}
}

func (w *WorkersComponent) Init(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ingressComp == nil || w.orchestratorComp == nil || w.egressComp == nil {
		return fmt.Errorf("required component dependencies not provided")
	}
	if w.cfg == nil {
		return fmt.Errorf("config not provided")
	}

	ing := w.ingressComp.GetIngress()
	kernel := w.orchestratorComp.GetKernel()
	eg := w.egressComp.GetEgress()
	if ing == nil || kernel == nil || eg == nil {
		return fmt.Errorf("required dependencies not initialized")
	}

	workerShutdownTimeout, err := config.DurationOrDefault(w.cfg.Worker.ShutdownTimeout, config.DefaultWorkerShutdownTimeout)
	if err != nil {
		return fmt.Errorf("parse worker shutdown timeout: %w", err)
	}

	runtimeCfg := worker.RuntimeConfig{ShutdownTimeout: workerShutdownTimeout}
	w.interactiveWorker = worker.NewWorker("interactive", ing.InteractiveQueue(), kernel, eg, w.locks, runtimeCfg)
	w.backgroundWorker = worker.NewWorker("background", ing.BackgroundQueue(), kernel, eg, w.locks, runtimeCfg)

	w.initialized = true
	slog.Info("Workers initialized", "component", w.Name())
	return nil
}

func (w *WorkersComponent) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.initialized {
		return fmt.Errorf("Workers not initialized")
	}

	if _, err := w.interactiveWorker.Start(ctx); err != nil {
		return fmt.Errorf("start interactive worker: %w", err)
	}
	if _, err := w.backgroundWorker.Start(ctx); err != nil {
		return fmt.Errorf("start background worker: %w", err)
	}

	w.started = true
	w.startTime = time.Now()
	slog.Info("Workers started", "component", w.Name())
	return nil
}

func (w *WorkersComponent) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		slog.Info("Workers not started, skipping stop", "component", w.Name())
		return nil
	}

	slog.Info("Stopping Workers...", "component", w.Name())
	if err := w.interactiveWorker.Stop(ctx); err != nil {
		slog.Error("Interactive worker stop failed", "error", err)
	}
	if err := w.backgroundWorker.Stop(ctx); err != nil {
		slog.Error("Background worker stop failed", "error", err)
	}
	w.started = false
	slog.Info("Workers stopped", "component", w.Name())
	return nil
}

func (w *WorkersComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.initialized {
		return &daemon.ComponentHealth{Name: w.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}

	if !w.started {
		return &daemon.ComponentHealth{Name: w.Name(), Healthy: false, Error: fmt.Errorf("not started")}, nil
	}

	if err := w.interactiveWorker.Health(ctx); err != nil {
		return &daemon.ComponentHealth{Name: w.Name(), Healthy: false, Error: err}, nil
	}
	if err := w.backgroundWorker.Health(ctx); err != nil {
		return &daemon.ComponentHealth{Name: w.Name(), Healthy: false, Error: err}, nil
	}

	return &daemon.ComponentHealth{Name: w.Name(), Healthy: true}, nil
}
