package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/kotori/internal/config"
	"github.com/harunnryd/kotori/internal/daemon"
	"github.com/harunnryd/kotori/internal/ingress"
	"github.com/harunnryd/kotori/internal/orchestrator"
)

type IngressComponent struct {
	ingress          *ingress.Ingress
	storeWorkerComp  *StoreWorkerComponent
	orchestratorComp *OrchestratorComponent
	egressComp       *EgressComponent
	cfg              *config.IngressConfig
	governanceCfg    *config.GovernanceConfig
	initialized      bool
	started          bool
	mu               sync.RWMutex
	startTime        time.Time
}

func NewIngressComponent(storeComp *StoreWorkerComponent, orchComp *OrchestratorComponent, egressComp *EgressComponent, cfg *config.IngressConfig, governanceCfg *config.GovernanceConfig) *IngressComponent {
	return &IngressComponent{
		storeWorkerComp:  storeComp,
		orchestratorComp: orchComp,
		egressComp:       egressComp,
		cfg:              cfg,
		governanceCfg:    governanceCfg,
	}
}

func (i *IngressComponent) Name() string {
	return "Ingress"
}

func (i *IngressComponent) Dependencies() []string {
	return []string{"StoreWorker", "Orchestrator", "Egress"}
}

func (i *IngressComponent) Init(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.storeWorkerComp == nil || i.orchestratorComp == nil || i.egressComp == nil {
		return fmt.Errorf("required component dependencies not provided")
	}

	storeWorker := i.storeWorkerComp.GetWorker()
	if storeWorker == nil {
		return fmt.Errorf("storeWorker not initialized")
	}

	if i.cfg == nil {
		return fmt.Errorf("ingress config not provided")
	}

	interactiveSubmitTimeout, err := config.DurationOrDefault(i.cfg.InteractiveSubmitTimeout, config.DefaultIngressInteractiveSubmitTimeout)
	if err != nil {
		return fmt.Errorf("parse ingress interactive submit timeout: %w", err)
	}
	drainTimeout, err := config.DurationOrDefault(i.cfg.DrainTimeout, config.DefaultIngressDrainTimeout)
	if err != nil {
		return fmt.Errorf("parse ingress drain timeout: %w", err)
	}
	drainPollInterval, err := config.DurationOrDefault(i.cfg.DrainPollInterval, config.DefaultIngressDrainPollInterval)
	if err != nil {
		return fmt.Errorf("parse ingress drain poll interval: %w", err)
	}
	idempotencyTTLValue := ""
	if i.governanceCfg != nil {
		idempotencyTTLValue = i.governanceCfg.IdempotencyTTL
	}
	idempotencyTTL, err := config.DurationOrDefault(idempotencyTTLValue, config.DefaultGovernanceIdempotencyTTL)
	if err != nil {
		return fmt.Errorf("parse governance idempotency ttl: %w", err)
	}

	i.ingress = ingress.NewIngress(
		i.cfg.InteractiveQueueSize,
		i.cfg.BackgroundQueueSize,
		ingress.RuntimeConfig{
			InteractiveSubmitTimeout: interactiveSubmitTimeout,
			DrainTimeout:             drainTimeout,
			DrainPollInterval:        drainPollInterval,
			IdempotencyTTL:           idempotencyTTL,
		},
		storeWorker,
	)

	i.registerCommands(i.orchestratorComp.GetKernel())

	i.initialized = true
	slog.Info("Ingress initialized", "component", i.Name())
	return nil
}

// registerCommands wires the built-in slash commands. The router attaches the
// handler to the event and the worker runs it under the session lock; replies
// go out through egress rather than back up the adapter call.
func (i *IngressComponent) registerCommands(kernel *orchestrator.Kernel) {
	reply := func(ctx context.Context, userID, content string) error {
		eg := i.egressComp.GetEgress()
		if eg == nil {
			return fmt.Errorf("egress not initialized")
		}
		return eg.Send(ctx, userID, content)
	}

	i.ingress.RegisterCommand("/cancel", func(ctx context.Context, evt *ingress.Event) error {
		out, err := kernel.Cancel(ctx, evt.UserID)
		if err != nil {
			return err
		}
		return reply(ctx, evt.UserID, out.Prompt)
	})

	i.ingress.RegisterCommand("/status", func(ctx context.Context, evt *ingress.Event) error {
		status, err := kernel.Status(evt.UserID)
		if err != nil {
			return err
		}
		return reply(ctx, evt.UserID, status)
	})

	i.ingress.RegisterCommand("/reset", func(ctx context.Context, evt *ingress.Event) error {
		if err := kernel.Reset(evt.UserID); err != nil {
			return err
		}
		return reply(ctx, evt.UserID, "Session reset. Clean slate.")
	})
}

func (i *IngressComponent) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.initialized {
		return fmt.Errorf("Ingress not initialized")
	}

	i.started = true
	i.startTime = time.Now()
	slog.Info("Ingress started", "component", i.Name())
	return nil
}

func (i *IngressComponent) Stop(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.started {
		slog.Info("Ingress not started, skipping stop", "component", i.Name())
		return nil
	}

	slog.Info("Stopping Ingress...", "component", i.Name())
	if err := i.ingress.Close(); err != nil {
		slog.Error("Ingress close failed", "error", err)
	}
	i.started = false
	slog.Info("Ingress stopped", "component", i.Name())
	return nil
}

func (i *IngressComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if !i.initialized {
		return &daemon.ComponentHealth{Name: i.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}

	if !i.started {
		return &daemon.ComponentHealth{Name: i.Name(), Healthy: false, Error: fmt.Errorf("not started")}, nil
	}

	if err := i.ingress.Health(ctx); err != nil {
		return &daemon.ComponentHealth{Name: i.Name(), Healthy: false, Error: err}, nil
	}

	return &daemon.ComponentHealth{Name: i.Name(), Healthy: true}, nil
}

func (i *IngressComponent) GetIngress() *ingress.Ingress {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.ingress
}
