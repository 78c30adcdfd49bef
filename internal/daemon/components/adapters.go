package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harunnryd/kotori/internal/adapter"
	"github.com/harunnryd/kotori/internal/daemon"
)

type AdaptersComponent struct {
	manager     *adapter.RuntimeManager
	egressComp  *EgressComponent
	initialized bool
	started     bool
	mu          sync.RWMutex
}

func NewAdaptersComponent(manager *adapter.RuntimeManager, egressComp *EgressComponent) *AdaptersComponent {
	return &AdaptersComponent{manager: manager, egressComp: egressComp}
}

func (a *AdaptersComponent) Name() string {
	return "Adapters"
}

func (a *AdaptersComponent) Dependencies() []string {
	return []string{"Ingress", "Workers", "Egress"}
}

func (a *AdaptersComponent) Init(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.manager == nil {
		return fmt.Errorf("adapter manager not configured")
	}
	if a.egressComp == nil {
		return fmt.Errorf("egress component not provided")
	}

	eg := a.egressComp.GetEgress()
	if eg == nil {
		return fmt.Errorf("egress not initialized")
	}
	for _, out := range a.manager.OutputAdapters() {
		if err := eg.Register(out); err != nil {
			return fmt.Errorf("register output adapter %s: %w", out.Name(), err)
		}
	}

	a.initialized = true
	return nil
}

func (a *AdaptersComponent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return fmt.Errorf("adapters component not initialized")
	}
	a.manager.Start(ctx)
	a.started = true
	slog.Info("Adapters started", "component", a.Name())
	return nil
}

func (a *AdaptersComponent) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}
	err := a.manager.Stop(ctx)
	a.started = false
	if err != nil {
		return err
	}
	slog.Info("Adapters stopped", "component", a.Name())
	return nil
}

func (a *AdaptersComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.initialized {
		return &daemon.ComponentHealth{Name: a.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	if !a.started {
		return &daemon.ComponentHealth{Name: a.Name(), Healthy: false, Error: fmt.Errorf("not started")}, nil
	}
	if err := a.manager.Health(ctx); err != nil {
		return &daemon.ComponentHealth{Name: a.Name(), Healthy: false, Error: err}, nil
	}
	return &daemon.ComponentHealth{Name: a.Name(), Healthy: true}, nil
}
