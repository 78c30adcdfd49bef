package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harunnryd/kotori/internal/daemon"
	"github.com/harunnryd/kotori/internal/egress"
)

type EgressComponent struct {
	egress      egress.Egress
	initialized bool
	started     bool
	mu          sync.RWMutex
}

func NewEgressComponent() *EgressComponent {
	return &EgressComponent{}
}

func (e *EgressComponent) Name() string {
	return "Egress"
}

func (e *EgressComponent) Dependencies() []string {
	return []string{}
}

func (e *EgressComponent) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.egress = egress.NewEgress()
	e.initialized = true
	slog.Info("Egress initialized", "component", e.Name())
	return nil
}

func (e *EgressComponent) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return fmt.Errorf("Egress not initialized")
	}

	e.started = true
	slog.Info("Egress started", "component", e.Name())
	return nil
}

func (e *EgressComponent) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.started = false
	slog.Info("Egress stopped", "component", e.Name())
	return nil
}

func (e *EgressComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.initialized {
		return &daemon.ComponentHealth{Name: e.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}

	if !e.started {
		return &daemon.ComponentHealth{Name: e.Name(), Healthy: false, Error: fmt.Errorf("not started")}, nil
	}

	if err := e.egress.Health(ctx); err != nil {
		return &daemon.ComponentHealth{Name: e.Name(), Healthy: false, Error: err}, nil
	}

	return &daemon.ComponentHealth{Name: e.Name(), Healthy: true}, nil
}

func (e *EgressComponent) GetEgress() egress.Egress {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.egress
}
