package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harunnryd/kotori/internal/config"
	"github.com/harunnryd/kotori/internal/daemon"
	"github.com/harunnryd/kotori/internal/scheduler"
)

type SchedulerComponent struct {
	scheduler       *scheduler.Scheduler
	storeWorkerComp *StoreWorkerComponent
	ingressComp     *IngressComponent
	cfg             *config.SchedulerConfig
	initialized     bool
	started         bool
	mu              sync.RWMutex
}

func NewSchedulerComponent(storeComp *StoreWorkerComponent, ingComp *IngressComponent, cfg *config.SchedulerConfig) *SchedulerComponent {
	return &SchedulerComponent{
		storeWorkerComp: storeComp,
		ingressComp:     ingComp,
		cfg:             cfg,
	}
}

func (s *SchedulerComponent) Name() string {
	return "Scheduler"
}

func (s *SchedulerComponent) Dependencies() []string {
	return []string{"StoreWorker", "Ingress", "Workers"}
}

func (s *SchedulerComponent) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.storeWorkerComp == nil || s.ingressComp == nil {
		return fmt.Errorf("required component dependencies not provided")
	}

	storeWorker := s.storeWorkerComp.GetWorker()
	ing := s.ingressComp.GetIngress()
	if storeWorker == nil || ing == nil {
		return fmt.Errorf("required dependencies not initialized")
	}

	cfg := config.SchedulerConfig{}
	if s.cfg != nil {
		cfg = *s.cfg
	}

	sched, err := scheduler.NewScheduler(storeWorker, ing, cfg)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	if err := sched.Init(ctx); err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	s.scheduler = sched
	s.initialized = true
	slog.Info("Scheduler component initialized", "component", s.Name())
	return nil
}

func (s *SchedulerComponent) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return fmt.Errorf("Scheduler not initialized")
	}

	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	s.started = true
	slog.Info("Scheduler component started", "component", s.Name())
	return nil
}

func (s *SchedulerComponent) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		slog.Info("Scheduler not started, skipping stop", "component", s.Name())
		return nil
	}

	if err := s.scheduler.Stop(ctx); err != nil {
		slog.Error("Scheduler stop failed", "error", err)
	}
	s.started = false
	slog.Info("Scheduler component stopped", "component", s.Name())
	return nil
}

func (s *SchedulerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return &daemon.ComponentHealth{Name: s.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}

	if !s.started {
		return &daemon.ComponentHealth{Name: s.Name(), Healthy: false, Error: fmt.Errorf("not started")}, nil
	}

	if err := s.scheduler.Health(ctx); err != nil {
		return &daemon.ComponentHealth{Name: s.Name(), Healthy: false, Error: err}, nil
	}

	return &daemon.ComponentHealth{Name: s.Name(), Healthy: true}, nil
}
