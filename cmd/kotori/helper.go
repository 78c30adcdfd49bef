package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/kotori/internal/adapter"
	"github.com/harunnryd/kotori/internal/config"
	"github.com/harunnryd/kotori/internal/daemon"
	"github.com/harunnryd/kotori/internal/daemon/components"
	kotorierrors "github.com/harunnryd/kotori/internal/errors"
	"github.com/harunnryd/kotori/internal/ingress"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
)

func resolveWorkspaceID(cmd *cobra.Command) string {
	if workspaceID, _ := cmd.Flags().GetString("workspace"); workspaceID != "" {
		return workspaceID
	}

	return config.DefaultWorkspaceID
}

// assembleDaemon wires the full component graph. Interactive mode adds the
// terminal adapter alongside whatever chat adapters the config enables.
func assembleDaemon(workspaceID string, adapterOpts adapter.RuntimeAdapterOptions) (*daemon.Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	daemonMgr, err := daemon.NewDaemon(workspaceID, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon manager: %w", err)
	}

	storeComp := components.NewStoreWorkerComponent(workspaceID, cfg.Daemon.WorkspacePath, &cfg.Store)
	orchComp := components.NewOrchestratorComponent(workspaceID, cfg, storeComp)
	egressComp := components.NewEgressComponent()
	ingressComp := components.NewIngressComponent(storeComp, orchComp, egressComp, &cfg.Ingress, &cfg.Governance)

	eventHandler := func(evtCtx context.Context, source string, eventType string, externalID string, content string, metadata map[string]string) error {
		ing := ingressComp.GetIngress()
		if ing == nil {
			return fmt.Errorf("ingress not initialized")
		}

		msgType := ingress.TypeUserMessage
		switch eventType {
		case string(ingress.TypeCommand):
			msgType = ingress.TypeCommand
		case string(ingress.TypeSystemEvent):
			msgType = ingress.TypeSystemEvent
		case string(ingress.TypeNudge):
			msgType = ingress.TypeNudge
		}

		// The external message ID is the dedup key; adapters without stable
		// IDs get a fresh ULID and are never deduplicated.
		if externalID == "" {
			externalID = ulid.Make().String()
		}

		evt := &ingress.Event{
			ID:        externalID,
			Source:    source,
			Type:      msgType,
			Content:   content,
			Metadata:  metadata,
			CreatedAt: time.Now(),
		}

		if err := ing.Submit(evtCtx, evt); err != nil {
			if errors.Is(err, kotorierrors.ErrDuplicateEvent) {
				slog.Debug("Duplicate delivery ignored", "id", externalID, "source", source)
				return nil
			}
			return err
		}
		return nil
	}

	adapterMgr, err := adapter.NewRuntimeManager(cfg.Adapters, eventHandler, adapterOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to configure adapters: %w", err)
	}

	workersComp := components.NewWorkersComponent(cfg, ingressComp, orchComp, egressComp)
	adaptersComp := components.NewAdaptersComponent(adapterMgr, egressComp)
	schedulerComp := components.NewSchedulerComponent(storeComp, ingressComp, &cfg.Scheduler)

	daemonMgr.AddComponent(storeComp)
	daemonMgr.AddComponent(orchComp)
	daemonMgr.AddComponent(egressComp)
	daemonMgr.AddComponent(ingressComp)
	daemonMgr.AddComponent(workersComp)
	daemonMgr.AddComponent(adaptersComp)
	daemonMgr.AddComponent(schedulerComp)

	return daemonMgr, nil
}

func runDaemon(daemonMgr *daemon.Daemon, workspaceID string) error {
	err := daemonMgr.Start(context.Background())
	if err != nil {
		// Cancellation via signal/context is a graceful shutdown case for CLI.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			slog.Info("Kotori stopped gracefully", "workspace", workspaceID)
			return nil
		}
		return fmt.Errorf("daemon failed: %w", err)
	}

	slog.Info("Kotori stopped gracefully", "workspace", workspaceID)
	return nil
}
