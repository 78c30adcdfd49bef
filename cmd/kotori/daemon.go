package main

import (
	"fmt"
	"log/slog"

	"github.com/harunnryd/kotori/internal/adapter"

	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start Kotori in background daemon mode",
	Long:  `Starts Kotori as a long-running service using component lifecycle orchestration. Messages arrive through the chat adapters enabled in the config; there is no terminal input.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workspaceID := resolveWorkspaceID(cmd)
		forceClean, _ := cmd.Flags().GetBool("force-clean-locks")

		daemonMgr, err := assembleDaemon(workspaceID, adapter.RuntimeAdapterOptions{
			IncludeCLI:          false,
			IncludeSystemNull:   true,
			RequireSlackSecrets: true,
		})
		if err != nil {
			return fmt.Errorf("failed to assemble runtime: %w", err)
		}
		daemonMgr.SetForceCleanup(forceClean)

		slog.Info("Kotori daemon starting up...", "port", cfg.Server.Port, "workspace", workspaceID)
		return runDaemon(daemonMgr, workspaceID)
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().StringP("workspace", "w", "", "Target workspace ID")
	daemonCmd.Flags().Bool("force-clean-locks", false, "Force cleanup of stale lock files (default: warn-only)")
}
