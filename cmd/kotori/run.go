package main

import (
	"fmt"

	"github.com/harunnryd/kotori/internal/adapter"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start Kotori in interactive mode",
	Long:  `Starts the full pipeline with a terminal adapter attached, so you can talk to Kotori directly from this shell. Chat adapters enabled in the config run alongside it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workspaceID := resolveWorkspaceID(cmd)
		forceClean, _ := cmd.Flags().GetBool("force-clean-locks")

		daemonMgr, err := assembleDaemon(workspaceID, adapter.RuntimeAdapterOptions{
			IncludeCLI:        true,
			IncludeSystemNull: true,
		})
		if err != nil {
			return fmt.Errorf("failed to assemble runtime: %w", err)
		}
		daemonMgr.SetForceCleanup(forceClean)

		return runDaemon(daemonMgr, workspaceID)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("workspace", "w", "", "Target workspace ID")
	runCmd.Flags().Bool("force-clean-locks", false, "Force cleanup of stale lock files (default: warn-only)")
}
