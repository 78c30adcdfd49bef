package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harunnryd/kotori/internal/dialog"
	"github.com/harunnryd/kotori/internal/store"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
	Long:  `List, inspect, and reset conversation sessions in the workspace.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List sessions",
	Long:  `Display all conversation sessions with their user IDs and states.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workspaceID := resolveWorkspaceID(cmd)
		workspaceRootPath := ""
		if cfg != nil {
			workspaceRootPath = cfg.Daemon.WorkspacePath
		}

		sessionsDir, err := store.GetSessionsDir(workspaceID, workspaceRootPath)
		if err != nil {
			return fmt.Errorf("failed to get sessions directory: %w", err)
		}

		entries, err := os.ReadDir(sessionsDir)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("No sessions directory found (workspace not initialized yet).")
				fmt.Println("\nRun 'kotori run' to create your first session.")
				return nil
			}
			return fmt.Errorf("failed to read sessions directory: %w", err)
		}

		var sessions []*dialog.Session
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			sess, err := readSessionFile(filepath.Join(sessionsDir, entry.Name()))
			if err != nil {
				fmt.Printf("- %s (unreadable: %v)\n", entry.Name(), err)
				continue
			}
			sessions = append(sessions, sess)
		}

		if len(sessions) == 0 {
			fmt.Println("No sessions found.")
			fmt.Println("\nRun 'kotori run' to create your first session.")
			return nil
		}

		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].UserID < sessions[j].UserID
		})

		fmt.Println(renderSessionList(sessions))
		fmt.Printf("\nTotal: %d session(s)\n", len(sessions))
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show [user id]",
	Short: "Inspect a session",
	Long:  `Display the state, pending action, and topic stack of one session. The user ID is the adapter-qualified form, e.g. "cli:local" or "telegram:42".`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID := args[0]
		workspaceID := resolveWorkspaceID(cmd)
		workspaceRootPath := ""
		if cfg != nil {
			workspaceRootPath = cfg.Daemon.WorkspacePath
		}

		sessionsDir, err := store.GetSessionsDir(workspaceID, workspaceRootPath)
		if err != nil {
			return fmt.Errorf("failed to get sessions directory: %w", err)
		}

		sessionPath := filepath.Join(sessionsDir, store.SessionFileName(userID))
		sess, err := readSessionFile(sessionPath)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("no session found for '%s'", userID)
			}
			return fmt.Errorf("failed to read session: %w", err)
		}

		fmt.Println(renderSession(sess))
		return nil
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset [user id]",
	Short: "Reset a session (delete data)",
	Long:  `Delete the stored record for a specific session.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID := args[0]
		workspaceID := resolveWorkspaceID(cmd)
		workspaceRootPath := ""
		if cfg != nil {
			workspaceRootPath = cfg.Daemon.WorkspacePath
		}

		lockPath, err := store.GetLockPath(workspaceID, workspaceRootPath)
		if err != nil {
			return fmt.Errorf("failed to get lock path: %w", err)
		}

		fileLock := flock.New(lockPath)
		locked, err := fileLock.TryLock()
		if err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		if !locked {
			return fmt.Errorf("workspace is locked by another Kotori instance")
		}
		defer fileLock.Unlock()

		sessionsDir, err := store.GetSessionsDir(workspaceID, workspaceRootPath)
		if err != nil {
			return fmt.Errorf("failed to get sessions directory: %w", err)
		}

		sessionPath := filepath.Join(sessionsDir, store.SessionFileName(userID))
		if err := os.Remove(sessionPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete session: %w", err)
		}

		fmt.Printf("✓ Session '%s' reset successfully.\n", userID)
		return nil
	},
}

func readSessionFile(path string) (*dialog.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sess dialog.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func renderSessionList(sessions []*dialog.Session) string {
	purple := lipgloss.Color("99")
	gray := lipgloss.Color("245")
	lightGray := lipgloss.Color("241")

	headerStyle := lipgloss.NewStyle().Foreground(purple).Bold(true).Align(lipgloss.Center).Padding(0, 1)
	oddRowStyle := lipgloss.NewStyle().Foreground(gray).Padding(0, 1)
	evenRowStyle := lipgloss.NewStyle().Foreground(lightGray).Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(purple)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return evenRowStyle
			default:
				return oddRowStyle
			}
		}).
		Headers("User", "State", "Pending", "Topics", "Updated")

	for _, sess := range sessions {
		pending := "-"
		if sess.PendingAction != nil {
			pending = sess.PendingAction.Intent
		}
		updated := "-"
		if !sess.LastUpdatedAt.IsZero() {
			updated = sess.LastUpdatedAt.Format("2006-01-02 15:04")
		}
		t.Row(
			sess.UserID,
			string(sess.State),
			pending,
			fmt.Sprintf("%d", len(sess.TopicStack)),
			updated,
		)
	}

	return t.String()
}

func renderSession(sess *dialog.Session) string {
	purple := lipgloss.Color("99")

	keyStyle := lipgloss.NewStyle().Foreground(purple).Bold(true).Padding(0, 1)
	valStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(purple)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return keyStyle
			}
			return valStyle
		})

	t.Row("User", sess.UserID)
	t.Row("State", string(sess.State))

	if sess.PendingAction != nil {
		t.Row("Pending", sess.PendingAction.Intent)
		var slots []string
		for name, slot := range sess.PendingAction.Slots {
			slots = append(slots, fmt.Sprintf("%s=%s (%s)", name, slot.Value, slot.Source))
		}
		sort.Strings(slots)
		t.Row("Slots", strings.Join(slots, "\n"))
	}

	if len(sess.TopicStack) > 0 {
		var topics []string
		for _, entry := range sess.TopicStack {
			topics = append(topics, fmt.Sprintf("%s: %s", entry.Kind, truncateString(entry.Label, 40)))
		}
		t.Row("Topics", strings.Join(topics, "\n"))
	}

	if sess.LastOutcome != nil {
		t.Row("Last outcome", fmt.Sprintf("%s (%s)", sess.LastOutcome.Intent, sess.LastOutcome.State))
		if sess.LastOutcome.Detail != "" {
			t.Row("Detail", truncateString(sess.LastOutcome.Detail, 60))
		}
	}

	if !sess.LastUpdatedAt.IsZero() {
		t.Row("Updated", sess.LastUpdatedAt.Format("2006-01-02 15:04:05"))
	}

	return t.String()
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func init() {
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionResetCmd)
	sessionCmd.PersistentFlags().StringP("workspace", "w", "", "Target workspace ID")
	rootCmd.AddCommand(sessionCmd)
}
