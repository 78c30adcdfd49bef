package store

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/harunnryd/kotori/internal/pathutil"
)

// ResolveWorkspaceRootPath resolves configured workspace root path.
// If empty, it falls back to ~/.kotori/workspaces.
func ResolveWorkspaceRootPath(workspaceRootPath string) (string, error) {
	if trimmed := strings.TrimSpace(workspaceRootPath); trimmed != "" {
		return pathutil.Expand(trimmed)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".kotori", "workspaces"), nil
}

// GetWorkspacePath returns the base path for a workspace.
func GetWorkspacePath(workspaceID string, workspaceRootPath string) (string, error) {
	root, err := ResolveWorkspaceRootPath(workspaceRootPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, workspaceID), nil
}

// GetSessionsDir returns the sessions directory for a workspace.
func GetSessionsDir(workspaceID string, workspaceRootPath string) (string, error) {
	base, err := GetWorkspacePath(workspaceID, workspaceRootPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "sessions"), nil
}

// GetLockPath returns the lock file path for a workspace.
func GetLockPath(workspaceID string, workspaceRootPath string) (string, error) {
	base, err := GetWorkspacePath(workspaceID, workspaceRootPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "workspace.lock"), nil
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SessionFileName maps an adapter user ID to a safe file name.
func SessionFileName(userID string) string {
	return unsafePathChars.ReplaceAllString(userID, "_") + ".json"
}
