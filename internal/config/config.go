// Package config resolves on-disk locations for the agent core: the
// config directory (preferences) and the data directory (event store
// database, handoff database, canvas artifacts).
package config

import (
	"os"
	"path/filepath"
)

// appDirName is the directory segment used under the user's config/data
// roots (~/.config/<appDirName>, ~/.local/share/<appDirName>).
const appDirName = "coreagentd"

// configDirOverride, when non-empty, replaces the directory ConfigDir returns.
var configDirOverride string

// ConfigDir returns the config directory for the runtime.
func ConfigDir() string {
	if configDirOverride != "" {
		return configDirOverride
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appDirName)
}

// DataDir returns ~/.local/share/coreagentd, creating it if needed. This is
// where the event store database and the handoff database live; worktree
// checkouts go under each repository's worktree base path instead.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".local", "share", appDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// ArtifactsDir returns <data-dir>/artifacts, creating it if needed. Canvas
// artifacts are persisted one JSON file per id under
// <ArtifactsDir>/canvases/<id>.json.
func ArtifactsDir() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(dataDir, "artifacts")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}
