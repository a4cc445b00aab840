package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// IsolationMode selects when the Worktree Coordinator isolates a session
// into a sibling checkout instead of running it in the main directory.
type IsolationMode string

const (
	IsolationNever  IsolationMode = "never"
	IsolationLazy   IsolationMode = "lazy"
	IsolationAlways IsolationMode = "always"
)

// Preferences holds the runtime's persistent configuration. Persisted to
// ~/.config/coreagentd/config.json.
type Preferences struct {
	// RPC / daemon
	DaemonBindAddress string `json:"daemon_bind_address,omitempty"`
	DaemonAuthToken   string `json:"daemon_auth_token,omitempty"`

	// Worktree Coordinator
	IsolationMode        IsolationMode `json:"isolation_mode,omitempty"`
	WorktreeBasePath     string        `json:"worktree_base_path,omitempty"` // relative to repo root; default ".worktrees"
	BranchPrefix         string        `json:"branch_prefix,omitempty"`      // default "session/"
	AutoCommitOnRelease  bool          `json:"auto_commit_on_release"`
	DeleteOnRelease      bool          `json:"delete_on_release"`
	PreserveBranches     bool          `json:"preserve_branches"`
	VCSSubprocessTimeout int           `json:"vcs_subprocess_timeout_seconds,omitempty"` // default 30

	// Hook Engine
	DefaultHookTimeoutMillis int `json:"default_hook_timeout_millis,omitempty"` // 0 == unbounded

	// Memory / Handoff / Ledger
	HandoffMinMessages int `json:"handoff_min_messages,omitempty"` // default 4
}

// DefaultPreferences returns the default set of preferences.
func DefaultPreferences() Preferences {
	return Preferences{
		IsolationMode:            IsolationLazy,
		WorktreeBasePath:         ".worktrees",
		BranchPrefix:             "session/",
		AutoCommitOnRelease:      true,
		DeleteOnRelease:          true,
		PreserveBranches:         true,
		VCSSubprocessTimeout:     30,
		DefaultHookTimeoutMillis: 0,
		HandoffMinMessages:       4,
	}
}

// LoadPreferences reads preferences from ~/.config/coreagentd/config.json,
// falling back to defaults when the file is absent or unparsable. A token
// is minted and persisted on first load if none exists yet.
func LoadPreferences() Preferences {
	dir := ConfigDir()
	p := DefaultPreferences()
	if dir == "" {
		return p
	}

	configPath := filepath.Join(dir, "config.json")
	if data, err := os.ReadFile(configPath); err == nil {
		data = stripBOM(data)
		if err := json.Unmarshal(data, &p); err != nil {
			fmt.Fprintf(os.Stderr, "config: parse %s: %v\n", configPath, err)
		}
		warnInsecurePermissions(configPath)
	}

	changed := false
	if p.DaemonAuthToken == "" {
		p.DaemonAuthToken = generateToken()
		changed = true
	}
	if sanitizePreferences(&p) {
		changed = true
	}
	if changed {
		if err := SavePreferences(p); err != nil {
			fmt.Fprintf(os.Stderr, "config: save %s: %v\n", configPath, err)
		}
	}
	return p
}

// SavePreferences writes preferences to ~/.config/coreagentd/config.json
// using an atomic write-temp-then-rename, matching the technique the ledger
// store and the memory package's fact cache both use.
func SavePreferences(p Preferences) error {
	dir := ConfigDir()
	if dir == "" {
		return fmt.Errorf("could not determine config directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	path := filepath.Join(dir, "config.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming temp config: %w", err)
	}
	return nil
}

// ConfigFilePath returns the absolute path to config.json.
func ConfigFilePath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.json")
}

func generateToken() string {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(b[:])
}

// stripBOM removes a UTF-8 BOM prefix if present.
func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

// warnInsecurePermissions prints a warning to stderr if the config file is
// readable by group or others. On Windows, file permission bits don't map
// to ACLs, so the check is skipped.
func warnInsecurePermissions(path string) {
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Mode().Perm()&0o077 != 0 {
		fmt.Fprintf(os.Stderr, "WARNING: %s is readable by others (mode %o). Run: chmod 600 %s\n",
			path, info.Mode().Perm(), path)
	}
}

// sanitizePreferences strips control characters and clamps zero/negative
// numeric fields to their defaults. Returns true if any field was modified.
func sanitizePreferences(p *Preferences) bool {
	changed := false
	sanitize := func(s *string) {
		cleaned := SanitizeValue(*s)
		if cleaned != *s {
			*s = cleaned
			changed = true
		}
	}
	sanitize(&p.DaemonBindAddress)
	sanitize(&p.DaemonAuthToken)
	sanitize(&p.WorktreeBasePath)
	sanitize(&p.BranchPrefix)
	if p.VCSSubprocessTimeout <= 0 {
		p.VCSSubprocessTimeout = 30
		changed = true
	}
	if p.HandoffMinMessages <= 0 {
		p.HandoffMinMessages = 4
		changed = true
	}
	return changed
}

// SanitizeValue strips null bytes, ASCII control characters (< 32 except
// \n and \t), and DEL (0x7F) from a string value and trims surrounding
// whitespace.
func SanitizeValue(s string) string {
	return strings.Map(func(r rune) rune {
		if (r < 32 && r != '\n' && r != '\t') || r == 0x7F {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

// MaskKey masks a secret for display, showing only the last 4 characters.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// ParseBoolish parses a boolean-like string value.
func ParseBoolish(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "on", "yes", "1":
		return true, nil
	case "false", "off", "no", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value: %s (use true/false, on/off, yes/no)", s)
	}
}

// ParseIntOrDefault parses s as an int, returning def on empty or invalid input.
func ParseIntOrDefault(s string, def int) int {
	if strings.TrimSpace(s) == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
