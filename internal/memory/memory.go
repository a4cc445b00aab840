// Package memory implements spec §4.6's Memory surface: search(query,
// filters), add(entry), and typed queries over events by type, turn, and
// session. It generalizes muxd's file-backed tools.ProjectMemory (a flat
// string-to-string fact map persisted to .muxd/memory.json) from a
// key-value store into full-text search and typed recall backed by the
// Event Store's FTS5 index, while keeping a ProjectMemory-style JSON file
// per workspace as a fallback structured cache of the facts an agent has
// chosen to pin. Clear deletes that file; clearing a ledger does not.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/coreagent/runtime/internal/domain"
	"github.com/coreagent/runtime/internal/eventstore"
)

// Entry is one piece of recalled memory: either a raw full-text search
// hit or a pinned fact.
type Entry struct {
	EventID   string          `json:"event_id,omitempty"`
	Type      domain.EventType `json:"type,omitempty"`
	Snippet   string          `json:"snippet,omitempty"`
	Score     float64         `json:"score,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

// Filters narrows Search and List to a workspace, session, and/or event type.
type Filters struct {
	WorkspaceID string
	SessionID   string
	Type        domain.EventType
}

// Memory wraps an *eventstore.Store for search and typed recall, plus a
// per-workspace pinned-fact cache file.
type Memory struct {
	store   *eventstore.Store
	cacheMu sync.Mutex
	cacheDir string
}

// New creates a Memory backed by store, caching pinned facts under
// cacheDir (one JSON file per workspace).
func New(store *eventstore.Store, cacheDir string) *Memory {
	return &Memory{store: store, cacheDir: cacheDir}
}

// Search runs a full-text query over indexed events, narrowed by filters.
func (m *Memory) Search(ctx context.Context, query string, filters Filters, limit int) ([]Entry, error) {
	hits, err := m.store.SearchEvents(ctx, query, eventstore.SearchFilters{
		WorkspaceID: filters.WorkspaceID,
		SessionID:   filters.SessionID,
		Type:        filters.Type,
	}, limit)
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	entries := make([]Entry, 0, len(hits))
	for _, h := range hits {
		entries = append(entries, Entry{EventID: h.EventID, Snippet: h.Snippet, Score: h.Score})
	}
	return entries, nil
}

// ByType returns events of a single type within a workspace, optionally
// narrowed to a session, newest first.
func (m *Memory) ByType(ctx context.Context, workspaceID string, eventType domain.EventType, sessionID string, limit int) ([]domain.Event, error) {
	return m.store.ListEventsByType(ctx, workspaceID, eventType, sessionID, limit)
}

// ByTurn returns every event belonging to a given conversational turn
// within a session, in DAG order.
func (m *Memory) ByTurn(ctx context.Context, sessionID string, turn int) ([]domain.Event, error) {
	return m.store.ListEventsByTurn(ctx, sessionID, turn)
}

// BySession returns a session's events ordered by sequence; a positive
// limit keeps only the most recent limit of them.
func (m *Memory) BySession(ctx context.Context, sessionID string, limit int) ([]domain.Event, error) {
	return m.store.ListEventsBySession(ctx, sessionID, limit)
}

// ---------------------------------------------------------------------
// Pinned-fact cache: a .muxd-memory.json-style fallback structured store
// of key/value facts, scoped per workspace and persisted atomically.
// ---------------------------------------------------------------------

type factFile struct {
	Facts map[string]string `json:"facts"`
}

func (m *Memory) factPath(workspaceID string) string {
	return filepath.Join(m.cacheDir, workspaceID+".json")
}

// Add pins a fact (key/value) into the workspace's structured cache.
func (m *Memory) Add(workspaceID, key, value string) error {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	facts, err := m.loadFacts(workspaceID)
	if err != nil {
		return err
	}
	facts[key] = value
	return m.saveFacts(workspaceID, facts)
}

// Remove unpins a fact from the workspace's structured cache.
func (m *Memory) Remove(workspaceID, key string) error {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	facts, err := m.loadFacts(workspaceID)
	if err != nil {
		return err
	}
	delete(facts, key)
	return m.saveFacts(workspaceID, facts)
}

// Facts returns the pinned fact map for a workspace.
func (m *Memory) Facts(workspaceID string) (map[string]string, error) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	return m.loadFacts(workspaceID)
}

// FormatForPrompt renders a workspace's pinned facts as sorted "key:
// value" lines, the same shape muxd's ProjectMemory.FormatForPrompt
// produces for prompt injection.
func (m *Memory) FormatForPrompt(workspaceID string) string {
	facts, err := m.Facts(workspaceID)
	if err != nil || len(facts) == 0 {
		return ""
	}
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, strings.TrimRight(facts[k], " \t"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Clear deletes the pinned-fact cache file for a workspace. The ledger
// store does not call it, so clearing a ledger leaves the cache in place.
func (m *Memory) Clear(workspaceID string) error {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	err := os.Remove(m.factPath(workspaceID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (m *Memory) loadFacts(workspaceID string) (map[string]string, error) {
	data, err := os.ReadFile(m.factPath(workspaceID))
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read memory cache: %w", err)
	}
	var ff factFile
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parse memory cache: %w", err)
	}
	if ff.Facts == nil {
		ff.Facts = map[string]string{}
	}
	return ff.Facts, nil
}

func (m *Memory) saveFacts(workspaceID string, facts map[string]string) error {
	if err := os.MkdirAll(m.cacheDir, 0o700); err != nil {
		return fmt.Errorf("create memory cache dir: %w", err)
	}
	data, err := json.MarshalIndent(factFile{Facts: facts}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memory cache: %w", err)
	}
	path := m.factPath(workspaceID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp memory cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp memory cache: %w", err)
	}
	return nil
}
