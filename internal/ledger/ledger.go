// Package ledger is the per-workspace structured progress scratchpad of
// spec §4.6: goal, constraints, done, now, next, decisions, and
// working-files. It is not event-sourced — total-replace semantics,
// persisted as one JSON file per workspace under the data directory's
// ledgers/ subdirectory, using the same write-temp-then-rename atomic
// write config.SavePreferences already uses for config.json. It
// generalizes muxd's tools.TodoList (an in-memory list plumbed through a
// todo_read/todo_write tool pair) into the richer structured document
// spec §4.6 calls for, and its persistence follows muxd's
// ProjectMemory.Save, which already does exactly this write-temp/rename
// dance for its own per-project JSON file.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coreagent/runtime/internal/config"
	"github.com/coreagent/runtime/internal/domain"
)

// Store persists one Ledger per workspace id.
type Store struct {
	mu  sync.Mutex
	dir string
}

// Open returns a Store rooted at <data-dir>/ledgers, creating the
// directory if needed.
func Open() (*Store, error) {
	dataDir, err := config.DataDir()
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	dir := filepath.Join(dataDir, "ledgers")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create ledgers dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// OpenAt returns a Store rooted at an explicit directory, for tests.
func OpenAt(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create ledgers dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(workspaceID string) string {
	return filepath.Join(s.dir, workspaceID+".json")
}

// Get returns the ledger for workspaceID, or a fresh empty one if none
// has been saved yet.
func (s *Store) Get(workspaceID string) (*domain.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(workspaceID)
}

func (s *Store) load(workspaceID string) (*domain.Ledger, error) {
	data, err := os.ReadFile(s.path(workspaceID))
	if os.IsNotExist(err) {
		return &domain.Ledger{WorkspaceID: workspaceID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	var l domain.Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}
	return &l, nil
}

func (s *Store) save(l *domain.Ledger) error {
	l.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	path := s.path(l.WorkspaceID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp ledger: %w", err)
	}
	return nil
}

// mutate loads, applies fn, and saves the ledger for workspaceID under
// the store's lock, so concurrent ledger operations on the same
// workspace never interleave.
func (s *Store) mutate(workspaceID string, fn func(*domain.Ledger)) (*domain.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.load(workspaceID)
	if err != nil {
		return nil, err
	}
	fn(l)
	if err := s.save(l); err != nil {
		return nil, err
	}
	return l, nil
}

// SetGoal replaces the ledger's goal.
func (s *Store) SetGoal(workspaceID, goal string) (*domain.Ledger, error) {
	return s.mutate(workspaceID, func(l *domain.Ledger) { l.Goal = goal })
}

// SetNow replaces the ledger's current-task string.
func (s *Store) SetNow(workspaceID, now string) (*domain.Ledger, error) {
	return s.mutate(workspaceID, func(l *domain.Ledger) { l.Now = now })
}

// CompleteNow moves the current Now string onto the end of Done and
// clears Now.
func (s *Store) CompleteNow(workspaceID string) (*domain.Ledger, error) {
	return s.mutate(workspaceID, func(l *domain.Ledger) {
		if l.Now != "" {
			l.Done = append(l.Done, l.Now)
			l.Now = ""
		}
	})
}

// AddDone appends an entry to Done.
func (s *Store) AddDone(workspaceID, entry string) (*domain.Ledger, error) {
	return s.mutate(workspaceID, func(l *domain.Ledger) { l.Done = append(l.Done, entry) })
}

// AddNext appends an entry to Next.
func (s *Store) AddNext(workspaceID, entry string) (*domain.Ledger, error) {
	return s.mutate(workspaceID, func(l *domain.Ledger) { l.Next = append(l.Next, entry) })
}

// PopNext removes and returns the first entry of Next, promoting it to Now.
// Returns ("", ledger, nil) if Next is empty.
func (s *Store) PopNext(workspaceID string) (string, *domain.Ledger, error) {
	var popped string
	l, err := s.mutate(workspaceID, func(l *domain.Ledger) {
		if len(l.Next) == 0 {
			return
		}
		popped = l.Next[0]
		l.Next = l.Next[1:]
		l.Now = popped
	})
	if err != nil {
		return "", nil, err
	}
	return popped, l, nil
}

// AddDecision appends a {choice, reason} pair to Decisions.
func (s *Store) AddDecision(workspaceID, choice, reason string) (*domain.Ledger, error) {
	return s.mutate(workspaceID, func(l *domain.Ledger) {
		l.Decisions = append(l.Decisions, domain.Decision{Choice: choice, Reason: reason})
	})
}

// AddConstraint appends an entry to Constraints.
func (s *Store) AddConstraint(workspaceID, constraint string) (*domain.Ledger, error) {
	return s.mutate(workspaceID, func(l *domain.Ledger) { l.Constraints = append(l.Constraints, constraint) })
}

// AddWorkingFile adds path to WorkingFiles if not already present.
func (s *Store) AddWorkingFile(workspaceID, path string) (*domain.Ledger, error) {
	return s.mutate(workspaceID, func(l *domain.Ledger) {
		for _, p := range l.WorkingFiles {
			if p == path {
				return
			}
		}
		l.WorkingFiles = append(l.WorkingFiles, path)
	})
}

// RemoveWorkingFile removes path from WorkingFiles, if present.
func (s *Store) RemoveWorkingFile(workspaceID, path string) (*domain.Ledger, error) {
	return s.mutate(workspaceID, func(l *domain.Ledger) {
		out := l.WorkingFiles[:0]
		for _, p := range l.WorkingFiles {
			if p != path {
				out = append(out, p)
			}
		}
		l.WorkingFiles = out
	})
}

// Update partially replaces the ledger with the non-zero fields of patch:
// a set field in patch overwrites the stored value; a nil/zero field
// leaves the stored value untouched. Slice fields replace wholesale when
// non-nil.
func (s *Store) Update(workspaceID string, patch domain.Ledger) (*domain.Ledger, error) {
	return s.mutate(workspaceID, func(l *domain.Ledger) {
		if patch.Goal != "" {
			l.Goal = patch.Goal
		}
		if patch.Now != "" {
			l.Now = patch.Now
		}
		if patch.Constraints != nil {
			l.Constraints = patch.Constraints
		}
		if patch.Done != nil {
			l.Done = patch.Done
		}
		if patch.Next != nil {
			l.Next = patch.Next
		}
		if patch.Decisions != nil {
			l.Decisions = patch.Decisions
		}
		if patch.WorkingFiles != nil {
			l.WorkingFiles = patch.WorkingFiles
		}
	})
}

// Clear resets a workspace's ledger to empty.
func (s *Store) Clear(workspaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(&domain.Ledger{WorkspaceID: workspaceID})
}
