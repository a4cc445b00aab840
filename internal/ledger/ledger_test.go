package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/coreagent/runtime/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenAt(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func TestGetReturnsEmptyLedgerWhenUnset(t *testing.T) {
	s := newTestStore(t)
	l, err := s.Get("ws_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if l.WorkspaceID != "ws_1" || l.Goal != "" || len(l.Done) != 0 {
		t.Errorf("expected empty ledger, got %+v", l)
	}
}

func TestSetGoalPersists(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.SetGoal("ws_1", "ship the thing"); err != nil {
		t.Fatalf("set goal: %v", err)
	}
	l, err := s.Get("ws_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if l.Goal != "ship the thing" {
		t.Errorf("goal = %q, want %q", l.Goal, "ship the thing")
	}
}

func TestAddDoneAndNextAndPop(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AddNext("ws_1", "write tests"); err != nil {
		t.Fatalf("add next: %v", err)
	}
	if _, err := s.AddNext("ws_1", "write docs"); err != nil {
		t.Fatalf("add next: %v", err)
	}

	popped, l, err := s.PopNext("ws_1")
	if err != nil {
		t.Fatalf("pop next: %v", err)
	}
	if popped != "write tests" {
		t.Errorf("popped = %q, want %q", popped, "write tests")
	}
	if l.Now != "write tests" {
		t.Errorf("now = %q, want %q", l.Now, "write tests")
	}
	if len(l.Next) != 1 || l.Next[0] != "write docs" {
		t.Errorf("next = %+v, want [write docs]", l.Next)
	}

	l2, err := s.CompleteNow("ws_1")
	if err != nil {
		t.Fatalf("complete now: %v", err)
	}
	if l2.Now != "" {
		t.Errorf("now = %q, want empty", l2.Now)
	}
	if len(l2.Done) != 1 || l2.Done[0] != "write tests" {
		t.Errorf("done = %+v, want [write tests]", l2.Done)
	}
}

func TestPopNextOnEmptyIsNoop(t *testing.T) {
	s := newTestStore(t)
	popped, l, err := s.PopNext("ws_1")
	if err != nil {
		t.Fatalf("pop next: %v", err)
	}
	if popped != "" {
		t.Errorf("popped = %q, want empty", popped)
	}
	if l.Now != "" {
		t.Errorf("now = %q, want empty", l.Now)
	}
}

func TestAddDecisionAndConstraint(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AddDecision("ws_1", "use sqlite", "simplest durable option"); err != nil {
		t.Fatalf("add decision: %v", err)
	}
	l, err := s.AddConstraint("ws_1", "no network calls in tests")
	if err != nil {
		t.Fatalf("add constraint: %v", err)
	}
	if len(l.Decisions) != 1 || l.Decisions[0].Choice != "use sqlite" || l.Decisions[0].Reason != "simplest durable option" {
		t.Errorf("decisions = %+v", l.Decisions)
	}
	if len(l.Constraints) != 1 || l.Constraints[0] != "no network calls in tests" {
		t.Errorf("constraints = %+v", l.Constraints)
	}
}

func TestWorkingFilesAddRemoveDedup(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AddWorkingFile("ws_1", "a.go"); err != nil {
		t.Fatalf("add working file: %v", err)
	}
	l, err := s.AddWorkingFile("ws_1", "a.go")
	if err != nil {
		t.Fatalf("add working file again: %v", err)
	}
	if len(l.WorkingFiles) != 1 {
		t.Errorf("expected dedup, got %+v", l.WorkingFiles)
	}
	l, err = s.RemoveWorkingFile("ws_1", "a.go")
	if err != nil {
		t.Fatalf("remove working file: %v", err)
	}
	if len(l.WorkingFiles) != 0 {
		t.Errorf("expected no working files, got %+v", l.WorkingFiles)
	}
}

func TestUpdatePartialReplace(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.SetGoal("ws_1", "original goal"); err != nil {
		t.Fatalf("set goal: %v", err)
	}
	if _, err := s.AddConstraint("ws_1", "c1"); err != nil {
		t.Fatalf("add constraint: %v", err)
	}

	l, err := s.Update("ws_1", domain.Ledger{Now: "doing x"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if l.Goal != "original goal" {
		t.Errorf("goal should be unchanged, got %q", l.Goal)
	}
	if l.Now != "doing x" {
		t.Errorf("now = %q, want %q", l.Now, "doing x")
	}
	if len(l.Constraints) != 1 || l.Constraints[0] != "c1" {
		t.Errorf("constraints should be unchanged, got %+v", l.Constraints)
	}
}

func TestClearResetsToEmpty(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.SetGoal("ws_1", "original goal"); err != nil {
		t.Fatalf("set goal: %v", err)
	}
	if err := s.Clear("ws_1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	l, err := s.Get("ws_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if l.Goal != "" {
		t.Errorf("expected cleared goal, got %q", l.Goal)
	}
}

func TestPersistsAcrossStoreInstances(t *testing.T) {
	dir := t.TempDir()
	s1, err := OpenAt(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s1.SetGoal("ws_1", "persisted goal"); err != nil {
		t.Fatalf("set goal: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "ws_1.json")); err != nil {
		t.Fatalf("expected ledger file on disk: %v", err)
	}

	s2, err := OpenAt(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	l, err := s2.Get("ws_1")
	if err != nil {
		t.Fatalf("get from new store: %v", err)
	}
	if l.Goal != "persisted goal" {
		t.Errorf("goal = %q, want %q", l.Goal, "persisted goal")
	}
}
