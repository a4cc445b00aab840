package session

import (
	"context"
	"database/sql"
	"testing"

	"github.com/coreagent/runtime/internal/domain"
	"github.com/coreagent/runtime/internal/eventstore"

	_ "modernc.org/sqlite"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := eventstore.NewFromDB(context.Background(), db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ws, err := store.CreateWorkspace(context.Background(), "/test", "")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	return New(store), ws.ID
}

func addTurn(t *testing.T, m *Manager, sessionID string, turn int) {
	t.Helper()
	if _, err := m.AddMessage(context.Background(), sessionID, "user", domain.MessageUserPayload{Content: "q", Turn: turn}, 0, false); err != nil {
		t.Fatalf("add user message: %v", err)
	}
	if _, err := m.AddMessage(context.Background(), sessionID, "assistant", domain.MessageAssistantPayload{
		Content:    []domain.AssistantContentBlock{{Type: "text", Text: "a"}},
		Turn:       turn,
		TokenUsage: domain.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}, 0, true); err != nil {
		t.Fatalf("add assistant message: %v", err)
	}
}

func TestCreateGet(t *testing.T) {
	m, wsID := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Create(ctx, wsID, "/proj", "claude-test", "anthropic")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.EventCount != 1 {
		t.Errorf("event count = %d, want 1", sess.EventCount)
	}

	view, err := m.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(view.Messages) != 0 {
		t.Errorf("expected no messages yet, got %d", len(view.Messages))
	}
}

func TestAddMessageCounters(t *testing.T) {
	m, wsID := newTestManager(t)
	ctx := context.Background()
	sess, _ := m.Create(ctx, wsID, "/proj", "claude-test", "anthropic")

	addTurn(t, m, sess.ID, 1)

	view, err := m.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(view.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(view.Messages))
	}
	if view.Session.MessageCount != 2 {
		t.Errorf("message count = %d, want 2", view.Session.MessageCount)
	}
	if view.Session.InputTokens != 10 || view.Session.OutputTokens != 5 {
		t.Errorf("tokens = %d/%d, want 10/5", view.Session.InputTokens, view.Session.OutputTokens)
	}
}

func TestForkAtMessageIndex(t *testing.T) {
	m, wsID := newTestManager(t)
	ctx := context.Background()
	sess, _ := m.Create(ctx, wsID, "/proj", "claude-test", "anthropic")

	addTurn(t, m, sess.ID, 1)
	addTurn(t, m, sess.ID, 2)
	addTurn(t, m, sess.ID, 3)
	// Session now has 6 messages: u1 a1 u2 a2 u3 a3.

	result, err := m.Fork(ctx, sess.ID, 3)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if result.ForkedFrom != sess.ID {
		t.Errorf("forkedFrom = %q, want %q", result.ForkedFrom, sess.ID)
	}
	if result.MessageCount != 3 {
		t.Errorf("messageCount = %d, want 3", result.MessageCount)
	}

	view, err := m.Get(ctx, result.NewSessionID)
	if err != nil {
		t.Fatalf("get fork: %v", err)
	}
	if len(view.Messages) != 3 {
		t.Fatalf("expected 3 messages in fork, got %d", len(view.Messages))
	}
	if view.Session.ParentSessionID != sess.ID {
		t.Errorf("parentSessionID = %q, want %q", view.Session.ParentSessionID, sess.ID)
	}
	if view.Messages[0].Role != "user" || view.Messages[2].Role != "user" {
		t.Errorf("unexpected role ordering: %+v", view.Messages)
	}
}

func TestRewindTruncatesWithoutDeletingEvents(t *testing.T) {
	m, wsID := newTestManager(t)
	ctx := context.Background()
	sess, _ := m.Create(ctx, wsID, "/proj", "claude-test", "anthropic")

	addTurn(t, m, sess.ID, 1)
	addTurn(t, m, sess.ID, 2)
	addTurn(t, m, sess.ID, 3)

	beforeCount, err := m.store.CountEventsBySession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("count before: %v", err)
	}

	result, err := m.Rewind(ctx, sess.ID, 3)
	if err != nil {
		t.Fatalf("rewind: %v", err)
	}
	if result.RemovedCount != 3 {
		t.Errorf("removedCount = %d, want 3", result.RemovedCount)
	}
	if result.NewMessageCount != 3 {
		t.Errorf("newMessageCount = %d, want 3", result.NewMessageCount)
	}

	afterCount, err := m.store.CountEventsBySession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("count after: %v", err)
	}
	if afterCount != beforeCount+1 {
		t.Errorf("event count = %d, want %d (rewind adds one compensating event, never deletes)", afterCount, beforeCount+1)
	}

	view, err := m.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get after rewind: %v", err)
	}
	if len(view.Messages) != 3 {
		t.Errorf("visible messages = %d, want 3", len(view.Messages))
	}
}

func TestRewindPastEndIsNoop(t *testing.T) {
	m, wsID := newTestManager(t)
	ctx := context.Background()
	sess, _ := m.Create(ctx, wsID, "/proj", "claude-test", "anthropic")
	addTurn(t, m, sess.ID, 1)

	result, err := m.Rewind(ctx, sess.ID, 100)
	if err != nil {
		t.Fatalf("rewind: %v", err)
	}
	if result.RemovedCount != 0 {
		t.Errorf("removedCount = %d, want 0", result.RemovedCount)
	}
}

func TestSwitchModelAndEnd(t *testing.T) {
	m, wsID := newTestManager(t)
	ctx := context.Background()
	sess, _ := m.Create(ctx, wsID, "/proj", "claude-test", "anthropic")

	if err := m.SwitchModel(ctx, sess.ID, "claude-other"); err != nil {
		t.Fatalf("switch model: %v", err)
	}
	if err := m.End(ctx, sess.ID, "test complete"); err != nil {
		t.Fatalf("end: %v", err)
	}
	view, err := m.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Session.Model != "claude-other" {
		t.Errorf("model = %q, want claude-other", view.Session.Model)
	}
	if !view.Session.Ended {
		t.Error("expected session to be ended")
	}
}
