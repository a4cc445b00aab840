package memory

import (
	"context"
	"database/sql"
	"testing"

	"github.com/coreagent/runtime/internal/domain"
	"github.com/coreagent/runtime/internal/eventstore"

	_ "modernc.org/sqlite"
)

func newTestMemory(t *testing.T) (*Memory, string) {
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
	sess, err := store.CreateSession(context.Background(), ws.ID, "/test", "m", "p", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if _, err := store.InsertEvent(context.Background(), "", sess.ID, ws.ID, domain.EventMessageUser, domain.MessageUserPayload{
		Content: "how do I configure the retry backoff", Turn: 1,
	}); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	if _, err := store.InsertEvent(context.Background(), "", sess.ID, ws.ID, domain.EventMessageAssistant, domain.MessageAssistantPayload{
		Content: []domain.AssistantContentBlock{{Type: "text", Text: "use exponential backoff with jitter"}}, Turn: 1,
	}); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	return New(store, t.TempDir()), ws.ID
}

func TestSearchFindsIndexedText(t *testing.T) {
	m, wsID := newTestMemory(t)
	hits, err := m.Search(context.Background(), "backoff", Filters{WorkspaceID: wsID}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit for 'backoff'")
	}
}

func TestByTypeAndByTurn(t *testing.T) {
	m, wsID := newTestMemory(t)
	events, err := m.ByType(context.Background(), wsID, domain.EventMessageUser, "", 10)
	if err != nil {
		t.Fatalf("by type: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 user message event, got %d", len(events))
	}

	turnEvents, err := m.ByTurn(context.Background(), events[0].SessionID, 1)
	if err != nil {
		t.Fatalf("by turn: %v", err)
	}
	if len(turnEvents) != 2 {
		t.Errorf("expected 2 events in turn 1, got %d", len(turnEvents))
	}
}

func TestAddFactsAndFormatForPrompt(t *testing.T) {
	m, wsID := newTestMemory(t)
	if err := m.Add(wsID, "auth", "uses JWT bearer tokens"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.Add(wsID, "database", "postgres via sqlx"); err != nil {
		t.Fatalf("add: %v", err)
	}

	formatted := m.FormatForPrompt(wsID)
	want := "auth: uses JWT bearer tokens\ndatabase: postgres via sqlx"
	if formatted != want {
		t.Errorf("formatted = %q, want %q", formatted, want)
	}

	if err := m.Remove(wsID, "auth"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	facts, err := m.Facts(wsID)
	if err != nil {
		t.Fatalf("facts: %v", err)
	}
	if _, ok := facts["auth"]; ok {
		t.Error("expected auth fact to be removed")
	}
}

func TestClearRemovesFactCache(t *testing.T) {
	m, wsID := newTestMemory(t)
	if err := m.Add(wsID, "k", "v"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.Clear(wsID); err != nil {
		t.Fatalf("clear: %v", err)
	}
	facts, err := m.Facts(wsID)
	if err != nil {
		t.Fatalf("facts: %v", err)
	}
	if len(facts) != 0 {
		t.Errorf("expected empty facts after clear, got %+v", facts)
	}
}
