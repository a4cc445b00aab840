package handoff

import (
	"context"
	"database/sql"
	"testing"

	"github.com/coreagent/runtime/internal/domain"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := NewFromDB(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestCreateAndGetHandoff(t *testing.T) {
	s := newTestStore(t)
	h, err := s.CreateHandoff(context.Background(), "ws_1", "sess_1", "implemented retry backoff",
		[]domain.CodeChange{{File: "retry.go", Description: "added exponential backoff"}},
		"tests passing", []string{"flaky integration test"}, []string{"add jitter"}, []string{"use context for cancellation"})
	if err != nil {
		t.Fatalf("create handoff: %v", err)
	}
	if h.ID == "" {
		t.Fatal("expected non-empty id")
	}

	got, err := s.GetHandoff(context.Background(), h.ID)
	if err != nil {
		t.Fatalf("get handoff: %v", err)
	}
	if got.Summary != "implemented retry backoff" {
		t.Errorf("summary = %q, want %q", got.Summary, "implemented retry backoff")
	}
	if len(got.CodeChanges) != 1 || got.CodeChanges[0].File != "retry.go" {
		t.Errorf("code changes = %+v", got.CodeChanges)
	}
	if got.Closed {
		t.Error("expected new handoff to be open")
	}
}

func TestListRecentHandoffsOrdersNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateHandoff(ctx, "ws_1", "sess_1", "first", nil, "", nil, nil, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateHandoff(ctx, "ws_1", "sess_2", "second", nil, "", nil, nil, nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	list, err := s.ListRecentHandoffs(ctx, "ws_1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 handoffs, got %d", len(list))
	}
	if list[0].Summary != "second" {
		t.Errorf("expected newest first, got %q", list[0].Summary)
	}
}

func TestSearchHandoffsFindsSummaryText(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateHandoff(ctx, "ws_1", "sess_1", "migrated database schema to use UUID keys", nil, "", nil, nil, nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	hits, err := s.SearchHandoffs(ctx, "ws_1", "UUID", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
}

func TestCloseHandoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	h, err := s.CreateHandoff(ctx, "ws_1", "sess_1", "summary", nil, "", nil, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.CloseHandoff(ctx, h.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	got, err := s.GetHandoff(ctx, h.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Closed {
		t.Error("expected handoff to be closed")
	}
}

func TestCloseHandoffUnknownID(t *testing.T) {
	s := newTestStore(t)
	if err := s.CloseHandoff(context.Background(), "ho_nonexistent"); err != sql.ErrNoRows {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}
