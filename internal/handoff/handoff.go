// Package handoff is a SQLite-backed store of finalized session
// summaries (spec §4.6), kept in its own embedded database file
// (handoffs.db) separate from the event store so a workspace's handoff
// history survives independently of event-log compaction. It is modeled
// on the now-superseded flat CRUD idiom muxd's internal/store used for
// sessions (CreateSession/GetSession/ListSessions), generalized here to
// CreateHandoff/GetHandoff/ListRecentHandoffs/SearchHandoffs/CloseHandoff,
// and reuses the Event Store's FTS5 recipe (a content table plus an
// external-content virtual table kept in sync by triggers) for full-text
// recall over handoff summaries.
package handoff

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/coreagent/runtime/internal/config"
	"github.com/coreagent/runtime/internal/domain"
	"github.com/coreagent/runtime/internal/idgen"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database backing finalized handoffs.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS handoffs (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	workspace_id TEXT NOT NULL DEFAULT '',
	timestamp TEXT NOT NULL,
	summary TEXT NOT NULL,
	code_changes TEXT NOT NULL DEFAULT '[]',
	current_state TEXT NOT NULL DEFAULT '',
	blockers TEXT NOT NULL DEFAULT '[]',
	next_steps TEXT NOT NULL DEFAULT '[]',
	patterns TEXT NOT NULL DEFAULT '[]',
	closed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_handoffs_workspace ON handoffs(workspace_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_handoffs_session ON handoffs(session_id);

CREATE VIRTUAL TABLE IF NOT EXISTS handoffs_fts USING fts5(
	summary, current_state,
	content='handoffs', content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS handoffs_ai AFTER INSERT ON handoffs BEGIN
	INSERT INTO handoffs_fts(rowid, summary, current_state) VALUES (new.rowid, new.summary, new.current_state);
END;
CREATE TRIGGER IF NOT EXISTS handoffs_ad AFTER DELETE ON handoffs BEGIN
	INSERT INTO handoffs_fts(handoffs_fts, rowid, summary, current_state) VALUES ('delete', old.rowid, old.summary, old.current_state);
END;
CREATE TRIGGER IF NOT EXISTS handoffs_au AFTER UPDATE ON handoffs BEGIN
	INSERT INTO handoffs_fts(handoffs_fts, rowid, summary, current_state) VALUES ('delete', old.rowid, old.summary, old.current_state);
	INSERT INTO handoffs_fts(rowid, summary, current_state) VALUES (new.rowid, new.summary, new.current_state);
END;
`

// Open opens (or creates) the handoff database at path.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenDefault opens the handoff store at its default data-directory location.
func OpenDefault() (*Store, error) {
	dir, err := config.DataDir()
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	return Open(filepath.Join(dir, "handoffs.db"))
}

// NewFromDB wraps an existing *sql.DB (used by tests with in-memory databases).
func NewFromDB(db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateHandoff finalizes a session with a structured summary.
func (s *Store) CreateHandoff(ctx context.Context, workspaceID, sessionID, summary string, codeChanges []domain.CodeChange, currentState string, blockers, nextSteps, patterns []string) (*domain.Handoff, error) {
	h := &domain.Handoff{
		ID:           idgen.Handoff(),
		SessionID:    sessionID,
		Timestamp:    time.Now().UTC(),
		Summary:      summary,
		CodeChanges:  codeChanges,
		CurrentState: currentState,
		Blockers:     blockers,
		NextSteps:    nextSteps,
		Patterns:     patterns,
	}
	codeChangesJSON, err := json.Marshal(h.CodeChanges)
	if err != nil {
		return nil, fmt.Errorf("marshal code changes: %w", err)
	}
	blockersJSON, _ := json.Marshal(h.Blockers)
	nextStepsJSON, _ := json.Marshal(h.NextSteps)
	patternsJSON, _ := json.Marshal(h.Patterns)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO handoffs (id, session_id, workspace_id, timestamp, summary, code_changes, current_state, blockers, next_steps, patterns, closed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		h.ID, h.SessionID, workspaceID, formatTime(h.Timestamp), h.Summary, string(codeChangesJSON), h.CurrentState, string(blockersJSON), string(nextStepsJSON), string(patternsJSON))
	if err != nil {
		return nil, fmt.Errorf("insert handoff: %w", err)
	}
	return h, nil
}

const handoffSelect = `SELECT id, session_id, timestamp, summary, code_changes, current_state, blockers, next_steps, patterns, closed FROM handoffs`

func scanHandoff(row interface {
	Scan(dest ...any) error
}) (*domain.Handoff, error) {
	var h domain.Handoff
	var ts, codeChanges, blockers, nextSteps, patterns string
	var closed int
	if err := row.Scan(&h.ID, &h.SessionID, &ts, &h.Summary, &codeChanges, &h.CurrentState, &blockers, &nextSteps, &patterns, &closed); err != nil {
		return nil, err
	}
	h.Timestamp = parseTime(ts)
	h.Closed = closed != 0
	_ = json.Unmarshal([]byte(codeChanges), &h.CodeChanges)
	_ = json.Unmarshal([]byte(blockers), &h.Blockers)
	_ = json.Unmarshal([]byte(nextSteps), &h.NextSteps)
	_ = json.Unmarshal([]byte(patterns), &h.Patterns)
	return &h, nil
}

// GetHandoff returns a handoff by id.
func (s *Store) GetHandoff(ctx context.Context, id string) (*domain.Handoff, error) {
	row := s.db.QueryRowContext(ctx, handoffSelect+` WHERE id = ?`, id)
	return scanHandoff(row)
}

// ListRecentHandoffs returns a workspace's handoffs, newest first, capped
// at limit (0 means no cap).
func (s *Store) ListRecentHandoffs(ctx context.Context, workspaceID string, limit int) ([]domain.Handoff, error) {
	query := handoffSelect + ` WHERE workspace_id = ? ORDER BY timestamp DESC`
	args := []any{workspaceID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list handoffs: %w", err)
	}
	defer rows.Close()
	var out []domain.Handoff
	for rows.Next() {
		h, err := scanHandoff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

// SearchHandoffs runs a full-text query over handoff summaries and
// current-state notes, scoped to a workspace, best bm25 rank first.
func (s *Store) SearchHandoffs(ctx context.Context, workspaceID, query string, limit int) ([]domain.Handoff, error) {
	if limit <= 0 {
		limit = 20
	}
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.id, h.session_id, h.timestamp, h.summary, h.code_changes, h.current_state, h.blockers, h.next_steps, h.patterns, h.closed
		FROM handoffs_fts
		JOIN handoffs h ON h.rowid = handoffs_fts.rowid
		WHERE handoffs_fts MATCH ? AND h.workspace_id = ?
		ORDER BY bm25(handoffs_fts)
		LIMIT ?`, ftsQuery, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("search handoffs: %w", err)
	}
	defer rows.Close()
	var out []domain.Handoff
	for rows.Next() {
		h, err := scanHandoff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

// CloseHandoff marks a handoff as closed (its follow-on work has been
// picked up by a later session).
func (s *Store) CloseHandoff(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE handoffs SET closed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("close handoff: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func buildFTSQuery(query string) string {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return ""
	}
	var parts []string
	for _, w := range words {
		cleaned := strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, w)
		if cleaned != "" {
			parts = append(parts, cleaned+"*")
		}
	}
	return strings.Join(parts, " ")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
