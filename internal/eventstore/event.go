package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coreagent/runtime/internal/coreerr"
	"github.com/coreagent/runtime/internal/domain"
	"github.com/coreagent/runtime/internal/idgen"
)

const eventSelect = `SELECT id, parent_event_id, session_id, workspace_id, timestamp, type, sequence, payload FROM events`

// insertEvent allocates the next sequence number for sessionID, validates
// the parent pointer, and inserts the event and its search index entry in
// one statement set. Cycle/parent validation happens before the insert so
// a rejected event leaves no row behind.
func insertEvent(ctx context.Context, q dbtx, parentEventID, sessionID, workspaceID string, eventType domain.EventType, payload any) (*domain.Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	if parentEventID != "" {
		parent, err := getEvent(ctx, q, parentEventID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, coreerr.InvalidParent(fmt.Sprintf("parent event %s does not exist", parentEventID))
			}
			return nil, fmt.Errorf("lookup parent event: %w", err)
		}
		if parent.SessionID != sessionID {
			return nil, coreerr.InvalidParent(fmt.Sprintf("parent event %s belongs to session %s, not %s", parentEventID, parent.SessionID, sessionID))
		}
		if err := checkNoCycle(ctx, q, parentEventID, sessionID); err != nil {
			return nil, err
		}
	}

	seq, err := nextSequence(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("allocate sequence: %w", err)
	}

	ev := &domain.Event{
		ID:            idgen.Event(),
		ParentEventID: parentEventID,
		SessionID:     sessionID,
		WorkspaceID:   workspaceID,
		Timestamp:     time.Now().UTC(),
		Type:          eventType,
		Sequence:      seq,
		Payload:       data,
	}
	searchText := extractSearchText(eventType, data)

	_, err = q.ExecContext(ctx,
		`INSERT INTO events (id, parent_event_id, session_id, workspace_id, timestamp, type, sequence, payload, search_text)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.ParentEventID, ev.SessionID, ev.WorkspaceID, formatTime(ev.Timestamp), string(ev.Type), ev.Sequence, string(ev.Payload), searchText)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.CodeEvntPersist, coreerr.CategoryEventPersist, true, "insert event", err)
	}
	return ev, nil
}

// checkNoCycle walks the ancestor chain starting at parentEventID,
// rejecting the insert if the chain revisits an id (a cycle) or leaves
// the session (a corrupt cross-session link).
func checkNoCycle(ctx context.Context, q dbtx, parentEventID, sessionID string) error {
	visited := make(map[string]bool)
	cursor := parentEventID
	for cursor != "" {
		if visited[cursor] {
			return coreerr.InvalidParent(fmt.Sprintf("parent chain from %s forms a cycle", parentEventID))
		}
		visited[cursor] = true

		ev, err := getEvent(ctx, q, cursor)
		if err != nil {
			if err == sql.ErrNoRows {
				return coreerr.InvalidParent(fmt.Sprintf("ancestor %s does not exist", cursor))
			}
			return fmt.Errorf("walk ancestors: %w", err)
		}
		if ev.SessionID != sessionID {
			return coreerr.InvalidParent(fmt.Sprintf("ancestor %s belongs to a different session", cursor))
		}
		cursor = ev.ParentEventID
	}
	return nil
}

func nextSequence(ctx context.Context, q dbtx, sessionID string) (int, error) {
	var seq sql.NullInt64
	row := q.QueryRowContext(ctx, `SELECT MAX(sequence) FROM events WHERE session_id = ?`, sessionID)
	if err := row.Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return int(seq.Int64) + 1, nil
}

func getEvent(ctx context.Context, q dbtx, id string) (*domain.Event, error) {
	row := q.QueryRowContext(ctx, eventSelect+` WHERE id = ?`, id)
	return scanEventRow(row)
}

func getEvents(ctx context.Context, q dbtx, ids []string) ([]domain.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := eventSelect + ` WHERE id IN (` + joinPlaceholders(placeholders) + `)`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func getEventsBySession(ctx context.Context, q dbtx, sessionID string) ([]domain.Event, error) {
	rows, err := q.QueryContext(ctx, eventSelect+` WHERE session_id = ? ORDER BY sequence ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get events by session: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func getEventsByType(ctx context.Context, q dbtx, sessionID string, eventType domain.EventType) ([]domain.Event, error) {
	rows, err := q.QueryContext(ctx, eventSelect+` WHERE session_id = ? AND type = ? ORDER BY sequence ASC`, sessionID, string(eventType))
	if err != nil {
		return nil, fmt.Errorf("get events by type: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func getChildren(ctx context.Context, q dbtx, eventID string) ([]domain.Event, error) {
	rows, err := q.QueryContext(ctx, eventSelect+` WHERE parent_event_id = ? ORDER BY sequence ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("get children: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func countEventsBySession(ctx context.Context, q dbtx, sessionID string) (int, error) {
	var n int
	row := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE session_id = ?`, sessionID)
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// getAncestors returns the root-to-self chain for eventID, including the
// event itself. Detects and rejects cycles the same way checkNoCycle
// does on insert, since a cycle could only exist from corrupted state.
func getAncestors(ctx context.Context, q dbtx, eventID string) ([]domain.Event, error) {
	var chain []domain.Event
	visited := make(map[string]bool)
	cursor := eventID
	for cursor != "" {
		if visited[cursor] {
			return nil, coreerr.InvalidParent(fmt.Sprintf("ancestor chain of %s contains a cycle", eventID))
		}
		visited[cursor] = true

		ev, err := getEvent(ctx, q, cursor)
		if err != nil {
			return nil, err
		}
		chain = append(chain, *ev)
		cursor = ev.ParentEventID
	}
	// chain is currently self-to-root; reverse to root-to-self.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func scanEventRow(row *sql.Row) (*domain.Event, error) {
	var ev domain.Event
	var parentID sql.NullString
	var ts, typ, payload string
	if err := row.Scan(&ev.ID, &parentID, &ev.SessionID, &ev.WorkspaceID, &ts, &typ, &ev.Sequence, &payload); err != nil {
		return nil, err
	}
	ev.ParentEventID = parentID.String
	ev.Timestamp = parseTime(ts)
	ev.Type = domain.EventType(typ)
	ev.Payload = []byte(payload)
	return &ev, nil
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	var out []domain.Event
	for rows.Next() {
		var ev domain.Event
		var parentID sql.NullString
		var ts, typ, payload string
		if err := rows.Scan(&ev.ID, &parentID, &ev.SessionID, &ev.WorkspaceID, &ts, &typ, &ev.Sequence, &payload); err != nil {
			return nil, err
		}
		ev.ParentEventID = parentID.String
		ev.Timestamp = parseTime(ts)
		ev.Type = domain.EventType(typ)
		ev.Payload = []byte(payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func getEventsByWorkspaceType(ctx context.Context, q dbtx, workspaceID string, eventType domain.EventType, sessionID string, limit int) ([]domain.Event, error) {
	query := eventSelect + ` WHERE workspace_id = ? AND type = ?`
	args := []any{workspaceID, string(eventType)}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get events by workspace/type: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func joinPlaceholders(p []string) string {
	out := p[0]
	for _, s := range p[1:] {
		out += "," + s
	}
	return out
}

// InsertEvent appends a new event to sessionID's DAG, allocating its
// sequence number and indexing it for search, in its own transaction.
func (s *Store) InsertEvent(ctx context.Context, parentEventID, sessionID, workspaceID string, eventType domain.EventType, payload any) (*domain.Event, error) {
	var ev *domain.Event
	err := s.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		var err error
		ev, err = insertEvent(ctx, tx.tx, parentEventID, sessionID, workspaceID, eventType, payload)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// GetEvent returns an event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	return getEvent(ctx, s.db, id)
}

// GetEvents returns events matching ids, in no particular order.
func (s *Store) GetEvents(ctx context.Context, ids []string) ([]domain.Event, error) {
	return getEvents(ctx, s.db, ids)
}

// GetEventsBySession returns a session's events ordered by sequence.
func (s *Store) GetEventsBySession(ctx context.Context, sessionID string) ([]domain.Event, error) {
	return getEventsBySession(ctx, s.db, sessionID)
}

// GetEventsByType returns a session's events of a given type, ordered by sequence.
func (s *Store) GetEventsByType(ctx context.Context, sessionID string, eventType domain.EventType) ([]domain.Event, error) {
	return getEventsByType(ctx, s.db, sessionID, eventType)
}

// ListEventsByType returns a workspace's events of a given type, optionally
// narrowed to a session, newest first, for Memory's typed-recall queries.
func (s *Store) ListEventsByType(ctx context.Context, workspaceID string, eventType domain.EventType, sessionID string, limit int) ([]domain.Event, error) {
	return getEventsByWorkspaceType(ctx, s.db, workspaceID, eventType, sessionID, limit)
}

// ListEventsBySession returns up to limit of a session's events, oldest
// first; limit <= 0 means no cap.
func (s *Store) ListEventsBySession(ctx context.Context, sessionID string, limit int) ([]domain.Event, error) {
	events, err := getEventsBySession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// ListEventsByTurn returns every event tagged with the given conversational
// turn number within a session, in DAG order. Only message events carry a
// turn number; other event types are skipped.
func (s *Store) ListEventsByTurn(ctx context.Context, sessionID string, turn int) ([]domain.Event, error) {
	events, err := getEventsBySession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	var out []domain.Event
	for _, ev := range events {
		t, ok := eventTurn(ev)
		if ok && t == turn {
			out = append(out, ev)
		}
	}
	return out, nil
}

func eventTurn(ev domain.Event) (int, bool) {
	switch ev.Type {
	case domain.EventMessageUser:
		var p domain.MessageUserPayload
		if err := json.Unmarshal(ev.Payload, &p); err == nil {
			return p.Turn, true
		}
	case domain.EventMessageAssistant:
		var p domain.MessageAssistantPayload
		if err := json.Unmarshal(ev.Payload, &p); err == nil {
			return p.Turn, true
		}
	}
	return 0, false
}

// GetAncestors returns the root-to-self chain for eventID.
func (s *Store) GetAncestors(ctx context.Context, eventID string) ([]domain.Event, error) {
	return getAncestors(ctx, s.db, eventID)
}

// GetChildren returns the direct children of eventID.
func (s *Store) GetChildren(ctx context.Context, eventID string) ([]domain.Event, error) {
	return getChildren(ctx, s.db, eventID)
}

// CountEventsBySession returns the number of events recorded for a session.
func (s *Store) CountEventsBySession(ctx context.Context, sessionID string) (int, error) {
	return countEventsBySession(ctx, s.db, sessionID)
}

// NextSequence returns the sequence number the next inserted event for
// sessionID would receive.
func (s *Store) NextSequence(ctx context.Context, sessionID string) (int, error) {
	return nextSequence(ctx, s.db, sessionID)
}

// Tx-scoped mirrors.

func (tx *Tx) InsertEvent(ctx context.Context, parentEventID, sessionID, workspaceID string, eventType domain.EventType, payload any) (*domain.Event, error) {
	return insertEvent(ctx, tx.tx, parentEventID, sessionID, workspaceID, eventType, payload)
}

func (tx *Tx) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	return getEvent(ctx, tx.tx, id)
}

func (tx *Tx) GetAncestors(ctx context.Context, eventID string) ([]domain.Event, error) {
	return getAncestors(ctx, tx.tx, eventID)
}
