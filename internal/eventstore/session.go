package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/coreagent/runtime/internal/coreerr"
	"github.com/coreagent/runtime/internal/domain"
	"github.com/coreagent/runtime/internal/idgen"
)

func createSession(ctx context.Context, q dbtx, workspaceID, workingDir, model, provider, parentSessionID string) (*domain.Session, error) {
	now := time.Now().UTC()
	sess := &domain.Session{
		ID:              idgen.Session(),
		WorkspaceID:     workspaceID,
		WorkingDir:      workingDir,
		Model:           model,
		Provider:        provider,
		ParentSessionID: parentSessionID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO sessions (id, workspace_id, working_dir, model, provider, parent_session_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.WorkspaceID, sess.WorkingDir, sess.Model, sess.Provider, sess.ParentSessionID,
		formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

func getSession(ctx context.Context, q dbtx, id string) (*domain.Session, error) {
	row := q.QueryRowContext(ctx, sessionSelect+` WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, coreerr.SessionNotFound(id)
	}
	return sess, err
}

const sessionSelect = `SELECT id, workspace_id, working_dir, model, provider, head_event_id, ended,
	event_count, message_count, input_tokens, output_tokens, parent_session_id, created_at, updated_at
	FROM sessions`

func listSessionsByWorkspace(ctx context.Context, q dbtx, workspaceID string, includeEnded bool) ([]domain.Session, error) {
	query := sessionSelect + ` WHERE workspace_id = ?`
	args := []any{workspaceID}
	if !includeEnded {
		query += ` AND ended = 0`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func updateSessionHead(ctx context.Context, q dbtx, sessionID, headEventID string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE sessions SET head_event_id = ?, updated_at = ? WHERE id = ?`,
		headEventID, formatTime(time.Now()), sessionID)
	if err != nil {
		return fmt.Errorf("update session head: %w", err)
	}
	return mustAffect(res, sessionID)
}

func markSessionEnded(ctx context.Context, q dbtx, sessionID string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE sessions SET ended = 1, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), sessionID)
	if err != nil {
		return fmt.Errorf("mark session ended: %w", err)
	}
	return mustAffect(res, sessionID)
}

func updateSessionModel(ctx context.Context, q dbtx, sessionID, model string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE sessions SET model = ?, updated_at = ? WHERE id = ?`,
		model, formatTime(time.Now()), sessionID)
	if err != nil {
		return fmt.Errorf("update session model: %w", err)
	}
	return mustAffect(res, sessionID)
}

// incrementSessionCounters atomically adds to a session's four numeric
// counters. Negative deltas are permitted for compensating adjustments
// (e.g. rewind).
func incrementSessionCounters(ctx context.Context, q dbtx, sessionID string, eventDelta, messageDelta, inputDelta, outputDelta int) error {
	res, err := q.ExecContext(ctx,
		`UPDATE sessions SET event_count = event_count + ?, message_count = message_count + ?,
		 input_tokens = input_tokens + ?, output_tokens = output_tokens + ?, updated_at = ?
		 WHERE id = ?`,
		eventDelta, messageDelta, inputDelta, outputDelta, formatTime(time.Now()), sessionID)
	if err != nil {
		return fmt.Errorf("increment session counters: %w", err)
	}
	return mustAffect(res, sessionID)
}

func findSessionByPrefix(ctx context.Context, q dbtx, prefix string) (*domain.Session, error) {
	row := q.QueryRowContext(ctx, sessionSelect+` WHERE id LIKE ? || '%' ORDER BY updated_at DESC LIMIT 1`, prefix)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, coreerr.SessionNotFound(prefix)
	}
	return sess, err
}

func deleteSession(ctx context.Context, q dbtx, sessionID string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return mustAffect(res, sessionID)
}

func mustAffect(res sql.Result, sessionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return coreerr.SessionNotFound(sessionID)
	}
	return nil
}

func scanSession(row *sql.Row) (*domain.Session, error) {
	var sess domain.Session
	var headEventID sql.NullString
	var ended int
	var created, updated string
	err := row.Scan(&sess.ID, &sess.WorkspaceID, &sess.WorkingDir, &sess.Model, &sess.Provider,
		&headEventID, &ended, &sess.EventCount, &sess.MessageCount, &sess.InputTokens, &sess.OutputTokens,
		&sess.ParentSessionID, &created, &updated)
	if err != nil {
		return nil, err
	}
	sess.HeadEventID = headEventID.String
	sess.Ended = ended != 0
	sess.CreatedAt = parseTime(created)
	sess.UpdatedAt = parseTime(updated)
	return &sess, nil
}

func scanSessionRows(rows *sql.Rows) (*domain.Session, error) {
	var sess domain.Session
	var headEventID sql.NullString
	var ended int
	var created, updated string
	err := rows.Scan(&sess.ID, &sess.WorkspaceID, &sess.WorkingDir, &sess.Model, &sess.Provider,
		&headEventID, &ended, &sess.EventCount, &sess.MessageCount, &sess.InputTokens, &sess.OutputTokens,
		&sess.ParentSessionID, &created, &updated)
	if err != nil {
		return nil, err
	}
	sess.HeadEventID = headEventID.String
	sess.Ended = ended != 0
	sess.CreatedAt = parseTime(created)
	sess.UpdatedAt = parseTime(updated)
	return &sess, nil
}

// CreateSession inserts a new session into workspaceID.
func (s *Store) CreateSession(ctx context.Context, workspaceID, workingDir, model, provider, parentSessionID string) (*domain.Session, error) {
	return createSession(ctx, s.db, workspaceID, workingDir, model, provider, parentSessionID)
}

// GetSession returns a session by id, or a SESSION_NOT_FOUND error.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return getSession(ctx, s.db, id)
}

// ListSessionsByWorkspace lists sessions in a workspace, optionally
// including ended ones.
func (s *Store) ListSessionsByWorkspace(ctx context.Context, workspaceID string, includeEnded bool) ([]domain.Session, error) {
	return listSessionsByWorkspace(ctx, s.db, workspaceID, includeEnded)
}

// UpdateSessionHead moves a session's head-event pointer.
func (s *Store) UpdateSessionHead(ctx context.Context, sessionID, headEventID string) error {
	return updateSessionHead(ctx, s.db, sessionID, headEventID)
}

// MarkSessionEnded flags a session as ended.
func (s *Store) MarkSessionEnded(ctx context.Context, sessionID string) error {
	return markSessionEnded(ctx, s.db, sessionID)
}

// IncrementSessionCounters atomically adjusts a session's counters.
func (s *Store) IncrementSessionCounters(ctx context.Context, sessionID string, eventDelta, messageDelta, inputDelta, outputDelta int) error {
	return incrementSessionCounters(ctx, s.db, sessionID, eventDelta, messageDelta, inputDelta, outputDelta)
}

// UpdateSessionModel changes the model a session is using.
func (s *Store) UpdateSessionModel(ctx context.Context, sessionID, model string) error {
	return updateSessionModel(ctx, s.db, sessionID, model)
}

// DeleteSession removes a session and, via ON DELETE CASCADE, every
// event recorded against it. Unlike Rewind's compensating-event
// approach, this is a hard delete: it is for discarding a session
// outright (e.g. an abandoned fork), not for undoing conversation turns.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	return deleteSession(ctx, s.db, sessionID)
}

// FindSessionByPrefix resolves a short id prefix to the most recently
// updated matching session, the way muxd lets callers address a session
// by its first few id characters instead of the full uuid.
func (s *Store) FindSessionByPrefix(ctx context.Context, prefix string) (*domain.Session, error) {
	return findSessionByPrefix(ctx, s.db, prefix)
}

// Tx-scoped mirrors, used to compose a session mutation with an event
// insert inside a single Transaction callback.

func (tx *Tx) CreateSession(ctx context.Context, workspaceID, workingDir, model, provider, parentSessionID string) (*domain.Session, error) {
	return createSession(ctx, tx.tx, workspaceID, workingDir, model, provider, parentSessionID)
}

func (tx *Tx) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return getSession(ctx, tx.tx, id)
}

func (tx *Tx) UpdateSessionHead(ctx context.Context, sessionID, headEventID string) error {
	return updateSessionHead(ctx, tx.tx, sessionID, headEventID)
}

func (tx *Tx) MarkSessionEnded(ctx context.Context, sessionID string) error {
	return markSessionEnded(ctx, tx.tx, sessionID)
}

func (tx *Tx) IncrementSessionCounters(ctx context.Context, sessionID string, eventDelta, messageDelta, inputDelta, outputDelta int) error {
	return incrementSessionCounters(ctx, tx.tx, sessionID, eventDelta, messageDelta, inputDelta, outputDelta)
}

func (tx *Tx) UpdateSessionModel(ctx context.Context, sessionID, model string) error {
	return updateSessionModel(ctx, tx.tx, sessionID, model)
}
