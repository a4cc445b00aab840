package eventstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/coreagent/runtime/internal/domain"
	"github.com/coreagent/runtime/internal/idgen"
)

func createBranch(ctx context.Context, q dbtx, sessionID, name, rootEventID, headEventID string, isDefault bool) (*domain.Branch, error) {
	b := &domain.Branch{
		ID:          idgen.Branch(),
		SessionID:   sessionID,
		Name:        name,
		RootEventID: rootEventID,
		HeadEventID: headEventID,
		IsDefault:   isDefault,
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO branches (id, session_id, name, root_event_id, head_event_id, is_default) VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.SessionID, b.Name, b.RootEventID, b.HeadEventID, boolToInt(b.IsDefault))
	if err != nil {
		return nil, fmt.Errorf("insert branch: %w", err)
	}
	return b, nil
}

func getBranch(ctx context.Context, q dbtx, id string) (*domain.Branch, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, session_id, name, root_event_id, head_event_id, is_default FROM branches WHERE id = ?`, id)
	return scanBranch(row)
}

func listBranchesBySession(ctx context.Context, q dbtx, sessionID string) ([]domain.Branch, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, session_id, name, root_event_id, head_event_id, is_default FROM branches WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	var out []domain.Branch
	for rows.Next() {
		var b domain.Branch
		var isDefault int
		if err := rows.Scan(&b.ID, &b.SessionID, &b.Name, &b.RootEventID, &b.HeadEventID, &isDefault); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		b.IsDefault = isDefault != 0
		out = append(out, b)
	}
	return out, rows.Err()
}

func updateBranchHead(ctx context.Context, q dbtx, branchID, headEventID string) error {
	_, err := q.ExecContext(ctx, `UPDATE branches SET head_event_id = ? WHERE id = ?`, headEventID, branchID)
	return err
}

func scanBranch(row *sql.Row) (*domain.Branch, error) {
	var b domain.Branch
	var isDefault int
	if err := row.Scan(&b.ID, &b.SessionID, &b.Name, &b.RootEventID, &b.HeadEventID, &isDefault); err != nil {
		return nil, err
	}
	b.IsDefault = isDefault != 0
	return &b, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreateBranch creates a named pointer into sessionID's event DAG.
func (s *Store) CreateBranch(ctx context.Context, sessionID, name, rootEventID, headEventID string, isDefault bool) (*domain.Branch, error) {
	return createBranch(ctx, s.db, sessionID, name, rootEventID, headEventID, isDefault)
}

// GetBranch returns a branch by id.
func (s *Store) GetBranch(ctx context.Context, id string) (*domain.Branch, error) {
	return getBranch(ctx, s.db, id)
}

// ListBranchesBySession lists all branches for a session.
func (s *Store) ListBranchesBySession(ctx context.Context, sessionID string) ([]domain.Branch, error) {
	return listBranchesBySession(ctx, s.db, sessionID)
}

// UpdateBranchHead moves a branch's head pointer.
func (s *Store) UpdateBranchHead(ctx context.Context, branchID, headEventID string) error {
	return updateBranchHead(ctx, s.db, branchID, headEventID)
}
