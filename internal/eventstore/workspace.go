package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/coreagent/runtime/internal/domain"
	"github.com/coreagent/runtime/internal/idgen"
)

func createWorkspace(ctx context.Context, q dbtx, path, name string) (*domain.Workspace, error) {
	now := time.Now().UTC()
	ws := &domain.Workspace{
		ID:        idgen.Workspace(),
		Path:      path,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO workspaces (id, path, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		ws.ID, ws.Path, ws.Name, formatTime(ws.CreatedAt), formatTime(ws.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert workspace: %w", err)
	}
	return ws, nil
}

func getWorkspaceByPath(ctx context.Context, q dbtx, path string) (*domain.Workspace, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, path, name, created_at, updated_at FROM workspaces WHERE path = ?`, path)
	return scanWorkspace(row)
}

func getWorkspace(ctx context.Context, q dbtx, id string) (*domain.Workspace, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, path, name, created_at, updated_at FROM workspaces WHERE id = ?`, id)
	return scanWorkspace(row)
}

func listWorkspaces(ctx context.Context, q dbtx) ([]domain.Workspace, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, path, name, created_at, updated_at FROM workspaces ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var out []domain.Workspace
	for rows.Next() {
		var ws domain.Workspace
		var created, updated string
		if err := rows.Scan(&ws.ID, &ws.Path, &ws.Name, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		ws.CreatedAt = parseTime(created)
		ws.UpdatedAt = parseTime(updated)
		out = append(out, ws)
	}
	return out, rows.Err()
}

func scanWorkspace(row *sql.Row) (*domain.Workspace, error) {
	var ws domain.Workspace
	var created, updated string
	if err := row.Scan(&ws.ID, &ws.Path, &ws.Name, &created, &updated); err != nil {
		return nil, err
	}
	ws.CreatedAt = parseTime(created)
	ws.UpdatedAt = parseTime(updated)
	return &ws, nil
}

// CreateWorkspace inserts a new workspace rooted at path.
func (s *Store) CreateWorkspace(ctx context.Context, path, name string) (*domain.Workspace, error) {
	return createWorkspace(ctx, s.db, path, name)
}

// GetWorkspaceByPath returns the workspace rooted at path, or sql.ErrNoRows.
func (s *Store) GetWorkspaceByPath(ctx context.Context, path string) (*domain.Workspace, error) {
	return getWorkspaceByPath(ctx, s.db, path)
}

// GetWorkspace returns a workspace by id.
func (s *Store) GetWorkspace(ctx context.Context, id string) (*domain.Workspace, error) {
	return getWorkspace(ctx, s.db, id)
}

// ListWorkspaces returns all known workspaces, most recently updated first.
func (s *Store) ListWorkspaces(ctx context.Context) ([]domain.Workspace, error) {
	return listWorkspaces(ctx, s.db)
}

// GetOrCreateWorkspace returns the workspace rooted at path, creating it if
// absent. Repeated calls for the same path return the same id.
func (s *Store) GetOrCreateWorkspace(ctx context.Context, path, name string) (*domain.Workspace, error) {
	var result *domain.Workspace
	err := s.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		ws, err := getWorkspaceByPath(ctx, tx.tx, path)
		if err == nil {
			result = ws
			return nil
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("lookup workspace: %w", err)
		}
		ws, err = createWorkspace(ctx, tx.tx, path, name)
		if err != nil {
			return err
		}
		result = ws
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
