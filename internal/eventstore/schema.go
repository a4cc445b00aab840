package eventstore

import (
	"context"
	"fmt"

	"github.com/coreagent/runtime/internal/coreerr"
)

// supportedSchemaVersion is the highest schema version this binary
// understands. initialize refuses to open a database stamped with a
// newer version.
const supportedSchemaVersion = 1

type migration struct {
	version int
	sql     string
}

// migrations is applied in order inside initialize, each wrapped in its
// own transaction and recorded in schema_version once it succeeds.
var migrations = []migration{
	{
		version: 1,
		sql: `
			CREATE TABLE IF NOT EXISTS workspaces (
				id TEXT PRIMARY KEY,
				path TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
				updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
			);

			CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
				working_dir TEXT NOT NULL DEFAULT '',
				model TEXT NOT NULL DEFAULT '',
				provider TEXT NOT NULL DEFAULT '',
				head_event_id TEXT NOT NULL DEFAULT '',
				ended INTEGER NOT NULL DEFAULT 0,
				event_count INTEGER NOT NULL DEFAULT 0,
				message_count INTEGER NOT NULL DEFAULT 0,
				input_tokens INTEGER NOT NULL DEFAULT 0,
				output_tokens INTEGER NOT NULL DEFAULT 0,
				parent_session_id TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
				updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
			);
			CREATE INDEX IF NOT EXISTS idx_sessions_workspace ON sessions(workspace_id, ended);

			CREATE TABLE IF NOT EXISTS events (
				id TEXT PRIMARY KEY,
				parent_event_id TEXT NOT NULL DEFAULT '',
				session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
				timestamp TEXT NOT NULL,
				type TEXT NOT NULL,
				sequence INTEGER NOT NULL,
				payload TEXT NOT NULL,
				search_text TEXT NOT NULL DEFAULT '',
				UNIQUE(session_id, sequence)
			);
			CREATE INDEX IF NOT EXISTS idx_events_session_seq ON events(session_id, sequence);
			CREATE INDEX IF NOT EXISTS idx_events_parent ON events(parent_event_id);
			CREATE INDEX IF NOT EXISTS idx_events_type ON events(session_id, type);

			CREATE TABLE IF NOT EXISTS blobs (
				id TEXT PRIMARY KEY,
				hash TEXT NOT NULL UNIQUE,
				content BLOB NOT NULL,
				length INTEGER NOT NULL,
				ref_count INTEGER NOT NULL DEFAULT 0
			);

			CREATE TABLE IF NOT EXISTS branches (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				name TEXT NOT NULL,
				root_event_id TEXT NOT NULL,
				head_event_id TEXT NOT NULL,
				is_default INTEGER NOT NULL DEFAULT 0,
				UNIQUE(session_id, name)
			);
			CREATE INDEX IF NOT EXISTS idx_branches_session ON branches(session_id);

			CREATE VIRTUAL TABLE IF NOT EXISTS events_fts USING fts5(
				search_text,
				id UNINDEXED,
				session_id UNINDEXED,
				workspace_id UNINDEXED,
				type UNINDEXED,
				content='events',
				content_rowid='rowid'
			);

			CREATE TRIGGER IF NOT EXISTS events_ai AFTER INSERT ON events BEGIN
				INSERT INTO events_fts(rowid, search_text, id, session_id, workspace_id, type)
				VALUES (NEW.rowid, NEW.search_text, NEW.id, NEW.session_id, NEW.workspace_id, NEW.type);
			END;

			CREATE TRIGGER IF NOT EXISTS events_ad AFTER DELETE ON events BEGIN
				INSERT INTO events_fts(events_fts, rowid, search_text, id, session_id, workspace_id, type)
				VALUES ('delete', OLD.rowid, OLD.search_text, OLD.id, OLD.session_id, OLD.workspace_id, OLD.type);
			END;

			CREATE TRIGGER IF NOT EXISTS events_au AFTER UPDATE ON events BEGIN
				INSERT INTO events_fts(events_fts, rowid, search_text, id, session_id, workspace_id, type)
				VALUES ('delete', OLD.rowid, OLD.search_text, OLD.id, OLD.session_id, OLD.workspace_id, OLD.type);
				INSERT INTO events_fts(rowid, search_text, id, session_id, workspace_id, type)
				VALUES (NEW.rowid, NEW.search_text, NEW.id, NEW.session_id, NEW.workspace_id, NEW.type);
			END;
		`,
	},
}

// initialize is safe to call repeatedly: it creates schema_version if
// missing, refuses to open a database from a newer binary, and applies
// any migrations not yet recorded as applied.
func (s *Store) initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		);
	`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var onDisk int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&onDisk); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if onDisk > supportedSchemaVersion {
		return coreerr.SchemaMismatch(onDisk, supportedSchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= onDisk {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version(version) VALUES (?)`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}
