// Package domain defines the core data model shared by the Event Store,
// Worktree Coordinator, Session Manager, and Memory/Handoff/Ledger
// subsystems: Workspace, Session, Event, Blob, Branch, Ledger, Handoff,
// and WorkingDirectory.
package domain

import "time"

// Workspace is a filesystem root the user works in.
type Workspace struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session is a running or ended agent conversation anchored to a workspace.
type Session struct {
	ID              string    `json:"id"`
	WorkspaceID     string    `json:"workspace_id"`
	WorkingDir      string    `json:"working_dir"`
	Model           string    `json:"model"`
	Provider        string    `json:"provider"`
	HeadEventID     string    `json:"head_event_id,omitempty"`
	Ended           bool      `json:"ended"`
	EventCount      int       `json:"event_count"`
	MessageCount    int       `json:"message_count"`
	InputTokens     int       `json:"input_tokens"`
	OutputTokens    int       `json:"output_tokens"`
	ParentSessionID string    `json:"parent_session_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// EventType tags the enumerated event payload shapes of an Event.
type EventType string

const (
	EventSessionStart      EventType = "session.start"
	EventSessionEnd        EventType = "session.end"
	EventSessionRewind     EventType = "session.rewind"
	EventMessageUser       EventType = "message.user"
	EventMessageAssistant  EventType = "message.assistant"
	EventToolCall          EventType = "tool.call"
	EventToolResult        EventType = "tool.result"
	EventWorktreeAcquired  EventType = "worktree.acquired"
	EventWorktreeReleased  EventType = "worktree.released"
	EventWorktreeCommit    EventType = "worktree.commit"
	EventWorktreeMerged    EventType = "worktree.merged"
	EventPlanModeEntered   EventType = "plan.mode_entered"
	EventPlanModeExited    EventType = "plan.mode_exited"
	EventTodosUpdated      EventType = "todos.updated"
	EventLog               EventType = "log"
)

// Event is the atomic, immutable unit of session history.
type Event struct {
	ID            string    `json:"id"`
	ParentEventID string    `json:"parent_event_id,omitempty"`
	SessionID     string    `json:"session_id"`
	WorkspaceID   string    `json:"workspace_id"`
	Timestamp     time.Time `json:"timestamp"`
	Type          EventType `json:"type"`
	Sequence      int       `json:"sequence"`
	Payload       []byte    `json:"payload"` // JSON-encoded, schema determined by Type
}

// Blob is a large or shareable payload segment, content-addressed by a
// cryptographic hash of its bytes.
type Blob struct {
	ID       string `json:"id"`
	Hash     string `json:"hash"`
	Length   int64  `json:"length"`
	RefCount int    `json:"ref_count"`
}

// Branch is a named moving pointer into a session's event DAG.
type Branch struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	Name        string `json:"name"`
	RootEventID string `json:"root_event_id"`
	HeadEventID string `json:"head_event_id"`
	IsDefault   bool   `json:"is_default"`
}

// WorkingDirectory is a runtime handle bundling the filesystem path,
// branch name, isolation flag, owning session, and base commit produced
// by the Worktree Coordinator.
type WorkingDirectory struct {
	Path         string `json:"path"`
	Branch       string `json:"branch"`
	Isolated     bool   `json:"isolated"`
	SessionID    string `json:"session_id"`
	BaseCommit   string `json:"base_commit"`
}

// Decision is a single entry in a Ledger's decisions list.
type Decision struct {
	Choice string `json:"choice"`
	Reason string `json:"reason"`
}

// Ledger is a per-workspace structured progress document. Not
// event-sourced; persisted as a single structured blob with
// total-replace semantics.
type Ledger struct {
	WorkspaceID   string     `json:"workspace_id"`
	Goal          string     `json:"goal,omitempty"`
	Constraints   []string   `json:"constraints,omitempty"`
	Done          []string   `json:"done,omitempty"`
	Now           string     `json:"now,omitempty"`
	Next          []string   `json:"next,omitempty"`
	Decisions     []Decision `json:"decisions,omitempty"`
	WorkingFiles  []string   `json:"working_files,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CodeChange is a single file-level change recorded in a Handoff.
type CodeChange struct {
	File        string `json:"file"`
	Description string `json:"description"`
}

// Handoff is a finalized summary of a completed session.
type Handoff struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	Timestamp   time.Time    `json:"timestamp"`
	Summary     string       `json:"summary"`
	CodeChanges []CodeChange `json:"code_changes,omitempty"`
	CurrentState string      `json:"current_state,omitempty"`
	Blockers    []string     `json:"blockers,omitempty"`
	NextSteps   []string     `json:"next_steps,omitempty"`
	Patterns    []string     `json:"patterns,omitempty"`
	Closed      bool         `json:"closed"`
}
