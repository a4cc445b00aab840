package hook

import (
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Point names one of the nine points a session's execution can be
// intercepted at.
type Point string

const (
	PreToolUse        Point = "PreToolUse"
	PostToolUse       Point = "PostToolUse"
	Stop              Point = "Stop"
	SubagentStop      Point = "SubagentStop"
	SessionStart      Point = "SessionStart"
	SessionEnd        Point = "SessionEnd"
	UserPromptSubmit  Point = "UserPromptSubmit"
	PreCompact        Point = "PreCompact"
	Notification      Point = "Notification"
)

// Context is the single, nil-field-heavy context object passed to every
// handler, the same shape muxd's tools.ToolContext takes for its
// optional PlanMode/session fields — callers populate only the fields
// relevant to Point, handlers must check before reading others.
type Context struct {
	Point       Point
	SessionID   string
	WorkspaceID string

	// PreToolUse / PostToolUse
	ToolCallID    string
	ToolName      string
	ToolArguments map[string]any
	Tool          *mcpsdk.Tool // resolved tool metadata, when the call came through the MCP bridge

	// PostToolUse only
	ToolResult string
	IsError    bool
	Duration   time.Duration

	// Stop / SubagentStop
	StopReason   string
	FinalMessage string

	// UserPromptSubmit
	Prompt string

	// SessionStart / SessionEnd
	Ended bool

	// PreCompact
	CompactTrigger string

	// Notification
	NotificationMessage string
}

// ResultKind enumerates the three handler result variants.
type ResultKind string

const (
	KindContinue ResultKind = "continue"
	KindBlock    ResultKind = "block"
	KindModify   ResultKind = "modify"
)

// Result is a handler's verdict for a single hook point.
type Result struct {
	Kind          ResultKind
	Reason        string         // set on Block
	Modifications map[string]any // set on Modify
	Message       string         // optional on any variant
}

// Continue lets the operation proceed unchanged.
func Continue() Result { return Result{Kind: KindContinue} }

// Block halts the chain; the guarded operation must not proceed.
func Block(reason string) Result { return Result{Kind: KindBlock, Reason: reason} }

// Modify rewrites the shared context for later handlers and the caller.
func Modify(mods map[string]any) Result { return Result{Kind: KindModify, Modifications: mods} }
