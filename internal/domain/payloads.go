package domain

// Event payload schemas, bit-exact per the external-interfaces contract.
// Each type pairs with the EventType constant of the same name and is
// JSON-marshaled into Event.Payload.

// SessionStartPayload backs EventSessionStart.
type SessionStartPayload struct {
	WorkingDirectory string `json:"workingDirectory"`
	Model            string `json:"model"`
	Provider         string `json:"provider"`
}

// SessionEndPayload backs EventSessionEnd.
type SessionEndPayload struct {
	Reason       string `json:"reason,omitempty"`
	MessageCount int    `json:"messageCount"`
}

// SessionRewindPayload backs EventSessionRewind, the compensating event
// emitted by Session Manager rewind.
type SessionRewindPayload struct {
	ToMessageIndex int `json:"toMessageIndex"`
	RemovedCount   int `json:"removedCount"`
}

// MessageUserPayload backs EventMessageUser.
type MessageUserPayload struct {
	Content string `json:"content"`
	Turn    int    `json:"turn"`
}

// TokenUsage is the token-accounting block inside MessageAssistantPayload.
type TokenUsage struct {
	InputTokens         int `json:"inputTokens"`
	OutputTokens        int `json:"outputTokens"`
	CacheReadTokens      int `json:"cacheReadTokens,omitempty"`
	CacheCreationTokens  int `json:"cacheCreationTokens,omitempty"`
}

// AssistantContentBlock is one element of MessageAssistantPayload.Content.
type AssistantContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// MessageAssistantPayload backs EventMessageAssistant.
type MessageAssistantPayload struct {
	Content    []AssistantContentBlock `json:"content"`
	Turn       int                     `json:"turn"`
	TokenUsage TokenUsage              `json:"tokenUsage"`
	StopReason string                  `json:"stopReason"`
	Model      string                  `json:"model"`
}

// ToolCallPayload backs EventToolCall.
type ToolCallPayload struct {
	ToolCallID string         `json:"toolCallId"`
	Name       string         `json:"name"`
	Arguments  map[string]any `json:"arguments"`
}

// ToolResultPayload backs EventToolResult.
type ToolResultPayload struct {
	ToolCallID string `json:"toolCallId"`
	Result     string `json:"result"`
	IsError    bool   `json:"isError"`
	DurationMS int64  `json:"duration"`
}

// WorktreeAcquiredPayload backs EventWorktreeAcquired.
type WorktreeAcquiredPayload struct {
	Path       string `json:"path"`
	Branch     string `json:"branch"`
	BaseCommit string `json:"baseCommit"`
	Isolated   bool   `json:"isolated"`
	ForkedFrom string `json:"forkedFrom,omitempty"`
}

// WorktreeReleasedPayload backs EventWorktreeReleased.
type WorktreeReleasedPayload struct {
	Path             string `json:"path"`
	Branch           string `json:"branch"`
	FinalCommit      string `json:"finalCommit,omitempty"`
	WorktreeDeleted  bool   `json:"worktreeDeleted"`
	BranchDeleted    bool   `json:"branchDeleted"`
	Deleted          bool   `json:"deleted,omitempty"`
}

// WorktreeCommitPayload backs EventWorktreeCommit.
type WorktreeCommitPayload struct {
	Hash         string   `json:"hash"`
	Message      string   `json:"message"`
	FilesChanged []string `json:"filesChanged"`
	Insertions   int      `json:"insertions"`
	Deletions    int      `json:"deletions"`
}

// WorktreeMergedPayload backs EventWorktreeMerged.
type WorktreeMergedPayload struct {
	Success      bool   `json:"success"`
	Strategy     string `json:"strategy"`
	SourceBranch string `json:"sourceBranch"`
	TargetBranch string `json:"targetBranch"`
	CommitHash   string `json:"commitHash,omitempty"`
	Conflicts    []string `json:"conflicts,omitempty"`
}

// PlanModeEnteredPayload backs EventPlanModeEntered.
type PlanModeEnteredPayload struct {
	SkillName    string   `json:"skillName"`
	BlockedTools []string `json:"blockedTools,omitempty"`
}

// PlanModeExitedPayload backs EventPlanModeExited.
type PlanModeExitedPayload struct {
	Reason   string `json:"reason"`
	PlanPath string `json:"planPath,omitempty"`
}

// TodosUpdatedPayload backs EventTodosUpdated.
type TodosUpdatedPayload struct {
	Todos []TodoItem `json:"todos"`
}

// TodoItem is a single entry in a TodosUpdatedPayload.
type TodoItem struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Status string `json:"status"` // pending|in_progress|completed
}

// LogPayload backs EventLog.
type LogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}
