// Package session is the Session Manager: the session-level operations
// layered above the raw Event Store (spec §4.5) — create, get (with an
// event-reconstructed message view), list, add-message, end, fork,
// rewind, and switch-model. It generalizes muxd's store.BranchSession,
// which forks by sequence cutoff within a single flat messages table,
// into a fork/rewind pair that operates on the Event Store's DAG instead.
package session

import (
	"context"
	"fmt"

	"github.com/coreagent/runtime/internal/coreerr"
	"github.com/coreagent/runtime/internal/domain"
	"github.com/coreagent/runtime/internal/eventstore"
	"github.com/coreagent/runtime/internal/hook"
)

// Manager wraps an *eventstore.Store with session-level operations. Like
// worktree.Coordinator, it is a plain owning struct with no package-level
// state.
type Manager struct {
	store *eventstore.Store
	hooks *hook.Engine
}

// New creates a Manager backed by store.
func New(store *eventstore.Store) *Manager {
	return &Manager{store: store}
}

// SetHooks wires the Hook Engine the Manager fires SessionStart,
// SessionEnd, UserPromptSubmit, Stop, and SubagentStop against as
// sessions are created, messaged, and ended. Optional — a Manager with
// no hooks engine fires nothing, the same nil-is-disabled convention
// the worktree.Coordinator's event sink follows.
func (m *Manager) SetHooks(he *hook.Engine) {
	m.hooks = he
}

// View is a session plus its reconstructed message list, the shape
// returned by Get.
type View struct {
	Session  domain.Session
	Messages []Message
}

// Create starts a new session in workspaceID, inserting a session.start
// event as its first event.
func (m *Manager) Create(ctx context.Context, workspaceID, workingDir, model, provider string) (*domain.Session, error) {
	var sess *domain.Session
	err := m.store.Transaction(ctx, func(ctx context.Context, tx *eventstore.Tx) error {
		var err error
		sess, err = tx.CreateSession(ctx, workspaceID, workingDir, model, provider, "")
		if err != nil {
			return err
		}
		ev, err := tx.InsertEvent(ctx, "", sess.ID, workspaceID, domain.EventSessionStart, domain.SessionStartPayload{
			WorkingDirectory: workingDir, Model: model, Provider: provider,
		})
		if err != nil {
			return fmt.Errorf("insert session.start event: %w", err)
		}
		if err := tx.UpdateSessionHead(ctx, sess.ID, ev.ID); err != nil {
			return err
		}
		if err := tx.IncrementSessionCounters(ctx, sess.ID, 1, 0, 0, 0); err != nil {
			return err
		}
		sess.HeadEventID = ev.ID
		sess.EventCount = 1
		return nil
	})
	if err != nil {
		return nil, err
	}
	if m.hooks != nil {
		m.hooks.Fire(ctx, &hook.Context{Point: hook.SessionStart, SessionID: sess.ID, WorkspaceID: workspaceID})
	}
	return sess, nil
}

// Get returns a session along with its reconstructed message view.
func (m *Manager) Get(ctx context.Context, sessionID string) (*View, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := m.messages(ctx, sess)
	if err != nil {
		return nil, err
	}
	return &View{Session: *sess, Messages: msgs}, nil
}

func (m *Manager) messages(ctx context.Context, sess *domain.Session) ([]Message, error) {
	if sess.HeadEventID == "" {
		return nil, nil
	}
	events, err := m.store.GetAncestors(ctx, sess.HeadEventID)
	if err != nil {
		return nil, fmt.Errorf("walk ancestors: %w", err)
	}
	return messagesFromEvents(events)
}

// List returns the sessions in a workspace, optionally including ended ones.
func (m *Manager) List(ctx context.Context, workspaceID string, includeEnded bool) ([]domain.Session, error) {
	return m.store.ListSessionsByWorkspace(ctx, workspaceID, includeEnded)
}

// AddMessage appends a user or assistant message event, chained onto the
// session's current head, and atomically bumps its counters. role must be
// "user" or "assistant".
func (m *Manager) AddMessage(ctx context.Context, sessionID, role string, payload any, tokenDelta int, isAssistant bool) (*domain.Event, error) {
	var ev *domain.Event
	var workspaceID, parentSessionID string
	err := m.store.Transaction(ctx, func(ctx context.Context, tx *eventstore.Tx) error {
		sess, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		workspaceID, parentSessionID = sess.WorkspaceID, sess.ParentSessionID
		eventType := domain.EventMessageUser
		if isAssistant {
			eventType = domain.EventMessageAssistant
		}
		ev, err = tx.InsertEvent(ctx, sess.HeadEventID, sessionID, sess.WorkspaceID, eventType, payload)
		if err != nil {
			return err
		}
		if err := tx.UpdateSessionHead(ctx, sessionID, ev.ID); err != nil {
			return err
		}
		inputDelta, outputDelta := 0, 0
		if isAssistant {
			if p, ok := payload.(domain.MessageAssistantPayload); ok {
				inputDelta = p.TokenUsage.InputTokens
				outputDelta = p.TokenUsage.OutputTokens
			}
		}
		return tx.IncrementSessionCounters(ctx, sessionID, 1, 1, inputDelta, outputDelta)
	})
	if err != nil {
		return nil, err
	}
	m.fireMessageHook(ctx, sessionID, workspaceID, parentSessionID, isAssistant, payload)
	return ev, nil
}

// fireMessageHook runs UserPromptSubmit for a user turn, or Stop (Subagent-
// Stop for a forked session) for an assistant turn, after the message
// event has committed. A forked session (ParentSessionID set) stands in
// for the "subagent" half of Stop/SubagentStop: this runtime has no
// separate subagent concept, so a fork's own turns are the closest
// analog to a subagent's completions.
func (m *Manager) fireMessageHook(ctx context.Context, sessionID, workspaceID, parentSessionID string, isAssistant bool, payload any) {
	if m.hooks == nil {
		return
	}
	if !isAssistant {
		var prompt string
		if p, ok := payload.(domain.MessageUserPayload); ok {
			prompt = p.Content
		}
		m.hooks.Fire(ctx, &hook.Context{
			Point: hook.UserPromptSubmit, SessionID: sessionID, WorkspaceID: workspaceID, Prompt: prompt,
		})
		return
	}
	point := hook.Stop
	if parentSessionID != "" {
		point = hook.SubagentStop
	}
	var stopReason, finalMessage string
	if p, ok := payload.(domain.MessageAssistantPayload); ok {
		stopReason = p.StopReason
		finalMessage = flattenAssistantText(p.Content)
	}
	m.hooks.Fire(ctx, &hook.Context{
		Point: point, SessionID: sessionID, WorkspaceID: workspaceID, StopReason: stopReason, FinalMessage: finalMessage,
	})
}

// AppendTyped records an arbitrary event type chained onto the session
// head, for event types the Session Manager doesn't otherwise have a
// dedicated method for (plan-mode transitions, todos updates).
func (m *Manager) AppendTyped(ctx context.Context, sessionID string, eventType domain.EventType, payload any) (*domain.Event, error) {
	return m.appendEvent(ctx, sessionID, eventType, payload)
}

// AppendToolCall records a tool.call event chained onto the session head.
func (m *Manager) AppendToolCall(ctx context.Context, sessionID string, payload domain.ToolCallPayload) (*domain.Event, error) {
	return m.appendEvent(ctx, sessionID, domain.EventToolCall, payload)
}

// AppendToolResult records a tool.result event chained onto the session head.
func (m *Manager) AppendToolResult(ctx context.Context, sessionID string, payload domain.ToolResultPayload) (*domain.Event, error) {
	return m.appendEvent(ctx, sessionID, domain.EventToolResult, payload)
}

func (m *Manager) appendEvent(ctx context.Context, sessionID string, eventType domain.EventType, payload any) (*domain.Event, error) {
	var ev *domain.Event
	err := m.store.Transaction(ctx, func(ctx context.Context, tx *eventstore.Tx) error {
		sess, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		ev, err = tx.InsertEvent(ctx, sess.HeadEventID, sessionID, sess.WorkspaceID, eventType, payload)
		if err != nil {
			return err
		}
		if err := tx.UpdateSessionHead(ctx, sessionID, ev.ID); err != nil {
			return err
		}
		return tx.IncrementSessionCounters(ctx, sessionID, 1, 0, 0, 0)
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// End marks a session ended: it inserts a session.end event recording
// the reason and final message count, moves the session head to it,
// flips the ended flag, and fires SessionEnd once the transaction
// commits. Callers (methods.registerSessionMethods) create the handoff
// and release the worktree after End returns without error.
func (m *Manager) End(ctx context.Context, sessionID, reason string) error {
	var workspaceID string
	err := m.store.Transaction(ctx, func(ctx context.Context, tx *eventstore.Tx) error {
		sess, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		workspaceID = sess.WorkspaceID
		ev, err := tx.InsertEvent(ctx, sess.HeadEventID, sessionID, sess.WorkspaceID, domain.EventSessionEnd, domain.SessionEndPayload{
			Reason:       reason,
			MessageCount: sess.MessageCount,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateSessionHead(ctx, sessionID, ev.ID); err != nil {
			return err
		}
		return tx.MarkSessionEnded(ctx, sessionID)
	})
	if err != nil {
		return err
	}
	if m.hooks != nil {
		m.hooks.Fire(ctx, &hook.Context{Point: hook.SessionEnd, SessionID: sessionID, WorkspaceID: workspaceID, Ended: true})
	}
	return nil
}

// Delete removes a session and its events outright.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.store.DeleteSession(ctx, sessionID)
}

// SwitchModel changes a session's model identifier.
func (m *Manager) SwitchModel(ctx context.Context, sessionID, model string) error {
	return m.store.UpdateSessionModel(ctx, sessionID, model)
}

// ForkResult is the outcome of Fork.
type ForkResult struct {
	NewSessionID string
	ForkedFrom   string
	MessageCount int
}

// Fork implements spec §4.5's fork contract: materialize the source
// session's message list, take the first fromMessageIndex of them (or
// all, if fromMessageIndex < 0), create a new session whose
// parent-session-id is the source, and replay those messages as events on
// the new session, preserving role and content.
func (m *Manager) Fork(ctx context.Context, sessionID string, fromMessageIndex int) (*ForkResult, error) {
	src, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := m.messages(ctx, src)
	if err != nil {
		return nil, err
	}
	if fromMessageIndex < 0 || fromMessageIndex > len(msgs) {
		fromMessageIndex = len(msgs)
	}
	kept := msgs[:fromMessageIndex]

	var result *ForkResult
	err = m.store.Transaction(ctx, func(ctx context.Context, tx *eventstore.Tx) error {
		newSess, err := tx.CreateSession(ctx, src.WorkspaceID, src.WorkingDir, src.Model, src.Provider, src.ID)
		if err != nil {
			return err
		}
		parentEventID := ""
		inputSum, outputSum := 0, 0
		for _, msg := range kept {
			var ev *domain.Event
			if msg.Role == "assistant" {
				ev, err = tx.InsertEvent(ctx, parentEventID, newSess.ID, src.WorkspaceID, domain.EventMessageAssistant, domain.MessageAssistantPayload{
					Content:    []domain.AssistantContentBlock{{Type: "text", Text: msg.Content}},
					Turn:       msg.Turn,
					TokenUsage: msg.TokenUsage,
					StopReason: msg.StopReason,
					Model:      src.Model,
				})
				inputSum += msg.TokenUsage.InputTokens
				outputSum += msg.TokenUsage.OutputTokens
			} else {
				ev, err = tx.InsertEvent(ctx, parentEventID, newSess.ID, src.WorkspaceID, domain.EventMessageUser, domain.MessageUserPayload{
					Content: msg.Content, Turn: msg.Turn,
				})
			}
			if err != nil {
				return fmt.Errorf("replay message %d: %w", msg.Turn, err)
			}
			parentEventID = ev.ID
		}
		if parentEventID != "" {
			if err := tx.UpdateSessionHead(ctx, newSess.ID, parentEventID); err != nil {
				return err
			}
		}
		if err := tx.IncrementSessionCounters(ctx, newSess.ID, len(kept), len(kept), inputSum, outputSum); err != nil {
			return err
		}
		result = &ForkResult{NewSessionID: newSess.ID, ForkedFrom: src.ID, MessageCount: len(kept)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RewindResult is the outcome of Rewind.
type RewindResult struct {
	SessionID       string
	NewMessageCount int
	RemovedCount    int
}

// Rewind implements spec §4.5's rewind contract: messages at positions
// beyond toMessageIndex are logically removed by emitting a compensating
// session.rewind event and moving the session's head-event pointer back
// to the last retained message event. The DAG is never physically
// truncated. Rewinding to an index at or beyond the current message count
// is a no-op that reports RemovedCount = 0.
func (m *Manager) Rewind(ctx context.Context, sessionID string, toMessageIndex int) (*RewindResult, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	events, err := m.store.GetAncestors(ctx, sess.HeadEventID)
	if err != nil && sess.HeadEventID != "" {
		return nil, fmt.Errorf("walk ancestors: %w", err)
	}

	// Indices, into events, of the message-bearing events in order.
	var messageEventIdx []int
	for i, ev := range events {
		if ev.Type == domain.EventMessageUser || ev.Type == domain.EventMessageAssistant {
			messageEventIdx = append(messageEventIdx, i)
		}
	}

	if toMessageIndex < 0 {
		toMessageIndex = 0
	}
	if toMessageIndex >= len(messageEventIdx) {
		return &RewindResult{SessionID: sessionID, NewMessageCount: len(messageEventIdx), RemovedCount: 0}, nil
	}

	removed := len(messageEventIdx) - toMessageIndex
	var newHead string
	if toMessageIndex == 0 {
		newHead = ""
	} else {
		newHead = events[messageEventIdx[toMessageIndex-1]].ID
	}

	var result *RewindResult
	err = m.store.Transaction(ctx, func(ctx context.Context, tx *eventstore.Tx) error {
		parentForRewind := sess.HeadEventID
		ev, err := tx.InsertEvent(ctx, parentForRewind, sessionID, sess.WorkspaceID, domain.EventSessionRewind, domain.SessionRewindPayload{
			ToMessageIndex: toMessageIndex, RemovedCount: removed,
		})
		if err != nil {
			return fmt.Errorf("insert session.rewind event: %w", err)
		}
		_ = ev
		if err := tx.UpdateSessionHead(ctx, sessionID, newHead); err != nil {
			return err
		}
		return tx.IncrementSessionCounters(ctx, sessionID, 1, -removed, 0, 0)
	})
	if err != nil {
		return nil, err
	}
	result = &RewindResult{SessionID: sessionID, NewMessageCount: toMessageIndex, RemovedCount: removed}
	return result, nil
}

// FindByPrefix resolves a short id prefix to the most recently updated
// matching session, wrapping coreerr.SessionNotFound when nothing matches.
func (m *Manager) FindByPrefix(ctx context.Context, prefix string) (*domain.Session, error) {
	sess, err := m.store.FindSessionByPrefix(ctx, prefix)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.CodeSessionNotFound, coreerr.CategorySessionState, false, "find session by prefix", err)
	}
	return sess, nil
}
