// Package methods registers the concrete spec §6 RPC surface onto a
// rpc.Dispatcher: session.*, model.*, memory.*, plan.*, todos.*, and
// tool.*. It plays the role muxd's daemon/hub.registerRoutes plays for
// its HTTP mux, except each handler declares its manager dependencies
// up front and the Dispatcher validates them before the handler ever
// runs.
package methods

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coreagent/runtime/internal/coreerr"
	"github.com/coreagent/runtime/internal/domain"
	"github.com/coreagent/runtime/internal/eventstore"
	"github.com/coreagent/runtime/internal/handoff"
	"github.com/coreagent/runtime/internal/hook"
	"github.com/coreagent/runtime/internal/ledger"
	"github.com/coreagent/runtime/internal/mcp"
	"github.com/coreagent/runtime/internal/memory"
	"github.com/coreagent/runtime/internal/planstate"
	"github.com/coreagent/runtime/internal/rpc"
	"github.com/coreagent/runtime/internal/session"
	"github.com/coreagent/runtime/internal/worktree"
)

// Manager names, the keys handlers declare in MethodOptions.RequiredManagers
// and Register expects to find in the Dispatcher's Managers bundle.
const (
	ManagerSession  = "session"
	ManagerMemory   = "memory"
	ManagerHandoff  = "handoff"
	ManagerLedger   = "ledger"
	ManagerPlan     = "plan"
	ManagerStore    = "store"
	ManagerTools    = "tools"
	ManagerHooks    = "hooks"
	ManagerWorktree = "worktree"
)

func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func boolParam(params map[string]any, key string) bool {
	v, _ := params[key].(bool)
	return v
}

func sessionManager(mgrs rpc.Managers) (*session.Manager, error) {
	v, ok := mgrs.Get(ManagerSession)
	if !ok {
		return nil, coreerr.New(coreerr.CodeNotSupported, coreerr.CategorySessionState, false, "session manager not available")
	}
	return v.(*session.Manager), nil
}

func memoryManager(mgrs rpc.Managers) (*memory.Memory, error) {
	v, ok := mgrs.Get(ManagerMemory)
	if !ok {
		return nil, coreerr.New(coreerr.CodeNotSupported, coreerr.CategorySessionState, false, "memory manager not available")
	}
	return v.(*memory.Memory), nil
}

func handoffStore(mgrs rpc.Managers) (*handoff.Store, error) {
	v, ok := mgrs.Get(ManagerHandoff)
	if !ok {
		return nil, coreerr.New(coreerr.CodeNotSupported, coreerr.CategorySessionState, false, "handoff store not available")
	}
	return v.(*handoff.Store), nil
}

func ledgerStore(mgrs rpc.Managers) (*ledger.Store, error) {
	v, ok := mgrs.Get(ManagerLedger)
	if !ok {
		return nil, coreerr.New(coreerr.CodeNotSupported, coreerr.CategorySessionState, false, "ledger store not available")
	}
	return v.(*ledger.Store), nil
}

func planTracker(mgrs rpc.Managers) (*planstate.Tracker, error) {
	v, ok := mgrs.Get(ManagerPlan)
	if !ok {
		return nil, coreerr.New(coreerr.CodeNotSupported, coreerr.CategorySessionState, false, "plan tracker not available")
	}
	return v.(*planstate.Tracker), nil
}

func rawStore(mgrs rpc.Managers) (*eventstore.Store, error) {
	v, ok := mgrs.Get(ManagerStore)
	if !ok {
		return nil, coreerr.New(coreerr.CodeNotSupported, coreerr.CategorySessionState, false, "event store not available")
	}
	return v.(*eventstore.Store), nil
}

func toolManager(mgrs rpc.Managers) (*mcp.Manager, error) {
	v, ok := mgrs.Get(ManagerTools)
	if !ok {
		return nil, coreerr.New(coreerr.CodeNotSupported, coreerr.CategorySessionState, false, "tool manager not available")
	}
	return v.(*mcp.Manager), nil
}

// hookEngine returns the registered hook engine, or nil if none was wired
// into the Managers bundle. Callers treat a nil engine as "no hooks
// registered" rather than an error, since firing hooks around tool.call is
// best-effort enrichment, not a required dependency.
func hookEngine(mgrs rpc.Managers) *hook.Engine {
	v, ok := mgrs.Get(ManagerHooks)
	if !ok {
		return nil
	}
	he, _ := v.(*hook.Engine)
	return he
}

func worktreeCoordinator(mgrs rpc.Managers) (*worktree.Coordinator, error) {
	v, ok := mgrs.Get(ManagerWorktree)
	if !ok {
		return nil, coreerr.New(coreerr.CodeNotSupported, coreerr.CategorySessionState, false, "worktree coordinator not available")
	}
	return v.(*worktree.Coordinator), nil
}

// Register wires every spec §6 method onto d. handoffMinMessages is the
// message-count threshold session.end uses to decide whether ending a
// session is worth writing a handoff for.
func Register(d *rpc.Dispatcher, handoffMinMessages int) {
	registerSessionMethods(d, handoffMinMessages)
	registerModelMethods(d)
	registerMemoryMethods(d)
	registerPlanMethods(d)
	registerTodosMethods(d)
	registerToolMethods(d)
}

func registerSessionMethods(d *rpc.Dispatcher, handoffMinMessages int) {
	d.Register("session.create", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		sm, err := sessionManager(mgrs)
		if err != nil {
			return nil, err
		}
		wc, err := worktreeCoordinator(mgrs)
		if err != nil {
			return nil, err
		}
		workingDir := stringParam(params, "workingDirectory")
		sess, err := sm.Create(ctx, stringParam(params, "workspaceId"), workingDir, stringParam(params, "model"), stringParam(params, "provider"))
		if err != nil {
			return nil, err
		}
		// Acquire before returning so a worktree.acquired event for this
		// session always precedes any tool.call events it generates.
		if _, err := wc.Acquire(ctx, sess.ID, workingDir, worktree.AcquireOptions{WorkspaceID: sess.WorkspaceID}); err != nil {
			return nil, fmt.Errorf("acquire working directory: %w", err)
		}
		return sess, nil
	}, rpc.MethodOptions{RequiredParams: []string{"workspaceId"}, RequiredManagers: []string{ManagerSession, ManagerWorktree}})

	d.Register("session.get", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		sm, err := sessionManager(mgrs)
		if err != nil {
			return nil, err
		}
		return sm.Get(ctx, stringParam(params, "sessionId"))
	}, rpc.MethodOptions{RequiredParams: []string{"sessionId"}, RequiredManagers: []string{ManagerSession}})

	d.Register("session.list", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		sm, err := sessionManager(mgrs)
		if err != nil {
			return nil, err
		}
		return sm.List(ctx, stringParam(params, "workspaceId"), boolParam(params, "includeEnded"))
	}, rpc.MethodOptions{RequiredParams: []string{"workspaceId"}, RequiredManagers: []string{ManagerSession}})

	d.Register("session.delete", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		sm, err := sessionManager(mgrs)
		if err != nil {
			return nil, err
		}
		wc, err := worktreeCoordinator(mgrs)
		if err != nil {
			return nil, err
		}
		sessionID := stringParam(params, "sessionId")
		// Release before the hard delete: once the session row and its
		// events are gone there is nothing left to attribute the working
		// directory to.
		if err := wc.Release(ctx, sessionID, worktree.ReleaseOptions{}); err != nil {
			return nil, err
		}
		if err := sm.Delete(ctx, sessionID); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": true}, nil
	}, rpc.MethodOptions{RequiredParams: []string{"sessionId"}, RequiredManagers: []string{ManagerSession, ManagerWorktree}})

	d.Register("session.end", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		sm, err := sessionManager(mgrs)
		if err != nil {
			return nil, err
		}
		wc, err := worktreeCoordinator(mgrs)
		if err != nil {
			return nil, err
		}
		sessionID := stringParam(params, "sessionId")
		view, err := sm.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if err := sm.End(ctx, sessionID, stringParam(params, "reason")); err != nil {
			return nil, err
		}
		if view.Session.MessageCount >= handoffMinMessages {
			if err := createSessionHandoff(ctx, mgrs, view); err != nil {
				// Handoff creation is enrichment layered on top of an
				// already-durable session.end; surface but don't fail the call.
				return map[string]any{"ended": true, "handoffError": err.Error()}, wc.Release(ctx, sessionID, worktree.ReleaseOptions{})
			}
		}
		// Session is already durably ended; a release failure surfaces
		// through the RPC error but does not roll back the end.
		if err := wc.Release(ctx, sessionID, worktree.ReleaseOptions{}); err != nil {
			return nil, err
		}
		return map[string]any{"ended": true}, nil
	}, rpc.MethodOptions{RequiredParams: []string{"sessionId"}, RequiredManagers: []string{ManagerSession, ManagerWorktree}})

	d.Register("session.fork", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		sm, err := sessionManager(mgrs)
		if err != nil {
			return nil, err
		}
		fromIdx := intParam(params, "fromMessageIndex", -1)
		return sm.Fork(ctx, stringParam(params, "sessionId"), fromIdx)
	}, rpc.MethodOptions{RequiredParams: []string{"sessionId"}, RequiredManagers: []string{ManagerSession}})

	d.Register("session.rewind", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		sm, err := sessionManager(mgrs)
		if err != nil {
			return nil, err
		}
		return sm.Rewind(ctx, stringParam(params, "sessionId"), intParam(params, "toMessageIndex", 0))
	}, rpc.MethodOptions{RequiredParams: []string{"sessionId", "toMessageIndex"}, RequiredManagers: []string{ManagerSession}})

	d.Register("session.resume", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		sm, err := sessionManager(mgrs)
		if err != nil {
			return nil, err
		}
		return sm.Get(ctx, stringParam(params, "sessionId"))
	}, rpc.MethodOptions{RequiredParams: []string{"sessionId"}, RequiredManagers: []string{ManagerSession}})
}

// createSessionHandoff fires PreCompact — this system's closest analog to
// a compaction point, since ending a session folds its conversational
// history down into a single structured summary — then writes that
// summary via the handoff store. Ledger Now/Next feed the handoff's
// current-state and next-steps fields when a ledger is available; their
// absence is not an error, just a thinner handoff.
func createSessionHandoff(ctx context.Context, mgrs rpc.Managers, view *session.View) error {
	hs, err := handoffStore(mgrs)
	if err != nil {
		return err
	}
	if he := hookEngine(mgrs); he != nil {
		he.Fire(ctx, &hook.Context{
			Point:          hook.PreCompact,
			SessionID:      view.Session.ID,
			WorkspaceID:    view.Session.WorkspaceID,
			CompactTrigger: "session.end",
		})
	}
	currentState, nextSteps := "", []string(nil)
	if ls, err := ledgerStore(mgrs); err == nil {
		if l, err := ls.Get(view.Session.WorkspaceID); err == nil && l != nil {
			currentState = l.Now
			nextSteps = l.Next
		}
	}
	_, err = hs.CreateHandoff(ctx, view.Session.WorkspaceID, view.Session.ID, summarizeSession(view), nil, currentState, nil, nextSteps, nil)
	return err
}

// summarizeSession builds a handoff summary from a session's
// reconstructed message view: the first user prompt and the last
// assistant turn, the shape muxd's session-end digest collapses a
// transcript to.
func summarizeSession(view *session.View) string {
	var firstUser, lastAssistant string
	for _, msg := range view.Messages {
		if msg.Role == "user" && firstUser == "" {
			firstUser = msg.Content
		}
		if msg.Role == "assistant" {
			lastAssistant = msg.Content
		}
	}
	switch {
	case firstUser != "" && lastAssistant != "":
		return fmt.Sprintf("Started from: %s\nEnded with: %s", firstUser, lastAssistant)
	case lastAssistant != "":
		return lastAssistant
	case firstUser != "":
		return firstUser
	default:
		return fmt.Sprintf("session %s ended with %d messages", view.Session.ID, view.Session.MessageCount)
	}
}

func registerModelMethods(d *rpc.Dispatcher) {
	d.Register("model.list", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		// Model catalog is provider-supplied; the Session Manager only
		// tracks which identifier a session is bound to, so the
		// dispatcher's fixed catalog is returned here rather than
		// delegating to a manager.
		return []string{"claude-sonnet-4-5", "claude-opus-4-1", "claude-haiku-4-5"}, nil
	}, rpc.MethodOptions{})

	d.Register("model.switch", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		sm, err := sessionManager(mgrs)
		if err != nil {
			return nil, err
		}
		sessionID := stringParam(params, "sessionId")
		model := stringParam(params, "model")
		if err := sm.SwitchModel(ctx, sessionID, model); err != nil {
			return nil, err
		}
		return map[string]any{"sessionId": sessionID, "model": model}, nil
	}, rpc.MethodOptions{RequiredParams: []string{"sessionId", "model"}, RequiredManagers: []string{ManagerSession}})
}

func registerMemoryMethods(d *rpc.Dispatcher) {
	d.Register("memory.search", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		mm, err := memoryManager(mgrs)
		if err != nil {
			return nil, err
		}
		filters := memory.Filters{
			WorkspaceID: stringParam(params, "workspaceId"),
			SessionID:   stringParam(params, "sessionId"),
			Type:        domain.EventType(stringParam(params, "type")),
		}
		return mm.Search(ctx, stringParam(params, "query"), filters, intParam(params, "limit", 20))
	}, rpc.MethodOptions{RequiredParams: []string{"query"}, RequiredManagers: []string{ManagerMemory}})

	d.Register("memory.getHandoffs", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		hs, err := handoffStore(mgrs)
		if err != nil {
			return nil, err
		}
		limit := intParam(params, "limit", 20)
		workspaceID := stringParam(params, "workspaceId")
		if workingDir := stringParam(params, "workingDirectory"); workingDir != "" && workspaceID == "" {
			store, serr := rawStore(mgrs)
			if serr == nil {
				if ws, werr := store.GetOrCreateWorkspace(ctx, workingDir, ""); werr == nil {
					workspaceID = ws.ID
				}
			}
		}
		return hs.ListRecentHandoffs(ctx, workspaceID, limit)
	}, rpc.MethodOptions{RequiredManagers: []string{ManagerHandoff}})
}

func registerPlanMethods(d *rpc.Dispatcher) {
	d.Register("plan.enter", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		sm, err := sessionManager(mgrs)
		if err != nil {
			return nil, err
		}
		pt, err := planTracker(mgrs)
		if err != nil {
			return nil, err
		}
		sessionID := stringParam(params, "sessionId")
		view, err := sm.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if pt.IsActive(view.Session.WorkspaceID) {
			return nil, coreerr.New(coreerr.CodeAlreadyInPlanMode, coreerr.CategorySessionState, false, "workspace is already in plan mode")
		}
		skillName := stringParam(params, "skillName")
		var blocked []string
		if raw, ok := params["blockedTools"].([]any); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					blocked = append(blocked, s)
				}
			}
		}
		if err := appendPlanEvent(ctx, sm, sessionID, domain.EventPlanModeEntered, domain.PlanModeEnteredPayload{
			SkillName: skillName, BlockedTools: blocked,
		}); err != nil {
			return nil, err
		}
		state := pt.Enter(view.Session.WorkspaceID, sessionID, skillName)
		return state, nil
	}, rpc.MethodOptions{RequiredParams: []string{"sessionId", "skillName"}, RequiredManagers: []string{ManagerSession, ManagerPlan}})

	d.Register("plan.exit", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		sm, err := sessionManager(mgrs)
		if err != nil {
			return nil, err
		}
		pt, err := planTracker(mgrs)
		if err != nil {
			return nil, err
		}
		sessionID := stringParam(params, "sessionId")
		view, err := sm.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if !pt.IsActive(view.Session.WorkspaceID) {
			return nil, coreerr.New(coreerr.CodeNotInPlanMode, coreerr.CategorySessionState, false, "workspace is not in plan mode")
		}
		if err := appendPlanEvent(ctx, sm, sessionID, domain.EventPlanModeExited, domain.PlanModeExitedPayload{
			Reason: stringParam(params, "reason"), PlanPath: stringParam(params, "planPath"),
		}); err != nil {
			return nil, err
		}
		return pt.Exit(view.Session.WorkspaceID), nil
	}, rpc.MethodOptions{RequiredParams: []string{"sessionId", "reason"}, RequiredManagers: []string{ManagerSession, ManagerPlan}})

	d.Register("plan.getState", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		sm, err := sessionManager(mgrs)
		if err != nil {
			return nil, err
		}
		pt, err := planTracker(mgrs)
		if err != nil {
			return nil, err
		}
		view, err := sm.Get(ctx, stringParam(params, "sessionId"))
		if err != nil {
			return nil, err
		}
		return pt.Get(view.Session.WorkspaceID), nil
	}, rpc.MethodOptions{RequiredParams: []string{"sessionId"}, RequiredManagers: []string{ManagerSession, ManagerPlan}})
}

// appendPlanEvent inserts a plan-mode event directly via the store that
// backs sm, bypassing AddMessage/AppendToolCall (which are shaped for
// messages and tool calls, not lifecycle events).
func appendPlanEvent(ctx context.Context, sm *session.Manager, sessionID string, eventType domain.EventType, payload any) error {
	_, err := sm.AppendTyped(ctx, sessionID, eventType, payload)
	if err != nil {
		return fmt.Errorf("append %s event: %w", eventType, err)
	}
	return nil
}

func registerTodosMethods(d *rpc.Dispatcher) {
	d.Register("todos.list", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		mm, err := memoryManager(mgrs)
		if err != nil {
			return nil, err
		}
		sessionID := stringParam(params, "sessionId")
		events, err := mm.BySession(ctx, sessionID, 0)
		if err != nil {
			return nil, err
		}
		for i := len(events) - 1; i >= 0; i-- {
			if events[i].Type == domain.EventTodosUpdated {
				return decodeTodos(events[i])
			}
		}
		return domain.TodosUpdatedPayload{}, nil
	}, rpc.MethodOptions{RequiredParams: []string{"sessionId"}, RequiredManagers: []string{ManagerMemory}})

	d.Register("todos.restoreFromBacklog", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		sm, err := sessionManager(mgrs)
		if err != nil {
			return nil, err
		}
		ls, err := ledgerStore(mgrs)
		if err != nil {
			return nil, err
		}
		sessionID := stringParam(params, "sessionId")
		view, err := sm.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		l, err := ls.Get(view.Session.WorkspaceID)
		if err != nil {
			return nil, err
		}
		todos := make([]domain.TodoItem, 0, len(l.Next))
		for i, item := range l.Next {
			todos = append(todos, domain.TodoItem{ID: fmt.Sprintf("backlog-%d", i), Text: item, Status: "pending"})
		}
		if _, err := sm.AppendTyped(ctx, sessionID, domain.EventTodosUpdated, domain.TodosUpdatedPayload{Todos: todos}); err != nil {
			return nil, err
		}
		return domain.TodosUpdatedPayload{Todos: todos}, nil
	}, rpc.MethodOptions{RequiredParams: []string{"sessionId"}, RequiredManagers: []string{ManagerSession, ManagerLedger}})
}

// registerToolMethods bridges the RPC surface to the MCP tool-server
// manager: tool.list surfaces every connected server's namespaced tools,
// tool.call proxies a single call, tool.status reports per-server
// connection health.
func registerToolMethods(d *rpc.Dispatcher) {
	d.Register("tool.list", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		tm, err := toolManager(mgrs)
		if err != nil {
			return nil, err
		}
		return tm.ToolSpecs(), nil
	}, rpc.MethodOptions{RequiredManagers: []string{ManagerTools}})

	d.Register("tool.call", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		tm, err := toolManager(mgrs)
		if err != nil {
			return nil, err
		}
		name := stringParam(params, "name")
		server, tool, ok := mcp.ParseNamespacedName(name)
		if !ok {
			return nil, coreerr.New(coreerr.CodeInvalidParams, coreerr.CategorySessionState, false, "name must be a namespaced mcp__server__tool name")
		}
		args, _ := params["arguments"].(map[string]any)
		workspaceID := stringParam(params, "workspaceId")

		he := hookEngine(mgrs)
		if he != nil {
			pre := he.Fire(ctx, &hook.Context{
				Point:         hook.PreToolUse,
				WorkspaceID:   workspaceID,
				ToolName:      tool,
				ToolArguments: args,
			})
			if pre.Kind == hook.KindBlock {
				return nil, coreerr.New(coreerr.CodeNotSupported, coreerr.CategorySessionState, false, pre.Reason)
			}
			if pre.Kind == hook.KindModify {
				if modified, ok := pre.Modifications["arguments"].(map[string]any); ok {
					args = modified
				}
			}
		}

		started := time.Now()
		text, isError := tm.CallTool(ctx, server, tool, args)

		if he != nil {
			he.Fire(ctx, &hook.Context{
				Point:         hook.PostToolUse,
				WorkspaceID:   workspaceID,
				ToolName:      tool,
				ToolArguments: args,
				ToolResult:    text,
				IsError:       isError,
				Duration:      time.Since(started),
			})
			if isError {
				he.Fire(ctx, &hook.Context{
					Point:               hook.Notification,
					WorkspaceID:         workspaceID,
					NotificationMessage: fmt.Sprintf("tool %s failed: %s", name, text),
				})
			}
		}

		return map[string]any{"result": text, "isError": isError}, nil
	}, rpc.MethodOptions{RequiredParams: []string{"name"}, RequiredManagers: []string{ManagerTools}})

	d.Register("tool.status", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		tm, err := toolManager(mgrs)
		if err != nil {
			return nil, err
		}
		return tm.ServerStatuses(), nil
	}, rpc.MethodOptions{RequiredManagers: []string{ManagerTools}})
}

func decodeTodos(ev domain.Event) (domain.TodosUpdatedPayload, error) {
	var p domain.TodosUpdatedPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return p, fmt.Errorf("decode todos payload: %w", err)
	}
	return p, nil
}
