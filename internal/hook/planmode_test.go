package hook

import (
	"context"
	"testing"
)

func TestPlanModeGateBlocksWriteToolsWhileActive(t *testing.T) {
	e := New(nil)
	active := true
	e.Register(PlanModeGate(func(workspaceID string) bool { return active }))

	result := e.Fire(context.Background(), &Context{Point: PreToolUse, ToolName: "file_write", WorkspaceID: "ws_1"})
	if result.Kind != KindBlock {
		t.Fatalf("expected file_write to be blocked in plan mode, got %v", result.Kind)
	}

	result = e.Fire(context.Background(), &Context{Point: PreToolUse, ToolName: "file_read", WorkspaceID: "ws_1"})
	if result.Kind != KindContinue {
		t.Fatalf("expected a read tool to pass through plan mode, got %v", result.Kind)
	}

	active = false
	result = e.Fire(context.Background(), &Context{Point: PreToolUse, ToolName: "file_write", WorkspaceID: "ws_1"})
	if result.Kind != KindContinue {
		t.Fatalf("expected file_write to pass once plan mode is exited, got %v", result.Kind)
	}
}
