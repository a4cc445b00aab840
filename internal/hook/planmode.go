package hook

import (
	"context"
	"sort"
	"strings"
)

// writeToolNames is the set of tool names plan mode disables, the same
// four names muxd's tools.writeTools gates in normal (non-plan) mode.
var writeToolNames = map[string]bool{
	"file_write":  true,
	"file_edit":   true,
	"bash":        true,
	"patch_apply": true,
}

// PlanModeGate returns a PreToolUse Definition that blocks write tools
// while planActive reports true. Register it once per engine; planActive
// is read fresh on every invocation so flipping plan mode at runtime
// takes effect immediately.
func PlanModeGate(planActive func(workspaceID string) bool) Definition {
	return Definition{
		Name:     "plan-mode-write-gate",
		Point:    PreToolUse,
		Priority: 100, // runs before user-registered hooks
		Handler: func(ctx context.Context, hc *Context) (Result, error) {
			if !writeToolNames[hc.ToolName] {
				return Continue(), nil
			}
			if !planActive(hc.WorkspaceID) {
				return Continue(), nil
			}
			return Block("plan mode is active; write tools are disabled: " + writeToolNamesList()), nil
		},
	}
}

func writeToolNamesList() string {
	names := make([]string, 0, len(writeToolNames))
	for n := range writeToolNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
