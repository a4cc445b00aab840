package handoff

import (
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
)

// RenderCodeChange formats a single CodeChange's description for terminal
// display, syntax-highlighting it when the file's extension maps to a
// known lexer. Used by a `handoff show` style CLI to print a Handoff's
// CodeChanges without the caller needing to know chroma's API.
func RenderCodeChange(file, description string) string {
	lexer := lexerForFile(file)
	if lexer == "" {
		return description
	}
	var b strings.Builder
	if err := quick.Highlight(&b, description, lexer, "terminal256", "monokai"); err != nil {
		return description
	}
	return b.String()
}

func lexerForFile(file string) string {
	switch {
	case strings.HasSuffix(file, ".go"):
		return "go"
	case strings.HasSuffix(file, ".ts"), strings.HasSuffix(file, ".tsx"):
		return "typescript"
	case strings.HasSuffix(file, ".js"), strings.HasSuffix(file, ".jsx"):
		return "javascript"
	case strings.HasSuffix(file, ".py"):
		return "python"
	case strings.HasSuffix(file, ".rs"):
		return "rust"
	case strings.HasSuffix(file, ".sh"):
		return "bash"
	case strings.HasSuffix(file, ".json"):
		return "json"
	case strings.HasSuffix(file, ".yaml"), strings.HasSuffix(file, ".yml"):
		return "yaml"
	case strings.HasSuffix(file, ".sql"):
		return "sql"
	default:
		return ""
	}
}
