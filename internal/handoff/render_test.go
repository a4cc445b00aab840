package handoff

import "testing"

func TestRenderCodeChangeHighlightsKnownExtension(t *testing.T) {
	out := RenderCodeChange("main.go", "func main() {}")
	if out == "" {
		t.Fatal("expected non-empty rendered output")
	}
}

func TestRenderCodeChangeFallsBackForUnknownExtension(t *testing.T) {
	out := RenderCodeChange("notes.txt", "plain text")
	if out != "plain text" {
		t.Errorf("expected passthrough for unknown extension, got %q", out)
	}
}
