package hook

import (
	"context"
	"testing"
	"time"
)

func TestPriorityThenRegistrationOrder(t *testing.T) {
	e := New(nil)
	var order []string

	record := func(name string) Handler {
		return func(ctx context.Context, hc *Context) (Result, error) {
			order = append(order, name)
			return Continue(), nil
		}
	}

	e.Register(Definition{Name: "low-a", Point: PreToolUse, Priority: 0, Handler: record("low-a")})
	e.Register(Definition{Name: "high", Point: PreToolUse, Priority: 10, Handler: record("high")})
	e.Register(Definition{Name: "low-b", Point: PreToolUse, Priority: 0, Handler: record("low-b")})

	e.Fire(context.Background(), &Context{Point: PreToolUse, ToolName: "bash"})

	want := []string{"high", "low-a", "low-b"}
	if len(order) != len(want) {
		t.Fatalf("got order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got order %v, want %v", order, want)
		}
	}
}

func TestBlockHaltsChain(t *testing.T) {
	e := New(nil)
	var ranSecond bool

	e.Register(Definition{Name: "blocker", Point: PreToolUse, Priority: 10, Handler: func(ctx context.Context, hc *Context) (Result, error) {
		return Block("write tools disabled in plan mode"), nil
	}})
	e.Register(Definition{Name: "never-runs", Point: PreToolUse, Priority: 0, Handler: func(ctx context.Context, hc *Context) (Result, error) {
		ranSecond = true
		return Continue(), nil
	}})

	result := e.Fire(context.Background(), &Context{Point: PreToolUse, ToolName: "file_write"})
	if result.Kind != KindBlock {
		t.Fatalf("expected block, got %v", result.Kind)
	}
	if result.Reason == "" {
		t.Fatalf("expected a block reason")
	}
	if ranSecond {
		t.Fatalf("expected the chain to halt after a block")
	}
}

func TestModifyPropagatesToLaterHandlersAndCaller(t *testing.T) {
	e := New(nil)
	var seenBySecond map[string]any

	e.Register(Definition{Name: "rewriter", Point: PreToolUse, Priority: 10, Handler: func(ctx context.Context, hc *Context) (Result, error) {
		return Modify(map[string]any{"toolArguments": map[string]any{"path": "/safe/path"}}), nil
	}})
	e.Register(Definition{Name: "observer", Point: PreToolUse, Priority: 0, Handler: func(ctx context.Context, hc *Context) (Result, error) {
		seenBySecond = hc.ToolArguments
		return Continue(), nil
	}})

	hc := &Context{Point: PreToolUse, ToolName: "file_write", ToolArguments: map[string]any{"path": "/unsafe"}}
	result := e.Fire(context.Background(), hc)

	if result.Kind != KindModify {
		t.Fatalf("expected modify, got %v", result.Kind)
	}
	if seenBySecond["path"] != "/safe/path" {
		t.Fatalf("expected the rewrite to be visible to the next handler, got %v", seenBySecond)
	}
	if hc.ToolArguments["path"] != "/safe/path" {
		t.Fatalf("expected the rewrite to be visible on the returned context")
	}
}

func TestFilterPredicateExcludesNonMatchingHooks(t *testing.T) {
	e := New(nil)
	var ran bool

	e.Register(Definition{
		Name:  "bash-only",
		Point: PreToolUse,
		Filter: func(hc *Context) bool {
			return hc.ToolName == "bash"
		},
		Handler: func(ctx context.Context, hc *Context) (Result, error) {
			ran = true
			return Continue(), nil
		},
	})

	e.Fire(context.Background(), &Context{Point: PreToolUse, ToolName: "file_read"})
	if ran {
		t.Fatalf("expected filter to exclude the hook for a non-matching tool")
	}

	e.Fire(context.Background(), &Context{Point: PreToolUse, ToolName: "bash"})
	if !ran {
		t.Fatalf("expected filter to admit the hook for a matching tool")
	}
}

func TestTimeoutTreatedAsContinue(t *testing.T) {
	e := New(nil)

	e.Register(Definition{
		Name:    "slow",
		Point:   Stop,
		Timeout: 10 * time.Millisecond,
		Handler: func(ctx context.Context, hc *Context) (Result, error) {
			time.Sleep(50 * time.Millisecond)
			return Block("too late"), nil
		},
	})

	start := time.Now()
	result := e.Fire(context.Background(), &Context{Point: Stop, StopReason: "end_turn"})
	if result.Kind != KindContinue {
		t.Fatalf("expected a timed-out handler to be treated as continue, got %v", result.Kind)
	}
	if time.Since(start) >= 50*time.Millisecond {
		t.Fatalf("expected Fire to return once the timeout elapsed, not wait for the slow handler")
	}
}

func TestUnregisterRemovesHook(t *testing.T) {
	e := New(nil)
	var ran bool

	e.Register(Definition{Name: "temp", Point: SessionStart, Handler: func(ctx context.Context, hc *Context) (Result, error) {
		ran = true
		return Continue(), nil
	}})
	e.Unregister(SessionStart, "temp")

	e.Fire(context.Background(), &Context{Point: SessionStart, SessionID: "sess_1"})
	if ran {
		t.Fatalf("expected unregistered hook not to run")
	}
}
