package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/coreagent/runtime/internal/coreerr"
)

func echoHandler(ctx context.Context, params map[string]any, mgrs Managers) (any, error) {
	return params, nil
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	d := New(nil, nil)
	resp := d.Dispatch(context.Background(), Request{ID: "1", Method: "nope"})
	if resp.Success || resp.Error.Code != coreerr.CodeMethodNotFound {
		t.Fatalf("expected METHOD_NOT_FOUND, got %+v", resp)
	}
}

func TestMissingRequiredParamRejected(t *testing.T) {
	d := New(nil, nil)
	d.Register("session.create", echoHandler, MethodOptions{RequiredParams: []string{"workspaceId"}})

	resp := d.Dispatch(context.Background(), Request{ID: "1", Method: "session.create", Params: map[string]any{}})
	if resp.Success || resp.Error.Code != coreerr.CodeInvalidParams {
		t.Fatalf("expected INVALID_PARAMS, got %+v", resp)
	}

	resp = d.Dispatch(context.Background(), Request{ID: "1", Method: "session.create", Params: map[string]any{"workspaceId": "ws_1"}})
	if !resp.Success {
		t.Fatalf("expected success once the required param is present, got %+v", resp)
	}
}

func TestMissingRequiredManagerRejected(t *testing.T) {
	d := New(Managers{}, nil)
	d.Register("memory.search", echoHandler, MethodOptions{RequiredManagers: []string{"memory"}})

	resp := d.Dispatch(context.Background(), Request{ID: "1", Method: "memory.search"})
	if resp.Success || resp.Error.Code != coreerr.CodeNotSupported {
		t.Fatalf("expected NOT_SUPPORTED, got %+v", resp)
	}

	d2 := New(Managers{"memory": struct{}{}}, nil)
	d2.Register("memory.search", echoHandler, MethodOptions{RequiredManagers: []string{"memory"}})
	resp = d2.Dispatch(context.Background(), Request{ID: "1", Method: "memory.search"})
	if !resp.Success {
		t.Fatalf("expected success once the manager is present, got %+v", resp)
	}
}

func TestMiddlewareOnionOrdering(t *testing.T) {
	d := New(nil, nil)
	d.Register("ping", func(ctx context.Context, params map[string]any, mgrs Managers) (any, error) {
		return "pong", nil
	}, MethodOptions{})

	var trace []string
	wrap := func(name string) Middleware {
		return func(ctx context.Context, req Request, next Next) Response {
			trace = append(trace, name+":pre")
			resp := next(ctx, req)
			trace = append(trace, name+":post")
			return resp
		}
	}
	d.Use(wrap("outer"))
	d.Use(wrap("inner"))

	d.Dispatch(context.Background(), Request{ID: "1", Method: "ping"})

	want := []string{"outer:pre", "inner:pre", "inner:post", "outer:post"}
	if len(trace) != len(want) {
		t.Fatalf("got trace %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("got trace %v, want %v", trace, want)
		}
	}
}

func TestMiddlewareCanShortCircuit(t *testing.T) {
	d := New(nil, nil)
	var handlerRan bool
	d.Register("ping", func(ctx context.Context, params map[string]any, mgrs Managers) (any, error) {
		handlerRan = true
		return "pong", nil
	}, MethodOptions{})

	d.Use(func(ctx context.Context, req Request, next Next) Response {
		return okResponse(req.ID, "short-circuited")
	})

	resp := d.Dispatch(context.Background(), Request{ID: "1", Method: "ping"})
	if handlerRan {
		t.Fatalf("expected the handler not to run when a middleware short-circuits")
	}
	if resp.Result != "short-circuited" {
		t.Fatalf("expected the short-circuit response, got %+v", resp)
	}
}

func TestErrorBoundaryRecoversPanic(t *testing.T) {
	d := New(nil, nil)
	d.Register("boom", func(ctx context.Context, params map[string]any, mgrs Managers) (any, error) {
		panic("kaboom")
	}, MethodOptions{})
	d.Use(ErrorBoundaryMiddleware(nil))

	resp := d.Dispatch(context.Background(), Request{ID: "1", Method: "boom"})
	if resp.Success || resp.Error.Code != coreerr.CodeInternalError {
		t.Fatalf("expected a recovered INTERNAL_ERROR response, got %+v", resp)
	}
}

func TestHandlerErrorMapsToItsCoreerrCode(t *testing.T) {
	d := New(nil, nil)
	d.Register("session.get", func(ctx context.Context, params map[string]any, mgrs Managers) (any, error) {
		return nil, coreerr.SessionNotFound("sess_missing")
	}, MethodOptions{})

	resp := d.Dispatch(context.Background(), Request{ID: "1", Method: "session.get"})
	if resp.Success || resp.Error.Code != coreerr.CodeSessionNotFound {
		t.Fatalf("expected SESSION_NOT_FOUND, got %+v", resp)
	}
}

func TestReRegisterOverwrites(t *testing.T) {
	d := New(nil, nil)
	d.Register("ping", func(ctx context.Context, params map[string]any, mgrs Managers) (any, error) {
		return "v1", nil
	}, MethodOptions{})
	d.Register("ping", func(ctx context.Context, params map[string]any, mgrs Managers) (any, error) {
		return "v2", nil
	}, MethodOptions{})

	resp := d.Dispatch(context.Background(), Request{ID: "1", Method: "ping"})
	if resp.Result != "v2" {
		t.Fatalf("expected the second registration to win, got %+v", resp)
	}
}

var errBoom = errors.New("boom")

func TestWrappedGenericErrorMapsToInternalError(t *testing.T) {
	d := New(nil, nil)
	d.Register("fail", func(ctx context.Context, params map[string]any, mgrs Managers) (any, error) {
		return nil, fmt.Errorf("fail handler: %w", errBoom)
	}, MethodOptions{})

	resp := d.Dispatch(context.Background(), Request{ID: "1", Method: "fail"})
	if resp.Success || resp.Error.Code != coreerr.CodeInternalError {
		t.Fatalf("expected INTERNAL_ERROR for an unclassified error, got %+v", resp)
	}
}
