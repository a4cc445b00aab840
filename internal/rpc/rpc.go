// Package rpc is the RPC Dispatcher: a transport-agnostic method registry
// that turns a {id, method, params} request envelope into a
// {id, success, result|error} response envelope, wrapped in a composable
// middleware chain. It generalizes muxd's daemon/hub HTTP routing
// (registerRoutes, withAuth, writeJSON/writeHubJSON) into a transport
// that can sit behind HTTP, a CLI, or direct in-process calls alike.
package rpc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/coreagent/runtime/internal/coreerr"
)

// Request is the inbound envelope.
type Request struct {
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// Error is the error half of a Response.
type Error struct {
	Code    coreerr.Code `json:"code"`
	Message string       `json:"message"`
}

// Response is the outbound envelope.
type Response struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

func errorResponse(id string, code coreerr.Code, message string) Response {
	return Response{ID: id, Success: false, Error: &Error{Code: code, Message: message}}
}

func okResponse(id string, result any) Response {
	return Response{ID: id, Success: true, Result: result}
}

// Managers bundles the optional manager handles a HandlerFunc may depend
// on — muxd's handlers close over a single *Server; here handlers instead
// declare which named managers they require and the registry validates
// their presence before the handler ever runs.
type Managers map[string]any

// Get type-asserts a named manager out of the bundle.
func (m Managers) Get(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// HandlerFunc implements one RPC method.
type HandlerFunc func(ctx context.Context, params map[string]any, mgrs Managers) (any, error)

// MethodOptions declares a method's preconditions.
type MethodOptions struct {
	RequiredParams   []string
	RequiredManagers []string
}

type methodEntry struct {
	name    string
	handler HandlerFunc
	opts    MethodOptions
}

// Next is what a Middleware calls to continue the chain.
type Next func(ctx context.Context, req Request) Response

// Middleware wraps a request/response round trip. Middlewares compose
// first-to-last wrapping the handler (classic onion): the first
// middleware's pre-phase runs first, and its post-phase runs last.
type Middleware func(ctx context.Context, req Request, next Next) Response

// Dispatcher is the method registry plus its middleware chain.
type Dispatcher struct {
	mu         sync.RWMutex
	methods    map[string]*methodEntry
	middleware []Middleware
	managers   Managers
	logger     Logger
}

// Logger is the minimal logging surface the standard middlewares need;
// *config.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...any)
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// New creates a Dispatcher. mgrs is the fixed set of manager handles every
// handler invocation sees; logger may be nil.
func New(mgrs Managers, logger Logger) *Dispatcher {
	if mgrs == nil {
		mgrs = Managers{}
	}
	return &Dispatcher{
		methods:  make(map[string]*methodEntry),
		managers: mgrs,
		logger:   logger,
	}
}

// Register adds a method. Re-registering an existing name overwrites it
// and logs a warning, mirroring muxd's additive mux.HandleFunc routing
// where the last registration for a pattern wins.
func (d *Dispatcher) Register(name string, handler HandlerFunc, opts MethodOptions) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.methods[name]; exists && d.logger != nil {
		d.logger.Warnf("rpc: method %q re-registered, overwriting", name)
	}
	d.methods[name] = &methodEntry{name: name, handler: handler, opts: opts}
}

// Use appends a middleware to the chain, applied in registration order.
func (d *Dispatcher) Use(mw Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middleware = append(d.middleware, mw)
}

// Methods returns the registered method names, sorted.
func (d *Dispatcher) Methods() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.methods))
	for n := range d.methods {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Dispatch routes req through the middleware chain to its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	chain := d.terminal()
	for i := len(d.middlewareSnapshot()) - 1; i >= 0; i-- {
		mw := d.middlewareSnapshot()[i]
		next := chain
		chain = func(ctx context.Context, req Request) Response {
			return mw(ctx, req, next)
		}
	}
	return chain(ctx, req)
}

func (d *Dispatcher) middlewareSnapshot() []Middleware {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Middleware, len(d.middleware))
	copy(out, d.middleware)
	return out
}

// terminal is the innermost handler: method lookup, parameter validation,
// manager validation, invocation.
func (d *Dispatcher) terminal() Next {
	return func(ctx context.Context, req Request) Response {
		d.mu.RLock()
		entry, ok := d.methods[req.Method]
		d.mu.RUnlock()
		if !ok {
			return errorResponse(req.ID, coreerr.CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
		}

		for _, p := range entry.opts.RequiredParams {
			if _, present := req.Params[p]; !present {
				return errorResponse(req.ID, coreerr.CodeInvalidParams, fmt.Sprintf("missing required parameter: %s", p))
			}
		}

		for _, m := range entry.opts.RequiredManagers {
			if _, present := d.managers.Get(m); !present {
				return errorResponse(req.ID, coreerr.CodeNotSupported, fmt.Sprintf("manager not available: %s", m))
			}
		}

		result, err := entry.handler(ctx, req.Params, d.managers)
		if err != nil {
			return errorResponse(req.ID, coreerr.AsCode(err), err.Error())
		}
		return okResponse(req.ID, result)
	}
}
