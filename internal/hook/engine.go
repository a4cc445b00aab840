// Package hook is the Hook Engine: a prioritized, filterable interceptor
// chain around tool calls, prompts, and session lifecycle transitions.
// Registration and dispatch mirror the filter-then-sort idiom muxd's
// domain.CommandHelp and tools.AllToolsForMode use for static slices,
// generalized into a per-point, priority-ordered chain.
package hook

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coreagent/runtime/internal/config"
)

// Filter decides whether a Definition applies to a given Context.
// A nil Filter always matches.
type Filter func(*Context) bool

// Handler runs a hook's logic for one invocation of its Point.
type Handler func(ctx context.Context, hc *Context) (Result, error)

// Definition registers a single hook.
type Definition struct {
	Name        string
	Point       Point
	Description string
	Priority    int // higher runs first; default 0
	Filter      Filter
	Timeout     time.Duration // 0 == unbounded
	Handler     Handler
}

type registration struct {
	def   Definition
	order int
}

// Engine owns every registered hook, keyed by Point. Like worktree.Coordinator
// it is a plain owning struct rather than package-level state, so multiple
// engines (e.g. one per test) never interfere with each other.
type Engine struct {
	mu      sync.Mutex
	logger  *config.Logger
	byPoint map[Point][]*registration
	seq     int
}

// New creates an empty Engine.
func New(logger *config.Logger) *Engine {
	return &Engine{
		logger:  logger,
		byPoint: make(map[Point][]*registration),
	}
}

// Register adds a hook. A duplicate name at the same Point overwrites the
// prior registration (logged as a warning), the way the RPC Dispatcher's
// method registry treats re-registration.
func (e *Engine) Register(def Definition) {
	e.mu.Lock()
	defer e.mu.Unlock()

	regs := e.byPoint[def.Point]
	for i, r := range regs {
		if r.def.Name == def.Name {
			if e.logger != nil {
				e.logger.Warnf("hook: overwriting existing registration %q at %s", def.Name, def.Point)
			}
			regs[i] = &registration{def: def, order: r.order}
			e.byPoint[def.Point] = regs
			return
		}
	}

	e.seq++
	e.byPoint[def.Point] = append(regs, &registration{def: def, order: e.seq})
}

// Unregister removes a hook by name from a Point, if present.
func (e *Engine) Unregister(point Point, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	regs := e.byPoint[point]
	for i, r := range regs {
		if r.def.Name == name {
			e.byPoint[point] = append(regs[:i], regs[i+1:]...)
			return
		}
	}
}

// matching returns the hooks registered at point whose filter passes hc,
// sorted by priority descending with ties broken by registration order.
func (e *Engine) matching(point Point, hc *Context) []*registration {
	e.mu.Lock()
	regs := make([]*registration, len(e.byPoint[point]))
	copy(regs, e.byPoint[point])
	e.mu.Unlock()

	var matched []*registration
	for _, r := range regs {
		if r.def.Filter == nil || r.def.Filter(hc) {
			matched = append(matched, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].def.Priority != matched[j].def.Priority {
			return matched[i].def.Priority > matched[j].def.Priority
		}
		return matched[i].order < matched[j].order
	})
	return matched
}

// Fire runs every matching hook at hc.Point in order, sequentially. A
// block result halts the chain immediately. A modify result is applied to
// hc so later handlers (and the caller) see the rewritten context, and
// its modifications are merged into the final returned Result.
func (e *Engine) Fire(ctx context.Context, hc *Context) Result {
	merged := map[string]any{}
	for _, r := range e.matching(hc.Point, hc) {
		result := e.run(ctx, r.def, hc)
		switch result.Kind {
		case KindBlock:
			return result
		case KindModify:
			applyModifications(hc, result.Modifications)
			for k, v := range result.Modifications {
				merged[k] = v
			}
		}
	}
	if len(merged) > 0 {
		return Modify(merged)
	}
	return Continue()
}

// run executes a single handler, enforcing its timeout. A handler that
// exceeds its timeout, returns a non-nil error, or panics is treated as
// continue, logged as a warning — it can never silently block the chain.
func (e *Engine) run(ctx context.Context, def Definition, hc *Context) Result {
	done := make(chan Result, 1)
	errCh := make(chan error, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				errCh <- fmt.Errorf("panic: %v", p)
			}
		}()
		res, err := def.Handler(ctx, hc)
		if err != nil {
			errCh <- err
			return
		}
		done <- res
	}()

	if def.Timeout <= 0 {
		select {
		case res := <-done:
			return res
		case err := <-errCh:
			e.warn("hook %q at %s returned an error, treating as continue: %v", def.Name, def.Point, err)
			return Continue()
		}
	}

	timer := time.NewTimer(def.Timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res
	case err := <-errCh:
		e.warn("hook %q at %s returned an error, treating as continue: %v", def.Name, def.Point, err)
		return Continue()
	case <-timer.C:
		e.warn("hook %q at %s exceeded its %s timeout, treating as continue", def.Name, def.Point, def.Timeout)
		return Continue()
	}
}

func (e *Engine) warn(format string, args ...any) {
	if e.logger != nil {
		e.logger.Warnf(format, args...)
	}
}

// applyModifications folds a modify result's key/value pairs back onto
// the shared context for handlers further down the chain.
func applyModifications(hc *Context, mods map[string]any) {
	for k, v := range mods {
		switch k {
		case "toolArguments":
			if m, ok := v.(map[string]any); ok {
				hc.ToolArguments = m
			}
		case "prompt":
			if s, ok := v.(string); ok {
				hc.Prompt = s
			}
		case "finalMessage":
			if s, ok := v.(string); ok {
				hc.FinalMessage = s
			}
		case "toolResult":
			if s, ok := v.(string); ok {
				hc.ToolResult = s
			}
		}
	}
}
