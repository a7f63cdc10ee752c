package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ToolHandler executes one tool invocation. A nil result with nil error is
// treated as an empty success.
type ToolHandler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Dispatcher routes tool calls to registered handlers. Every received call
// produces exactly one response through the send function, including unknown
// tools, handler errors and handler panics. Calls within one batch run
// concurrently so a slow handler never blocks its siblings.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]ToolHandler
	log      *slog.Logger
}

// NewDispatcher creates an empty tool registry.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string]ToolHandler),
		log:      logger.With("component", "tools"),
	}
}

// Register binds a handler to a tool name, replacing any previous binding.
func (d *Dispatcher) Register(name string, h ToolHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

// Names returns the registered tool names.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	return names
}

// Dispatch runs every call on its own goroutine and blocks until all of them
// have produced a response through send. send may be called concurrently.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []ToolCall, send func(ToolResponse)) {
	var wg sync.WaitGroup
	for _, call := range calls {
		wg.Add(1)
		go func(call ToolCall) {
			defer wg.Done()
			send(d.run(ctx, call))
		}(call)
	}
	wg.Wait()
}

// run executes one call, converting any failure mode into a response payload.
func (d *Dispatcher) run(ctx context.Context, call ToolCall) (resp ToolResponse) {
	resp = ToolResponse{ID: call.ID, Name: call.Name}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("tool handler panicked", "tool", call.Name, "panic", r)
			resp.Result = failureResult(fmt.Sprintf("tool %q failed", call.Name))
		}
	}()

	d.mu.RLock()
	h, ok := d.handlers[call.Name]
	d.mu.RUnlock()

	if !ok {
		d.log.Warn("unknown tool requested", "tool", call.Name)
		resp.Result = failureResult(fmt.Sprintf("unknown tool %q", call.Name))
		return resp
	}

	result, err := h(ctx, call.Args)
	if err != nil {
		d.log.Warn("tool handler failed", "tool", call.Name, "error", err)
		resp.Result = failureResult(err.Error())
		return resp
	}
	if result == nil {
		result = map[string]any{"ok": true}
	}
	resp.Result = result
	return resp
}

// failureResult is the generic failure payload. The session stays healthy;
// the model decides how to proceed from the error text.
func failureResult(message string) map[string]any {
	return map[string]any{"error": message}
}
