// Package tools implements the tool registry and dispatcher: uniform
// invoke(name, args) over in-process functions and MCP-routed tools, with
// argument validation, per-call timeouts, result normalization, and
// TOOL_EXECUTION logging.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kestrel-run/deskagent/internal/logging"
)

// MaxResultBytes bounds the normalized result text; larger results are
// truncated with a trailing marker.
const MaxResultBytes = 64 << 10

// DefaultTimeout is the per-call deadline applied when a tool doesn't
// override it.
const DefaultTimeout = 30 * time.Second

// Handler executes one tool invocation. It is either an in-process
// function or a closure that forwards to an MCP session's call method;
// the registry does not distinguish between the two beyond bookkeeping in
// the descriptor's Origin field.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Descriptor is a registered tool's identity, schema, and provenance.
type Descriptor struct {
	Name        string
	Description string
	ArgSchema   ArgSchema
	// Origin is "builtin" or "mcp:<server-id>".
	Origin string
	// Timeout overrides DefaultTimeout for this tool when non-zero.
	Timeout time.Duration
}

type entry struct {
	desc    Descriptor
	handler Handler
}

// Registry is the process-wide tool catalogue. It is read-mostly: register
// is only legal until Freeze is called, after which every Register call
// fails with ErrRegistryFrozen.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	frozen  bool

	sem    *semaphore.Weighted
	sink   logging.Sink
	nowFn  func() time.Time
}

// NewRegistry creates an empty registry. concurrency bounds the number of
// simultaneous Invoke calls in flight (an x/sync/semaphore.Weighted guard
// against a spawn burst exhausting OS threads or file descriptors); sink
// receives one TOOL_EXECUTION record per invocation.
func NewRegistry(concurrency int64, sink logging.Sink) *Registry {
	if concurrency <= 0 {
		concurrency = 32
	}
	return &Registry{
		entries: make(map[string]entry),
		sem:     semaphore.NewWeighted(concurrency),
		sink:    sink,
		nowFn:   time.Now,
	}
}

// Register adds a tool to the catalogue. Duplicate registration by name,
// or registration after Freeze, is a fatal startup error per the data
// model's uniqueness invariant.
func (r *Registry) Register(desc Descriptor, handler Handler) error {
	if err := desc.ArgSchema.compile(desc.Name); err != nil {
		return fmt.Errorf("tool %s: %w", desc.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %s: %w", desc.Name, ErrRegistryFrozen)
	}
	if _, exists := r.entries[desc.Name]; exists {
		return fmt.Errorf("register %s: %w", desc.Name, ErrDuplicateTool)
	}
	r.entries[desc.Name] = entry{desc: desc, handler: handler}
	return nil
}

// Freeze stops further registration. Called once the request router is
// ready, per the shared-resource policy.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get returns a tool's descriptor by name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.desc, ok
}

// List returns every registered descriptor.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.desc)
	}
	return out
}

// ToolNames returns every registered tool's name, for the planner's
// catalogue prompt and the workflow engine's unknown-tool check.
func (r *Registry) ToolNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	return out
}

// Invoke is the sole entry point for executors: resolve, validate,
// dispatch, normalize, log.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (string, error) {
	start := r.nowFn()

	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		r.emit(name, start, "not_found", "")
		return "", fmt.Errorf("%s: %w", name, ErrToolNotFound)
	}

	if err := e.desc.ArgSchema.Validate(name, args); err != nil {
		r.emit(name, start, "arg_error", err.Error())
		return "", fmt.Errorf("%w: %s", ErrToolArgError, err.Error())
	}

	timeout := e.desc.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := r.sem.Acquire(callCtx, 1); err != nil {
		r.emit(name, start, "timeout", "concurrency guard wait cancelled")
		return "", fmt.Errorf("%s: %w", name, ErrToolTimeout)
	}
	defer r.sem.Release(1)

	type callResult struct {
		value any
		err   error
	}
	resultCh := make(chan callResult, 1)
	go func() {
		value, err := e.handler(callCtx, args)
		resultCh <- callResult{value: value, err: err}
	}()

	select {
	case <-callCtx.Done():
		r.emit(name, start, "timeout", callCtx.Err().Error())
		return "", fmt.Errorf("%s: %w", name, ErrToolTimeout)
	case res := <-resultCh:
		if res.err != nil {
			status := "error"
			kind := ErrToolHandlerError
			if errors.Is(res.err, ErrToolTransportError) {
				status = "transport_error"
				kind = ErrToolTransportError
			}
			r.emit(name, start, status, res.err.Error())
			return "", fmt.Errorf("%s: %w: %v", name, kind, res.err)
		}
		text, truncated := normalize(res.value)
		summary := text
		if truncated {
			summary = summary + " (truncated)"
		}
		r.emit(name, start, "ok", summary)
		return text, nil
	}
}

// normalize renders a handler's result as text per the dispatcher contract:
// structured values become compact JSON, strings pass through, and
// anything over MaxResultBytes is truncated with a trailing marker.
func normalize(value any) (text string, truncated bool) {
	switch v := value.(type) {
	case string:
		text = v
	case nil:
		text = ""
	case []byte:
		text = string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			text = fmt.Sprintf("%v", v)
		} else {
			text = string(b)
		}
	}
	if len(text) > MaxResultBytes {
		text = text[:MaxResultBytes] + "\n... [truncated, result exceeded 64KiB]"
		truncated = true
	}
	return text, truncated
}

func (r *Registry) emit(tool string, start time.Time, status, summary string) {
	if r.sink == nil {
		return
	}
	level := logging.LevelInfo
	if status != "ok" {
		level = logging.LevelWarn
	}
	r.sink.Emit(logging.Record{
		Level:    level,
		Category: logging.CategoryToolExecution,
		Heading:  fmt.Sprintf("TOOL %s invoked", tool),
		Body:     summary,
		Metadata: map[string]string{
			"tool":        tool,
			"status":      status,
			"duration_ms": fmt.Sprintf("%d", time.Since(start).Milliseconds()),
		},
	})
}
