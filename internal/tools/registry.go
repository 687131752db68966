// Package tools implements the tool registry offered to the LLM during a
// call.
//
// Every tool — builtin Go function or remote MCP tool — is registered with a
// JSON Schema; arguments produced by the model are validated against the
// compiled schema before the handler runs. Execution is capped at a fixed
// timeout on a bounded worker pool, and every failure mode collapses to an
// error string that goes verbatim into the tool message so the model can
// self-correct on the next step.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/sync/semaphore"

	"github.com/trunkline-ai/trunkline/pkg/provider/llm"
)

const (
	// execTimeout caps a single tool execution, queue wait included.
	execTimeout = 3 * time.Second

	// defaultWorkers bounds concurrent tool executions per process.
	defaultWorkers = 8
)

// Execution outcomes reported to the observer.
const (
	OutcomeOK          = "ok"
	OutcomeUnknownTool = "unknown_tool"
	OutcomeInvalidJSON = "invalid_json"
	OutcomeInvalidArgs = "invalid_args"
	OutcomeTimeout     = "timeout"
	OutcomeError       = "error"
)

// Handler executes a tool with schema-validated arguments and returns the
// text handed back to the model.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Observer counts tool executions by outcome. Implementations must be safe
// for concurrent use.
type Observer interface {
	ToolExecuted(ctx context.Context, name, outcome string)
}

// entry holds everything known about one registered tool.
type entry struct {
	def     llm.ToolDefinition
	schema  *jsonschema.Schema
	handler Handler
}

// Registry maps tool names to handlers and compiled schemas. Safe for
// concurrent use; registration normally happens at boot, execution per call.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]entry
	order    []string
	sessions []io.Closer

	sem      *semaphore.Weighted
	observer Observer
	log      *slog.Logger
}

// Option is a functional option for Registry.
type Option func(*Registry)

// WithWorkers overrides the worker pool size.
func WithWorkers(n int64) Option {
	return func(r *Registry) { r.sem = semaphore.NewWeighted(n) }
}

// WithObserver wires execution-outcome counting into the registry.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// NewRegistry returns an empty Registry.
func NewRegistry(log *slog.Logger, opts ...Option) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		entries: make(map[string]entry),
		sem:     semaphore.NewWeighted(defaultWorkers),
		log:     log.With("component", "tools"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool under def.Name, compiling def.Parameters into a
// validation schema. Registering an existing name replaces it.
func (r *Registry) Register(def llm.ToolDefinition, h Handler) error {
	if def.Name == "" {
		return fmt.Errorf("tools: definition must have a name")
	}
	if h == nil {
		return fmt.Errorf("tools: tool %q has no handler", def.Name)
	}

	params := def.Parameters
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	schema, err := compileSchema(params)
	if err != nil {
		return fmt.Errorf("tools: compile schema for %q: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.entries[def.Name] = entry{def: def, schema: schema, handler: h}
	return nil
}

// Definitions returns the tool definitions offered to the model, in
// registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.entries[name].def)
	}
	return defs
}

// Execute runs the tool named by call and returns the text for the tool
// message. It never returns an error: every failure mode has a fixed string
// the model can read.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) string {
	out, outcome := r.execute(ctx, call)
	if r.observer != nil {
		r.observer.ToolExecuted(ctx, call.Name, outcome)
	}
	return out
}

func (r *Registry) execute(ctx context.Context, call llm.ToolCall) (string, string) {
	r.mu.RLock()
	e, ok := r.entries[call.Name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("System Error: Tool %s is defined in definitions but missing implementation.", call.Name), OutcomeUnknownTool
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return "Error: Invalid JSON arguments provided by model.", OutcomeInvalidJSON
	}

	if err := e.schema.Validate(anyValue(args)); err != nil {
		// Surface the diagnostics so the model can self-correct next step.
		return "Error: Missing or invalid arguments. Details: " + err.Error(), OutcomeInvalidArgs
	}

	execCtx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	// Queue wait counts against the budget.
	if err := r.sem.Acquire(execCtx, 1); err != nil {
		return "Error: The tool took too long to respond.", OutcomeTimeout
	}

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer r.sem.Release(1)
		out, err := e.handler(execCtx, args)
		done <- result{out, err}
	}()

	select {
	case <-execCtx.Done():
		return "Error: The tool took too long to respond.", OutcomeTimeout
	case res := <-done:
		if res.err != nil {
			r.log.Error("tool execution failed", "tool", call.Name, "error", res.err)
			return "Error: Internal tool failure.", OutcomeError
		}
		return res.out, OutcomeOK
	}
}

// compileSchema turns a decoded JSON Schema document into a compiled schema.
func compileSchema(doc map[string]any) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", anyValue(doc)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile("schema.json")
}

// anyValue round-trips v through JSON so schema inputs carry the value types
// the validator expects regardless of how they were constructed in Go.
func anyValue(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
