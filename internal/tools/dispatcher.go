package tools

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/chorushq/chorus/internal/errs"
	"github.com/chorushq/chorus/internal/monitoring"
	"github.com/chorushq/chorus/internal/observability"
)

// MCPRouter routes mcp_-prefixed tool calls to the MCP client registered
// for the owning agent.
type MCPRouter interface {
	// Invoke runs a tool on the MCP server registered under the agent id
	// prefix. toolName may be a unique substring of the actual tool name.
	Invoke(ctx context.Context, shortAgentID, toolName string, args map[string]any) (*Result, error)
}

// Registry is the flat name -> descriptor map plus the dispatch logic
// around it. Registration happens at startup; dispatch is concurrent.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Descriptor
	schemas map[string]*jsonschema.Schema

	mcp     MCPRouter
	logger  *observability.Logger
	metrics *observability.Metrics
	sink    monitoring.Sink
}

// NewRegistry creates an empty tool registry.
func NewRegistry(mcp MCPRouter, logger *observability.Logger, metrics *observability.Metrics, sink monitoring.Sink) *Registry {
	return &Registry{
		tools:   make(map[string]*Descriptor),
		schemas: make(map[string]*jsonschema.Schema),
		mcp:     mcp,
		logger:  logger,
		metrics: metrics,
		sink:    sink,
	}
}

// Register adds a tool descriptor. A parameters schema that fails to
// compile is an error; strict tools are validated on every call.
func (r *Registry) Register(d *Descriptor) error {
	if d.Name == "" || len(d.Name) > MaxToolNameLength {
		return errs.New(errs.KindValidation, "invalid tool name %q: %w", d.Name, errs.ErrValidation)
	}
	if d.Type == "" {
		d.Type = TypeNormal
	}

	var schema *jsonschema.Schema
	if len(d.Parameters) > 0 {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(d.Name+".json", strings.NewReader(string(d.Parameters))); err != nil {
			return errs.New(errs.KindValidation, "tool %s: bad parameters schema: %v", d.Name, err)
		}
		compiled, err := compiler.Compile(d.Name + ".json")
		if err != nil {
			return errs.New(errs.KindValidation, "tool %s: bad parameters schema: %v", d.Name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[d.Name]; exists {
		return errs.New(errs.KindValidation, "tool %s: %w", d.Name, errs.ErrConflict)
	}
	r.tools[d.Name] = d
	if schema != nil {
		r.schemas[d.Name] = schema
	}
	return nil
}

// MustRegister registers or panics; for the built-in tool set whose
// schemas are compile-time constants.
func (r *Registry) MustRegister(d *Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Get returns a registered descriptor.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// List returns the registered descriptors sorted by name.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Defaults returns the descriptors enabled by default.
func (r *Registry) Defaults() []*Descriptor {
	var out []*Descriptor
	for _, d := range r.List() {
		if d.IsDefault {
			out = append(out, d)
		}
	}
	return out
}

// Dispatch runs one tool call end to end: MCP routing, premium gating,
// usage check, schema validation, execution, and cost accounting. It never
// returns a nil result; failures are error results.
func (r *Registry) Dispatch(ctx context.Context, inv *Invocation) *Result {
	name := inv.Name
	if name == "" || len(name) > MaxToolNameLength {
		return Errorf(name, "invalid tool name")
	}
	if oversizedArgs(inv.Args) {
		return Errorf(name, "tool arguments exceed the size limit")
	}

	// Meta-tools re-enter through the same gate.
	if inv.Dispatch == nil {
		inv.Dispatch = func(ctx context.Context, name string, args map[string]any) *Result {
			nested := *inv
			nested.Name = name
			nested.Args = args
			return r.Dispatch(ctx, &nested)
		}
	}

	start := time.Now()
	result := r.dispatch(ctx, inv)
	if result == nil {
		result = Errorf(name, "tool returned no result")
	}
	if result.Name == "" {
		result.Name = name
	}

	if r.metrics != nil {
		r.metrics.RecordToolExecution(name, result.Status, time.Since(start).Seconds())
	}
	monitoring.Emit(ctx, r.sink, monitoring.Metric{
		Type:   monitoring.TypeUsage,
		Name:   "tool." + name,
		Value:  time.Since(start).Seconds() * 1000,
		Status: statusOf(result),
		Metadata: map[string]any{
			"completion_id": inv.CompletionID,
			"tool":          name,
		},
	})
	return result
}

func (r *Registry) dispatch(ctx context.Context, inv *Invocation) *Result {
	name := inv.Name

	if strings.HasPrefix(name, "mcp_") {
		return r.dispatchMCP(ctx, inv)
	}

	desc, ok := r.Get(name)
	if !ok {
		return Errorf(name, "unknown tool %q", name)
	}

	if desc.IsPremium() && !inv.User.IsPro() {
		return Errorf(name, "the %s tool requires a pro plan", name)
	}

	if inv.Conversation != nil {
		if err := inv.Conversation.CheckUsageLimits(ctx, desc.Type); err != nil {
			return Errorf(name, "usage limit reached: %v", err)
		}
	}

	if schema := r.schema(name); schema != nil && desc.Strict {
		if err := validateArgs(schema, inv.Args); err != nil {
			return Errorf(name, "invalid arguments: %v", err)
		}
	}

	result, err := desc.Handler(ctx, inv)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn(ctx, "tool execution failed", "tool", name, "error", err)
		}
		return Errorf(name, "%v", err)
	}

	if result != nil && result.Status == StatusSuccess && inv.Conversation != nil {
		inv.Conversation.IncrementFunctionUsage(ctx, desc.Type, inv.User.IsPro(), desc.CostPerCall)
	}
	return result
}

// dispatchMCP parses mcp_{shortAgentId}_{toolName} and routes to the MCP
// client for that agent.
func (r *Registry) dispatchMCP(ctx context.Context, inv *Invocation) *Result {
	if r.mcp == nil {
		return Errorf(inv.Name, "no MCP servers are configured")
	}
	rest := strings.TrimPrefix(inv.Name, "mcp_")
	idx := strings.Index(rest, "_")
	if idx <= 0 || idx == len(rest)-1 {
		return Errorf(inv.Name, "malformed MCP tool name %q", inv.Name)
	}
	shortAgentID, toolName := rest[:idx], rest[idx+1:]

	result, err := r.mcp.Invoke(ctx, shortAgentID, toolName, inv.Args)
	if err != nil {
		return Errorf(inv.Name, "%v", err)
	}
	if result.Name == "" {
		result.Name = inv.Name
	}
	return result
}

func (r *Registry) schema(name string) *jsonschema.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schemas[name]
}

func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	// Round-trip to the plain-interface shape the validator expects.
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}

func oversizedArgs(args map[string]any) bool {
	if args == nil {
		return false
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return true
	}
	return len(raw) > MaxToolParamsSize
}

func statusOf(result *Result) monitoring.MetricStatus {
	if result.Status == StatusError {
		return monitoring.StatusError
	}
	return monitoring.StatusSuccess
}
