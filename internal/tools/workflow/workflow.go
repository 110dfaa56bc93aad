// Package workflow provides the composite meta-tools: ordered composition,
// conditional branching, bounded parallel fan-out, retry with backoff, and
// primary/fallback execution. Each one is an ordinary registered tool that
// re-enters the dispatcher for its steps.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chorushq/chorus/internal/tools"
)

const (
	// MaxWorkflowSteps bounds a compose_functions run.
	MaxWorkflowSteps = 20

	// MaxParallelTasks bounds parallel_execute fan-out.
	MaxParallelTasks = 8

	// Retry attempt clamp.
	MinRetryAttempts = 1
	MaxRetryAttempts = 10
)

// Register adds the workflow tools to the registry.
func Register(reg *tools.Registry) {
	reg.MustRegister(composeDescriptor())
	reg.MustRegister(ifThenElseDescriptor())
	reg.MustRegister(parallelDescriptor())
	reg.MustRegister(retryDescriptor())
	reg.MustRegister(fallbackDescriptor())
}

// step is one entry in a compose_functions plan.
type step struct {
	Function  string         `json:"function"`
	Args      map[string]any `json:"args"`
	OutputVar string         `json:"output_var"`
	OnError   string         `json:"on_error"` // stop (default) | skip
}

func composeDescriptor() *tools.Descriptor {
	return &tools.Descriptor{
		Name:        "compose_functions",
		Description: "Execute an ordered list of tool calls, passing outputs between steps via $variable references.",
		Type:        tools.TypeNormal,
		Handler:     runCompose,
	}
}

func runCompose(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	steps, err := decodeSteps(inv.Args["steps"])
	if err != nil {
		return tools.Errorf(inv.Name, "invalid steps: %v", err), nil
	}
	if len(steps) == 0 {
		return tools.Errorf(inv.Name, "steps must not be empty"), nil
	}
	if len(steps) > MaxWorkflowSteps {
		return tools.Errorf(inv.Name, "workflow exceeds the %d step limit", MaxWorkflowSteps), nil
	}

	outputs := make(map[string]any)
	var log []map[string]any

	for i, s := range steps {
		args, err := resolveArgs(s.Args, outputs)
		if err != nil {
			return tools.Errorf(inv.Name, "step %d (%s): %v", i+1, s.Function, err), nil
		}

		result := inv.Dispatch(ctx, s.Function, args)
		entry := map[string]any{
			"step":     i + 1,
			"function": s.Function,
			"status":   result.Status,
			"content":  result.Content,
		}
		log = append(log, entry)

		if result.Status == tools.StatusError {
			if s.OnError == "skip" {
				continue
			}
			return &tools.Result{
				Status:  tools.StatusError,
				Name:    inv.Name,
				Content: fmt.Sprintf("step %d (%s) failed: %s", i+1, s.Function, result.Content),
				Data:    map[string]any{"steps": log},
			}, nil
		}
		if s.OutputVar != "" {
			outputs[s.OutputVar] = map[string]any{
				"content": result.Content,
				"data":    result.Data,
			}
		}
	}

	return &tools.Result{
		Status:  tools.StatusSuccess,
		Name:    inv.Name,
		Content: fmt.Sprintf("completed %d steps", len(steps)),
		Data:    map[string]any{"steps": log, "outputs": outputs},
	}, nil
}

// decodeSteps accepts the steps argument in its JSON-decoded form.
func decodeSteps(v any) ([]step, error) {
	if v == nil {
		return nil, fmt.Errorf("steps is required")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var steps []step
	if err := json.Unmarshal(raw, &steps); err != nil {
		return nil, err
	}
	for i := range steps {
		if steps[i].Function == "" {
			return nil, fmt.Errorf("step %d has no function", i+1)
		}
	}
	return steps, nil
}

// resolveArgs substitutes $var and {$ref: "$var.path"} references against
// the outputs map. Unresolved references fail the step.
func resolveArgs(args map[string]any, outputs map[string]any) (map[string]any, error) {
	if args == nil {
		return map[string]any{}, nil
	}
	resolved := make(map[string]any, len(args))
	for key, value := range args {
		v, err := resolveValue(value, outputs)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", key, err)
		}
		resolved[key] = v
	}
	return resolved, nil
}

func resolveValue(value any, outputs map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		if strings.HasPrefix(v, "$") {
			return walkPath(v, outputs)
		}
		return v, nil
	case map[string]any:
		if ref, ok := v["$ref"].(string); ok && len(v) == 1 {
			return walkPath(ref, outputs)
		}
		out := make(map[string]any, len(v))
		for k, inner := range v {
			r, err := resolveValue(inner, outputs)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			r, err := resolveValue(inner, outputs)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return value, nil
	}
}

// walkPath resolves "$name.field.sub" against the outputs map.
func walkPath(ref string, outputs map[string]any) (any, error) {
	path := strings.TrimPrefix(ref, "$")
	parts := strings.Split(path, ".")
	if parts[0] == "" {
		return nil, fmt.Errorf("empty reference %q", ref)
	}

	current, ok := outputs[parts[0]]
	if !ok {
		return nil, fmt.Errorf("unresolved reference %q", ref)
	}
	for _, part := range parts[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("reference %q: %q is not an object", ref, part)
		}
		current, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("reference %q: missing field %q", ref, part)
		}
	}
	return current, nil
}

func ifThenElseDescriptor() *tools.Descriptor {
	return &tools.Descriptor{
		Name:        "if_then_else",
		Description: "Run a condition tool, then execute then_steps or else_steps based on its boolean result.",
		Type:        tools.TypeNormal,
		Handler:     runIfThenElse,
	}
}

func runIfThenElse(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	cond, err := decodeSteps(inv.Args["condition"])
	if err != nil || len(cond) != 1 {
		return tools.Errorf(inv.Name, "condition must be a single step"), nil
	}

	condResult := inv.Dispatch(ctx, cond[0].Function, cond[0].Args)
	if condResult.Status == tools.StatusError {
		return tools.Errorf(inv.Name, "condition failed: %s", condResult.Content), nil
	}
	verdict, ok := coerceBool(condResult)
	if !ok {
		return tools.Errorf(inv.Name, "condition result is not a boolean"), nil
	}

	branch := "then_steps"
	if !verdict {
		branch = "else_steps"
	}
	steps, err := decodeSteps(inv.Args[branch])
	if err != nil && inv.Args[branch] != nil {
		return tools.Errorf(inv.Name, "invalid %s: %v", branch, err), nil
	}

	var log []map[string]any
	for i, s := range steps {
		result := inv.Dispatch(ctx, s.Function, s.Args)
		log = append(log, map[string]any{
			"step":     i + 1,
			"function": s.Function,
			"status":   result.Status,
			"content":  result.Content,
		})
		if result.Status == tools.StatusError {
			return &tools.Result{
				Status:  tools.StatusError,
				Name:    inv.Name,
				Content: fmt.Sprintf("%s step %d (%s) failed: %s", branch, i+1, s.Function, result.Content),
				Data:    map[string]any{"condition": verdict, "steps": log},
			}, nil
		}
	}

	return &tools.Result{
		Status:  tools.StatusSuccess,
		Name:    inv.Name,
		Content: fmt.Sprintf("condition was %v, ran %d steps", verdict, len(steps)),
		Data:    map[string]any{"condition": verdict, "steps": log},
	}, nil
}

// coerceBool extracts a boolean verdict from a condition tool's result:
// data.result, data.value, or data.condition first, then a literal
// "true"/"false" content.
func coerceBool(result *tools.Result) (bool, bool) {
	for _, key := range []string{"result", "value", "condition"} {
		if v, ok := result.Data[key]; ok {
			switch b := v.(type) {
			case bool:
				return b, true
			case string:
				if b == "true" || b == "false" {
					return b == "true", true
				}
			}
		}
	}
	switch strings.TrimSpace(strings.ToLower(result.Content)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func parallelDescriptor() *tools.Descriptor {
	return &tools.Descriptor{
		Name:        "parallel_execute",
		Description: "Run several independent tools concurrently and collect all results.",
		Type:        tools.TypeNormal,
		Handler:     runParallel,
	}
}

func runParallel(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	steps, err := decodeSteps(inv.Args["tasks"])
	if err != nil {
		return tools.Errorf(inv.Name, "invalid tasks: %v", err), nil
	}
	if len(steps) == 0 {
		return tools.Errorf(inv.Name, "tasks must not be empty"), nil
	}
	if len(steps) > MaxParallelTasks {
		return tools.Errorf(inv.Name, "at most %d parallel tasks are allowed", MaxParallelTasks), nil
	}

	results := make([]*tools.Result, len(steps))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxParallelTasks)
	for i, s := range steps {
		g.Go(func() error {
			r := inv.Dispatch(gctx, s.Function, s.Args)
			mu.Lock()
			results[i] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var failures int
	var entries []map[string]any
	for i, r := range results {
		entries = append(entries, map[string]any{
			"task":     i + 1,
			"function": steps[i].Function,
			"status":   r.Status,
			"content":  r.Content,
			"data":     r.Data,
		})
		if r.Status == tools.StatusError {
			failures++
		}
	}

	status := tools.StatusSuccess
	content := fmt.Sprintf("all %d tasks succeeded", len(steps))
	if failures > 0 {
		status = tools.StatusError
		content = fmt.Sprintf("%d of %d tasks failed", failures, len(steps))
	}
	return &tools.Result{
		Status:  status,
		Name:    inv.Name,
		Content: content,
		Data:    map[string]any{"results": entries},
	}, nil
}

func retryDescriptor() *tools.Descriptor {
	return &tools.Descriptor{
		Name:        "retry_with_backoff",
		Description: "Invoke a tool with exponential backoff until it succeeds or attempts are exhausted.",
		Type:        tools.TypeNormal,
		Handler:     runRetry,
	}
}

// sleeper is swapped in tests to avoid real delays.
var sleeper = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func runRetry(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	function, _ := inv.Args["function"].(string)
	if function == "" {
		return tools.Errorf(inv.Name, "function is required"), nil
	}
	args, _ := inv.Args["args"].(map[string]any)

	attempts := intArg(inv.Args, "max_attempts", 3)
	if attempts < MinRetryAttempts {
		attempts = MinRetryAttempts
	}
	if attempts > MaxRetryAttempts {
		attempts = MaxRetryAttempts
	}
	factor := floatArg(inv.Args, "backoff_factor", 1)
	maxBackoff := floatArg(inv.Args, "max_backoff", 30)

	var log []map[string]any
	var last *tools.Result
	for attempt := 1; attempt <= attempts; attempt++ {
		last = inv.Dispatch(ctx, function, args)
		log = append(log, map[string]any{
			"attempt": attempt,
			"status":  last.Status,
			"content": last.Content,
		})
		if last.Status != tools.StatusError {
			data := map[string]any{"attempts": log}
			for k, v := range last.Data {
				data[k] = v
			}
			return &tools.Result{
				Status:  last.Status,
				Name:    inv.Name,
				Content: last.Content,
				Data:    data,
			}, nil
		}
		if attempt == attempts {
			break
		}

		delay := math.Min(factor*math.Pow(2, float64(attempt-1)), maxBackoff)
		if err := sleeper(ctx, time.Duration(delay*float64(time.Second))); err != nil {
			return &tools.Result{
				Status:  tools.StatusError,
				Name:    inv.Name,
				Content: fmt.Sprintf("retry cancelled after attempt %d: %s", attempt, last.Content),
				Data:    map[string]any{"attempts": log},
			}, nil
		}
	}

	return &tools.Result{
		Status:  tools.StatusError,
		Name:    inv.Name,
		Content: fmt.Sprintf("all %d attempts failed: %s", attempts, last.Content),
		Data:    map[string]any{"attempts": log},
	}, nil
}

func fallbackDescriptor() *tools.Descriptor {
	return &tools.Descriptor{
		Name:        "fallback",
		Description: "Run a primary tool; if it fails, run a fallback tool instead.",
		Type:        tools.TypeNormal,
		Handler:     runFallback,
	}
}

func runFallback(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	primary, err := decodeSteps(inv.Args["primary"])
	if err != nil || len(primary) != 1 {
		return tools.Errorf(inv.Name, "primary must be a single step"), nil
	}
	secondary, err := decodeSteps(inv.Args["fallback"])
	if err != nil || len(secondary) != 1 {
		return tools.Errorf(inv.Name, "fallback must be a single step"), nil
	}

	first := inv.Dispatch(ctx, primary[0].Function, primary[0].Args)
	if first.Status != tools.StatusError {
		return &tools.Result{
			Status:  first.Status,
			Name:    inv.Name,
			Content: first.Content,
			Data:    map[string]any{"used": "primary", "result": first.Data},
		}, nil
	}

	second := inv.Dispatch(ctx, secondary[0].Function, secondary[0].Args)
	if second.Status != tools.StatusError {
		return &tools.Result{
			Status:  second.Status,
			Name:    inv.Name,
			Content: second.Content,
			Data:    map[string]any{"used": "fallback", "result": second.Data, "primary_error": first.Content},
		}, nil
	}

	return tools.Errorf(inv.Name, "primary failed (%s); fallback failed (%s)", first.Content, second.Content), nil
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func floatArg(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}
